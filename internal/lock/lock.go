// Package lock serializes runs of the same command list within a process.
//
// A Registry holds one lock per list key. Acquire waits until the lock is
// free or the context ends.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cybershell/backy/internal/errors"
)

// Registry hands out per-key locks. The zero value is not usable; use NewRegistry.
type Registry struct {
	mu    sync.Mutex
	locks map[string]*slot
}

// slot is the state of one key. held and holder only change together,
// under Registry.mu.
type slot struct {
	held   bool
	holder *LockInfo
	// released is closed, then replaced, every time the lock is freed.
	released chan struct{}
}

// Lock is an acquired list lock.
type Lock struct {
	Key  string
	Info *LockInfo

	once sync.Once
	reg  *Registry
	slot *slot
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*slot)}
}

// slotLocked returns the slot for key. r.mu must be held.
func (r *Registry) slotLocked(key string) *slot {
	s, ok := r.locks[key]
	if !ok {
		s = &slot{released: make(chan struct{})}
		r.locks[key] = s
	}
	return s
}

// Acquire blocks until the lock for key is free, then takes it. Waiters are
// not dropped: a caller that arrives while the list runs gets the lock after
// the current holder releases it. Returns a LOCK error wrapping ctx.Err()
// if the context ends first.
func (r *Registry) Acquire(ctx context.Context, key string, info *LockInfo) (*Lock, error) {
	if info == nil {
		info = NewLockInfo("", "")
	}
	for {
		r.mu.Lock()
		s := r.slotLocked(key)
		if !s.held {
			s.held = true
			s.holder = info
			r.mu.Unlock()
			return &Lock{Key: key, Info: info, reg: r, slot: s}, nil
		}
		wait, holder := s.released, s.holder
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, errors.WrapWithCode(ctx.Err(), errors.ErrLock,
				fmt.Sprintf("Gave up waiting for list '%s'", key),
				fmt.Sprintf("Lock held by: %s", holder))
		}
	}
}

// Holder returns who holds the lock for key, or nil when it is free.
func (r *Registry) Holder(key string) *LockInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.locks[key]; ok && s.held {
		return s.holder
	}
	return nil
}

// IsLocked reports whether the lock for key is currently held.
func (r *Registry) IsLocked(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.locks[key]
	return ok && s.held
}

// Held returns how long the lock for key has been held, or 0 when free.
func (r *Registry) Held(key string) time.Duration {
	if h := r.Holder(key); h != nil {
		return h.Age()
	}
	return 0
}

// Release frees the lock and wakes its waiters. Releasing twice, or a nil
// lock, is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.slot == nil {
		return nil
	}
	l.once.Do(func() {
		l.reg.mu.Lock()
		defer l.reg.mu.Unlock()
		l.slot.held = false
		l.slot.holder = nil
		close(l.slot.released)
		l.slot.released = make(chan struct{})
	})
	return nil
}
