// Package schedule runs command lists on their cron schedules.
//
// Each scheduled list gets one goroutine and one timer. A fire runs the list
// through the orchestrator, which holds the list's lock, so a fire that finds
// the list busy waits for it rather than being dropped. The next fire is
// computed from the previous one after the run returns; fires that came due
// meanwhile collapse into one run that starts at once.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/lock"
	"github.com/cybershell/backy/internal/logger"
	"github.com/cybershell/backy/internal/orchestrator"
)

// ListRunner runs one list to completion.
type ListRunner interface {
	RunList(ctx context.Context, name string, opts ...orchestrator.ListOption) (*orchestrator.ListSummary, error)
}

// lockSource is a ListRunner that exposes the locks guarding its runs.
type lockSource interface {
	Locks() *lock.Registry
}

// State is where a scheduled list is in its cycle.
type State string

const (
	StateIdle      State = "idle"
	StateArmed     State = "armed"
	StateFiring    State = "firing"
	StateCancelled State = "cancelled"
)

// Option configures Arm.
type Option func(*Handle)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(h *Handle) { h.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handle) { h.log = l }
}

// WithGracePeriod sets how long Stop waits for in-flight runs before
// cancelling them. Defaults to the config's shutdown grace period.
func WithGracePeriod(d time.Duration) Option {
	return func(h *Handle) { h.grace = d }
}

// WithObserver is called after every scheduled run.
func WithObserver(fn func(*orchestrator.ListSummary, error)) Option {
	return func(h *Handle) { h.observe = fn }
}

// entry is one scheduled list.
type entry struct {
	name     string
	expr     string
	schedule cron.Schedule

	mu    sync.Mutex
	state State
	next  time.Time
	runs  int
}

// Handle controls armed lists.
type Handle struct {
	runner  ListRunner
	clock   Clock
	log     logger.Logger
	grace   time.Duration
	observe func(*orchestrator.ListSummary, error)

	entries []*entry

	armCancel context.CancelFunc
	runCtx    context.Context
	runCancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// Arm parses the cron expression of every list that has one and starts a
// timer per list. All expressions are parsed before any list is armed, so a
// malformed expression arms nothing. Cancelling ctx stops arming, like Stop
// without waiting.
func Arm(ctx context.Context, cfg *config.Config, runner ListRunner, opts ...Option) (*Handle, error) {
	h := &Handle{
		runner: runner,
		clock:  RealClock{},
		log:    logger.Noop(),
		grace:  cfg.Shutdown.GracePeriod,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.grace <= 0 {
		h.grace = config.DefaultGracePeriod
	}

	names := make([]string, 0, len(cfg.Lists))
	for name := range cfg.Lists {
		names = append(names, name)
	}
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		expr := strings.TrimSpace(cfg.Lists[name].Cron)
		if expr == "" {
			continue
		}
		sched, err := config.ParseCron(expr)
		if err != nil {
			problems = append(problems, fmt.Sprintf("list %s: invalid cron %q: %v", name, expr, err))
			continue
		}
		h.entries = append(h.entries, &entry{name: name, expr: expr, schedule: sched, state: StateIdle})
	}
	if len(problems) > 0 {
		return nil, errors.New(errors.ErrConfig,
			"Can't schedule lists:\n  "+strings.Join(problems, "\n  "),
			"Cron expressions have six fields, seconds first, e.g. \"0 0 1 * * *\"")
	}
	if len(h.entries) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"No list has a cron schedule",
			"Add a cron field to a list under cmd-lists")
	}

	var armCtx context.Context
	armCtx, h.armCancel = context.WithCancel(ctx)
	h.runCtx, h.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	for _, e := range h.entries {
		h.wg.Add(1)
		go h.loop(armCtx, e)
	}
	return h, nil
}

func (h *Handle) loop(ctx context.Context, e *entry) {
	defer h.wg.Done()
	defer e.set(StateCancelled, time.Time{})

	next := e.schedule.Next(h.clock.Now())
	for {
		if next.IsZero() {
			h.log.Warn("list %s: cron %q never fires again", e.name, e.expr)
			return
		}

		if now := h.clock.Now(); next.After(now) {
			e.set(StateArmed, next)
			h.log.Info("list %s scheduled for %s", e.name, next.Format(time.RFC3339))

			timer := h.clock.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C():
			}
		} else {
			h.log.Info("list %s: fire due at %s came during the previous run, running it now",
				e.name, next.Format(time.RFC3339))
		}

		e.set(StateFiring, next)
		h.fire(e)

		if ctx.Err() != nil {
			return
		}
		next = h.following(e, next)
	}
}

// following returns the fire after last. Fires that came due while the list
// was running are folded into one, the latest of them, which is due at once.
func (h *Handle) following(e *entry, last time.Time) time.Time {
	next := e.schedule.Next(last)
	now := h.clock.Now()
	if next.IsZero() || next.After(now) {
		return next
	}
	for {
		later := e.schedule.Next(next)
		if later.IsZero() || later.After(now) {
			return next
		}
		next = later
	}
}

func (h *Handle) fire(e *entry) {
	h.log.Info("cron fired for list %s", e.name)
	if reg := h.locks(); reg != nil && reg.IsLocked(e.name) {
		h.log.Warn("list %s is busy (%s, running for %s), fire deferred until it finishes",
			e.name, reg.Holder(e.name), reg.Held(e.name).Round(time.Second))
	}
	summary, err := h.runner.RunList(h.runCtx, e.name, orchestrator.WithTrigger(orchestrator.TriggerCron))
	if err != nil {
		h.log.Error("scheduled run of %s: %s", e.name, errors.Short(err))
	}

	e.mu.Lock()
	e.runs++
	e.mu.Unlock()

	if h.observe != nil {
		h.observe(summary, err)
	}
}

// locks returns the runner's lock registry when it shares one.
func (h *Handle) locks() *lock.Registry {
	if src, ok := h.runner.(lockSource); ok {
		return src.Locks()
	}
	return nil
}

func (e *entry) set(s State, next time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
	e.next = next
}

// Stop stops every timer at once, then waits for in-flight runs. Runs still
// going after the grace period are cancelled and waited for. Stop is safe to
// call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.armCancel()

		done := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(done)
		}()

		t := time.NewTimer(h.grace)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			h.log.Warn("runs still in flight after %s, cancelling them", h.grace)
			h.runCancel()
			<-done
		}
		h.runCancel()
	})
}

// Wait blocks until every list loop has exited.
func (h *Handle) Wait() {
	h.wg.Wait()
}

// ListStatus describes one scheduled list.
type ListStatus struct {
	Name  string
	Cron  string
	State State
	Next  time.Time
	Runs  int
}

// Lists reports every scheduled list, sorted by name.
func (h *Handle) Lists() []ListStatus {
	out := make([]ListStatus, 0, len(h.entries))
	for _, e := range h.entries {
		e.mu.Lock()
		out = append(out, ListStatus{Name: e.name, Cron: e.expr, State: e.state, Next: e.next, Runs: e.runs})
		e.mu.Unlock()
	}
	return out
}

// Next returns the next fire time of a list, or zero if it is not armed.
func (h *Handle) Next(name string) time.Time {
	for _, e := range h.entries {
		if e.name == name {
			e.mu.Lock()
			defer e.mu.Unlock()
			if e.state != StateArmed {
				return time.Time{}
			}
			return e.next
		}
	}
	return time.Time{}
}
