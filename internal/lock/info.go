package lock

import (
	"os"
	"strconv"
	"time"
)

// LockInfo describes who holds a list lock.
type LockInfo struct {
	// Owner is what started the run, e.g. "cron" or "run".
	Owner   string
	RunID   string
	Started time.Time
	PID     int
}

// NewLockInfo creates a LockInfo for this process, started now.
func NewLockInfo(owner, runID string) *LockInfo {
	if owner == "" {
		owner = "unknown"
	}
	return &LockInfo{
		Owner:   owner,
		RunID:   runID,
		Started: time.Now(),
		PID:     os.Getpid(),
	}
}

// Age returns how long ago the lock was acquired.
func (i *LockInfo) Age() time.Duration {
	return time.Since(i.Started)
}

// String returns a human-readable description of who holds the lock.
func (i *LockInfo) String() string {
	if i == nil {
		return "unknown"
	}
	s := i.Owner + " (pid " + strconv.Itoa(i.PID) + ")"
	if i.RunID != "" {
		s += " run " + i.RunID
	}
	return s
}
