package orchestrator

import (
	"time"

	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/hooks"
)

// Trigger names what started a list run.
type Trigger string

const (
	// TriggerManual is a run requested from the command line.
	TriggerManual Trigger = "run"
	// TriggerCron is a scheduled run.
	TriggerCron Trigger = "cron"
)

// EntryResult is one command of a list run, with the hooks it triggered.
type EntryResult struct {
	Name    string
	Outcome *exec.RunOutcome
	Hooks   *hooks.HookResult
}

// Succeeded reports whether the command itself succeeded. Hook failures
// do not count.
func (e EntryResult) Succeeded() bool {
	return e.Outcome.Succeeded()
}

// ListSummary is the result of one list run.
type ListSummary struct {
	RunID       string
	ListName    string
	DisplayName string
	Trigger     Trigger

	// Entries holds one result per name in the list's order, in that order.
	Entries []EntryResult

	// Success is true only if every entry succeeded.
	Success bool

	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns the wall time of the run.
func (s *ListSummary) Duration() time.Duration {
	return s.EndedAt.Sub(s.StartedAt)
}

// Passed returns how many entries succeeded.
func (s *ListSummary) Passed() int {
	n := 0
	for _, e := range s.Entries {
		if e.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns how many entries did not succeed.
func (s *ListSummary) Failed() int {
	return len(s.Entries) - s.Passed()
}

// HookFailures returns how many entries had at least one failing hook.
func (s *ListSummary) HookFailures() int {
	n := 0
	for _, e := range s.Entries {
		if e.Hooks.Failed() {
			n++
		}
	}
	return n
}

// Succeeded reports whether every summary succeeded. An empty slice succeeds.
func Succeeded(summaries []*ListSummary) bool {
	for _, s := range summaries {
		if s == nil || !s.Success {
			return false
		}
	}
	return true
}

// EntriesSucceeded reports whether every entry's command succeeded. Hook
// failures do not count.
func EntriesSucceeded(entries []EntryResult) bool {
	for _, e := range entries {
		if !e.Succeeded() {
			return false
		}
	}
	return true
}
