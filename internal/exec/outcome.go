package exec

import (
	"time"
)

// Status is the result class of one command run.
type Status string

const (
	// StatusSuccess means the command ran and exited 0.
	StatusSuccess Status = "success"
	// StatusFailure means the command ran and exited non-zero, or was cancelled.
	StatusFailure Status = "failure"
	// StatusStartError means the command never started.
	StatusStartError Status = "start-error"
)

// RunOutcome records one command run.
type RunOutcome struct {
	Command string
	Host    string
	Backend string

	Status   Status
	ExitCode int

	// Output holds every line when capture was requested.
	Output []string
	// Tail holds the last lines regardless of capture, for error reports.
	Tail []string
	// Lines counts every output line, captured or not.
	Lines int

	// PerHost holds one outcome per host, in order, for a command with
	// several hosts. Output, Tail and Warnings then repeat the per-host
	// lines prefixed with "[host] ".
	PerHost []*RunOutcome

	// Warnings are non-fatal problems, like a rejected SSH env variable.
	Warnings []string

	// Err is why the command did not start, or why it was interrupted.
	Err error

	StartedAt time.Time
	EndedAt   time.Time
}

// Succeeded reports whether the command exited 0.
func (o *RunOutcome) Succeeded() bool {
	return o != nil && o.Status == StatusSuccess
}

// Duration returns the wall time of the run.
func (o *RunOutcome) Duration() time.Duration {
	if o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}
