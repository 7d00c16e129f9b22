package host

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cybershell/backy/pkg/sshutil"
)

// CheckError represents a failed check with categorized failure reason.
type CheckError struct {
	Alias  string
	Reason CheckFailReason
	Cause  error
}

// CheckFailReason categorizes why a check failed.
type CheckFailReason int

const (
	CheckFailUnknown CheckFailReason = iota
	CheckFailTimeout
	CheckFailRefused
	CheckFailUnreachable
	CheckFailAuth
	CheckFailHostKey
	CheckFailSecret
)

// String returns a human-readable description of the failure reason.
func (r CheckFailReason) String() string {
	switch r {
	case CheckFailTimeout:
		return "connection timed out"
	case CheckFailRefused:
		return "connection refused"
	case CheckFailUnreachable:
		return "host unreachable"
	case CheckFailAuth:
		return "authentication failed"
	case CheckFailHostKey:
		return "host key verification failed"
	case CheckFailSecret:
		return "credentials unavailable"
	default:
		return "unknown error"
	}
}

func (e *CheckError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("check %s failed: %s (%v)", e.Alias, e.Reason, e.Cause)
	}
	return fmt.Sprintf("check %s failed: %s", e.Alias, e.Reason)
}

func (e *CheckError) Unwrap() error {
	return e.Cause
}

// CheckResult contains the result of checking a single host.
type CheckResult struct {
	Name    string
	Latency time.Duration
	Error   error
}

// Success reports whether the check connected.
func (r CheckResult) Success() bool { return r.Error == nil }

// Check connects to p with a full SSH handshake and returns the latency.
func Check(ctx context.Context, connector sshutil.Connector, p sshutil.ConnectionParams) (time.Duration, error) {
	start := time.Now()
	client, err := connector.Connect(ctx, p)
	if err != nil {
		return 0, categorizeCheckError(p.Alias, err)
	}
	latency := time.Since(start)
	_ = client.Close()
	return latency, nil
}

// CheckAll checks each named host in order. Checks run sequentially to
// avoid tripping rate limits on shared bastions.
func (r *Resolver) CheckAll(ctx context.Context, connector sshutil.Connector, names []string) []CheckResult {
	results := make([]CheckResult, len(names))
	for i, name := range names {
		latency, err := Check(ctx, connector, r.Resolve(name))
		results[i] = CheckResult{Name: name, Latency: latency, Error: err}
	}
	return results
}

// categorizeCheckError converts a generic error into a CheckError with
// a categorized failure reason.
func categorizeCheckError(alias string, err error) *CheckError {
	if err == nil {
		return nil
	}
	checkErr := &CheckError{
		Alias:  alias,
		Reason: CheckFailUnknown,
		Cause:  err,
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		checkErr.Reason = CheckFailTimeout
	case strings.Contains(errStr, "connection refused"):
		checkErr.Reason = CheckFailRefused
	case strings.Contains(errStr, "no route to host"),
		strings.Contains(errStr, "network is unreachable"),
		strings.Contains(errStr, "host is down"):
		checkErr.Reason = CheckFailUnreachable
	case strings.Contains(errStr, "unable to authenticate"),
		strings.Contains(errStr, "no supported methods"),
		strings.Contains(errStr, "no ssh auth methods"),
		strings.Contains(errStr, "permission denied"):
		checkErr.Reason = CheckFailAuth
	case strings.Contains(errStr, "host key"):
		checkErr.Reason = CheckFailHostKey
	case strings.Contains(errStr, "secret"):
		checkErr.Reason = CheckFailSecret
	}
	return checkErr
}
