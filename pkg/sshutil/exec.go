package sshutil

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/cybershell/backy/internal/errors"
	"golang.org/x/crypto/ssh"
)

// exitStatusMissing mirrors OpenSSH when the server never reports a status.
const exitStatusMissing = 255

// Run executes req in a new session. A non-zero exit is returned in
// Result.ExitCode with a nil error. An error means the command never
// started (ExitCode -1) or ctx was cancelled while it ran.
func (c *Client) Run(ctx context.Context, req Request) (Result, error) {
	res := Result{ExitCode: -1}

	session, err := c.Client.NewSession()
	if err != nil {
		return res, errors.WrapWithCode(err, errors.ErrStart,
			"Failed to create SSH session",
			"Connection may have been closed. Try reconnecting.")
	}
	defer session.Close()

	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := session.Setenv(k, req.Env[k]); err != nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("%s rejected environment variable %s (check AcceptEnv in sshd_config)", c.Host, k))
		}
	}

	session.Stdin = req.Stdin
	session.Stdout = req.Stdout
	session.Stderr = req.Stderr

	if req.Shell {
		err = session.Shell()
	} else {
		err = session.Start(req.Command)
	}
	if err != nil {
		return res, errors.WrapWithCode(err, errors.ErrStart,
			fmt.Sprintf("Failed to start command on %s", c.Host),
			"Check the command exists on the remote host.")
	}

	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Wait can stay blocked on a Stdin that never reaches EOF, so it is not awaited here.
		return res, ctx.Err()
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if stderrors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		var missing *ssh.ExitMissingError
		if stderrors.As(err, &missing) {
			res.ExitCode = exitStatusMissing
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s closed the session without an exit status", c.Host))
			return res, nil
		}
		return res, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Lost the session on %s", c.Host),
			"The connection may have dropped.")
	}

	res.ExitCode = 0
	return res, nil
}
