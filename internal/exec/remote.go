package exec

import (
	"context"
	"fmt"
	"io"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/output"
	"github.com/cybershell/backy/pkg/sshutil"
)

// runSSH dials a fresh connection for one session. Connections are not
// shared between commands.
func (e *Executor) runSSH(ctx context.Context, b Backend, env map[string]string, col *output.Collector) (int, []string, error) {
	req, err := request(b)
	if err != nil {
		return -1, nil, err
	}
	if closer, ok := req.Stdin.(io.Closer); ok {
		defer closer.Close()
	}

	p := connParams(b)
	client, err := e.connector.Connect(ctx, p)
	if err != nil {
		if !startFailure(err) {
			err = errors.WrapWithCode(err, errors.ErrDial,
				fmt.Sprintf("Can't connect to '%s'", p.Alias),
				"Check the host entry or ~/.ssh/config")
		}
		return -1, nil, err
	}
	defer client.Close()

	req.Env = env
	req.Stdout = col.Stdout()
	req.Stderr = col.Stderr()

	res, err := client.Run(ctx, req)
	return res.ExitCode, res.Warnings, err
}

func connParams(b Backend) sshutil.ConnectionParams {
	switch b := b.(type) {
	case SSHExec:
		return b.Conn
	case SSHScript:
		return b.Conn
	case SSHScriptFile:
		return b.Conn
	case SSHAppendScript:
		return b.Conn
	case SSHRemoteScript:
		return b.Conn
	}
	return sshutil.ConnectionParams{}
}
