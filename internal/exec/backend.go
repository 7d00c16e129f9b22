package exec

import (
	"fmt"
	"os"
	"strings"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/pkg/sshutil"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultShell runs scripts when a command does not name one.
const DefaultShell = "sh"

// Backend is how a command gets executed. The set of implementations is
// closed; only the SSH variants carry connection parameters.
type Backend interface {
	// Describe is a short label for logs and summaries.
	Describe() string
	backend()
}

// LocalExec runs a binary directly with its arguments.
type LocalExec struct {
	Path string
	Args []string
	Dir  string
}

// LocalShell runs script text through `shell -c`.
type LocalShell struct {
	Shell  string
	Script string
	Dir    string
}

// SSHExec runs a command line on a remote host.
type SSHExec struct {
	Conn    sshutil.ConnectionParams
	Command string
}

// SSHScript feeds script text to a remote shell on stdin. With no Shell the
// login shell of the session is used.
type SSHScript struct {
	Conn   sshutil.ConnectionParams
	Shell  string
	Script string
}

// SSHScriptFile streams a local file to a remote shell on stdin. Nothing is
// written on the remote host.
type SSHScriptFile struct {
	Conn  sshutil.ConnectionParams
	Shell string
	Path  string
}

// SSHAppendScript appends a local file to RemotePath and then runs
// RemotePath. Running it twice appends the content twice.
type SSHAppendScript struct {
	Conn       sshutil.ConnectionParams
	Shell      string
	Path       string
	RemotePath string
}

// LocalRemoteScript downloads URL and feeds it to a local shell on stdin.
// Script is empty until the executor fetches it.
type LocalRemoteScript struct {
	Shell  string
	URL    string
	Args   []string
	Dir    string
	Script string
}

// SSHRemoteScript downloads URL on this machine and feeds it to a remote
// shell on stdin.
type SSHRemoteScript struct {
	Conn   sshutil.ConnectionParams
	Shell  string
	URL    string
	Args   []string
	Script string
}

func (LocalExec) backend()         {}
func (LocalShell) backend()        {}
func (LocalRemoteScript) backend() {}
func (SSHExec) backend()           {}
func (SSHScript) backend()         {}
func (SSHScriptFile) backend()     {}
func (SSHAppendScript) backend()   {}
func (SSHRemoteScript) backend()   {}

func (b LocalExec) Describe() string  { return "local exec " + b.Path }
func (b LocalShell) Describe() string { return "local " + b.Shell }
func (b SSHExec) Describe() string    { return "ssh " + b.Conn.Alias }
func (b SSHScript) Describe() string  { return "ssh script on " + b.Conn.Alias }
func (b SSHScriptFile) Describe() string {
	return fmt.Sprintf("ssh script file %s on %s", b.Path, b.Conn.Alias)
}
func (b SSHAppendScript) Describe() string {
	return fmt.Sprintf("ssh script file %s appended to %s on %s", b.Path, b.RemotePath, b.Conn.Alias)
}
func (b LocalRemoteScript) Describe() string {
	return fmt.Sprintf("local %s with script from %s", b.Shell, b.URL)
}
func (b SSHRemoteScript) Describe() string {
	return fmt.Sprintf("ssh script from %s on %s", b.URL, b.Conn.Alias)
}

// HostResolver maps a host identifier to connection parameters.
type HostResolver interface {
	Resolve(hostID string) sshutil.ConnectionParams
}

// SelectBackend picks the backend for cmd from its host and type.
func SelectBackend(cmd *config.Command, hosts HostResolver) Backend {
	if !cmd.IsRemote() {
		switch cmd.Type {
		case config.TypeScript:
			return LocalShell{Shell: shellOrDefault(cmd.Shell), Script: cmd.Cmd, Dir: cmd.Dir}
		case config.TypeScriptFile:
			return LocalExec{Path: shellOrDefault(cmd.Shell), Args: append([]string{cmd.Cmd}, cmd.Args...), Dir: cmd.Dir}
		case config.TypeRemoteScript:
			return LocalRemoteScript{Shell: shellOrDefault(cmd.Shell), URL: cmd.Cmd, Args: cmd.Args, Dir: cmd.Dir}
		}
		if cmd.Shell != "" {
			return LocalShell{Shell: cmd.Shell, Script: commandLine(cmd), Dir: cmd.Dir}
		}
		return LocalExec{Path: cmd.Cmd, Args: cmd.Args, Dir: cmd.Dir}
	}

	conn := hosts.Resolve(cmd.Host)
	switch cmd.Type {
	case config.TypeScript:
		return SSHScript{Conn: conn, Shell: cmd.Shell, Script: cmd.Cmd}
	case config.TypeScriptFile:
		if cmd.ScriptEnvFile != "" {
			return SSHAppendScript{Conn: conn, Shell: shellOrDefault(cmd.Shell), Path: cmd.Cmd, RemotePath: cmd.ScriptEnvFile}
		}
		return SSHScriptFile{Conn: conn, Shell: shellOrDefault(cmd.Shell), Path: cmd.Cmd}
	case config.TypeRemoteScript:
		return SSHRemoteScript{Conn: conn, Shell: shellOrDefault(cmd.Shell), URL: cmd.Cmd, Args: cmd.Args}
	}
	line := commandLine(cmd)
	if cmd.Shell != "" {
		if quoted, err := quote(line); err == nil {
			line = cmd.Shell + " -c " + quoted
		}
	}
	return SSHExec{Conn: conn, Command: line}
}

// request builds the session request for an SSH backend. Script files are
// read here so a missing file is reported as a start failure.
func request(b Backend) (sshutil.Request, error) {
	switch b := b.(type) {
	case SSHExec:
		return sshutil.Request{Command: b.Command}, nil
	case SSHScript:
		script := b.Script
		if !strings.HasSuffix(script, "\n") {
			script += "\n"
		}
		if b.Shell == "" {
			return sshutil.Request{Shell: true, Stdin: strings.NewReader(script)}, nil
		}
		return sshutil.Request{Command: b.Shell, Stdin: strings.NewReader(script)}, nil
	case SSHScriptFile:
		f, err := os.Open(b.Path)
		if err != nil {
			return sshutil.Request{}, scriptFileError(b.Path, err)
		}
		return sshutil.Request{Command: b.Shell, Stdin: f}, nil
	case SSHRemoteScript:
		line, err := stdinShell(b.Shell, b.Args)
		if err != nil {
			return sshutil.Request{}, errors.WrapWithCode(err, errors.ErrStart,
				"Can't quote the script arguments", "Use plainer cmdArgs")
		}
		return sshutil.Request{Command: line, Stdin: strings.NewReader(b.Script)}, nil
	case SSHAppendScript:
		f, err := os.Open(b.Path)
		if err != nil {
			return sshutil.Request{}, scriptFileError(b.Path, err)
		}
		remote, err := quote(b.RemotePath)
		if err != nil {
			f.Close()
			return sshutil.Request{}, errors.WrapWithCode(err, errors.ErrStart,
				fmt.Sprintf("Can't quote remote path %q", b.RemotePath), "Use a plainer scriptEnvFile path")
		}
		return sshutil.Request{
			Command: fmt.Sprintf("cat >> %s && %s %s", remote, b.Shell, remote),
			Stdin:   f,
		}, nil
	}
	return sshutil.Request{}, fmt.Errorf("backend %s does not use SSH", b.Describe())
}

func scriptFileError(path string, err error) error {
	return errors.WrapWithCode(err, errors.ErrStart,
		fmt.Sprintf("Can't read script file %s", path),
		"scriptFile paths are relative to the config file directory")
}

func commandLine(cmd *config.Command) string {
	if len(cmd.Args) == 0 {
		return cmd.Cmd
	}
	return cmd.Cmd + " " + strings.Join(cmd.Args, " ")
}

// stdinShell is the remote command line that runs a script read from stdin
// with args as its positional parameters.
func stdinShell(shell string, args []string) (string, error) {
	if len(args) == 0 {
		return shell, nil
	}
	parts := []string{shell, "-s"}
	for _, a := range args {
		q, err := quote(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, q)
	}
	return strings.Join(parts, " "), nil
}

func shellOrDefault(shell string) string {
	if shell == "" {
		return DefaultShell
	}
	return shell
}

func quote(s string) (string, error) {
	return syntax.Quote(s, syntax.LangPOSIX)
}
