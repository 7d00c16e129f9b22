package sshutil

import (
	"context"
	"io"
	"net"
	"strconv"
)

// ConnectionParams is everything needed to open an SSH connection to one host.
// Password and PrivateKeyPassword may hold secret references; they are
// resolved at dial time.
type ConnectionParams struct {
	// Alias is the identifier the host was requested by.
	Alias              string
	HostName           string
	Port               int
	User               string
	IdentityFile       string
	Password           string
	PrivateKeyPassword string
	KnownHostsFile     string
	StrictHostKeys     bool

	// Jump is the bastion to connect through, itself possibly chained.
	Jump *ConnectionParams
}

// Address returns host:port for dialing.
func (p ConnectionParams) Address() string {
	return net.JoinHostPort(p.HostName, strconv.Itoa(p.Port))
}

// Request describes one remote execution.
type Request struct {
	// Command is run with the remote user's login shell. Ignored when Shell is set.
	Command string
	// Shell starts the login shell instead of Command; the script is read from Stdin.
	Shell  bool
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Env is sent with Setenv before the command starts.
	Env map[string]string
}

// Result is the outcome of a remote execution that started.
type Result struct {
	ExitCode int
	// Warnings lists non-fatal problems, e.g. env vars the server rejected.
	Warnings []string
}

// SSHClient defines the interface for SSH command execution.
// Both the real Client and mock implementations satisfy this interface.
type SSHClient interface {
	// Run executes req. A non-zero exit is reported in Result with a nil
	// error; an error means the command never started (exit code -1).
	Run(ctx context.Context, req Request) (Result, error)

	// Close closes the SSH connection.
	Close() error

	// GetHost returns the original host/alias used to connect.
	GetHost() string

	// GetAddress returns the resolved host:port address.
	GetAddress() string
}

// Connector opens SSH connections.
type Connector interface {
	Connect(ctx context.Context, p ConnectionParams) (SSHClient, error)
}

// SecretResolver resolves password and passphrase references.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}
