package sshutil

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Client wraps an SSH connection with additional metadata.
type Client struct {
	*ssh.Client
	Host    string // The original host/alias used to connect
	Address string // The resolved address (host:port)

	jump *Client
}

// Close closes the SSH connection and any bastion connection beneath it.
func (c *Client) Close() error {
	var err error
	if c.Client != nil {
		err = c.Client.Close()
	}
	if c.jump != nil {
		_ = c.jump.Close()
	}
	return err
}

// GetHost returns the original host/alias used to connect.
func (c *Client) GetHost() string {
	return c.Host
}

// GetAddress returns the resolved host:port address.
func (c *Client) GetAddress() string {
	return c.Address
}

// DefaultDialTimeout bounds the TCP connect plus handshake of one attempt.
const DefaultDialTimeout = 30 * time.Second

// Dialer opens SSH connections, resolving credentials at dial time, retrying
// transient failures with exponential backoff and short-circuiting hosts that
// keep failing.
type Dialer struct {
	secrets    SecretResolver
	timeout    time.Duration
	retries    uint64
	newBackOff func() backoff.BackOff
	log        logger.Logger

	mu              sync.Mutex
	breakers        map[string]*gobreaker.CircuitBreaker
	breakerSettings gobreaker.Settings
}

// DialerOption configures a Dialer.
type DialerOption func(*Dialer)

// WithTimeout sets the per-attempt connect timeout.
func WithTimeout(d time.Duration) DialerOption {
	return func(dl *Dialer) { dl.timeout = d }
}

// WithRetries sets how many times a failed connect is retried.
func WithRetries(n uint64) DialerOption {
	return func(dl *Dialer) { dl.retries = n }
}

// WithBackOff replaces the retry schedule.
func WithBackOff(f func() backoff.BackOff) DialerOption {
	return func(dl *Dialer) { dl.newBackOff = f }
}

// WithLogger sets the logger used for retry messages.
func WithLogger(l logger.Logger) DialerOption {
	return func(dl *Dialer) { dl.log = l }
}

// WithBreakerSettings replaces the per-host circuit breaker settings.
// Name is overwritten with the host address.
func WithBreakerSettings(s gobreaker.Settings) DialerOption {
	return func(dl *Dialer) { dl.breakerSettings = s }
}

// NewDialer creates a Dialer. secrets may be nil when no host uses references.
func NewDialer(secrets SecretResolver, opts ...DialerOption) *Dialer {
	d := &Dialer{
		secrets: secrets,
		timeout: DefaultDialTimeout,
		retries: 2,
		newBackOff: func() backoff.BackOff {
			return &backoff.ExponentialBackOff{
				InitialInterval:     500 * time.Millisecond,
				RandomizationFactor: 0.5,
				Multiplier:          1.5,
				MaxInterval:         5 * time.Second,
				MaxElapsedTime:      30 * time.Second,
				Stop:                backoff.Stop,
				Clock:               backoff.SystemClock,
			}
		},
		log:      logger.Noop(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		breakerSettings: gobreaker.Settings{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect implements Connector.
func (d *Dialer) Connect(ctx context.Context, p ConnectionParams) (SSHClient, error) {
	c, err := d.Dial(ctx, p)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Dial establishes an SSH connection described by p, connecting through
// p.Jump first when set.
func (d *Dialer) Dial(ctx context.Context, p ConnectionParams) (*Client, error) {
	return d.dial(ctx, p, 0)
}

const maxJumpDepth = 8

func (d *Dialer) dial(ctx context.Context, p ConnectionParams, depth int) (*Client, error) {
	if depth > maxJumpDepth {
		return nil, errors.New(errors.ErrDial,
			fmt.Sprintf("ProxyJump chain for '%s' is too deep", p.Alias),
			"Check proxyjump settings for a loop")
	}

	config, err := d.clientConfig(ctx, p)
	if err != nil {
		return nil, err
	}

	var jump *Client
	if p.Jump != nil {
		jump, err = d.dial(ctx, *p.Jump, depth+1)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrDial,
				fmt.Sprintf("Can't reach '%s' through bastion '%s'", p.Alias, p.Jump.Alias),
				"Check the bastion host is reachable: ssh "+p.Jump.Alias)
		}
	}

	address := p.Address()
	breaker := d.breaker(address)
	var client *ssh.Client
	attempt := 0

	op := func() error {
		attempt++
		res, err := breaker.Execute(func() (interface{}, error) {
			return d.handshake(ctx, address, config, jump)
		})
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			d.log.Debug("dial %s attempt %d failed: %v", address, attempt, err)
			return err
		}
		client = res.(*ssh.Client)
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(d.newBackOff(), d.retries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if jump != nil {
			_ = jump.Close()
		}
		return nil, wrapDialError(p, err)
	}

	return &Client{
		Client:  client,
		Host:    p.Alias,
		Address: address,
		jump:    jump,
	}, nil
}

func (d *Dialer) handshake(ctx context.Context, address string, config *ssh.ClientConfig, jump *Client) (*ssh.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if jump != nil {
		conn, err = jump.Client.DialContext(dialCtx, "tcp", address)
	} else {
		var nd net.Dialer
		conn, err = nd.DialContext(dialCtx, "tcp", address)
	}
	if err != nil {
		return nil, &dialError{err: err}
	}

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (d *Dialer) breaker(address string) *gobreaker.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[address]; ok {
		return cb
	}
	s := d.breakerSettings
	s.Name = address
	cb := gobreaker.NewCircuitBreaker(s)
	d.breakers[address] = cb
	return cb
}

// dialError marks a TCP-level failure, as opposed to a handshake failure.
type dialError struct{ err error }

func (e *dialError) Error() string { return e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		return true
	}
	var hostKeyErr *HostKeyMismatchError
	if stderrors.As(err, &hostKeyErr) {
		return true
	}
	var keyErr *knownhosts.KeyError
	if stderrors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods")
}

func wrapDialError(p ConnectionParams, err error) error {
	var hostKeyErr *HostKeyMismatchError
	if stderrors.As(err, &hostKeyErr) {
		return errors.WrapWithCode(err, errors.ErrDial, hostKeyErr.Error(), hostKeyErr.Suggestion())
	}
	var keyErr *knownhosts.KeyError
	if stderrors.As(err, &keyErr) && len(keyErr.Want) == 0 {
		return errors.WrapWithCode(err, errors.ErrDial,
			fmt.Sprintf("Host key for '%s' is not in %s", p.Alias, p.knownHostsPath()),
			fmt.Sprintf("Connect once manually (ssh %s) or add it: ssh-keyscan -p %d %s >> %s",
				p.Alias, p.Port, p.HostName, p.knownHostsPath()))
	}
	if stderrors.Is(err, gobreaker.ErrOpenState) {
		return errors.WrapWithCode(err, errors.ErrDial,
			fmt.Sprintf("Not connecting to '%s': too many recent failures", p.Alias),
			"Wait a little and try again")
	}
	var de *dialError
	if stderrors.As(err, &de) {
		return errors.WrapWithCode(err, errors.ErrDial,
			fmt.Sprintf("Can't reach '%s' at %s", p.Alias, p.Address()),
			suggestionForDialError(err))
	}
	return errors.WrapWithCode(err, errors.ErrDial,
		fmt.Sprintf("SSH handshake with '%s' didn't go through", p.Alias),
		suggestionForHandshakeError(err))
}

// clientConfig builds the ssh.ClientConfig for p, resolving secret references.
func (d *Dialer) clientConfig(ctx context.Context, p ConnectionParams) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	password, err := d.resolve(ctx, p.Password)
	if err != nil {
		return nil, err
	}
	passphrase, err := d.resolve(ctx, p.PrivateKeyPassword)
	if err != nil {
		return nil, err
	}

	if p.IdentityFile != "" {
		auth, err := keyFileAuth(p.IdentityFile, passphrase)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrDial,
				fmt.Sprintf("Can't use private key %s for '%s'", p.IdentityFile, p.Alias),
				"If the key is encrypted, set privatekeypassword (env:, file: or vault: references work)")
		}
		authMethods = append(authMethods, auth)
	}

	if agentAuth := sshAgentAuth(); agentAuth != nil {
		authMethods = append(authMethods, agentAuth)
	}

	if p.IdentityFile == "" {
		for _, keyPath := range defaultKeyFiles() {
			if auth, err := keyFileAuth(keyPath, passphrase); err == nil {
				authMethods = append(authMethods, auth)
			}
		}
	}

	if password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}

	if len(authMethods) == 0 {
		return nil, errors.New(errors.ErrDial,
			fmt.Sprintf("No SSH auth methods available for '%s'", p.Alias),
			"Load a key into the agent (ssh-add), set privatekeypath, or set password")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // host explicitly disabled checking
	if p.StrictHostKeys {
		hostKeyCallback, err = createHostKeyCallback(p.knownHostsPath())
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrDial,
				"Failed to load known_hosts",
				"Check "+p.knownHostsPath()+" is readable")
		}
	}

	return &ssh.ClientConfig{
		User:            p.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         d.timeout,
	}, nil
}

func (d *Dialer) resolve(ctx context.Context, ref string) (string, error) {
	if ref == "" || d.secrets == nil {
		return ref, nil
	}
	return d.secrets.Resolve(ctx, ref)
}

func (p ConnectionParams) knownHostsPath() string {
	if p.KnownHostsFile != "" {
		return p.KnownHostsFile
	}
	return filepath.Join(homeDir(), ".ssh", "known_hosts")
}

func defaultKeyFiles() []string {
	return []string{
		filepath.Join(homeDir(), ".ssh", "id_ed25519"),
		filepath.Join(homeDir(), ".ssh", "id_rsa"),
		filepath.Join(homeDir(), ".ssh", "id_ecdsa"),
	}
}

var (
	agentConn     net.Conn
	agentClient   agent.ExtendedAgent
	agentConnOnce sync.Once
)

// sshAgentAuth returns an auth method using the SSH agent if available.
// The agent connection is reused across connections.
// Returns nil if the agent has no keys loaded.
func sshAgentAuth() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	agentConnOnce.Do(func() {
		conn, err := net.Dial("unix", socket)
		if err != nil {
			return
		}
		agentConn = conn
		agentClient = agent.NewClient(conn)
	})

	if agentClient == nil {
		return nil
	}

	// An empty agent causes auth failures when placed before other methods.
	signers, err := agentClient.Signers()
	if err != nil || len(signers) == 0 {
		return nil
	}

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// CloseAgent closes the SSH agent connection if one is open.
func CloseAgent() {
	if agentConn != nil {
		agentConn.Close()
	}
}

// keyFileAuth returns an auth method using a private key file.
// Returns EncryptedKeyError if the key requires a passphrase that wasn't given.
func keyFileAuth(keyPath, passphrase string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(key)
	}
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if stderrors.As(err, &missing) || isEncryptedPEM(key) {
			return nil, &EncryptedKeyError{Path: keyPath}
		}
		return nil, err
	}

	return ssh.PublicKeys(signer), nil
}

func suggestionForDialError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "connection refused") {
		return "Is SSH running on that box? Try: ssh <host>"
	}
	if strings.Contains(errStr, "no route to host") || strings.Contains(errStr, "network is unreachable") {
		return "Can't route to the host. Check your network connection."
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return "Connection timed out. Host might be offline or blocked by a firewall."
	}
	return "Make sure the host is reachable: ping <host>"
}

func suggestionForHandshakeError(err error) string {
	errStr := err.Error()
	if strings.Contains(errStr, "unable to authenticate") || strings.Contains(errStr, "no supported methods") {
		return "Auth failed. Check the user, key and password for this host, or ssh-add -l"
	}
	if strings.Contains(errStr, "host key") {
		return "Host key issue. Try connecting manually first: ssh <host>"
	}
	return "Something went wrong during SSH setup. Try: ssh -v <host>"
}

// EncryptedKeyError is returned when an SSH key requires a passphrase.
type EncryptedKeyError struct {
	Path string
}

func (e *EncryptedKeyError) Error() string {
	return fmt.Sprintf("SSH key at %s is encrypted (passphrase protected)", e.Path)
}

// HostKeyMismatchError provides helpful context when known_hosts verification fails.
type HostKeyMismatchError struct {
	Hostname     string
	ReceivedType string
	KnownHosts   string
	Want         []knownhosts.KnownKey
}

func (e *HostKeyMismatchError) Error() string {
	return fmt.Sprintf("host key mismatch for %s: server sent %s key", e.Hostname, e.ReceivedType)
}

// Suggestion returns actionable steps to fix the host key mismatch.
func (e *HostKeyMismatchError) Suggestion() string {
	host := e.Hostname
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var wantTypes []string
	for _, k := range e.Want {
		wantTypes = append(wantTypes, k.Key.Type())
	}
	wantStr := "unknown"
	if len(wantTypes) > 0 {
		wantStr = strings.Join(wantTypes, ", ")
	}

	return fmt.Sprintf(
		"The server's host key doesn't match what's in known_hosts.\n"+
			"  Known types: %s\n"+
			"  Server sent: %s\n\n"+
			"  If the host was legitimately rebuilt, remove the old entry:\n"+
			"    ssh-keygen -f %s -R %s",
		wantStr, e.ReceivedType, e.KnownHosts, host)
}

// isEncryptedPEM checks if PEM data contains encryption markers.
func isEncryptedPEM(data []byte) bool {
	return bytes.Contains(data, []byte("ENCRYPTED"))
}

// createHostKeyCallback wraps the knownhosts callback to provide better error messages.
// A missing known_hosts file is created empty.
func createHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create .ssh directory: %w", err)
		}
		if err := os.WriteFile(knownHostsPath, []byte{}, 0o600); err != nil {
			return nil, fmt.Errorf("failed to create known_hosts: %w", err)
		}
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := callback(hostname, remote, key)
		if err != nil {
			var keyErr *knownhosts.KeyError
			if stderrors.As(err, &keyErr) && len(keyErr.Want) > 0 {
				return &HostKeyMismatchError{
					Hostname:     hostname,
					ReceivedType: key.Type(),
					KnownHosts:   knownHostsPath,
					Want:         keyErr.Want,
				}
			}
		}
		return err
	}, nil
}
