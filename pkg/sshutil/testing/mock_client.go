package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"

	"github.com/cybershell/backy/pkg/sshutil"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Warnings []string
	Error    error
}

// RecordedRequest is a request the mock received, with stdin fully read.
type RecordedRequest struct {
	Command string
	Shell   bool
	Stdin   string
	Env     map[string]string
}

// MockClient simulates an SSH connection for testing. Requests are
// recorded; responses come from registered patterns or a handler.
type MockClient struct {
	mu       sync.Mutex
	host     string
	address  string
	closed   bool
	commands map[string]CommandResponse // pattern -> response
	order    []string
	handler  func(req RecordedRequest) CommandResponse
	requests []RecordedRequest
}

// NewMockClient creates a new mock SSH client.
func NewMockClient(host string) *MockClient {
	return &MockClient{
		host:     host,
		address:  host + ":22",
		commands: make(map[string]CommandResponse),
	}
}

// Run records req and writes the matching response to its writers.
func (m *MockClient) Run(ctx context.Context, req sshutil.Request) (sshutil.Result, error) {
	select {
	case <-ctx.Done():
		return sshutil.Result{ExitCode: -1}, ctx.Err()
	default:
	}

	rec := RecordedRequest{Command: req.Command, Shell: req.Shell, Env: copyEnv(req.Env)}
	if req.Stdin != nil {
		data, err := io.ReadAll(req.Stdin)
		if err != nil {
			return sshutil.Result{ExitCode: -1}, fmt.Errorf("read stdin: %w", err)
		}
		rec.Stdin = string(data)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return sshutil.Result{ExitCode: -1}, errors.New("connection closed")
	}
	m.requests = append(m.requests, rec)
	resp := m.match(rec)
	m.mu.Unlock()

	if resp.Error != nil {
		return sshutil.Result{ExitCode: -1, Warnings: resp.Warnings}, resp.Error
	}
	if req.Stdout != nil && len(resp.Stdout) > 0 {
		_, _ = req.Stdout.Write(resp.Stdout)
	}
	if req.Stderr != nil && len(resp.Stderr) > 0 {
		_, _ = req.Stderr.Write(resp.Stderr)
	}
	return sshutil.Result{ExitCode: resp.ExitCode, Warnings: resp.Warnings}, nil
}

// match must be called with mu held.
func (m *MockClient) match(rec RecordedRequest) CommandResponse {
	if resp, ok := m.commands[rec.Command]; ok {
		return resp
	}
	for _, pattern := range m.order {
		if matched, _ := regexp.MatchString(pattern, rec.Command); matched {
			return m.commands[pattern]
		}
	}
	if m.handler != nil {
		return m.handler(rec)
	}
	return CommandResponse{}
}

// Close marks the connection as closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// GetHost returns the host name.
func (m *MockClient) GetHost() string {
	return m.host
}

// GetAddress returns the host:port address.
func (m *MockClient) GetAddress() string {
	return m.address
}

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (m *MockClient) SetCommandResponse(pattern string, resp CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.commands[pattern]; !ok {
		m.order = append(m.order, pattern)
	}
	m.commands[pattern] = resp
}

// SetHandler sets the fallback used when no pattern matches.
func (m *MockClient) SetHandler(h func(req RecordedRequest) CommandResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Requests returns a copy of everything Run received.
func (m *MockClient) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func copyEnv(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// MockConnector hands out MockClients by host alias.
type MockConnector struct {
	mu      sync.Mutex
	clients map[string]*MockClient
	errs    map[string]error
	params  []sshutil.ConnectionParams
}

// NewMockConnector creates a connector with no hosts registered.
// Unknown aliases get a fresh MockClient on first connect.
func NewMockConnector() *MockConnector {
	return &MockConnector{
		clients: make(map[string]*MockClient),
		errs:    make(map[string]error),
	}
}

// Client returns the mock for alias, creating it if needed.
func (c *MockConnector) Client(alias string) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientLocked(alias)
}

func (c *MockConnector) clientLocked(alias string) *MockClient {
	mc, ok := c.clients[alias]
	if !ok {
		mc = NewMockClient(alias)
		c.clients[alias] = mc
	}
	return mc
}

// FailConnect makes every Connect to alias return err.
func (c *MockConnector) FailConnect(alias string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[alias] = err
}

// Connect implements sshutil.Connector.
func (c *MockConnector) Connect(ctx context.Context, p sshutil.ConnectionParams) (sshutil.SSHClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = append(c.params, p)
	if err := c.errs[p.Alias]; err != nil {
		return nil, err
	}
	mc := c.clientLocked(p.Alias)
	mc.mu.Lock()
	mc.closed = false
	mc.mu.Unlock()
	return mc, nil
}

// Connections returns the params of every Connect call in order.
func (c *MockConnector) Connections() []sshutil.ConnectionParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sshutil.ConnectionParams, len(c.params))
	copy(out, c.params)
	return out
}
