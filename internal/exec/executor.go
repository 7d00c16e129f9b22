// Package exec runs single commands against local or SSH backends.
package exec

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/logger"
	"github.com/cybershell/backy/internal/output"
	"github.com/cybershell/backy/pkg/sshutil"
)

// Executor runs commands. It is safe for concurrent use.
type Executor struct {
	hosts     HostResolver
	secrets   SecretResolver
	connector sshutil.Connector
	fetcher   ScriptFetcher
	dotenv    map[string]string
	log       logger.Logger
	tee       io.Writer
	grace     time.Duration
	environ   func() []string
	now       func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithConnector sets how SSH connections are made.
func WithConnector(c sshutil.Connector) Option {
	return func(e *Executor) { e.connector = c }
}

// WithFetcher sets how remoteScript sources are downloaded.
func WithFetcher(f ScriptFetcher) Option {
	return func(e *Executor) { e.fetcher = f }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithTee copies every output line to w.
func WithTee(w io.Writer) Option {
	return func(e *Executor) { e.tee = w }
}

// WithGracePeriod sets how long a cancelled local process gets between
// SIGTERM and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// WithEnviron overrides the parent environment for local commands.
func WithEnviron(f func() []string) Option {
	return func(e *Executor) { e.environ = f }
}

// New creates an executor for cfg. Without WithConnector, SSH commands use
// an sshutil.Dialer backed by secrets.
func New(cfg *config.Config, hosts HostResolver, secrets SecretResolver, opts ...Option) *Executor {
	e := &Executor{
		hosts:   hosts,
		secrets: secrets,
		dotenv:  cfg.DotEnv,
		log:     logger.Noop(),
		grace:   cfg.Shutdown.GracePeriod,
		environ: os.Environ,
		now:     time.Now,
	}
	if cfg.Logging.CmdStdout {
		e.tee = os.Stdout
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.connector == nil {
		e.connector = sshutil.NewDialer(secrets, sshutil.WithLogger(e.log))
	}
	if e.fetcher == nil {
		e.fetcher = NewHTTPFetcher(e.log, DefaultFetchRetries, 500*time.Millisecond, 5*time.Second)
	}
	if e.grace <= 0 {
		e.grace = config.DefaultGracePeriod
	}
	return e
}

type runOptions struct {
	capture bool

	// file and prefix are set when a fan-out parent shares its outputFile
	// with the per-host runs.
	file   io.Writer
	prefix string
}

// RunOption adjusts a single Run.
type RunOption func(*runOptions)

// WithCapture captures output even when the command does not ask for it.
func WithCapture() RunOption {
	return func(o *runOptions) { o.capture = true }
}

// Run executes cmd to completion. A non-zero exit is reported in the
// outcome with a nil error. The error is non-nil only when the command
// could not be started, in which case the outcome has StatusStartError.
// A command with several hosts runs on all of them at once and fails to
// start only when it started on none.
func (e *Executor) Run(ctx context.Context, cmd *config.Command, overrideEnv map[string]string, opts ...RunOption) (*RunOutcome, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	outcome := &RunOutcome{
		Command:   cmd.Name,
		Host:      hostLabel(cmd),
		StartedAt: e.now(),
	}
	if err := ctx.Err(); err != nil {
		return e.startError(outcome, err), err
	}

	if cmd.OutputFile != "" && ro.file == nil {
		f, err := os.Create(cmd.OutputFile)
		if err != nil {
			err = errors.WrapWithCode(err, errors.ErrStart,
				fmt.Sprintf("Can't create output file %s", cmd.OutputFile),
				"Check that the directory exists and is writable")
			return e.startError(outcome, err), err
		}
		defer f.Close()
		ro.file = f
	}

	if cmd.FansOut() {
		return e.runOnHosts(ctx, cmd, overrideEnv, outcome, ro)
	}
	return e.runOne(ctx, cmd, overrideEnv, outcome, ro)
}

func (e *Executor) runOne(ctx context.Context, cmd *config.Command, overrideEnv map[string]string, outcome *RunOutcome, ro runOptions) (*RunOutcome, error) {
	log := logger.With(e.log, "command", cmd.Name, "host", outcome.Host)

	env, err := e.environment(ctx, cmd, overrideEnv)
	if err != nil {
		return e.startError(outcome, err), err
	}

	backend := SelectBackend(cmd, e.hosts)
	outcome.Backend = backend.Describe()
	if backend, err = e.fetchScript(ctx, backend); err != nil {
		log.Warn("%s did not start: %s", cmd.Name, errors.Short(err))
		return e.startError(outcome, err), err
	}
	log.Debug("running %s via %s", cmd.Name, outcome.Backend)

	collectorOpts := output.Options{
		Capture: cmd.GetOutput || ro.capture,
		Tee:     e.tee,
		File:    ro.file,
		Prefix:  ro.prefix,
	}
	if cmd.OutputToLog {
		collectorOpts.OnLine = func(line string) { log.Info("%s: %s", cmd.Name, line) }
	}
	col := output.NewCollector(collectorOpts)

	var code int
	var warnings []string
	switch b := backend.(type) {
	case LocalExec:
		code, err = e.runLocal(ctx, b.Path, b.Args, b.Dir, env, nil, col)
	case LocalShell:
		code, err = e.runLocal(ctx, b.Shell, []string{"-c", b.Script}, b.Dir, env, nil, col)
	case LocalRemoteScript:
		code, err = e.runLocal(ctx, b.Shell, append([]string{"-s"}, b.Args...), b.Dir, env, strings.NewReader(b.Script), col)
	default:
		code, warnings, err = e.runSSH(ctx, backend, env, col)
	}
	col.Flush()

	outcome.Output = col.Lines()
	outcome.Tail = col.Tail()
	outcome.Lines = col.LineCount()
	outcome.Warnings = append(outcome.Warnings, warnings...)

	if startFailure(err) {
		log.Warn("%s did not start: %s", cmd.Name, errors.Short(err))
		return e.startError(outcome, err), err
	}

	outcome.ExitCode = code
	outcome.EndedAt = e.now()
	switch {
	case err != nil:
		outcome.Status = StatusFailure
		outcome.Err = err
		log.Warn("%s interrupted: %v", cmd.Name, err)
	case code == 0:
		outcome.Status = StatusSuccess
		log.Debug("%s succeeded in %s with %d lines of output", cmd.Name, outcome.Duration(), outcome.Lines)
	default:
		outcome.Status = StatusFailure
		if hint := missingCommandHint(cmd, outcome.Tail, code); hint != "" {
			outcome.Warnings = append(outcome.Warnings, hint)
		}
		log.Warn("%s exited with status %d", cmd.Name, code)
	}
	for _, w := range outcome.Warnings {
		log.Warn("%s", w)
	}
	return outcome, nil
}

// runOnHosts runs cmd on every host in cmd.Hosts concurrently and merges
// the per-host outcomes into outcome.
func (e *Executor) runOnHosts(ctx context.Context, cmd *config.Command, overrideEnv map[string]string, outcome *RunOutcome, ro runOptions) (*RunOutcome, error) {
	outcome.Backend = fmt.Sprintf("%d hosts", len(cmd.Hosts))
	e.log.Info("running %s on %s", cmd.Name, outcome.Host)

	if ro.file != nil {
		ro.file = &syncWriter{w: ro.file}
	}

	children := make([]*RunOutcome, len(cmd.Hosts))
	var g errgroup.Group
	for i, host := range cmd.Hosts {
		one := *cmd
		one.Host = host
		one.Hosts = nil
		child := ro
		child.prefix = "[" + host + "] "
		g.Go(func() error {
			o := &RunOutcome{Command: one.Name, Host: host, StartedAt: e.now()}
			children[i], _ = e.runOne(ctx, &one, overrideEnv, o, child)
			return nil
		})
	}
	_ = g.Wait()

	outcome.PerHost = children
	outcome.EndedAt = e.now()
	outcome.Status = StatusSuccess

	started := 0
	var errs []error
	for _, c := range children {
		label := "[" + c.Host + "] "
		for _, line := range c.Output {
			outcome.Output = append(outcome.Output, label+line)
		}
		for _, line := range c.Tail {
			outcome.Tail = append(outcome.Tail, label+line)
		}
		for _, w := range c.Warnings {
			outcome.Warnings = append(outcome.Warnings, label+w)
		}
		outcome.Lines += c.Lines
		if c.Status != StatusStartError {
			started++
		}
		if c.Succeeded() {
			continue
		}
		if c.Err != nil {
			errs = append(errs, c.Err)
		}
		if outcome.Status == StatusSuccess {
			outcome.Status = StatusFailure
			outcome.ExitCode = c.ExitCode
		}
	}

	if started == 0 {
		err := errors.WrapWithCode(stderrors.Join(errs...), errors.ErrStart,
			fmt.Sprintf("'%s' did not start on any of its hosts", cmd.Name),
			"Check that the hosts are reachable")
		return e.startError(outcome, err), err
	}
	outcome.Err = stderrors.Join(errs...)
	return outcome, nil
}

// syncWriter lets the per-host runs of one command share an outputFile.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (e *Executor) startError(o *RunOutcome, err error) *RunOutcome {
	o.Status = StatusStartError
	o.ExitCode = -1
	o.Err = err
	o.EndedAt = e.now()
	return o
}

// startFailure reports errors raised before the command was running.
func startFailure(err error) bool {
	return errors.IsCode(err, errors.ErrStart) || errors.IsCode(err, errors.ErrDial) || errors.IsCode(err, errors.ErrSecret)
}

func hostLabel(cmd *config.Command) string {
	if cmd.FansOut() {
		return strings.Join(cmd.Hosts, ",")
	}
	if cmd.IsRemote() {
		return strings.TrimSpace(cmd.Host)
	}
	return "local"
}
