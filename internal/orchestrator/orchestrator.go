// Package orchestrator runs command lists and one-off commands.
//
// Entries of a list run strictly in order, each followed by its hooks, and
// a failing entry does not stop the list. Runs of the same list are
// serialized through a lock registry; different lists run independently.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/hooks"
	"github.com/cybershell/backy/internal/lock"
	"github.com/cybershell/backy/internal/logger"
)

// DefaultNotifyTimeout bounds notification delivery after a list run.
const DefaultNotifyTimeout = 30 * time.Second

// HookRunner runs the hooks of a finished command.
type HookRunner interface {
	RunHooks(ctx context.Context, cmd *config.Command, outcome *exec.RunOutcome) *hooks.HookResult
}

// Dispatcher delivers a list summary to one notification target.
type Dispatcher interface {
	Send(ctx context.Context, targetKey string, summary *ListSummary) error
}

// Orchestrator coordinates list runs.
type Orchestrator struct {
	cfg      *config.Config
	exec     hooks.Executor
	hooks    HookRunner
	notifier Dispatcher
	locks    *lock.Registry
	log      logger.Logger

	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDispatcher sets where list summaries are sent. Without one,
// notification targets are skipped.
func WithDispatcher(d Dispatcher) Option {
	return func(o *Orchestrator) { o.notifier = d }
}

// WithHookRunner replaces the default hook runner.
func WithHookRunner(h HookRunner) Option {
	return func(o *Orchestrator) { o.hooks = h }
}

// WithLocks shares a lock registry, e.g. between the scheduler and manual runs.
func WithLocks(r *lock.Registry) Option {
	return func(o *Orchestrator) { o.locks = r }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithClock sets the time source used for summary timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithNotifyTimeout bounds each notification send.
func WithNotifyTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.notifyTimeout = d }
}

// New creates an orchestrator that runs commands through ex.
func New(cfg *config.Config, ex hooks.Executor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:           cfg,
		exec:          ex,
		log:           logger.Noop(),
		notifyTimeout: DefaultNotifyTimeout,
		now:           time.Now,
		newID:         func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.locks == nil {
		o.locks = lock.NewRegistry()
	}
	if o.hooks == nil {
		o.hooks = hooks.NewRunner(cfg, ex, o.log)
	}
	return o
}

// Locks returns the lock registry guarding list runs.
func (o *Orchestrator) Locks() *lock.Registry {
	return o.locks
}

// ListOption configures a single list run.
type ListOption func(*listOptions)

type listOptions struct {
	trigger Trigger
}

// WithTrigger records what started the run. Defaults to TriggerManual.
func WithTrigger(t Trigger) ListOption {
	return func(o *listOptions) { o.trigger = t }
}

// RunList runs every command of the named list in order and notifies the
// list's targets. A run that finds the list already running waits for it.
//
// The error is non-nil only for an unknown list or when ctx ends while
// waiting for the lock. Command failures are reported in the summary.
func (o *Orchestrator) RunList(ctx context.Context, name string, opts ...ListOption) (*ListSummary, error) {
	lo := listOptions{trigger: TriggerManual}
	for _, opt := range opts {
		opt(&lo)
	}

	list, ok := o.cfg.List(name)
	if !ok {
		return nil, unknownList(name)
	}

	runID := o.newID()
	log := logger.With(o.log, "list", name, "run_id", runID)

	held, err := o.locks.Acquire(ctx, name, lock.NewLockInfo(string(lo.trigger), runID))
	if err != nil {
		return nil, err
	}
	defer held.Release()

	summary := &ListSummary{
		RunID:       runID,
		ListName:    name,
		DisplayName: list.DisplayName(),
		Trigger:     lo.trigger,
		Entries:     make([]EntryResult, 0, len(list.Order)),
		StartedAt:   o.now(),
	}
	log.Info("running list %s (%d commands)", summary.DisplayName, len(list.Order))

	var runOpts []exec.RunOption
	if list.GetOutput {
		runOpts = append(runOpts, exec.WithCapture())
	}

	for _, cmdName := range list.Order {
		if ctx.Err() != nil {
			summary.Entries = append(summary.Entries, o.skipped(cmdName, ctx.Err()))
			continue
		}
		summary.Entries = append(summary.Entries, o.runEntry(ctx, log, cmdName, runOpts...))
	}

	summary.EndedAt = o.now()
	summary.Success = summary.Failed() == 0
	if summary.Success {
		log.Info("list %s succeeded in %s", summary.DisplayName, summary.Duration().Round(time.Millisecond))
	} else {
		log.Warn("list %s finished with %d of %d commands failed", summary.DisplayName, summary.Failed(), len(summary.Entries))
	}

	o.notify(ctx, log, list, summary)
	return summary, nil
}

// runEntry runs one command and its hooks.
func (o *Orchestrator) runEntry(ctx context.Context, log logger.Logger, name string, opts ...exec.RunOption) EntryResult {
	entry := EntryResult{Name: name}

	cmd, ok := o.cfg.Command(name)
	if !ok {
		err := errors.Configf("Check the list's order entries", "Command '%s' is not declared", name)
		entry.Outcome = o.failedStart(name, err)
		log.Error("%s", errors.Short(err))
		return entry
	}

	outcome, err := o.exec.Run(ctx, cmd, nil, opts...)
	if outcome == nil {
		outcome = o.failedStart(name, err)
	}
	entry.Outcome = outcome

	switch {
	case err != nil:
		log.Error("%s did not start: %s", name, errors.Short(err))
	case outcome.Succeeded():
		log.Info("%s succeeded in %s", name, outcome.Duration().Round(time.Millisecond))
	default:
		log.Warn("%s failed with exit status %d", name, outcome.ExitCode)
	}
	for _, w := range outcome.Warnings {
		log.Warn("%s: %s", name, w)
	}

	if cmd.HasHooks() {
		entry.Hooks = o.hooks.RunHooks(ctx, cmd, outcome)
	}
	return entry
}

func (o *Orchestrator) skipped(name string, cause error) EntryResult {
	err := errors.WrapWithCode(cause, errors.ErrStart,
		fmt.Sprintf("Skipped '%s' because the run was cancelled", name), "")
	return EntryResult{Name: name, Outcome: o.failedStart(name, err)}
}

func (o *Orchestrator) failedStart(name string, err error) *exec.RunOutcome {
	now := o.now()
	return &exec.RunOutcome{
		Command:   name,
		Status:    exec.StatusStartError,
		ExitCode:  -1,
		Err:       err,
		StartedAt: now,
		EndedAt:   now,
	}
}

// notify sends the summary to each of the list's targets. Delivery errors
// are logged and never change the run's result. Sends get their own
// deadline so that an interrupted run is still reported.
func (o *Orchestrator) notify(ctx context.Context, log logger.Logger, list *config.CommandList, summary *ListSummary) {
	if o.notifier == nil || len(list.Notifications) == 0 {
		return
	}
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.notifyTimeout)
	defer cancel()

	for _, target := range list.Notifications {
		if err := o.notifier.Send(sendCtx, target, summary); err != nil {
			log.Error("notification %s failed: %s", target, errors.Short(err))
			continue
		}
		log.Debug("notification %s handled", target)
	}
}

// ExecuteOneOff runs the named commands in order, each with its hooks,
// outside of any list. Unknown names are rejected before anything runs.
func (o *Orchestrator) ExecuteOneOff(ctx context.Context, names []string) ([]EntryResult, error) {
	for _, name := range names {
		if _, ok := o.cfg.Command(name); !ok {
			return nil, errors.Configf("Run 'backy list --commands' to see what is declared", "Command '%s' is not declared", name)
		}
	}

	log := logger.With(o.log, "run_id", o.newID())
	entries := make([]EntryResult, 0, len(names))
	for _, name := range names {
		if ctx.Err() != nil {
			entries = append(entries, o.skipped(name, ctx.Err()))
			continue
		}
		entries = append(entries, o.runEntry(ctx, log, name))
	}
	return entries, nil
}

// RunLists runs the named lists concurrently and returns their summaries
// in the order requested. Naming the same list twice runs it twice, one
// after the other.
func (o *Orchestrator) RunLists(ctx context.Context, names []string, opts ...ListOption) ([]*ListSummary, error) {
	for _, name := range names {
		if _, ok := o.cfg.List(name); !ok {
			return nil, unknownList(name)
		}
	}

	summaries := make([]*ListSummary, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			s, err := o.RunList(ctx, name, opts...)
			summaries[i] = s
			return err
		})
	}
	return summaries, g.Wait()
}

func unknownList(name string) error {
	return errors.Configf("Run 'backy list --lists' to see what is declared", "List '%s' is not declared", name)
}
