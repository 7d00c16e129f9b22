// Package hooks runs the error, success and final hooks of a command.
//
// Hooks are plain command names resolved through the same config lookup as
// any other command and executed through the executor. A hook's own hooks
// are never run, so chains are exactly one level deep.
package hooks

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/logger"
)

// Kind names a hook set.
type Kind string

const (
	KindError   Kind = "error"
	KindSuccess Kind = "success"
	KindFinal   Kind = "final"
)

// Executor runs a single command.
type Executor interface {
	Run(ctx context.Context, cmd *config.Command, overrideEnv map[string]string, opts ...exec.RunOption) (*exec.RunOutcome, error)
}

// HookOutcome is one hook invocation.
type HookOutcome struct {
	Kind    Kind
	Name    string
	Outcome *exec.RunOutcome
}

// HookResult is every hook run for one command, in order.
type HookResult struct {
	Hooks []HookOutcome
	// Err joins the failure of every hook that did not succeed.
	Err error
}

// Failed reports whether any hook failed.
func (r *HookResult) Failed() bool {
	return r != nil && r.Err != nil
}

// Runner runs hooks.
type Runner struct {
	cfg  *config.Config
	exec Executor
	log  logger.Logger
}

// NewRunner creates a runner that looks hook names up in cfg.
func NewRunner(cfg *config.Config, ex Executor, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Noop()
	}
	return &Runner{cfg: cfg, exec: ex, log: log}
}

// RunHooks runs the error hooks when outcome failed (including a start
// error), otherwise the success hooks, and then always the final hooks.
// Hooks run sequentially; a failing hook does not stop the others.
func (r *Runner) RunHooks(ctx context.Context, cmd *config.Command, outcome *exec.RunOutcome) *HookResult {
	result := &HookResult{}
	if cmd.Hooks == nil {
		return result
	}

	var errs []error
	run := func(kind Kind, names []string) {
		for _, name := range names {
			hook, err := r.runOne(ctx, cmd, kind, name)
			result.Hooks = append(result.Hooks, hook)
			if err != nil {
				r.log.Warn("%s", errors.Short(err))
				errs = append(errs, err)
			}
		}
	}

	if outcome.Succeeded() {
		run(KindSuccess, cmd.Hooks.Success)
	} else {
		run(KindError, cmd.Hooks.Error)
	}
	run(KindFinal, cmd.Hooks.Final)

	result.Err = stderrors.Join(errs...)
	return result
}

func (r *Runner) runOne(ctx context.Context, parent *config.Command, kind Kind, name string) (HookOutcome, error) {
	hook := HookOutcome{Kind: kind, Name: name}

	target, ok := r.cfg.Command(name)
	if !ok {
		return hook, errors.New(errors.ErrHook,
			fmt.Sprintf("%s hook '%s' of %s is not a declared command", kind, name, parent.Name),
			"Add it under commands or remove it from the hook list")
	}

	r.log.Debug("running %s hook %s for %s", kind, name, parent.Name)
	outcome, err := r.exec.Run(ctx, target, nil)
	hook.Outcome = outcome
	if err != nil {
		return hook, errors.WrapWithCode(err, errors.ErrHook,
			fmt.Sprintf("%s hook '%s' of %s did not start", kind, name, parent.Name), "")
	}
	if !outcome.Succeeded() {
		return hook, errors.New(errors.ErrHook,
			fmt.Sprintf("%s hook '%s' of %s exited with status %d", kind, name, parent.Name, outcome.ExitCode), "")
	}
	return hook, nil
}
