package exec

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"syscall"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/output"
)

// runLocal runs a process in the local process tree. On cancellation the
// process gets SIGTERM, then SIGKILL once the grace period is over.
func (e *Executor) runLocal(ctx context.Context, path string, args []string, dir string, env map[string]string, stdin io.Reader, col *output.Collector) (int, error) {
	command := osexec.CommandContext(ctx, path, args...)
	command.Dir = dir
	command.Stdin = stdin
	command.Env = mergeEnviron(e.environ(), env)
	command.Stdout = col.Stdout()
	command.Stderr = col.Stderr()
	command.Cancel = func() error {
		return command.Process.Signal(syscall.SIGTERM)
	}
	command.WaitDelay = e.grace

	if err := command.Start(); err != nil {
		return -1, errors.WrapWithCode(err, errors.ErrStart,
			fmt.Sprintf("Couldn't start %s", path),
			startSuggestion(err, dir))
	}

	err := command.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return exitCode(err), ctxErr
	}
	if err != nil {
		var exitErr *osexec.ExitError
		if stderrors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		// The process exited but its output could not be drained in time.
		if stderrors.Is(err, osexec.ErrWaitDelay) {
			return 0, nil
		}
		return -1, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Lost track of %s", path),
			"This is usually a broken pipe or a killed parent")
	}
	return 0, nil
}

func exitCode(err error) int {
	var exitErr *osexec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func startSuggestion(err error, dir string) string {
	switch {
	case stderrors.Is(err, osexec.ErrNotFound):
		return "The executable is not on PATH. Use a full path or set shell"
	case stderrors.Is(err, os.ErrNotExist) && dir != "":
		return fmt.Sprintf("Check that the executable and the working directory %s exist", dir)
	case stderrors.Is(err, os.ErrPermission):
		return "The file is not executable. Try chmod +x or run it through a shell"
	}
	return "Make sure the command exists and is executable."
}
