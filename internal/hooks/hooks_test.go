package hooks

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExecutor records the commands it runs and returns a canned outcome per name.
type fakeExecutor struct {
	mu       sync.Mutex
	ran      []string
	outcomes map[string]*exec.RunOutcome
	errs     map[string]error
}

func (f *fakeExecutor) Run(_ context.Context, cmd *config.Command, _ map[string]string, _ ...exec.RunOption) (*exec.RunOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, cmd.Name)
	if err := f.errs[cmd.Name]; err != nil {
		return &exec.RunOutcome{Command: cmd.Name, Status: exec.StatusStartError, ExitCode: -1, Err: err}, err
	}
	if out, ok := f.outcomes[cmd.Name]; ok {
		return out, nil
	}
	return &exec.RunOutcome{Command: cmd.Name, Status: exec.StatusSuccess}, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	for _, name := range []string{"cleanup", "alert", "celebrate", "log-done", "nested"} {
		cfg.Commands[name] = &config.Command{Name: name, Cmd: "true"}
	}
	cfg.Commands["nested"].Hooks = &config.Hooks{Final: []string{"cleanup"}}
	return cfg
}

func failed() *exec.RunOutcome {
	return &exec.RunOutcome{Status: exec.StatusFailure, ExitCode: 1}
}

func succeeded() *exec.RunOutcome {
	return &exec.RunOutcome{Status: exec.StatusSuccess}
}

func TestRunHooks_SelectsSetByOutcome(t *testing.T) {
	cmd := &config.Command{Name: "backup", Hooks: &config.Hooks{
		Error:   []string{"alert", "cleanup"},
		Success: []string{"celebrate"},
		Final:   []string{"log-done"},
	}}

	tests := []struct {
		name    string
		outcome *exec.RunOutcome
		want    []string
	}{
		{"success", succeeded(), []string{"celebrate", "log-done"}},
		{"failure", failed(), []string{"alert", "cleanup", "log-done"}},
		{"start error", &exec.RunOutcome{Status: exec.StatusStartError, ExitCode: -1}, []string{"alert", "cleanup", "log-done"}},
		{"no outcome", nil, []string{"alert", "cleanup", "log-done"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExecutor{}
			r := NewRunner(testConfig(), ex, nil)

			res := r.RunHooks(context.Background(), cmd, tt.outcome)
			assert.Equal(t, tt.want, ex.ran)
			assert.False(t, res.Failed())
			require.Len(t, res.Hooks, len(tt.want))
			assert.Equal(t, KindFinal, res.Hooks[len(res.Hooks)-1].Kind)
		})
	}
}

func TestRunHooks_NoHooks(t *testing.T) {
	ex := &fakeExecutor{}
	res := NewRunner(testConfig(), ex, nil).RunHooks(context.Background(), &config.Command{Name: "plain"}, failed())
	assert.Empty(t, ex.ran)
	assert.Empty(t, res.Hooks)
	assert.False(t, res.Failed())
}

func TestRunHooks_BestEffort(t *testing.T) {
	dialErr := errors.New(errors.ErrDial, "Can't connect to 'db'", "")
	ex := &fakeExecutor{
		outcomes: map[string]*exec.RunOutcome{"alert": {Status: exec.StatusFailure, ExitCode: 2}},
		errs:     map[string]error{"cleanup": dialErr},
	}
	log := logger.NewBufferLogger()
	cmd := &config.Command{Name: "backup", Hooks: &config.Hooks{
		Error: []string{"alert", "cleanup"},
		Final: []string{"log-done", "missing"},
	}}

	res := NewRunner(testConfig(), ex, log).RunHooks(context.Background(), cmd, failed())

	assert.Equal(t, []string{"alert", "cleanup", "log-done"}, ex.ran, "a failing hook does not stop the rest")
	require.Len(t, res.Hooks, 4)
	assert.Nil(t, res.Hooks[3].Outcome, "undeclared hook never runs")

	require.True(t, res.Failed())
	assert.True(t, errors.IsCode(res.Err, errors.ErrHook))
	assert.ErrorIs(t, res.Err, dialErr)
	assert.Contains(t, res.Err.Error(), "exited with status 2")
	assert.Contains(t, res.Err.Error(), "'missing'")

	var joined interface{ Unwrap() []error }
	require.True(t, stderrors.As(res.Err, &joined))
	assert.Len(t, joined.Unwrap(), 3)
	assert.True(t, log.HasLevel("warn"))
}

func TestRunHooks_DepthIsOne(t *testing.T) {
	ex := &fakeExecutor{}
	cmd := &config.Command{Name: "backup", Hooks: &config.Hooks{Final: []string{"nested"}}}

	res := NewRunner(testConfig(), ex, nil).RunHooks(context.Background(), cmd, succeeded())
	assert.Equal(t, []string{"nested"}, ex.ran, "a hook's own hooks are not run")
	assert.False(t, res.Failed())
}
