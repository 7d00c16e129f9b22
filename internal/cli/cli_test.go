package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/schedule"
	"github.com/cybershell/backy/pkg/sshutil"
)

const testConfig = `
commands:
  greet:
    cmd: echo
    cmdArgs: [hello]
  fail:
    cmd: "false"
    hooks:
      error: [note]
  note:
    cmd: echo
    cmdArgs: [noted]
hosts:
  db:
    hostname: 10.0.0.5
    port: 2222
    user: backup
cmd-lists:
  good:
    name: Good list
    order: [greet, greet]
  bad:
    order: [greet, fail]
    cron: "0 0 1 * * *"
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backy.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(context.Background(), append([]string{"--no-color", "--config", writeConfig(t)}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestExec_Succeeds(t *testing.T) {
	code, out, errOut := runCLI(t, "exec", "greet")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "local")
}

func TestExec_FailureSetsExitCode(t *testing.T) {
	code, out, _ := runCLI(t, "exec", "fail", "greet")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "fail")
	assert.Contains(t, out, "exit 1")
	assert.Contains(t, out, "greet", "later commands still run")
	assert.Contains(t, out, "error hook note", "hooks of one-off commands are reported")
}

func TestExec_UnknownCommand(t *testing.T) {
	code, out, errOut := runCLI(t, "exec", "greet", "nope")
	assert.Equal(t, 1, code)
	assert.Empty(t, out, "nothing runs when a name is unknown")
	assert.Contains(t, errOut, "Command 'nope' is not declared")
}

func TestExec_NoArgsWithoutTerminal(t *testing.T) {
	code, _, errOut := runCLI(t, "exec")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "No command given")
}

func TestRun_Lists(t *testing.T) {
	code, out, errOut := runCLI(t, "run", "good")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Good list")
	assert.Contains(t, out, "2 of 2 commands succeeded")

	code, out, _ = runCLI(t, "backup", "good", "bad")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "Good list")
	assert.Contains(t, out, "1 of 2 commands failed")
	assert.Contains(t, out, "error hook note")
}

func TestRun_AllWithNamesIsRejected(t *testing.T) {
	code, _, errOut := runCLI(t, "run", "--all", "good")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--all cannot be combined")
}

func TestRun_UnknownList(t *testing.T) {
	code, out, errOut := runCLI(t, "run", "good", "nope")
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "List 'nope' is not declared")
}

func TestList(t *testing.T) {
	code, out, _ := runCLI(t, "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "greet")
	assert.Contains(t, out, "echo hello")
	assert.Contains(t, out, "0 0 1 * * *")

	code, out, _ = runCLI(t, "list", "--lists")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "greet > fail")
	assert.NotContains(t, out, "echo hello")
}

func TestCron_DryRun(t *testing.T) {
	code, out, errOut := runCLI(t, "cron", "--dry-run")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "bad")
	assert.Contains(t, out, "next ")
	assert.NotContains(t, out, "good")
}

func TestCron_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	var out bytes.Buffer
	go func() {
		done <- run(ctx, []string{"--no-color", "--config", writeConfig(t), "cron"}, &out, &bytes.Buffer{})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("cron did not return after cancel")
	}
	assert.Contains(t, out.String(), "RUNS")
	assert.Contains(t, out.String(), "cancelled")
}

func TestStoppedRows(t *testing.T) {
	rows := stoppedRows([]schedule.ListStatus{
		{Name: "bad", Cron: "0 0 1 * * *", State: schedule.StateCancelled, Runs: 3},
	})
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"bad", "0 0 1 * * *", "3", "cancelled"}, rows[0])
}

func TestHosts(t *testing.T) {
	code, out, errOut := runCLI(t, "hosts", "db")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "backup@10.0.0.5:2222")
}

func TestMissingConfig(t *testing.T) {
	var errOut bytes.Buffer
	code := run(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "nope.yml"), "list"}, &bytes.Buffer{}, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "not found")
}

func TestCompletion(t *testing.T) {
	var out bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"completion", "bash"}, &out, &bytes.Buffer{}))
	assert.Contains(t, out.String(), "backy")
}

func TestScheduleRows(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Lists["nightly"] = &config.CommandList{Key: "nightly", Order: []string{"x"}, Cron: "0 0 1 * * *"}
	cfg.Lists["manual"] = &config.CommandList{Key: "manual", Order: []string{"x"}}

	rows, err := scheduleRows(cfg, time.Date(2024, 3, 10, 0, 30, 0, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "nightly", rows[0].List)
	assert.Equal(t, "2024-03-10 01:00:00", rows[0].Next)

	cfg.Lists["broken"] = &config.CommandList{Key: "broken", Cron: "0 1 * *"}
	_, err = scheduleRows(cfg, time.Now())
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestParseCheckTimeout(t *testing.T) {
	d, err := ParseCheckTimeout("3s")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseCheckTimeout("")
	require.NoError(t, err)
	assert.Zero(t, d)

	for _, bad := range []string{"soon", "-1s"} {
		_, err = ParseCheckTimeout(bad)
		assert.True(t, errors.IsCode(err, errors.ErrConfig), bad)
	}
}

func TestAddressAndJumpChain(t *testing.T) {
	p := sshutil.ConnectionParams{
		Alias: "db", HostName: "10.0.0.5", Port: 22, User: "root",
		Jump: &sshutil.ConnectionParams{Alias: "bastion", Jump: &sshutil.ConnectionParams{Alias: "edge"}},
	}
	assert.Equal(t, "root@10.0.0.5:22", address(p))
	assert.Equal(t, "edge > bastion", jumpChain(p))
	assert.Empty(t, jumpChain(sshutil.ConnectionParams{}))
}
