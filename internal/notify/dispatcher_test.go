package notify

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/hooks"
	"github.com/cybershell/backy/internal/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	target  string
	subject string
	message string
}

type fakeSender struct {
	target string
	log    *[]sent
	mu     *sync.Mutex
	err    error
}

func (f fakeSender) Send(_ context.Context, subject, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.log = append(*f.log, sent{target: f.target, subject: subject, message: message})
	return f.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Notifications.Mail = map[string]*config.MailTarget{
		"ops": {Host: "smtp.example.com", Port: "587", SenderAddress: "backy@example.com", To: []string{"ops@example.com"}},
		"failures-only": {TargetOptions: config.TargetOptions{On: []string{config.OnFailure}},
			Host: "smtp.example.com", Port: "587", SenderAddress: "backy@example.com", To: []string{"ops@example.com"}},
	}
	cfg.Notifications.Matrix = map[string]*config.MatrixTarget{
		"room": {TargetOptions: config.TargetOptions{On: []string{config.OnSuccess}},
			Homeserver: "https://matrix.example.com", RoomID: "!r:example.com", AccessToken: "env:MATRIX_TOKEN", UserID: "@backy:example.com"},
	}
	cfg.Notifications.Kafka = map[string]*config.KafkaTarget{
		"events": {Brokers: []string{"localhost:9092"}, Topic: "backy-runs"},
	}
	return cfg
}

func newTestDispatcher(t *testing.T, sendErr error) (*Dispatcher, *[]sent) {
	t.Helper()
	var log []sent
	var mu sync.Mutex
	d := NewDispatcher(testConfig(), nil, WithFactory(func(_ context.Context, service, id string) (Sender, error) {
		return fakeSender{target: service + "." + id, log: &log, mu: &mu, err: sendErr}, nil
	}))
	return d, &log
}

func summary(success bool) *orchestrator.ListSummary {
	start := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	s := &orchestrator.ListSummary{
		RunID:       "2f1c",
		ListName:    "nightly",
		DisplayName: "Nightly backup",
		Trigger:     orchestrator.TriggerCron,
		Success:     success,
		StartedAt:   start,
		EndedAt:     start.Add(3 * time.Second),
		Entries: []orchestrator.EntryResult{
			{Name: "stop-db", Outcome: &exec.RunOutcome{Command: "stop-db", Host: "db", Status: exec.StatusSuccess, StartedAt: start, EndedAt: start.Add(time.Second)}},
		},
	}
	if success {
		s.Entries = append(s.Entries, orchestrator.EntryResult{Name: "dump", Outcome: &exec.RunOutcome{
			Command: "dump", Host: "local", Status: exec.StatusSuccess, Output: []string{"dumped 12 tables"},
		}})
	} else {
		s.Entries = append(s.Entries, orchestrator.EntryResult{
			Name: "dump",
			Outcome: &exec.RunOutcome{Command: "dump", Host: "local", Status: exec.StatusFailure, ExitCode: 2,
				Tail: []string{"pg_dump: error: connection refused"}},
			Hooks: &hooks.HookResult{
				Hooks: []hooks.HookOutcome{{Kind: hooks.KindError, Name: "page-oncall", Outcome: &exec.RunOutcome{Status: exec.StatusFailure, ExitCode: 1}}},
				Err:   errors.New(errors.ErrHook, "error hook 'page-oncall' of dump exited with status 1", ""),
			},
		}, orchestrator.EntryResult{Name: "upload", Outcome: &exec.RunOutcome{
			Command: "upload", Host: "backup", Status: exec.StatusStartError, ExitCode: -1,
			Err: errors.New(errors.ErrDial, "Can't connect to 'backup'", ""),
		}})
	}
	return s
}

func TestSend_GatingPerTarget(t *testing.T) {
	tests := []struct {
		target  string
		success bool
		sends   bool
	}{
		{"mail.ops", true, true},
		{"mail.ops", false, true},
		{"mail.failures-only", true, false},
		{"mail.failures-only", false, true},
		{"matrix.room", true, true},
		{"matrix.room", false, false},
	}
	for _, tt := range tests {
		d, log := newTestDispatcher(t, nil)
		require.NoError(t, d.Send(context.Background(), tt.target, summary(tt.success)))
		if tt.sends {
			assert.Len(t, *log, 1, "%s success=%v", tt.target, tt.success)
		} else {
			assert.Empty(t, *log, "%s success=%v", tt.target, tt.success)
		}
	}
}

func TestSend_UnknownTarget(t *testing.T) {
	d, log := newTestDispatcher(t, nil)
	for _, key := range []string{"mail.nope", "pager.ops", "mail"} {
		err := d.Send(context.Background(), key, summary(true))
		require.Error(t, err, key)
		assert.True(t, errors.IsCode(err, errors.ErrNotify))
	}
	assert.Empty(t, *log)
}

func TestSend_DeliveryError(t *testing.T) {
	d, _ := newTestDispatcher(t, stderrors.New("connection refused"))
	err := d.Send(context.Background(), "mail.ops", summary(false))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotify))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSend_SuccessMessage(t *testing.T) {
	d, log := newTestDispatcher(t, nil)
	require.NoError(t, d.Send(context.Background(), "mail.ops", summary(true)))

	require.Len(t, *log, 1)
	msg := (*log)[0]
	assert.Equal(t, "List Nightly backup succeeded", msg.subject)
	assert.Contains(t, msg.message, "List Nightly backup succeeded (2 commands, 3s)")
	assert.Contains(t, msg.message, "Run 2f1c, triggered by cron")
	assert.Contains(t, msg.message, "✓ stop-db on db (1s)")
	assert.Contains(t, msg.message, "dumped 12 tables", "captured output is included")
}

func TestSend_FailureMessage(t *testing.T) {
	d, log := newTestDispatcher(t, nil)
	require.NoError(t, d.Send(context.Background(), "mail.ops", summary(false)))

	msg := (*log)[0]
	assert.Equal(t, "List Nightly backup failed", msg.subject)
	assert.Contains(t, msg.message, "2 of 3 commands did not succeed")
	assert.Contains(t, msg.message, "✗ dump on local: exit status 2")
	assert.Contains(t, msg.message, "pg_dump: error: connection refused")
	assert.Contains(t, msg.message, "hooks: page-oncall (exit 1)")
	assert.Contains(t, msg.message, "✗ upload on backup: did not start: Can't connect to 'backup'")
}

func TestSend_KafkaGetsJSON(t *testing.T) {
	d, log := newTestDispatcher(t, nil)
	require.NoError(t, d.Send(context.Background(), "kafka.events", summary(false)))

	var ev RunEvent
	require.NoError(t, json.Unmarshal([]byte((*log)[0].message), &ev))
	assert.Equal(t, "nightly", ev.List)
	assert.Equal(t, "cron", ev.Trigger)
	assert.False(t, ev.Success)
	require.Len(t, ev.Commands, 3)
	assert.Equal(t, "failure", ev.Commands[1].Status)
	assert.Equal(t, 2, ev.Commands[1].ExitCode)
	assert.NotEmpty(t, ev.Commands[1].HookError)
	assert.Equal(t, "start-error", ev.Commands[2].Status)
	assert.Equal(t, "Can't connect to 'backup'", ev.Commands[2].Error)
}

func TestEvent_FanOut(t *testing.T) {
	start := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	s := &orchestrator.ListSummary{RunID: "9a", ListName: "fleet", Success: true, StartedAt: start, EndedAt: start.Add(time.Second)}
	s.Entries = []orchestrator.EntryResult{{Name: "up", Outcome: &exec.RunOutcome{
		Command: "up", Host: "db,web", Status: exec.StatusSuccess, Lines: 2,
		Output: []string{"[db] up 3 days", "[web] up 1 day"},
		PerHost: []*exec.RunOutcome{
			{Command: "up", Host: "db", Status: exec.StatusSuccess, Lines: 1, Output: []string{"up 3 days"}},
			{Command: "up", Host: "web", Status: exec.StatusSuccess, Lines: 1, Output: []string{"up 1 day"}},
		},
	}}}

	data, err := Event(s)
	require.NoError(t, err)
	var ev RunEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	require.Len(t, ev.Commands, 1)
	up := ev.Commands[0]
	assert.Equal(t, 2, up.Lines)
	assert.Empty(t, up.Output, "output is reported per host")
	require.Len(t, up.Hosts, 2)
	assert.Equal(t, "web", up.Hosts[1].Host)
	assert.Equal(t, []string{"up 1 day"}, up.Hosts[1].Output)
}

type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := f[ref]; ok {
		return v, nil
	}
	return "", errors.New(errors.ErrSecret, "Secret "+ref+" is unavailable", "")
}

func TestDefaultFactory(t *testing.T) {
	cfg := testConfig()
	d := NewDispatcher(cfg, fakeSecrets{"env:MATRIX_TOKEN": "tok"})

	s, err := d.defaultFactory(context.Background(), ServiceMail, "ops")
	require.NoError(t, err)
	assert.NotNil(t, s)

	s, err = d.defaultFactory(context.Background(), ServiceKafka, "events")
	require.NoError(t, err)
	assert.IsType(t, &kafkaSender{}, s)

	_, err = d.defaultFactory(context.Background(), ServiceMail, "missing")
	assert.True(t, errors.IsCode(err, errors.ErrNotify))

	cfg.Notifications.Matrix["room"].AccessToken = "env:UNSET"
	_, err = d.defaultFactory(context.Background(), ServiceMatrix, "room")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSecret))
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSender(t *testing.T) {
	w := &fakeWriter{}
	k := &kafkaSender{w: w}
	require.NoError(t, k.Send(context.Background(), "List nightly failed", `{"list":"nightly"}`))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "List nightly failed", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"list":"nightly"}`, string(w.msgs[0].Value))
	assert.True(t, w.closed)
}
