package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/orchestrator"
)

// RunEvent is the JSON message published to kafka targets.
type RunEvent struct {
	RunID       string         `json:"run_id"`
	List        string         `json:"list"`
	DisplayName string         `json:"display_name"`
	Trigger     string         `json:"trigger"`
	Success     bool           `json:"success"`
	StartedAt   time.Time      `json:"started_at"`
	EndedAt     time.Time      `json:"ended_at"`
	Commands    []CommandEvent `json:"commands"`
}

// CommandEvent is one list entry inside a RunEvent.
type CommandEvent struct {
	Name       string         `json:"name"`
	Host       string         `json:"host,omitempty"`
	Status     string         `json:"status"`
	ExitCode   int            `json:"exit_code"`
	DurationMS int64          `json:"duration_ms"`
	Lines      int            `json:"lines"`
	Error      string         `json:"error,omitempty"`
	Output     []string       `json:"output,omitempty"`
	HookError  string         `json:"hook_error,omitempty"`
	Hosts      []CommandEvent `json:"hosts,omitempty"`
}

// Event encodes a summary as a RunEvent.
func Event(s *orchestrator.ListSummary) (string, error) {
	ev := RunEvent{
		RunID:       s.RunID,
		List:        s.ListName,
		DisplayName: s.DisplayName,
		Trigger:     string(s.Trigger),
		Success:     s.Success,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		Commands:    make([]CommandEvent, 0, len(s.Entries)),
	}
	for _, e := range s.Entries {
		ce := commandEvent(e.Name, e.Outcome)
		if e.Hooks.Failed() {
			ce.HookError = errors.Short(e.Hooks.Err)
		}
		ev.Commands = append(ev.Commands, ce)
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func commandEvent(name string, o *exec.RunOutcome) CommandEvent {
	ce := CommandEvent{Name: name, Status: string(exec.StatusStartError)}
	if o == nil {
		return ce
	}
	ce.Host = o.Host
	ce.Status = string(o.Status)
	ce.ExitCode = o.ExitCode
	ce.DurationMS = o.Duration().Milliseconds()
	ce.Lines = o.Lines
	if o.Err != nil {
		ce.Error = errors.Short(o.Err)
	}
	// Per-host output is already merged into the parent with a host prefix.
	if len(o.PerHost) == 0 {
		ce.Output = o.Output
	}
	for _, h := range o.PerHost {
		ce.Hosts = append(ce.Hosts, commandEvent(name, h))
	}
	return ce
}

// messageWriter is the part of *kafka.Writer the sender uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// kafkaSender publishes one message per send, keyed by list subject.
type kafkaSender struct {
	w messageWriter
}

func newKafkaSender(t *config.KafkaTarget) *kafkaSender {
	return &kafkaSender{w: &kafka.Writer{
		Addr:         kafka.TCP(t.Brokers...),
		Topic:        t.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// Send writes message to the topic and closes the writer.
func (k *kafkaSender) Send(ctx context.Context, subject, message string) error {
	defer k.w.Close()
	return k.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(subject),
		Value: []byte(message),
		Time:  time.Now(),
	})
}
