// Package notify delivers list run summaries to notification targets.
//
// Targets are addressed as "<service>.<id>" and declared under
// notifications in the config. Each target decides, through its on field,
// whether it wants successful runs, failed runs, or both.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/hooks"
	"github.com/cybershell/backy/internal/logger"
	"github.com/cybershell/backy/internal/orchestrator"
)

// Services understood in target keys.
const (
	ServiceMail   = "mail"
	ServiceMatrix = "matrix"
	ServiceKafka  = "kafka"
)

// MaxTailLines is how many output lines of a failed command go into a message.
const MaxTailLines = 10

//go:embed templates/*.txt
var templateFS embed.FS

// Sender delivers one message. It matches notify.Notifier.
type Sender interface {
	Send(ctx context.Context, subject, message string) error
}

// SecretResolver turns credential references into values.
type SecretResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// Factory builds the sender for one target. It is called on every send so
// credentials are resolved fresh each time.
type Factory func(ctx context.Context, service, id string) (Sender, error)

// Dispatcher sends list summaries to configured targets.
type Dispatcher struct {
	cfg     *config.Config
	secrets SecretResolver
	factory Factory
	log     logger.Logger

	success *template.Template
	failure *template.Template
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFactory replaces how senders are built.
func WithFactory(f Factory) Option {
	return func(d *Dispatcher) { d.factory = f }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher creates a dispatcher for the targets declared in cfg.
func NewDispatcher(cfg *config.Config, secrets SecretResolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		secrets: secrets,
		log:     logger.Noop(),
		success: mustTemplate("success.txt"),
		failure: mustTemplate("failure.txt"),
	}
	d.factory = d.defaultFactory
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers summary to the target named by key, if the target wants
// this outcome. A target that opts out is not an error.
func (d *Dispatcher) Send(ctx context.Context, key string, summary *orchestrator.ListSummary) error {
	service, id, ok := strings.Cut(key, ".")
	if !ok || !d.cfg.HasTarget(key) {
		return errors.New(errors.ErrNotify,
			fmt.Sprintf("Notification target '%s' is not declared", key),
			"Targets are named <service>.<id>, e.g. mail.ops")
	}

	if !d.options(service, id).Wants(summary.Success) {
		d.log.Debug("target %s skips %s runs", key, outcomeWord(summary.Success))
		return nil
	}

	subject := Subject(summary)
	var body string
	var err error
	if service == ServiceKafka {
		body, err = Event(summary)
	} else {
		body, err = d.Render(summary)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Can't build the message for %s", key), "")
	}

	sender, err := d.factory(ctx, service, id)
	if err != nil {
		if errors.IsCode(err, errors.ErrNotify) {
			return err
		}
		return errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Can't set up notification target %s", key), "")
	}
	if err := sender.Send(ctx, subject, body); err != nil {
		return errors.WrapWithCode(err, errors.ErrNotify,
			fmt.Sprintf("Sending to %s failed", key),
			"Check the target's server address and credentials")
	}
	d.log.Info("sent %s summary of %s to %s", outcomeWord(summary.Success), summary.ListName, key)
	return nil
}

func (d *Dispatcher) options(service, id string) config.TargetOptions {
	switch service {
	case ServiceMail:
		if t := d.cfg.Notifications.Mail[id]; t != nil {
			return t.TargetOptions
		}
	case ServiceMatrix:
		if t := d.cfg.Notifications.Matrix[id]; t != nil {
			return t.TargetOptions
		}
	case ServiceKafka:
		if t := d.cfg.Notifications.Kafka[id]; t != nil {
			return t.TargetOptions
		}
	}
	return config.TargetOptions{}
}

// Subject is the message title for a summary.
func Subject(s *orchestrator.ListSummary) string {
	return fmt.Sprintf("List %s %s", s.DisplayName, outcomeWord(s.Success))
}

func outcomeWord(success bool) string {
	if success {
		return "succeeded"
	}
	return "failed"
}

// Render returns the plain-text body for a summary.
func (d *Dispatcher) Render(s *orchestrator.ListSummary) (string, error) {
	tmpl := d.failure
	if s.Success {
		tmpl = d.success
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, s); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n") + "\n", nil
}

func mustTemplate(name string) *template.Template {
	return template.Must(template.New(name).Funcs(templateFuncs).ParseFS(templateFS, "templates/"+name))
}

var templateFuncs = template.FuncMap{
	"duration": func(d time.Duration) string {
		return d.Round(time.Millisecond).String()
	},
	"where": func(o *exec.RunOutcome) string {
		if o == nil || o.Host == "" {
			return "-"
		}
		return o.Host
	},
	"status": func(o *exec.RunOutcome) string {
		if o == nil {
			return "did not run"
		}
		switch {
		case o.Status == exec.StatusStartError:
			return "did not start: " + errors.Short(o.Err)
		case o.Err != nil:
			return "interrupted: " + errors.Short(o.Err)
		}
		return fmt.Sprintf("exit status %d", o.ExitCode)
	},
	"tail": func(o *exec.RunOutcome) []string {
		if o == nil {
			return nil
		}
		lines := o.Tail
		if len(o.Output) > 0 {
			lines = o.Output
		}
		if len(lines) > MaxTailLines {
			lines = lines[len(lines)-MaxTailLines:]
		}
		return lines
	},
	"hookFailed": func(r *hooks.HookResult) bool {
		return r.Failed()
	},
	"hookError": func(r *hooks.HookResult) string {
		var failed []string
		for _, h := range r.Hooks {
			switch {
			case h.Outcome == nil:
				failed = append(failed, h.Name+" (not declared)")
			case h.Outcome.Status == exec.StatusStartError:
				failed = append(failed, h.Name+" (did not start)")
			case !h.Outcome.Succeeded():
				failed = append(failed, fmt.Sprintf("%s (exit %d)", h.Name, h.Outcome.ExitCode))
			}
		}
		return strings.Join(failed, ", ")
	},
}
