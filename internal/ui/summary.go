package ui

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/exec"
	"github.com/cybershell/backy/internal/hooks"
	"github.com/cybershell/backy/internal/orchestrator"
)

// MaxTailLines caps how much output of a failed command is shown.
const MaxTailLines = 10

// SummaryRenderer formats run results for terminal display.
type SummaryRenderer struct {
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	warnStyle    lipgloss.Style
	hostStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
	titleStyle   lipgloss.Style
}

// NewSummaryRenderer creates a new summary renderer with default styles.
func NewSummaryRenderer() *SummaryRenderer {
	return &SummaryRenderer{
		errorStyle:   ErrorStyle(),
		successStyle: SuccessStyle(),
		warnStyle:    WarningStyle(),
		hostStyle:    InfoStyle(),
		mutedStyle:   MutedStyle(),
		titleStyle:   lipgloss.NewStyle().Bold(true),
	}
}

// RenderListSummary formats one list run.
func RenderListSummary(s *orchestrator.ListSummary) string {
	return NewSummaryRenderer().List(s)
}

// RenderEntries formats the results of a one-off exec.
func RenderEntries(entries []orchestrator.EntryResult) string {
	return NewSummaryRenderer().Entries(entries)
}

// List renders the header line, one line per entry and a totals line.
func (r *SummaryRenderer) List(s *orchestrator.ListSummary) string {
	if s == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(r.titleStyle.Render(s.DisplayName))
	sb.WriteString(r.mutedStyle.Render(fmt.Sprintf("  run %s (%s)", s.RunID, s.Trigger)))
	sb.WriteString("\n")

	for _, e := range s.Entries {
		r.writeOutcome(&sb, e.Name, e.Outcome)
		r.writeHooks(&sb, e.Hooks)
	}

	total := len(s.Entries)
	if s.Success {
		sb.WriteString(r.successStyle.Render(fmt.Sprintf("%s %d of %d commands succeeded", SymbolSuccess, s.Passed(), total)))
	} else {
		sb.WriteString(r.errorStyle.Render(fmt.Sprintf("%s %d of %d commands failed", SymbolFail, s.Failed(), total)))
	}
	sb.WriteString(r.mutedStyle.Render(" in " + formatDuration(s.Duration())))
	if n := s.HookFailures(); n > 0 {
		sb.WriteString(r.warnStyle.Render(fmt.Sprintf(" (%d with hook errors)", n)))
	}
	sb.WriteString("\n")
	return sb.String()
}

// Entries renders one line per command, in order, each followed by its hooks.
func (r *SummaryRenderer) Entries(entries []orchestrator.EntryResult) string {
	var sb strings.Builder
	for _, e := range entries {
		r.writeOutcome(&sb, e.Name, e.Outcome)
		r.writeHooks(&sb, e.Hooks)
	}
	return sb.String()
}

func (r *SummaryRenderer) writeOutcome(sb *strings.Builder, name string, o *exec.RunOutcome) {
	switch {
	case o == nil:
		sb.WriteString(r.mutedStyle.Render(fmt.Sprintf("  %s %s did not run", SymbolPending, name)))
	case o.Succeeded():
		sb.WriteString(fmt.Sprintf("  %s %s ", r.successStyle.Render(SymbolSuccess), name))
		sb.WriteString(r.hostStyle.Render(hostOf(o)))
		sb.WriteString(r.mutedStyle.Render(" " + formatDuration(o.Duration())))
	case isSkipped(o):
		sb.WriteString(r.mutedStyle.Render(fmt.Sprintf("  %s %s skipped", SymbolSkipped, name)))
	case o.Status == exec.StatusStartError:
		sb.WriteString(fmt.Sprintf("  %s %s ", r.errorStyle.Render(SymbolFail), name))
		sb.WriteString(r.hostStyle.Render(hostOf(o)))
		sb.WriteString(r.errorStyle.Render(" did not start: " + errors.Short(o.Err)))
	default:
		sb.WriteString(fmt.Sprintf("  %s %s ", r.errorStyle.Render(SymbolFail), name))
		sb.WriteString(r.hostStyle.Render(hostOf(o)))
		if o.Err != nil {
			sb.WriteString(r.errorStyle.Render(" interrupted: " + errors.Short(o.Err)))
		} else {
			sb.WriteString(r.errorStyle.Render(fmt.Sprintf(" exit %d", o.ExitCode)))
		}
		sb.WriteString(r.mutedStyle.Render(" " + formatDuration(o.Duration())))
	}
	sb.WriteString("\n")

	if o == nil {
		return
	}
	for _, h := range o.PerHost {
		r.writeHost(sb, h)
	}
	for _, w := range o.Warnings {
		sb.WriteString("      ")
		sb.WriteString(r.warnStyle.Render(SymbolWarning + " " + w))
		sb.WriteString("\n")
	}
	if o.Succeeded() {
		for _, line := range o.Output {
			sb.WriteString("      ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		return
	}
	for _, line := range tail(o) {
		sb.WriteString("      ")
		sb.WriteString(r.mutedStyle.Render(line))
		sb.WriteString("\n")
	}
}

// writeHost renders the status of one host of a fan-out command. Its output
// is part of the parent's, prefixed with the host name.
func (r *SummaryRenderer) writeHost(sb *strings.Builder, o *exec.RunOutcome) {
	sb.WriteString("      ")
	switch {
	case o.Succeeded():
		sb.WriteString(r.mutedStyle.Render(fmt.Sprintf("%s %s %s", SymbolSuccess, o.Host, formatDuration(o.Duration()))))
	case o.Status == exec.StatusStartError:
		sb.WriteString(r.errorStyle.Render(fmt.Sprintf("%s %s did not start: %s", SymbolFail, o.Host, errors.Short(o.Err))))
	case o.Err != nil:
		sb.WriteString(r.errorStyle.Render(fmt.Sprintf("%s %s interrupted: %s", SymbolFail, o.Host, errors.Short(o.Err))))
	default:
		sb.WriteString(r.errorStyle.Render(fmt.Sprintf("%s %s exit %d", SymbolFail, o.Host, o.ExitCode)))
	}
	sb.WriteString("\n")
}

func (r *SummaryRenderer) writeHooks(sb *strings.Builder, h *hooks.HookResult) {
	if h == nil {
		return
	}
	for _, ho := range h.Hooks {
		label := fmt.Sprintf("%s hook %s", ho.Kind, ho.Name)
		switch {
		case ho.Outcome.Succeeded():
			sb.WriteString("      ")
			sb.WriteString(r.mutedStyle.Render(SymbolSuccess + " " + label))
		case ho.Outcome == nil:
			sb.WriteString("      ")
			sb.WriteString(r.warnStyle.Render(SymbolWarning + " " + label + " is not declared"))
		case ho.Outcome.Status == exec.StatusStartError:
			sb.WriteString("      ")
			sb.WriteString(r.warnStyle.Render(SymbolWarning + " " + label + " did not start"))
		default:
			sb.WriteString("      ")
			sb.WriteString(r.warnStyle.Render(fmt.Sprintf("%s %s exit %d", SymbolWarning, label, ho.Outcome.ExitCode)))
		}
		sb.WriteString("\n")
	}
}

// isSkipped reports an entry that never ran because its list was cancelled.
func isSkipped(o *exec.RunOutcome) bool {
	if o.Status != exec.StatusStartError || o.Host != "" || !errors.IsCode(o.Err, errors.ErrStart) {
		return false
	}
	return stderrors.Is(o.Err, context.Canceled) || stderrors.Is(o.Err, context.DeadlineExceeded)
}

func hostOf(o *exec.RunOutcome) string {
	if o.Host == "" {
		return "local"
	}
	return o.Host
}

func tail(o *exec.RunOutcome) []string {
	lines := o.Tail
	if len(o.Output) > 0 {
		lines = o.Output
	}
	if len(lines) > MaxTailLines {
		lines = lines[len(lines)-MaxTailLines:]
	}
	return lines
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
