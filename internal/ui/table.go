package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a Bubbles table with backy's styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{Title: c.Title, Width: c.Width}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.Foreground(ColorPrimary)
	// Nothing is focused, so the selected row must look like any other.
	s.Selected = s.Cell
	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a non-interactive table string.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}
	return NewTable(columns, tableRows).View()
}

// HostStatusRow is one line of `backy hosts`.
type HostStatusRow struct {
	Name    string
	Address string // user@host:port
	Via     string // jump host chain, if any
	Status  string // "ok", "fail", or "" when not checked
	Detail  string // latency or error
}

// RenderHostsTable renders resolved hosts and, when checked, their status.
func RenderHostsTable(rows []HostStatusRow) string {
	if len(rows) == 0 {
		return "No hosts configured"
	}

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(ColorMuted)

	var sb strings.Builder
	sb.WriteString(headerStyle.Render("     " + padRight("HOST", 18) + padRight("ADDRESS", 34) + padRight("VIA", 16) + "STATUS"))
	sb.WriteString("\n")

	for _, row := range rows {
		var icon, detail string
		switch row.Status {
		case "ok":
			icon = SuccessStyle().Render(SymbolSuccess)
			detail = MutedStyle().Render(row.Detail)
		case "fail":
			icon = ErrorStyle().Render(SymbolFail)
			detail = ErrorStyle().Render(row.Detail)
		default:
			icon = MutedStyle().Render(SymbolPending)
			detail = MutedStyle().Render(row.Detail)
		}
		via := row.Via
		if via == "" {
			via = "-"
		}
		sb.WriteString("  " + icon + "  " +
			padRight(row.Name, 18) +
			padRight(row.Address, 34) +
			padRight(via, 16) +
			detail)
		sb.WriteString("\n")
	}
	return sb.String()
}

// ScheduleRow is one armed list in `backy cron` output.
type ScheduleRow struct {
	List string
	Cron string
	Next string
}

// RenderScheduleTable renders the lists armed by the scheduler.
func RenderScheduleTable(rows []ScheduleRow) string {
	if len(rows) == 0 {
		return "No lists are scheduled"
	}
	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString("  " + InfoStyle().Render(SymbolArmed) + " ")
		sb.WriteString(padRight(row.List, 24))
		sb.WriteString(padRight(row.Cron, 22))
		sb.WriteString(MutedStyle().Render("next " + row.Next))
		sb.WriteString("\n")
	}
	return sb.String()
}

// padRight pads s to width visible cells.
func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s + " "
	}
	return s + strings.Repeat(" ", width-visible)
}
