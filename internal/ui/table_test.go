package ui

import (
	"testing"

	"github.com/charmbracelet/bubbles/table"
	"github.com/stretchr/testify/assert"
)

func TestNewTable(t *testing.T) {
	tbl := NewTable([]TableColumn{{Title: "Name", Width: 20}, {Title: "Host", Width: 10}},
		[]table.Row{{"dump", "db"}, {"upload", "backup"}})

	view := tbl.View()
	assert.Contains(t, view, "Name")
	assert.Contains(t, view, "Host")
	assert.Contains(t, view, "dump")
	assert.Contains(t, view, "backup")
}

func TestRenderSimpleTable(t *testing.T) {
	out := RenderSimpleTable([]TableColumn{{Title: "LIST", Width: 12}, {Title: "CRON", Width: 14}},
		[][]string{{"nightly", "0 0 1 * * *"}})
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "0 0 1 * * *")

	assert.Empty(t, RenderSimpleTable([]TableColumn{{Title: "LIST", Width: 12}}, nil))
}

func TestRenderHostsTable(t *testing.T) {
	out := RenderHostsTable([]HostStatusRow{
		{Name: "db", Address: "root@10.0.0.5:22", Status: "ok", Detail: "42ms"},
		{Name: "backup", Address: "backy@backup.lan:2222", Via: "bastion", Status: "fail", Detail: "timeout"},
		{Name: "nas", Address: "nas:22"},
	})

	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "root@10.0.0.5:22")
	assert.Contains(t, out, "42ms")
	assert.Contains(t, out, "bastion")
	assert.Contains(t, out, "timeout")
	assert.Contains(t, out, SymbolSuccess)
	assert.Contains(t, out, SymbolFail)
	assert.Contains(t, out, SymbolPending)
}

func TestRenderHostsTable_Empty(t *testing.T) {
	assert.Equal(t, "No hosts configured", RenderHostsTable(nil))
}

func TestRenderScheduleTable(t *testing.T) {
	out := RenderScheduleTable([]ScheduleRow{{List: "nightly", Cron: "0 0 1 * * *", Next: "2024-03-10 01:00:00"}})
	assert.Contains(t, out, "nightly")
	assert.Contains(t, out, "next 2024-03-10 01:00:00")
	assert.Equal(t, "No lists are scheduled", RenderScheduleTable(nil))
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", padRight("ab", 5))
	assert.Equal(t, "abcdef ", padRight("abcdef", 3))
}
