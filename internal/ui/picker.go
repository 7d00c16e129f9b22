package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/cybershell/backy/internal/errors"
)

// CommandInfo describes a command for display in the picker.
type CommandInfo struct {
	Name string
	Host string // empty for local
	Type string
	Line string // cmd and args as written
}

type commandItem struct {
	cmd CommandInfo
}

func (i commandItem) Title() string { return i.cmd.Name }

func (i commandItem) Description() string {
	host := i.cmd.Host
	if host == "" {
		host = "local"
	}
	parts := []string{host}
	if i.cmd.Type != "" {
		parts = append(parts, i.cmd.Type)
	}
	if i.cmd.Line != "" {
		parts = append(parts, i.cmd.Line)
	}
	return strings.Join(parts, " | ")
}

func (i commandItem) FilterValue() string {
	return i.cmd.Name + " " + i.cmd.Host
}

// CommandPickerModel is a Bubble Tea model for choosing a command to exec.
type CommandPickerModel struct {
	list     list.Model
	selected *CommandInfo
	quitting bool
}

type pickerKeyMap struct {
	Enter key.Binding
	Quit  key.Binding
}

var pickerKeys = pickerKeyMap{
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "run"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "esc", "ctrl+c"),
		key.WithHelp("q/esc", "cancel"),
	),
}

// NewCommandPickerModel creates a picker over cmds.
func NewCommandPickerModel(cmds []CommandInfo) CommandPickerModel {
	items := make([]list.Item, len(cmds))
	for i, c := range cmds {
		items[i] = commandItem{cmd: c}
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorPrimary).
		BorderForeground(ColorSecondary)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorMuted)

	l := list.New(items, delegate, 80, 15)
	l.Title = "Select a command"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = lipgloss.NewStyle().
		Foreground(ColorPrimary).
		Bold(true).
		Padding(0, 0, 1, 0)
	l.Styles.HelpStyle = MutedStyle()

	return CommandPickerModel{list: l}
}

// Init implements tea.Model.
func (m CommandPickerModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m CommandPickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Let the list handle keys while the filter input is focused.
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch {
		case key.Matches(msg, pickerKeys.Enter):
			if item, ok := m.list.SelectedItem().(commandItem); ok {
				m.selected = &item.cmd
			}
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, pickerKeys.Quit):
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, msg.Height-2)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m CommandPickerModel) View() string {
	if m.quitting {
		return ""
	}
	return m.list.View()
}

// Selected returns the chosen command, or nil if cancelled.
func (m CommandPickerModel) Selected() *CommandInfo {
	return m.selected
}

// PickCommand shows the picker on output and reads keys from input.
// It returns nil when the user cancels.
func PickCommand(cmds []CommandInfo, output io.Writer, input io.Reader) (*CommandInfo, error) {
	if len(cmds) == 0 {
		return nil, errors.New(errors.ErrConfig, "No commands to pick from",
			"Declare commands under 'commands' in backy.yaml")
	}
	if len(cmds) == 1 {
		return &cmds[0], nil
	}

	p := tea.NewProgram(NewCommandPickerModel(cmds), tea.WithOutput(output), tea.WithInput(input))
	final, err := p.Run()
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Command picker failed",
			"Name the command instead: backy exec <command>")
	}
	if m, ok := final.(CommandPickerModel); ok {
		return m.Selected(), nil
	}
	return nil, nil
}

// ListOption is one selectable list for PickLists.
type ListOption struct {
	Name  string
	Label string
}

// PickLists asks the user which lists to run. An aborted form returns an
// empty selection.
func PickLists(lists []ListOption, output io.Writer, input io.Reader) ([]string, error) {
	if len(lists) == 0 {
		return nil, errors.New(errors.ErrConfig, "No lists to pick from",
			"Declare lists under 'cmd-lists' in backy.yaml")
	}

	options := make([]huh.Option[string], len(lists))
	for i, l := range lists {
		label := l.Label
		if label == "" {
			label = l.Name
		}
		options[i] = huh.NewOption(label, l.Name)
	}

	var selected []string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Select lists to run").
				Options(options...).
				Value(&selected),
		),
	).WithOutput(output).WithInput(input)

	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return nil, nil
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Couldn't get your selection",
			"Name the lists instead: backy run <list>...")
	}
	return selected, nil
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
