package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/ui"
)

func newListCmd(flags *globalFlags) *cobra.Command {
	var listsOnly, commandsOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show declared commands and command lists",
		Long: `Show the commands and command lists declared in the config.

Examples:
  backy list
  backy list --lists
  backy list --commands`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			showCommands := commandsOnly || !listsOnly
			showLists := listsOnly || !commandsOnly
			out := cmd.OutOrStdout()
			if showCommands {
				fmt.Fprintln(out, renderCommands(a.cfg))
			}
			if showLists {
				fmt.Fprintln(out, renderLists(a.cfg))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&listsOnly, "lists", false, "show only command lists")
	cmd.Flags().BoolVar(&commandsOnly, "commands", false, "show only commands")
	cmd.MarkFlagsMutuallyExclusive("lists", "commands")
	return cmd
}

func renderCommands(cfg *config.Config) string {
	names := make([]string, 0, len(cfg.Commands))
	for name := range cfg.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		c := cfg.Commands[name]
		host := c.Host
		switch {
		case c.FansOut():
			host = strings.Join(c.Hosts, ",")
		case !c.IsRemote():
			host = "local"
		}
		typ := string(c.Type)
		if typ == "" {
			typ = "exec"
		}
		hooks := "-"
		if c.HasHooks() {
			hooks = fmt.Sprintf("%d/%d/%d", len(c.Hooks.Error), len(c.Hooks.Success), len(c.Hooks.Final))
		}
		rows = append(rows, []string{name, host, typ, hooks, strings.TrimSpace(c.Cmd + " " + strings.Join(c.Args, " "))})
	}
	if len(rows) == 0 {
		return "No commands declared"
	}
	return ui.RenderSimpleTable([]ui.TableColumn{
		{Title: "COMMAND", Width: 20},
		{Title: "HOST", Width: 14},
		{Title: "TYPE", Width: 11},
		{Title: "HOOKS E/S/F", Width: 12},
		{Title: "CMD", Width: 40},
	}, rows)
}

func renderLists(cfg *config.Config) string {
	names := make([]string, 0, len(cfg.Lists))
	for name := range cfg.Lists {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		l := cfg.Lists[name]
		cron := l.Cron
		if cron == "" {
			cron = "-"
		}
		notify := "-"
		if len(l.Notifications) > 0 {
			notify = strings.Join(l.Notifications, ",")
		}
		rows = append(rows, []string{name, cron, strings.Join(l.Order, " > "), notify})
	}
	if len(rows) == 0 {
		return "No command lists declared"
	}
	return ui.RenderSimpleTable([]ui.TableColumn{
		{Title: "LIST", Width: 18},
		{Title: "CRON", Width: 16},
		{Title: "ORDER", Width: 40},
		{Title: "NOTIFY", Width: 20},
	}, rows)
}
