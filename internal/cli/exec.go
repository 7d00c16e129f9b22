package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/orchestrator"
	"github.com/cybershell/backy/internal/ui"
)

func newExecCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [command]...",
		Short: "Run commands once, in order",
		Long: `Run one or more declared commands once, in the order given.

Every command runs even if an earlier one fails, and each command's hooks
fire as usual. Nothing is sent to notification targets. Called without
arguments on a terminal, exec offers a picker.

Examples:
  backy exec dump
  backy exec stop-db dump start-db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			names := args
			if len(names) == 0 {
				picked, err := pickCommand(cmd, a)
				if err != nil || picked == "" {
					return err
				}
				names = []string{picked}
			}

			entries, err := a.orch.ExecuteOneOff(cmd.Context(), names)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), ui.RenderEntries(entries))
			if !orchestrator.EntriesSucceeded(entries) {
				return &errors.ExitError{Code: 1}
			}
			return nil
		},
	}
}

// pickCommand offers the interactive picker when stdin is a terminal.
func pickCommand(cmd *cobra.Command, a *app) (string, error) {
	if !ui.IsTerminal(os.Stdin) {
		return "", errors.New(errors.ErrConfig, "No command given",
			"Name one or more commands: backy exec <command>...")
	}

	names := make([]string, 0, len(a.cfg.Commands))
	for name := range a.cfg.Commands {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]ui.CommandInfo, 0, len(names))
	for _, name := range names {
		c := a.cfg.Commands[name]
		host := c.Host
		if c.FansOut() {
			host = strings.Join(c.Hosts, ",")
		}
		infos = append(infos, ui.CommandInfo{
			Name: name,
			Host: host,
			Type: string(c.Type),
			Line: strings.TrimSpace(c.Cmd + " " + strings.Join(c.Args, " ")),
		})
	}

	picked, err := ui.PickCommand(infos, cmd.OutOrStdout(), os.Stdin)
	if err != nil || picked == nil {
		return "", err
	}
	return picked.Name, nil
}
