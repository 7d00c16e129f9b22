package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/orchestrator"
	"github.com/cybershell/backy/internal/ui"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:     "run [list]...",
		Aliases: []string{"backup"},
		Short:   "Run command lists",
		Long: `Run one or more command lists. Lists run concurrently; the commands
inside a list run in order. A list that is already running is waited for.

Each finished list is reported to its notification targets.

Examples:
  backy run nightly
  backy run nightly weekly
  backy run --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			names := args
			switch {
			case all && len(args) > 0:
				return errors.New(errors.ErrConfig, "--all cannot be combined with list names",
					"Use either --all or name the lists")
			case all:
				names = sortedListNames(a)
			case len(names) == 0:
				names, err = pickLists(cmd, a)
				if err != nil || len(names) == 0 {
					return err
				}
			}

			summaries, err := a.orch.RunLists(cmd.Context(), names)
			out := cmd.OutOrStdout()
			for i, s := range summaries {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprint(out, ui.RenderListSummary(s))
			}
			if err != nil {
				return err
			}
			if !orchestrator.Succeeded(summaries) {
				return &errors.ExitError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "run every declared list")
	return cmd
}

func sortedListNames(a *app) []string {
	names := make([]string, 0, len(a.cfg.Lists))
	for name := range a.cfg.Lists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// pickLists offers a multi-select when stdin is a terminal.
func pickLists(cmd *cobra.Command, a *app) ([]string, error) {
	if !ui.IsTerminal(os.Stdin) {
		return nil, errors.New(errors.ErrConfig, "No list given",
			"Name one or more lists: backy run <list>..., or use --all")
	}
	names := sortedListNames(a)
	options := make([]ui.ListOption, len(names))
	for i, name := range names {
		options[i] = ui.ListOption{Name: name, Label: a.cfg.Lists[name].DisplayName()}
	}
	return ui.PickLists(options, cmd.OutOrStdout(), os.Stdin)
}
