package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/ui"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath string
	verbose    bool
	stdout     bool
	noColor    bool
}

// newRootCmd builds the command tree. Output goes to the writers set on the
// returned command.
func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "backy",
		Short: "Run command lists locally and over SSH, on demand or on a schedule",
		Long: `backy runs the commands and command lists declared in backy.yml.

Commands run locally or on SSH hosts. Lists run their commands in order,
fire hooks, and report to mail, Matrix or Kafka targets when done.

Config is read from --config, ./backy.yml, or ~/.config/backy/backy.yml.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flags.noColor || os.Getenv("NO_COLOR") != "" {
				ui.DisableColors()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default ./backy.yml)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVar(&flags.stdout, "stdout", false, "stream command output to stdout")
	pf.BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newExecCmd(flags),
		newRunCmd(flags),
		newCronCmd(flags),
		newListCmd(flags),
		newHostsCmd(flags),
		newVersionCmd(),
		newCompletionCmd(root),
	)
	return root
}

// Execute runs backy with the process arguments and exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes args and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exitErr *errors.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.Code
	}
	fmt.Fprintln(stderr, ui.ErrorStyle().Render(err.Error()))
	return 1
}

func newCompletionCmd(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion scripts for backy.

Examples:
  # Bash
  backy completion bash > /etc/bash_completion.d/backy

  # Zsh
  backy completion zsh > "${fpath[1]}/_backy"

  # Fish
  backy completion fish > ~/.config/fish/completions/backy.fish`,
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletion(out)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletion(out)
			}
		},
	}
}
