package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cybershell/backy/internal/config"
	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/orchestrator"
	"github.com/cybershell/backy/internal/schedule"
	"github.com/cybershell/backy/internal/ui"
)

func newCronCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Run lists on their cron schedules until stopped",
		Long: `Arm every command list that has a cron field and run each one when
its schedule fires. Expressions have six fields, seconds first.

A list that is still running when it fires again runs once the current
run finishes. On SIGINT or SIGTERM no new runs start and in-flight runs
get shutdown.grace-period to finish before they are cancelled.

Examples:
  backy cron
  backy cron --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			rows, err := scheduleRows(a.cfg, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprint(out, ui.RenderScheduleTable(rows))
			if dryRun {
				return nil
			}

			ctx := cmd.Context()
			h, err := schedule.Arm(ctx, a.cfg, a.orch,
				schedule.WithLogger(a.log),
				schedule.WithGracePeriod(a.cfg.Shutdown.GracePeriod),
				schedule.WithObserver(func(s *orchestrator.ListSummary, err error) {
					if err != nil {
						a.log.Error("scheduled run failed: %s", errors.Short(err))
						return
					}
					fmt.Fprint(out, ui.RenderListSummary(s))
				}),
			)
			if err != nil {
				return err
			}
			a.log.Info("scheduler armed %d lists, waiting for signals", len(rows))

			<-ctx.Done()
			a.log.Info("shutting down, waiting up to %s for running lists", a.cfg.Shutdown.GracePeriod)
			h.Stop()
			fmt.Fprint(out, ui.RenderSimpleTable(stoppedColumns, stoppedRows(h.Lists())))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the schedule and exit")
	return cmd
}

// scheduleRows lists every list with a cron field and its next fire after now.
func scheduleRows(cfg *config.Config, now time.Time) ([]ui.ScheduleRow, error) {
	names := make([]string, 0, len(cfg.Lists))
	for name, l := range cfg.Lists {
		if strings.TrimSpace(l.Cron) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	rows := make([]ui.ScheduleRow, 0, len(names))
	for _, name := range names {
		expr := strings.TrimSpace(cfg.Lists[name].Cron)
		sched, err := config.ParseCron(expr)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("List '%s' has an invalid cron expression", name),
				"Cron expressions have six fields, seconds first")
		}
		rows = append(rows, ui.ScheduleRow{
			List: name,
			Cron: expr,
			Next: sched.Next(now).Format("2006-01-02 15:04:05"),
		})
	}
	return rows, nil
}

var stoppedColumns = []ui.TableColumn{
	{Title: "LIST", Width: 24},
	{Title: "CRON", Width: 22},
	{Title: "RUNS", Width: 6},
	{Title: "STATE", Width: 10},
}

// stoppedRows reports how often each list ran before the scheduler stopped.
func stoppedRows(statuses []schedule.ListStatus) [][]string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{s.Name, s.Cron, strconv.Itoa(s.Runs), string(s.State)})
	}
	return rows
}
