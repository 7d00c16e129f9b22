package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/host"
	"github.com/cybershell/backy/internal/ui"
	"github.com/cybershell/backy/pkg/sshutil"
)

func newHostsCmd(flags *globalFlags) *cobra.Command {
	var check bool
	var checkTimeout string

	cmd := &cobra.Command{
		Use:   "hosts [host]...",
		Short: "Show how hosts resolve, optionally testing SSH",
		Long: `Show the connection parameters each host resolves to. Declared hosts
are merged with ~/.ssh/config; names that appear only in ssh_config are
listed too. With host arguments, only those are shown.

--check opens an SSH connection to each host and reports the latency.

Examples:
  backy hosts
  backy hosts db backup --check
  backy hosts --check --check-timeout 3s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, err := ParseCheckTimeout(checkTimeout)
			if err != nil {
				return err
			}

			a, err := loadApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()

			var items []host.HostInfoItem
			if len(args) > 0 {
				for _, name := range args {
					_, declared := a.cfg.Hosts[name]
					items = append(items, host.HostInfoItem{Name: name, Params: a.hosts.Resolve(name), Declared: declared})
				}
			} else {
				items = a.hosts.Hosts()
			}

			rows := make([]ui.HostStatusRow, len(items))
			for i, it := range items {
				rows[i] = ui.HostStatusRow{Name: it.Name, Address: address(it.Params), Via: jumpChain(it.Params)}
				if !it.Declared {
					rows[i].Detail = "ssh_config"
				}
			}

			failed := 0
			if check {
				names := make([]string, len(items))
				for i, it := range items {
					names[i] = it.Name
				}
				dialOpts := []sshutil.DialerOption{sshutil.WithRetries(0), sshutil.WithLogger(a.log)}
				if timeout > 0 {
					dialOpts = append(dialOpts, sshutil.WithTimeout(timeout))
				}
				dialer := sshutil.NewDialer(a.secrets, dialOpts...)
				for i, r := range a.hosts.CheckAll(cmd.Context(), dialer, names) {
					if r.Success() {
						rows[i].Status = "ok"
						rows[i].Detail = r.Latency.Round(time.Millisecond).String()
						continue
					}
					failed++
					rows[i].Status = "fail"
					rows[i].Detail = errors.Short(r.Error)
				}
			}

			fmt.Fprint(cmd.OutOrStdout(), ui.RenderHostsTable(rows))
			if failed > 0 {
				return &errors.ExitError{Code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "test the SSH connection to each host")
	cmd.Flags().StringVar(&checkTimeout, "check-timeout", "5s", "SSH check timeout (e.g., 5s, 2m)")
	return cmd
}

func address(p sshutil.ConnectionParams) string {
	addr := p.HostName
	if p.Port != 0 {
		addr += ":" + strconv.Itoa(p.Port)
	}
	if p.User != "" {
		addr = p.User + "@" + addr
	}
	return addr
}

// jumpChain renders bastions outermost first, e.g. "edge > bastion".
func jumpChain(p sshutil.ConnectionParams) string {
	chain := ""
	for j := p.Jump; j != nil; j = j.Jump {
		if chain == "" {
			chain = j.Alias
		} else {
			chain = j.Alias + " > " + chain
		}
	}
	return chain
}
