package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/warden/internal/remote"
)

func newRemoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Run commands on registered hosts",
		Long: `Work with the host registry (~/.warden/hosts.toml by default).

A target is a host name, @tag for every host carrying the tag, or "all".`,
	}
	cmd.AddCommand(newRemoteExecCmd(), newRemoteHostsCmd())
	return cmd
}

func newRemoteExecCmd() *cobra.Command {
	f := runFlags{pickHosts: true}
	cmd := &cobra.Command{
		Use:   "exec [--host h]... -- <command>",
		Short: "Run a command on one or more hosts in parallel",
		Long: `Run a command on remote hosts over SSH. Each host runs independently:
a slow or failing host never blocks the others. Without --host, an
interactive terminal offers a host picker.

Examples:
  warden remote exec --host web-1 --host web-2 -- df -h
  warden remote exec --host @db -- systemctl status postgresql`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, commandLine(args), f)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringArrayVarP(&f.hosts, "host", "H", nil, "target host, @tag or \"all\" (repeatable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "per-host timeout override")
	return cmd
}

func newRemoteHostsCmd() *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List registered hosts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cctx)
			if err != nil {
				return err
			}
			reg, err := loadRegistry(cfg)
			if err != nil {
				return err
			}
			if reg == nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "No hosts configured.")
				return nil
			}
			return printHosts(cmd, reg.Hosts(), tag)
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "only list hosts with this tag")
	return cmd
}

func printHosts(cmd *cobra.Command, hosts []remote.Host, tag string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tUSER\tTAGS")
	for _, h := range hosts {
		if tag != "" && !h.HasTag(tag) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Name, h.Addr(), h.User, strings.Join(h.Tags, ","))
	}
	return w.Flush()
}
