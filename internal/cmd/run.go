package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/remote"
	"github.com/felixgeelhaar/warden/internal/runner"
	"github.com/felixgeelhaar/warden/internal/tui"
)

type runFlags struct {
	hosts     []string
	timeout   time.Duration
	dir       string
	pickHosts bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [flags] -- <command>",
		Short: "Classify, confirm and run a command",
		Long: `Run a shell command through the safety pipeline.

The command is classified by risk, checked for unbalanced quotes and
brackets, and rewritten to avoid interactive pagers. Benign commands run
immediately; anything riskier asks for confirmation unless --yes is set.

Several arguments are quoted back into one command line word by word. To
use pipes, redirects or && pass the whole command as a single argument.

Examples:
  # Run locally
  warden run -- ls -la

  # Bound the runtime
  warden run --timeout 10s -- make test

  # Shell operators go in one argument
  warden run -- 'du -sh * | sort -h'

  # Run on every host tagged "web"
  warden run --host @web -- uptime`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, commandLine(args), f)
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().StringArrayVarP(&f.hosts, "host", "H", nil, "run on a remote host, @tag or \"all\" (repeatable)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "override the classifier timeout")
	cmd.Flags().StringVar(&f.dir, "dir", "", "working directory for local commands")
	return cmd
}

func runCommand(cmd *cobra.Command, text string, f runFlags) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	hosts := f.hosts
	if len(hosts) == 0 && f.pickHosts {
		if a.registry == nil {
			return errors.New(errors.KindConfig, errors.ErrCodeConfigInvalid, "no host registry configured").
				WithSuggestion("Create ~/.warden/hosts.toml or pass --hosts-file")
		}
		if !a.interactive {
			return errors.New(errors.KindValidation, errors.ErrCodeValidation, "no hosts given").
				WithSuggestion("Pass --host <name>, --host @tag or --host all")
		}
		hosts, err = tui.PromptForHosts("Run on which hosts?", a.registry.Hosts())
		if err != nil {
			return err
		}
	}

	opts := runner.Options{
		Hosts:   hosts,
		Timeout: f.timeout,
		Stdout:  a.stdout,
		Stderr:  a.stderr,
		Dir:     f.dir,
	}
	var hw *remote.HostWriters
	if len(hosts) > 0 {
		hw = newHostWriters(a.stdout, a.stderr)
		opts.HostOutput = hw.For
	}

	out, err := a.runner.Run(cmd.Context(), text, opts)
	if hw != nil {
		hw.Flush()
	}
	if out != nil && out.Aggregate != nil {
		printHostSummary(a.stderr, out.Aggregate)
	}
	if out != nil && out.Spec != nil && out.Spec.Warning != nil && err == nil {
		_, _ = fmt.Fprintln(a.stderr, styles.Warning.Render("warning: ")+firstLine(out.Spec.Warning.Error()))
	}
	return err
}
