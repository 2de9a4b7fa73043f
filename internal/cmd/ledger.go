package cmd

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/warden/internal/config"
	"github.com/felixgeelhaar/warden/internal/ledger"
)

type ledgerFilter struct {
	limit    int
	runID    string
	host     string
	failures bool
}

func (f ledgerFilter) apply(entries []ledger.Entry) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range entries {
		if f.runID != "" && e.RunID != f.runID {
			continue
		}
		if f.host != "" && e.Host != f.host {
			continue
		}
		if f.failures && e.Success {
			continue
		}
		out = append(out, e)
	}
	if f.limit > 0 && len(out) > f.limit {
		out = out[len(out)-f.limit:]
	}
	return out
}

func ledgerPath(cmd *cobra.Command) (string, error) {
	cctx, err := NewCommandContext(cmd)
	if err != nil {
		return "", err
	}
	cfg, err := loadConfig(cctx)
	if err != nil {
		return "", err
	}
	if cfg.Ledger.Path == "" {
		return ledger.DefaultPath(), nil
	}
	return config.ExpandPath(cfg.Ledger.Path), nil
}

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the execution ledger",
		Long: `Every command attempt, including rejected ones, is appended to a JSON
Lines ledger (~/.warden/ledger.jsonl by default).`,
	}
	cmd.AddCommand(newLedgerShowCmd(), newLedgerPathCmd())
	return cmd
}

func newLedgerShowCmd() *cobra.Command {
	var (
		f      = ledgerFilter{limit: 20}
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show recent ledger entries",
		Long: `Show the most recent ledger entries, oldest first.

Examples:
  # Last 20 entries
  warden ledger show

  # Every attempt of one workflow run
  warden ledger show --run 3f1c... --limit 0

  # Failures on a host, as JSON Lines
  warden ledger show --host web-1 --failed --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ledgerPath(cmd)
			if err != nil {
				return err
			}
			entries, skipped, err := ledger.ReadFile(path)
			if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
				return err
			}
			entries = f.apply(entries)

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, e := range entries {
					if err := enc.Encode(e); err != nil {
						return err
					}
				}
			} else if err := printEntries(cmd.OutOrStdout(), entries); err != nil {
				return err
			}
			if skipped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %d malformed lines skipped\n", styles.Warning.Render("warning:"), skipped)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 20, "show at most this many entries (0 for all)")
	cmd.Flags().StringVar(&f.runID, "run", "", "only entries from this workflow run")
	cmd.Flags().StringVar(&f.host, "host", "", "only entries for this host")
	cmd.Flags().BoolVar(&f.failures, "failed", false, "only failed or rejected attempts")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output entries as JSON Lines")
	return cmd
}

func printEntries(out io.Writer, entries []ledger.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No ledger entries.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tHOST\tTIER\tDECISION\tEXIT\tDURATION\tCOMMAND")
	for _, e := range entries {
		exit := "-"
		if e.ExitCode != nil {
			exit = fmt.Sprint(*e.ExitCode)
		}
		command := e.Command
		if e.Workflow != "" {
			command = fmt.Sprintf("%s/%s: %s", e.Workflow, e.Step, command)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time.Local().Format(time.DateTime),
			e.Host,
			e.Tier,
			e.Decision,
			exit,
			(time.Duration(e.DurationMS) * time.Millisecond).String(),
			truncate(command, 60),
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func newLedgerPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the ledger file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := ledgerPath(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
