package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/gate"
)

// checkReport is the --json form of `warden check`.
type checkReport struct {
	Command      string   `json:"command"`
	Sanitized    string   `json:"sanitized"`
	Tier         string   `json:"tier"`
	Rule         string   `json:"rule,omitempty"`
	TimeoutClass string   `json:"timeout_class"`
	Timeout      string   `json:"timeout"`
	Env          []string `json:"env,omitempty"`
	Warning      string   `json:"warning,omitempty"`
	Decision     string   `json:"decision"`
	Reason       string   `json:"reason,omitempty"`
	Fingerprint  string   `json:"fingerprint"`
}

func newReport(spec *command.Spec, d gate.Decision) checkReport {
	r := checkReport{
		Command:      spec.Raw,
		Sanitized:    spec.Text(),
		Tier:         spec.Tier.String(),
		Rule:         spec.Rule,
		TimeoutClass: spec.TimeoutClass.String(),
		Timeout:      spec.Timeout.String(),
		Env:          spec.Env,
		Decision:     d.State.String(),
		Reason:       d.Reason,
		Fingerprint:  spec.Fingerprint(),
	}
	if spec.Timeout == 0 {
		r.Timeout = "none"
	}
	if spec.Warning != nil {
		r.Warning = firstLine(spec.Warning.Error())
	}
	return r
}

func newCheckCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "check [flags] -- <command>",
		Short: "Show how a command would be classified without running it",
		Long: `Classify, validate and sanitize a command and report what the
confirmation gate would decide. Nothing is executed or recorded.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			spec, d, err := a.runner.Check(commandLine(args))
			if err != nil {
				return err
			}
			report := newReport(spec, d)

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal report: %w", err)
				}
				fmt.Fprintln(out, string(data))
				return nil
			}

			fmt.Fprintf(out, "%s %s\n", styles.TierBadge(spec.Tier), styles.Command.Render(report.Sanitized))
			if report.Rule != "" {
				fmt.Fprintf(out, "  rule:     %s\n", report.Rule)
			}
			fmt.Fprintf(out, "  timeout:  %s (%s)\n", report.Timeout, report.TimeoutClass)
			if len(report.Env) > 0 {
				fmt.Fprintf(out, "  env:      %s\n", strings.Join(report.Env, " "))
			}
			if report.Warning != "" {
				fmt.Fprintf(out, "  %s %s\n", styles.Warning.Render("warning:"), report.Warning)
			}
			fmt.Fprintf(out, "  decision: %s", report.Decision)
			if report.Reason != "" {
				fmt.Fprintf(out, " (%s)", report.Reason)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	cmd.Flags().BoolVar(&asJSON, "json", false, "output the report as JSON")
	return cmd
}
