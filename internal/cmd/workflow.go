package cmd

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/tui"
	"github.com/felixgeelhaar/warden/internal/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run multi-step command workflows",
		Long: `Workflows are YAML files listing steps that run one after another.
Steps can reference ${variables}, run only on success or failure of the
previous step, retry on failure and capture output for later steps.

Built-in workflows can be run by name; see 'warden workflow list'.`,
	}
	cmd.AddCommand(
		newWorkflowRunCmd(),
		newWorkflowValidateCmd(),
		newWorkflowListCmd(),
		newWorkflowShowCmd(),
	)
	return cmd
}

// resolveWorkflow loads ref as a file, falling back to a built-in name.
func resolveWorkflow(ref string) (*workflow.Definition, error) {
	def, err := workflow.LoadFile(ref)
	if err == nil {
		return def, nil
	}
	if !stderrors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if def, ok := workflow.Builtin(ref); ok {
		return def, nil
	}
	return nil, errors.NewWorkflowInvalidError(fmt.Sprintf("%q is neither a workflow file nor a built-in workflow", ref)).
		WithSuggestion("Run 'warden workflow list' to see built-in workflows")
}

// parseVars parses repeated key=value flags.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, errors.New(errors.KindValidation, errors.ErrCodeValidation, fmt.Sprintf("invalid --var %q: expected key=value", pair))
		}
		vars[strings.TrimSpace(k)] = v
	}
	return vars, nil
}

func newWorkflowRunCmd() *cobra.Command {
	var (
		vars   []string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "run <file|name>",
		Short: "Run a workflow",
		Long: `Run a workflow file or built-in workflow.

Every step goes through the same classification and confirmation as
'warden run'. A failing step stops the run unless it sets
continue_on_error; steps with retry are re-attempted on timeouts,
non-zero exits and connection failures.

Examples:
  warden workflow run deploy.yaml --var version=1.4.2
  warden workflow run backup-project --var src=. --var dest=/backups
  warden workflow run deploy.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}
			def, err := resolveWorkflow(args[0])
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if missing := def.Unbound(overrides); len(missing) > 0 && a.interactive && !dryRun {
				answers, err := tui.PromptForVariables(missing)
				if err != nil {
					return err
				}
				for k, v := range answers {
					overrides[k] = v
				}
			}

			reporter := tui.NewStepReporter(a.stderr, len(def.Steps))
			engine := workflow.NewEngine(a.runner,
				workflow.WithLogger(a.logger),
				workflow.WithMetrics(a.metrics),
				workflow.WithDryRun(dryRun),
				workflow.WithStepHook(reporter.Report),
			)

			run, err := engine.Run(cmd.Context(), def, overrides)
			if run != nil {
				reporter.Summary(run)
			}
			return err
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "set a variable (key=value, repeatable)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "resolve every step without executing")
	return cmd
}

func newWorkflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check workflow files for errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed []string
			for _, path := range args {
				def, err := workflow.LoadFile(path)
				if err != nil {
					failed = append(failed, path)
					fmt.Fprintf(out, "%s %s: %v\n", styles.Error.Render("✗"), path, err)
					continue
				}
				fmt.Fprintf(out, "%s %s: %s (%d steps)\n", styles.Success.Render("✓"), path, def.Name, len(def.Steps))
				if unbound := def.Unbound(nil); len(unbound) > 0 {
					fmt.Fprintf(out, "  %s %s\n", styles.Muted.Render("requires:"), strings.Join(unbound, ", "))
				}
			}
			if len(failed) > 0 {
				return errors.NewWorkflowInvalidError(fmt.Sprintf("%d of %d files invalid", len(failed), len(args)))
			}
			return nil
		},
	}
}

func newWorkflowListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := workflow.Builtins()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCATEGORY\tSTEPS\tDESCRIPTION")
			for _, d := range defs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.Name, d.Category, len(d.Steps), d.Description)
			}
			return w.Flush()
		},
	}
}

func newWorkflowShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print a built-in workflow as YAML",
		Long:  `Print a built-in workflow so it can be copied and customised.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, ok := workflow.Builtin(args[0])
			if !ok {
				return errors.NewWorkflowInvalidError(fmt.Sprintf("no built-in workflow named %q", args[0])).
					WithSuggestion("Run 'warden workflow list' to see built-in workflows")
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(def); err != nil {
				return fmt.Errorf("failed to encode workflow: %w", err)
			}
			return enc.Close()
		},
	}
}
