// Package cmd implements the warden command-line interface.
package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "warden",
		Short: "Run shell commands behind a safety gate",
		Long: `warden classifies every command by risk before it runs, asks for
confirmation when a command is destructive, long-running or malformed, and
records each attempt in an append-only ledger.

Commands can run locally, fan out to remote hosts over SSH, or be chained
into workflows with variables, conditions and retries.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.warden/config.yaml)")
	flags.BoolP("yes", "y", false, "trust this session: skip confirmation prompts")
	flags.Bool("no-input", false, "never prompt; commands needing confirmation are rejected")
	flags.Bool("strict", false, "block commands that fail syntax validation")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("hosts-file", "", "host registry file (default is $HOME/.warden/hosts.toml)")
	flags.String("metrics-addr", "", "expose Prometheus metrics on this address while running")

	root.AddCommand(
		newRunCmd(),
		newCheckCmd(),
		newAskCmd(),
		newWorkflowCmd(),
		newRemoteCmd(),
		newLedgerCmd(),
		newConfigCmd(),
		newVersionCmd(),
		newCompletionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx, which cancels any running
// command when done.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}
