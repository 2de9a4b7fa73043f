package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/warden/internal/config"
	"github.com/felixgeelhaar/warden/internal/runner"
	"github.com/felixgeelhaar/warden/internal/translator"
)

func defaultTranslationsPath() string {
	return filepath.Join(filepath.Dir(config.DefaultPath()), "translations.yaml")
}

func newAskCmd() *cobra.Command {
	var (
		table   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask <request>",
		Short: "Translate a request into a command and run it safely",
		Long: `Look up a command for a plain-language request and run it through the
same classification and confirmation as a typed command.

Translations come from a YAML table mapping requests to commands:

  "free disk space":
    command: df -h
    explanation: show filesystem usage`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			path := table
			if path == "" {
				path = defaultTranslationsPath()
			}
			static, err := translator.LoadStatic(config.ExpandPath(path))
			if err != nil {
				return err
			}

			announce := translator.Func(func(ctx context.Context, query string) (translator.Suggestion, error) {
				sug, err := static.Translate(ctx, query)
				if err == nil {
					fmt.Fprintf(a.stderr, "%s %s\n", styles.Muted.Render("→"), styles.Command.Render(sug.Command))
					if sug.Explanation != "" {
						fmt.Fprintf(a.stderr, "  %s\n", styles.Muted.Render(sug.Explanation))
					}
				}
				return sug, err
			})

			_, err = a.runner.RunSuggestion(cmd.Context(), announce, strings.Join(args, " "), runner.Options{
				Timeout: timeout,
				Stdout:  a.stdout,
				Stderr:  a.stderr,
			})
			if reason, ok := translator.IsDeclined(err); ok {
				fmt.Fprintf(a.stderr, "%s %s\n", styles.Warning.Render("declined:"), reason)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&table, "translations", "", "translation table (default is $HOME/.warden/translations.yaml)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "override the classifier timeout")
	return cmd
}
