package cmd

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/warden/internal/config"
	"github.com/felixgeelhaar/warden/internal/errors"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View or edit warden configuration",
		Long: `Manage warden configuration stored at ~/.warden/config.yaml

Configuration includes:
  • Session trust and strict syntax checking
  • Timeouts for each timeout class and the termination grace window
  • Shell used for local commands
  • Host registry location and SSH settings
  • Ledger, logging, telemetry and metrics settings

Examples:
  # View current configuration
  warden config view

  # Get a specific value
  warden config get timeouts.normal

  # Set a specific value
  warden config set remote.max_parallel 8

  # Show configuration file path
  warden config path
`,
	}
	cmd.AddCommand(
		newConfigViewCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
		newConfigPathCmd(),
		newConfigInitCmd(),
	)
	return cmd
}

func newConfigViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Display the effective configuration",
		Long:  `Display the configuration after defaults, the config file and environment overrides are applied.`,
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
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a specific configuration value",
		Long:  `Retrieve the value of a specific configuration key using dot notation (e.g., timeouts.short).`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cctx)
			if err != nil {
				return err
			}
			value, err := cfg.Get(args[0])
			if err != nil {
				return errors.Wrap(errors.KindConfig, errors.ErrCodeConfigInvalid, "config get failed", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a specific configuration value",
		Long:  `Set the value of a specific configuration key using dot notation (e.g., remote.max_parallel 8).`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path := config.Path(cctx.ConfigPath)

			cfg, err := config.ReadFile(path)
			switch {
			case err == nil:
			case stderrors.Is(err, fs.ErrNotExist):
				cfg = config.Default()
			default:
				return errors.NewConfigInvalidError(path, err)
			}

			if err := cfg.Set(args[0], args[1]); err != nil {
				return errors.Wrap(errors.KindConfig, errors.ErrCodeConfigInvalid, "config set failed", err)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s = %s\n", styles.Success.Render("✓"), args[0], args[1])
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Long:  `Display the path of the configuration file warden reads.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), config.Path(cctx.ConfigPath))
			return nil
		},
	}
}

func newConfigInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cctx, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			path := config.Path(cctx.ConfigPath)
			if _, err := os.Stat(path); err == nil && !force {
				return errors.New(errors.KindConfig, errors.ErrCodeConfigInvalid, fmt.Sprintf("%s already exists", path)).
					WithSuggestion("Pass --force to overwrite it")
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
