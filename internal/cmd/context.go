package cmd

import (
	"github.com/spf13/cobra"
)

// CommandContext holds the persistent flags, extracted once per command
// instead of living in package globals.
type CommandContext struct {
	ConfigPath  string
	Yes         bool
	NoInput     bool
	Strict      bool
	LogLevel    string
	HostsFile   string
	MetricsAddr string
}

// NewCommandContext extracts command context from cobra.Command flags.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	yes, err := flags.GetBool("yes")
	if err != nil {
		return nil, err
	}
	noInput, err := flags.GetBool("no-input")
	if err != nil {
		return nil, err
	}
	strict, err := flags.GetBool("strict")
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}
	hostsFile, err := flags.GetString("hosts-file")
	if err != nil {
		return nil, err
	}
	metricsAddr, err := flags.GetString("metrics-addr")
	if err != nil {
		return nil, err
	}

	return &CommandContext{
		ConfigPath:  configPath,
		Yes:         yes,
		NoInput:     noInput,
		Strict:      strict,
		LogLevel:    logLevel,
		HostsFile:   hostsFile,
		MetricsAddr: metricsAddr,
	}, nil
}
