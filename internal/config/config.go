// Package config loads warden's global configuration from
// ~/.warden/config.yaml, merged over built-in defaults and environment
// overrides.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
)

// Environment variables consulted by Load.
const (
	EnvConfig    = "WARDEN_CONFIG"
	EnvTrust     = "WARDEN_TRUST"
	EnvShell     = "WARDEN_SHELL"
	EnvHostsFile = "WARDEN_HOSTS_FILE"
)

// Config is the global configuration.
type Config struct {
	// Trust auto-approves commands that would otherwise need confirmation.
	Trust bool `yaml:"trust"`
	// StrictSyntax blocks commands that fail syntax validation instead of
	// asking for confirmation.
	StrictSyntax   bool            `yaml:"strict_syntax"`
	MaxOutputBytes int             `yaml:"max_output_bytes"`
	Timeouts       Timeouts        `yaml:"timeouts"`
	Shell          ShellConfig     `yaml:"shell"`
	Remote         RemoteConfig    `yaml:"remote"`
	Ledger         LedgerConfig    `yaml:"ledger"`
	Logging        LoggingConfig   `yaml:"logging"`
	Telemetry      TelemetryConfig `yaml:"telemetry"`
	Metrics        MetricsConfig   `yaml:"metrics"`
}

// Timeouts are the durations for each timeout class, plus the grace window
// between SIGTERM and SIGKILL.
type Timeouts struct {
	Short    time.Duration `yaml:"short"`
	Normal   time.Duration `yaml:"normal"`
	Extended time.Duration `yaml:"extended"`
	Grace    time.Duration `yaml:"grace"`
}

// Classes returns the class durations.
func (t Timeouts) Classes() command.Timeouts {
	return command.Timeouts{Short: t.Short, Normal: t.Normal, Extended: t.Extended}
}

type ShellConfig struct {
	// Path is empty to use $SHELL.
	Path string   `yaml:"path,omitempty"`
	Args []string `yaml:"args,omitempty"`
}

type RemoteConfig struct {
	HostsFile             string        `yaml:"hosts_file"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	MaxParallel           int           `yaml:"max_parallel"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	KnownHosts            string        `yaml:"known_hosts,omitempty"`
}

type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File receives logs instead of stderr when set.
	File string `yaml:"file,omitempty"`
}

type TelemetryConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	Insecure   bool    `yaml:"insecure,omitempty"`
	SampleRate float64 `yaml:"sample_rate"`
}

type MetricsConfig struct {
	// Addr exposes /metrics while a command runs when set.
	Addr string `yaml:"addr,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	ct := command.DefaultTimeouts()
	return &Config{
		MaxOutputBytes: command.DefaultTailBytes,
		Timeouts: Timeouts{
			Short:    ct.Short,
			Normal:   ct.Normal,
			Extended: ct.Extended,
			Grace:    2 * time.Second,
		},
		Remote: RemoteConfig{
			HostsFile:      "~/.warden/hosts.toml",
			ConnectTimeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			Enabled: true,
			Path:    "~/.warden/ledger.jsonl",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			SampleRate: 1.0,
		},
	}
}

// DefaultPath returns ~/.warden/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".warden", "config.yaml")
	}
	return filepath.Join(home, ".warden", "config.yaml")
}

// Path returns the file Load reads: explicit, then $WARDEN_CONFIG, then the
// default location.
func Path(explicit string) string {
	if explicit != "" {
		return ExpandPath(explicit)
	}
	if env := os.Getenv(EnvConfig); env != "" {
		return ExpandPath(env)
	}
	return DefaultPath()
}

// Load reads the configuration file over the defaults and applies
// environment overrides. A missing file at the default location is not an
// error; a missing file that was named explicitly is.
func Load(explicit string) (*Config, error) {
	path := Path(explicit)
	named := explicit != "" || os.Getenv(EnvConfig) != ""

	cfg, err := ReadFile(path)
	switch {
	case err == nil:
	case stderrors.Is(err, fs.ErrNotExist) && !named:
		cfg = Default()
	default:
		return nil, errors.NewConfigInvalidError(path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, errors.NewConfigInvalidError(path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigInvalidError(path, err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without environment overrides or
// validation, as `config set` needs before saving.
func ReadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnv applies WARDEN_TRUST, WARDEN_SHELL and WARDEN_HOSTS_FILE.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvTrust); v != "" {
		trust, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTrust, err)
		}
		c.Trust = trust
	}
	if v := os.Getenv(EnvShell); v != "" {
		c.Shell.Path = v
	}
	if v := os.Getenv(EnvHostsFile); v != "" {
		c.Remote.HostsFile = v
	}
	return nil
}

// Validate rejects values no component can use.
func (c *Config) Validate() error {
	var problems []string

	durations := map[string]time.Duration{
		"timeouts.short":         c.Timeouts.Short,
		"timeouts.normal":        c.Timeouts.Normal,
		"timeouts.extended":      c.Timeouts.Extended,
		"timeouts.grace":         c.Timeouts.Grace,
		"remote.connect_timeout": c.Remote.ConnectTimeout,
	}
	for _, key := range []string{"timeouts.short", "timeouts.normal", "timeouts.extended", "timeouts.grace", "remote.connect_timeout"} {
		if durations[key] < 0 {
			problems = append(problems, key+" must not be negative")
		}
	}
	if c.MaxOutputBytes < 0 {
		problems = append(problems, "max_output_bytes must not be negative")
	}
	if c.Remote.MaxParallel < 0 {
		problems = append(problems, "remote.max_parallel must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		problems = append(problems, "telemetry.sample_rate must be between 0 and 1")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format %q must be text or json", c.Logging.Format))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("logging.level %q is not a level", c.Logging.Level))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Save writes the configuration to path with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ExpandPath replaces a leading "~/" with the home directory.
func ExpandPath(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
		}
	}
	return p
}
