package log

import (
	"io"
	"os"
	"strconv"
	"strings"
)

// Environment variables consulted by FromEnv.
const (
	EnvLevel  = "WARDEN_LOG_LEVEL"
	EnvFormat = "WARDEN_LOG_FORMAT"
	EnvStdout = "WARDEN_LOG_STDOUT"
)

// Format represents the output format for logs
type Format int

const (
	// FormatText outputs logs in human-readable text format
	FormatText Format = iota
	// FormatJSON outputs logs in JSON format
	FormatJSON
)

// String returns the string representation of the format
func (f Format) String() string {
	if f == FormatJSON {
		return "json"
	}
	return "text"
}

// ParseFormat parses a string into a Format
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return FormatJSON
	default:
		return FormatText
	}
}

// Config holds configuration for the logger
type Config struct {
	// Level is the minimum log level to output
	Level Level

	// Format is the output format (JSON or Text)
	Format Format

	// Output is where logs are written. Command output owns stdout, so the
	// default is stderr.
	Output io.Writer

	// AddSource includes source file and line number in logs
	AddSource bool

	// ServiceName is attached to every record
	ServiceName string
}

// DefaultConfig logs at WARN level in text format to stderr, keeping the
// terminal quiet while commands stream.
func DefaultConfig() Config {
	return Config{
		Level:       LevelWarn,
		Format:      FormatText,
		Output:      os.Stderr,
		ServiceName: "warden",
	}
}

// DevelopmentConfig logs at DEBUG level with source location
func DevelopmentConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = LevelDebug
	cfg.AddSource = true
	return cfg
}

// FromEnv applies WARDEN_LOG_* overrides on top of cfg.
func FromEnv(cfg Config) Config {
	if v := os.Getenv(EnvLevel); v != "" {
		cfg.Level = ParseLevel(v)
	}
	if v := os.Getenv(EnvFormat); v != "" {
		cfg.Format = ParseFormat(v)
	}
	if v := os.Getenv(EnvStdout); v != "" {
		if on, err := strconv.ParseBool(v); err == nil && on {
			cfg.Output = os.Stdout
		}
	}
	return cfg
}
