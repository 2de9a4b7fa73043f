// Package command defines the values that flow through the execution core:
// a prepared command, the outcome of running it, and their classifications.
package command

import (
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// LocalHost is the host identity recorded for commands run on this machine.
const LocalHost = "local"

// Tier is the risk classification of a command.
type Tier string

const (
	TierBenign      Tier = "benign"
	TierCaution     Tier = "caution"
	TierDestructive Tier = "destructive"
	TierLongRunning Tier = "long-running"
	TierInteractive Tier = "interactive"
)

// Severity orders tiers for display and comparison. Higher is riskier.
func (t Tier) Severity() int {
	switch t {
	case TierBenign:
		return 0
	case TierCaution:
		return 1
	case TierLongRunning:
		return 2
	case TierInteractive:
		return 3
	case TierDestructive:
		return 4
	default:
		return -1
	}
}

func (t Tier) String() string { return string(t) }

// TimeoutClass selects the default time budget for a command.
type TimeoutClass string

const (
	TimeoutShort    TimeoutClass = "short"
	TimeoutNormal   TimeoutClass = "normal"
	TimeoutExtended TimeoutClass = "extended"
	TimeoutNone     TimeoutClass = "none"
)

func (c TimeoutClass) String() string { return string(c) }

// Origin records where a command's text came from.
type Origin string

const (
	OriginManual     Origin = "manual"
	OriginTranslator Origin = "translator"
	OriginWorkflow   Origin = "workflow"
)

// Timeouts maps timeout classes to durations.
type Timeouts struct {
	Short    time.Duration `yaml:"short"`
	Normal   time.Duration `yaml:"normal"`
	Extended time.Duration `yaml:"extended"`
}

// DefaultTimeouts returns the stock 30s / 5m / 30m budgets.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Short:    30 * time.Second,
		Normal:   5 * time.Minute,
		Extended: 30 * time.Minute,
	}
}

// For returns the duration for class. TimeoutNone yields zero, meaning unbounded.
func (t Timeouts) For(class TimeoutClass) time.Duration {
	switch class {
	case TimeoutShort:
		return t.Short
	case TimeoutNormal:
		return t.Normal
	case TimeoutExtended:
		return t.Extended
	default:
		return 0
	}
}

// Spec is a command that has been classified, validated and sanitized and is
// ready to hand to an executor. Treat it as immutable once prepared.
type Spec struct {
	Raw          string
	Sanitized    string
	Tier         Tier
	TimeoutClass TimeoutClass
	Timeout      time.Duration
	// Rule names the classification rule that matched.
	Rule string
	// Env holds KEY=VALUE overrides that keep the command non-interactive.
	Env []string
	// Warning is the syntax validation failure, if any.
	Warning error
	Origin  Origin
}

// Text returns the text to execute.
func (s *Spec) Text() string {
	if s.Sanitized != "" {
		return s.Sanitized
	}
	return s.Raw
}

// Interactive reports whether the command needs a terminal.
func (s *Spec) Interactive() bool {
	return s.Tier == TierInteractive
}

// Fingerprint returns a BLAKE3 hex digest of the executable text and env.
func (s *Spec) Fingerprint() string {
	h := blake3.New()
	_, _ = h.Write([]byte(s.Text()))
	for _, kv := range s.Env {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(kv))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WithTimeout returns a copy of s with the timeout replaced.
func (s *Spec) WithTimeout(d time.Duration) *Spec {
	c := *s
	c.Env = append([]string(nil), s.Env...)
	c.Timeout = d
	return &c
}

// Result is the outcome of a single execution attempt on a single host.
type Result struct {
	Spec      *Spec
	Host      string
	ExitCode  int
	Stdout    string
	Stderr    string
	StartedAt time.Time
	EndedAt   time.Time
	Success   bool
	Err       error
	// Attempt is 1-based.
	Attempt         int
	StdoutTruncated bool
	StderrTruncated bool
}

// Duration returns the wall-clock time of the attempt.
func (r *Result) Duration() time.Duration {
	if r.EndedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
