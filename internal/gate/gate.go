// Package gate decides whether a prepared command may run, asking the user
// when policy requires it.
package gate

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
)

// State is a position in the confirmation state machine.
type State int

const (
	Pending State = iota
	AutoApproved
	AwaitingUser
	Approved
	Rejected
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case AutoApproved:
		return "auto-approved"
	case AwaitingUser:
		return "awaiting-user"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Permits reports whether the command may be executed.
func (s State) Permits() bool {
	return s == AutoApproved || s == Approved
}

// Config holds the session-level gate settings.
type Config struct {
	// Trust auto-approves every command that would otherwise need confirmation.
	Trust bool
	// Interactive reports whether a frontend can answer prompts and host
	// terminal programs.
	Interactive bool
}

// Request is the confirmation event handed to a Prompter.
type Request struct {
	Spec    *command.Spec
	Reason  string
	Warning error
	// Hosts lists remote targets, empty for local execution.
	Hosts []string
}

// Prompter answers confirmation requests.
type Prompter interface {
	Confirm(ctx context.Context, req Request) (bool, error)
}

// PromptFunc adapts a function to the Prompter interface.
type PromptFunc func(ctx context.Context, req Request) (bool, error)

// Confirm calls f.
func (f PromptFunc) Confirm(ctx context.Context, req Request) (bool, error) {
	return f(ctx, req)
}

// AutoPrompter answers every request with answer.
func AutoPrompter(answer bool) Prompter {
	return PromptFunc(func(context.Context, Request) (bool, error) { return answer, nil })
}

// Decision is the gate's verdict on one command.
type Decision struct {
	State  State
	Reason string
	// Err is set when State is Rejected.
	Err error
}

// Gate applies the confirmation policy.
type Gate struct {
	cfg      Config
	prompter Prompter
	logger   *log.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger used for decisions.
func WithLogger(l *log.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// New returns a gate. A nil prompter makes the gate non-interactive
// regardless of cfg.Interactive.
func New(cfg Config, prompter Prompter, opts ...Option) *Gate {
	if prompter == nil {
		cfg.Interactive = false
	}
	g := &Gate{cfg: cfg, prompter: prompter}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = log.OrDefault(g.logger)
	return g
}

// Config returns the effective configuration.
func (g *Gate) Config() Config {
	return g.cfg
}

// Evaluate applies the policy without prompting. The returned state is
// AutoApproved, AwaitingUser or Rejected.
func (g *Gate) Evaluate(spec *command.Spec) Decision {
	switch spec.Tier {
	case command.TierInteractive:
		if !g.cfg.Interactive {
			return Decision{
				State:  Rejected,
				Reason: "interactive command without an interactive frontend",
				Err:    errors.NewCapabilityError(spec.Raw),
			}
		}
		// Trust never covers a command that takes over the terminal.
		return Decision{State: AwaitingUser, Reason: "interactive command takes over the terminal"}

	case command.TierBenign:
		if spec.Warning == nil {
			return Decision{State: AutoApproved, Reason: "benign"}
		}
		if g.cfg.Trust {
			return Decision{State: AutoApproved, Reason: "session trust"}
		}
		return Decision{State: AwaitingUser, Reason: "command failed syntax validation"}

	default:
		if g.cfg.Trust {
			return Decision{State: AutoApproved, Reason: "session trust"}
		}
		reason := fmt.Sprintf("%s command", spec.Tier)
		if spec.Rule != "" {
			reason = fmt.Sprintf("%s command (%s)", spec.Tier, spec.Rule)
		}
		return Decision{State: AwaitingUser, Reason: reason}
	}
}

// Resolve evaluates spec and, when confirmation is needed, asks the
// prompter. It never returns AwaitingUser. Without a way to ask, a command
// that needs confirmation is rejected.
func (g *Gate) Resolve(ctx context.Context, spec *command.Spec, hosts ...string) Decision {
	d := g.Evaluate(spec)
	if d.State != AwaitingUser {
		g.record(ctx, spec, d)
		return d
	}

	if !g.cfg.Interactive {
		d = Decision{
			State:  Rejected,
			Reason: d.Reason + " needs confirmation and no prompt is available",
			Err:    errors.NewRejectedError(spec.Raw, "confirmation required in non-interactive mode").WithSuggestion("Re-run with --yes to trust this session"),
		}
		g.record(ctx, spec, d)
		return d
	}

	ok, err := g.prompter.Confirm(ctx, Request{Spec: spec, Reason: d.Reason, Warning: spec.Warning, Hosts: hosts})
	switch {
	case err != nil:
		d = Decision{State: Rejected, Reason: "prompt failed", Err: errors.Wrap(errors.KindRejected, errors.ErrCodeRejected, "confirmation prompt failed", err).WithCommand(spec.Raw)}
	case ok:
		d = Decision{State: Approved, Reason: d.Reason}
	default:
		d = Decision{State: Rejected, Reason: "declined by user", Err: errors.NewRejectedError(spec.Raw, "declined by user")}
	}
	g.record(ctx, spec, d)
	return d
}

func (g *Gate) record(ctx context.Context, spec *command.Spec, d Decision) {
	g.logger.InfoContext(ctx, "gate decision",
		"command", spec.Raw,
		"tier", spec.Tier.String(),
		"state", d.State.String(),
		"reason", d.Reason,
	)
}
