// Package runner wires preparation, confirmation, execution and recording
// into the single path every command takes, whether typed by a user,
// produced by a translator or issued by a workflow step.
package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/exec"
	"github.com/felixgeelhaar/warden/internal/gate"
	"github.com/felixgeelhaar/warden/internal/ledger"
	"github.com/felixgeelhaar/warden/internal/log"
	"github.com/felixgeelhaar/warden/internal/metrics"
	"github.com/felixgeelhaar/warden/internal/remote"
	"github.com/felixgeelhaar/warden/internal/safety"
	"github.com/felixgeelhaar/warden/internal/telemetry"
	"github.com/felixgeelhaar/warden/internal/translator"
	"github.com/felixgeelhaar/warden/internal/workflow"
)

// Options holds per-command settings.
type Options struct {
	Origin command.Origin
	// Hosts dispatches to remote hosts instead of running locally.
	Hosts []string
	// Timeout overrides the classifier-derived timeout when positive.
	Timeout time.Duration
	// Stdout and Stderr receive local output live.
	Stdout io.Writer
	Stderr io.Writer
	// HostOutput receives remote output live, per host.
	HostOutput func(host string) (stdout, stderr io.Writer)
	// OnHostResult is called as each remote host finishes.
	OnHostResult func(*command.Result)
	Dir          string
	Attempt      int
	Meta         ledger.Meta
}

// Outcome is everything known about one command after it settles.
type Outcome struct {
	Spec       *command.Spec
	Decision   gate.Decision
	Results    []*command.Result
	Aggregate  *remote.Aggregate
	Suggestion *translator.Suggestion
}

// Executed reports whether any process ran.
func (o *Outcome) Executed() bool { return len(o.Results) > 0 }

// Runner executes commands through the full safety pipeline.
type Runner struct {
	preparer     *safety.Preparer
	gate         *gate.Gate
	executor     *exec.Executor
	dispatcher   *remote.Dispatcher
	ledger       ledger.Ledger
	metrics      *metrics.Metrics
	logger       *log.Logger
	strictSyntax bool
	stepStdout   io.Writer
	stepStderr   io.Writer
	hostTag      func(host string) string
}

// Option configures a Runner.
type Option func(*Runner)

// WithDispatcher enables remote execution.
func WithDispatcher(d *remote.Dispatcher) Option {
	return func(r *Runner) { r.dispatcher = d }
}

// WithLedger records every attempt to l.
func WithLedger(l ledger.Ledger) Option {
	return func(r *Runner) { r.ledger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithStrictSyntax blocks commands that fail syntax validation.
func WithStrictSyntax(strict bool) Option {
	return func(r *Runner) { r.strictSyntax = strict }
}

// WithStepOutput sets where workflow step output streams.
func WithStepOutput(stdout, stderr io.Writer) Option {
	return func(r *Runner) { r.stepStdout, r.stepStderr = stdout, stderr }
}

// WithHostTag sets how workflow step output is tagged per remote host.
func WithHostTag(tag func(host string) string) Option {
	return func(r *Runner) { r.hostTag = tag }
}

// New returns a runner over the given pipeline stages.
func New(p *safety.Preparer, g *gate.Gate, e *exec.Executor, opts ...Option) *Runner {
	r := &Runner{preparer: p, gate: g, executor: e, ledger: ledger.Nop{}}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = log.OrDefault(r.logger).WithGroup("runner")
	return r
}

// Check prepares text and evaluates the gate policy without prompting or
// executing.
func (r *Runner) Check(text string) (*command.Spec, gate.Decision, error) {
	spec, err := r.preparer.Prepare(text, command.OriginManual)
	if err != nil {
		return nil, gate.Decision{}, err
	}
	if r.strictSyntax && spec.Warning != nil {
		return spec, gate.Decision{State: gate.Rejected, Reason: "strict syntax", Err: spec.Warning}, nil
	}
	return spec, r.gate.Evaluate(spec), nil
}

// Run prepares, confirms, executes and records text. The returned Outcome
// is non-nil whenever text could be prepared; the error is the first
// failure, if any.
func (r *Runner) Run(ctx context.Context, text string, opts Options) (*Outcome, error) {
	origin := opts.Origin
	if origin == "" {
		origin = command.OriginManual
	}

	spec, err := r.preparer.Prepare(text, origin)
	if err != nil {
		return nil, err
	}
	if opts.Timeout > 0 {
		spec = spec.WithTimeout(opts.Timeout)
	}
	out := &Outcome{Spec: spec}
	logger := r.logger.With("tier", spec.Tier.String(), "rule", spec.Rule)

	if spec.Warning != nil && r.strictSyntax {
		out.Decision = gate.Decision{State: gate.Rejected, Reason: "strict syntax", Err: spec.Warning}
		r.recordDecision(ctx, out, opts)
		logger.WithError(spec.Warning).WarnContext(ctx, "command blocked by strict syntax")
		return out, spec.Warning
	}

	// The prompt names the hosts the command will actually reach.
	isRemote := len(opts.Hosts) > 0
	if isRemote && r.dispatcher != nil {
		targets := opts.Hosts
		opts.Hosts = remote.ExpandTargets(r.dispatcher.Registry(), targets)
		if len(opts.Hosts) == 0 {
			return out, errors.New(errors.KindValidation, errors.ErrCodeValidation,
				fmt.Sprintf("no registered host matches %s", strings.Join(targets, ", "))).
				WithCommand(spec.Text())
		}
	}
	out.Decision = r.gate.Resolve(ctx, spec, opts.Hosts...)
	r.metrics.RecordGateDecision(out.Decision.State.String())
	if !out.Decision.State.Permits() {
		r.recordDecision(ctx, out, opts)
		return out, out.Decision.Err
	}

	switch {
	case isRemote:
		err = r.runRemote(ctx, out, opts)
	case spec.Interactive():
		err = r.runLocal(ctx, out, opts, true)
	default:
		err = r.runLocal(ctx, out, opts, false)
	}
	return out, err
}

func (r *Runner) runLocal(ctx context.Context, out *Outcome, opts Options, interactive bool) error {
	ctx, span := telemetry.StartCommandSpan(ctx, out.Spec, command.LocalHost)
	defer span.End()

	var (
		res *command.Result
		err error
	)
	if interactive {
		res, err = r.executor.RunInteractive(ctx, out.Spec)
	} else {
		res, err = r.executor.Run(ctx, out.Spec, exec.RunOptions{
			Stdout: opts.Stdout,
			Stderr: opts.Stderr,
			Dir:    opts.Dir,
		})
	}
	res.Attempt = attempt(opts)
	out.Results = []*command.Result{res}

	telemetry.RecordResult(span, res)
	r.metrics.RecordCommand(out.Spec.Tier.String(), "local", res.Success, res.Duration(), string(errors.KindOf(res.Err)))
	r.appendResult(ctx, res, out, opts)
	return err
}

func (r *Runner) runRemote(ctx context.Context, out *Outcome, opts Options) error {
	if r.dispatcher == nil {
		return errors.New(errors.KindConfig, errors.ErrCodeConfigInvalid, "remote execution requested but no host registry is configured").
			WithCommand(out.Spec.Text()).
			WithSuggestion("Set remote.hosts_file in the configuration or pass --hosts-file")
	}

	agg, err := r.dispatcher.Dispatch(ctx, out.Spec, opts.Hosts, remote.DispatchOptions{
		Timeout:  opts.Timeout,
		OnResult: opts.OnHostResult,
		Output:   opts.HostOutput,
	})
	if err != nil {
		return err
	}

	out.Aggregate = agg
	out.Results = agg.Results
	for _, res := range agg.Results {
		res.Attempt = attempt(opts)
		r.appendResult(ctx, res, out, opts)
	}
	return agg.Err()
}

func (r *Runner) appendResult(ctx context.Context, res *command.Result, out *Outcome, opts Options) {
	meta := opts.Meta
	meta.Decision = out.Decision.State.String()
	if err := r.ledger.Append(context.WithoutCancel(ctx), ledger.FromResult(res, meta)); err != nil {
		r.logger.WithError(err).WarnContext(ctx, "failed to append ledger entry", "host", res.Host)
	}
}

func (r *Runner) recordDecision(ctx context.Context, out *Outcome, opts Options) {
	meta := opts.Meta
	meta.Decision = out.Decision.State.String()
	host := command.LocalHost
	if len(opts.Hosts) > 0 {
		host = strings.Join(opts.Hosts, ",")
	}
	entry := ledger.FromDecision(out.Spec, host, meta, out.Decision.Err)
	entry.Attempt = attempt(opts)
	if err := r.ledger.Append(context.WithoutCancel(ctx), entry); err != nil {
		r.logger.WithError(err).WarnContext(ctx, "failed to append ledger entry")
	}
}

func attempt(opts Options) int {
	if opts.Attempt > 0 {
		return opts.Attempt
	}
	return 1
}

// RunSuggestion asks t for a command and runs it like any other, tagged
// with the translator origin. A decline is returned as the error with no
// Outcome.
func (r *Runner) RunSuggestion(ctx context.Context, t translator.Translator, query string, opts Options) (*Outcome, error) {
	sug, err := t.Translate(ctx, query)
	if err != nil {
		if reason, ok := translator.IsDeclined(err); ok {
			r.logger.InfoContext(ctx, "translator declined", "reason", reason)
		}
		return nil, err
	}

	opts.Origin = command.OriginTranslator
	out, err := r.Run(ctx, sug.Command, opts)
	if out != nil {
		out.Suggestion = &sug
	}
	return out, err
}

// ExecuteStep implements workflow.StepExecutor. Remote step output is
// tagged per host like any other remote command.
func (r *Runner) ExecuteStep(ctx context.Context, req workflow.StepRequest) ([]*command.Result, error) {
	opts := Options{
		Origin:  command.OriginWorkflow,
		Hosts:   req.Hosts,
		Timeout: req.Timeout,
		Stdout:  r.stepStdout,
		Stderr:  r.stepStderr,
		Attempt: req.Attempt,
		Meta: ledger.Meta{
			RunID:    req.RunID,
			Workflow: req.Workflow,
			Step:     req.Step,
		},
	}
	if len(req.Hosts) > 0 {
		hw := remote.NewHostWriters(r.stepStdout, r.stepStderr, r.hostTag)
		defer hw.Flush()
		opts.HostOutput = hw.For
	}

	out, err := r.Run(ctx, req.Command, opts)
	if out == nil {
		return nil, err
	}
	return out.Results, err
}

var _ workflow.StepExecutor = (*Runner)(nil)
