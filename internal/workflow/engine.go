package workflow

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
	"github.com/felixgeelhaar/warden/internal/metrics"
	"github.com/felixgeelhaar/warden/internal/telemetry"
)

// StepRequest is one attempt of one step, with its command fully resolved.
type StepRequest struct {
	Workflow string
	RunID    string
	Step     string
	Command  string
	// Timeout overrides the classifier-derived timeout when non-zero.
	Timeout time.Duration
	Hosts   []string
	Attempt int
}

// StepExecutor runs a single step attempt. It returns one result per host
// (one for a local step) and a non-nil error when the attempt failed.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, req StepRequest) ([]*command.Result, error)
}

// StepExecutorFunc adapts a function to StepExecutor.
type StepExecutorFunc func(ctx context.Context, req StepRequest) ([]*command.Result, error)

// ExecuteStep calls f.
func (f StepExecutorFunc) ExecuteStep(ctx context.Context, req StepRequest) ([]*command.Result, error) {
	return f(ctx, req)
}

// RunState is the lifecycle state of a workflow run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
)

// StepStatus is the final status of one step within a run.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	// StepPlanned marks a step that a dry run resolved but did not execute.
	StepPlanned StepStatus = "planned"
)

// StepOutcome records what happened to one step.
type StepOutcome struct {
	Name    string
	Status  StepStatus
	Command string
	// Results holds every attempt's results, in attempt order.
	Results  []*command.Result
	Attempts int
	Err      error
	// AllowedFailure is set when the step failed but continue_on_error let
	// the run proceed.
	AllowedFailure bool
	Reason         string
}

// Last returns the results of the final attempt.
func (o *StepOutcome) Last() []*command.Result {
	var last []*command.Result
	for _, r := range o.Results {
		if r.Attempt == o.Attempts {
			last = append(last, r)
		}
	}
	return last
}

// RunResult is the record of one workflow run.
type RunResult struct {
	ID        string
	Workflow  string
	State     RunState
	Steps     []*StepOutcome
	Variables map[string]string
	StartedAt time.Time
	EndedAt   time.Time
	Err       error
}

// Succeeded reports whether the run reached RunSucceeded.
func (r *RunResult) Succeeded() bool { return r.State == RunSucceeded }

// Duration returns the wall-clock time of the run.
func (r *RunResult) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// Executed counts steps that were attempted.
func (r *RunResult) Executed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Attempts > 0 {
			n++
		}
	}
	return n
}

// Engine runs workflow definitions one step at a time.
type Engine struct {
	executor StepExecutor
	logger   *log.Logger
	metrics  *metrics.Metrics
	dryRun   bool
	onStep   func(*StepOutcome)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *log.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithDryRun resolves every step without executing it.
func WithDryRun(dryRun bool) EngineOption {
	return func(e *Engine) { e.dryRun = dryRun }
}

// WithStepHook registers fn to be called after every step settles,
// including skipped ones.
func WithStepHook(fn func(*StepOutcome)) EngineOption {
	return func(e *Engine) { e.onStep = fn }
}

// NewEngine creates an engine that runs attempts through executor.
func NewEngine(executor StepExecutor, opts ...EngineOption) *Engine {
	e := &Engine{executor: executor}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = log.OrDefault(e.logger).WithGroup("workflow")
	return e
}

// Run executes def with overrides seeding the run context. The returned
// RunResult is always non-nil once def is valid; the error is non-nil when
// the run failed.
func (e *Engine) Run(ctx context.Context, def *Definition, overrides map[string]string) (*RunResult, error) {
	if def == nil {
		return nil, errors.NewWorkflowInvalidError("nil definition")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	res := &RunResult{
		ID:        uuid.NewString(),
		Workflow:  def.Name,
		State:     RunPending,
		StartedAt: time.Now(),
	}
	logger := e.logger.With("workflow", def.Name, "run_id", res.ID)

	ctx, span := telemetry.StartWorkflowSpan(ctx, def.Name, res.ID, len(def.Steps))
	defer span.End()

	if def.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, def.Timeout.Std())
		defer cancel()
	}

	rc := NewRunContext(overrides)
	res.State = RunRunning
	logger.InfoContext(ctx, "workflow started", "steps", len(def.Steps), "dry_run", e.dryRun)

	prevOK := true
	for i := range def.Steps {
		step := &def.Steps[i]

		if !step.Condition.Met(prevOK) {
			outcome := &StepOutcome{
				Name:    step.Name,
				Status:  StepSkipped,
				Command: step.Command,
				Reason:  "condition " + step.Condition.String() + " not met",
			}
			res.Steps = append(res.Steps, outcome)
			e.metrics.RecordStepSkipped()
			logger.DebugContext(ctx, "step skipped", "step", step.Name, "condition", step.Condition.String())
			e.notify(outcome)
			continue
		}

		var outcome *StepOutcome
		if ctx.Err() != nil {
			outcome = &StepOutcome{Name: step.Name, Status: StepFailed, Err: interrupted(ctx, def, step.Name)}
		} else {
			outcome = e.runStep(ctx, logger, def, step, rc, res.ID)
		}
		res.Steps = append(res.Steps, outcome)

		prevOK = outcome.Status != StepFailed
		if !prevOK && step.ContinueOnError && ctx.Err() == nil {
			outcome.AllowedFailure = true
			logger.WarnContext(ctx, "step failed, continuing", "step", step.Name, "error", outcome.Err)
		}
		e.notify(outcome)

		if !prevOK && !outcome.AllowedFailure {
			res.State = RunFailed
			res.Err = errors.NewWorkflowFailedError(def.Name, step.Name, outcome.Err)
			break
		}
	}

	if res.State == RunRunning {
		res.State = RunSucceeded
	}
	res.Variables = rc.Snapshot()
	res.EndedAt = time.Now()

	e.metrics.RecordWorkflowRun(string(res.State), res.Executed())
	if res.Err != nil {
		telemetry.RecordError(span, res.Err)
		logger.WithError(res.Err).ErrorContext(ctx, "workflow failed", "duration", res.Duration())
		return res, res.Err
	}
	telemetry.RecordSuccess(span)
	logger.InfoContext(ctx, "workflow succeeded", "duration", res.Duration(), "executed", res.Executed())
	return res, nil
}

func (e *Engine) runStep(ctx context.Context, logger *log.Logger, def *Definition, step *Step, rc *RunContext, runID string) *StepOutcome {
	outcome := &StepOutcome{Name: step.Name, Command: step.Command}

	text, err := rc.Resolve(step.Command, step.Name, step.Variables, def.Variables)
	if err != nil {
		outcome.Status = StepFailed
		outcome.Err = err
		e.metrics.RecordStepAttempt("unbound")
		logger.WithError(err).ErrorContext(ctx, "step has unbound variable", "step", step.Name)
		return outcome
	}
	outcome.Command = text

	if e.dryRun {
		outcome.Status = StepPlanned
		logger.InfoContext(ctx, "step planned", "step", step.Name, "command", text)
		return outcome
	}

	attempts := step.Retry + 1
	var last []*command.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		actx, span := telemetry.StartStepSpan(ctx, step.Name, attempt)
		results, err := e.executor.ExecuteStep(actx, StepRequest{
			Workflow: def.Name,
			RunID:    runID,
			Step:     step.Name,
			Command:  text,
			Timeout:  step.Timeout.Std(),
			Hosts:    step.Hosts,
			Attempt:  attempt,
		})
		for _, r := range results {
			r.Attempt = attempt
		}
		last = results
		outcome.Results = append(outcome.Results, results...)
		outcome.Attempts = attempt

		if err == nil {
			telemetry.RecordSuccess(span)
			span.End()
			outcome.Status = StepSucceeded
			outcome.Err = nil
			e.metrics.RecordStepAttempt("succeeded")
			logger.InfoContext(ctx, "step succeeded", "step", step.Name, "attempt", attempt)
			break
		}

		telemetry.RecordError(span, err)
		span.End()
		if we, ok := errors.As(err); ok && we.Step == "" {
			we.WithStep(step.Name)
		}
		outcome.Status = StepFailed
		outcome.Err = err

		if ctx.Err() != nil {
			outcome.Err = interrupted(ctx, def, step.Name)
			e.metrics.RecordStepAttempt("interrupted")
			break
		}
		if !errors.IsRetryable(err) || attempt == attempts {
			e.metrics.RecordStepAttempt("failed")
			logger.WithError(err).WarnContext(ctx, "step failed", "step", step.Name, "attempt", attempt)
			break
		}
		e.metrics.RecordStepAttempt("retried")
		logger.WithError(err).WarnContext(ctx, "step attempt failed, retrying",
			"step", step.Name, "attempt", attempt, "remaining", attempts-attempt)
	}

	rc.Set(VarLastStep, step.Name)
	if len(last) > 0 {
		rc.SetExitCode(last[len(last)-1].ExitCode)
	}
	if step.Register != "" && outcome.Status == StepSucceeded {
		rc.Set(step.Register, registered(last))
	}
	return outcome
}

func (e *Engine) notify(o *StepOutcome) {
	if e.onStep != nil {
		e.onStep(o)
	}
}

// interrupted converts a done run context into the error that ends the run.
func interrupted(ctx context.Context, def *Definition, step string) error {
	if def.Timeout > 0 && stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.NewTimeoutError("workflow "+def.Name, def.Timeout.Std()).WithStep(step)
	}
	return errors.NewCancelledError("workflow " + def.Name).WithStep(step)
}

func registered(results []*command.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, strings.TrimSpace(r.Stdout))
	}
	return strings.Join(parts, "\n")
}
