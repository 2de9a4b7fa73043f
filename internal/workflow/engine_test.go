package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
	"github.com/felixgeelhaar/warden/internal/log"
	"github.com/felixgeelhaar/warden/internal/metrics"
)

// scriptedExecutor answers step attempts from a per-step script of errors.
// A nil entry is a success; running past the script repeats the last entry.
type scriptedExecutor struct {
	mu       sync.Mutex
	script   map[string][]error
	stdout   map[string]string
	requests []StepRequest
}

func (s *scriptedExecutor) ExecuteStep(ctx context.Context, req StepRequest) ([]*command.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)

	var err error
	if errs := s.script[req.Step]; len(errs) > 0 {
		idx := req.Attempt - 1
		if idx >= len(errs) {
			idx = len(errs) - 1
		}
		err = errs[idx]
	}

	res := &command.Result{
		Spec:    &command.Spec{Raw: req.Command},
		Host:    command.LocalHost,
		Success: err == nil,
		Err:     err,
		Stdout:  s.stdout[req.Step],
	}
	if we, ok := errors.As(err); ok {
		res.ExitCode = we.ExitCode
	}
	return []*command.Result{res}, err
}

func (s *scriptedExecutor) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Step + ":" + r.Command
	}
	return out
}

func execFail(code int) error {
	return errors.NewExecutionError("x", code, "boom")
}

func newTestEngine(exec StepExecutor, opts ...EngineOption) *Engine {
	return NewEngine(exec, append([]EngineOption{WithLogger(log.Discard())}, opts...)...)
}

func TestRunAllSucceed(t *testing.T) {
	exec := &scriptedExecutor{}
	def := &Definition{Name: "wf", Steps: []Step{
		{Name: "a", Command: "echo a"},
		{Name: "b", Command: "echo b"},
	}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, res.State)
	assert.True(t, res.Succeeded())
	assert.NotEmpty(t, res.ID)
	assert.Equal(t, 2, res.Executed())
	assert.Equal(t, []string{"a:echo a", "b:echo b"}, exec.commands())
}

func TestRetryProducesOneResultPerAttempt(t *testing.T) {
	exec := &scriptedExecutor{script: map[string][]error{"flaky": {execFail(1)}}}
	def := &Definition{Name: "wf", Steps: []Step{{Name: "flaky", Command: "false", Retry: 2}}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.Error(t, err)

	assert.Equal(t, RunFailed, res.State)
	require.Len(t, res.Steps, 1)
	step := res.Steps[0]
	assert.Equal(t, 3, step.Attempts)
	require.Len(t, step.Results, 3)
	for i, r := range step.Results {
		assert.Equal(t, i+1, r.Attempt)
	}
	assert.Len(t, step.Last(), 1)
	assert.True(t, errors.IsKind(err, errors.KindWorkflow))
	assert.Equal(t, "1", res.Variables[VarLastExitCode])
}

func TestRetryStopsOnSuccess(t *testing.T) {
	exec := &scriptedExecutor{script: map[string][]error{"flaky": {execFail(1), nil}}}
	def := &Definition{Name: "wf", Steps: []Step{{Name: "flaky", Command: "x", Retry: 5}}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps[0].Attempts)
	assert.Equal(t, StepSucceeded, res.Steps[0].Status)
}

func TestNonRetryableErrorsStopImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"rejected", errors.NewRejectedError("rm -rf /", "declined")},
		{"capability", errors.NewCapabilityError("vim")},
		{"validation", errors.NewValidationError("echo '", "'", 5)},
		{"cancelled", errors.NewCancelledError("sleep 9")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{script: map[string][]error{"s": {tt.err}}}
			def := &Definition{Name: "wf", Steps: []Step{{Name: "s", Command: "x", Retry: 3}}}

			res, err := newTestEngine(exec).Run(context.Background(), def, nil)
			require.Error(t, err)
			assert.Equal(t, 1, res.Steps[0].Attempts)
		})
	}
}

func TestRetryableKinds(t *testing.T) {
	for _, e := range []error{
		errors.NewTimeoutError("x", time.Second),
		errors.NewConnectionError("h", fmt.Errorf("refused")),
	} {
		exec := &scriptedExecutor{script: map[string][]error{"s": {e}}}
		def := &Definition{Name: "wf", Steps: []Step{{Name: "s", Command: "x", Retry: 1}}}

		res, _ := newTestEngine(exec).Run(context.Background(), def, nil)
		assert.Equal(t, 2, res.Steps[0].Attempts, "kind %s", errors.KindOf(e))
	}
}

func TestOnSuccessChainStopsAtFailure(t *testing.T) {
	exec := &scriptedExecutor{script: map[string][]error{"b": {execFail(2)}}}
	def := &Definition{Name: "wf", Steps: []Step{
		{Name: "a", Command: "a", Condition: ConditionOnSuccess},
		{Name: "b", Command: "b", Condition: ConditionOnSuccess},
		{Name: "c", Command: "c", Condition: ConditionOnSuccess},
	}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.Error(t, err)

	assert.Equal(t, RunFailed, res.State)
	assert.Equal(t, []string{"a:a", "b:b"}, exec.commands(), "c never runs")
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepSucceeded, res.Steps[0].Status)
	assert.Equal(t, StepFailed, res.Steps[1].Status)

	we, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "b", we.Step)
}

func TestContinueOnErrorAndConditions(t *testing.T) {
	exec := &scriptedExecutor{script: map[string][]error{"test": {execFail(1)}}}
	def := &Definition{Name: "wf", Steps: []Step{
		{Name: "test", Command: "pytest", ContinueOnError: true},
		{Name: "deploy", Command: "deploy", Condition: ConditionOnSuccess},
		{Name: "report", Command: "report", Condition: ConditionOnFailure},
		{Name: "cleanup", Command: "cleanup"},
	}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, RunSucceeded, res.State, "allowed failures do not fail the run")
	require.Len(t, res.Steps, 4)
	assert.True(t, res.Steps[0].AllowedFailure)
	assert.Equal(t, StepSkipped, res.Steps[1].Status)
	// A skipped step does not change the previous outcome.
	assert.Equal(t, StepSucceeded, res.Steps[2].Status)
	assert.Equal(t, StepSucceeded, res.Steps[3].Status)
	assert.Equal(t, []string{"test:pytest", "report:report", "cleanup:cleanup"}, exec.commands())
}

func TestUnboundVariableFailsStepWithoutRetry(t *testing.T) {
	exec := &scriptedExecutor{}
	def := &Definition{Name: "wf", Steps: []Step{
		{Name: "greet", Command: "echo ${who}", Retry: 3, ContinueOnError: true},
		{Name: "after", Command: "echo done", Condition: ConditionOnFailure},
	}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, StepFailed, res.Steps[0].Status)
	assert.Equal(t, 0, res.Steps[0].Attempts)
	assert.True(t, errors.IsKind(res.Steps[0].Err, errors.KindUnboundVariable))
	assert.Equal(t, []string{"after:echo done"}, exec.commands())
}

func TestVariablesAndRegister(t *testing.T) {
	exec := &scriptedExecutor{stdout: map[string]string{"version": "1.4.2\n"}}
	def := &Definition{
		Name:      "wf",
		Variables: map[string]string{"app": "api", "env": "dev"},
		Steps: []Step{
			{Name: "version", Command: "cat VERSION", Register: "version"},
			{Name: "ship", Command: "ship ${app}@${version} --env ${env}", Variables: map[string]string{"env": "staging"}},
		},
	}

	res, err := newTestEngine(exec).Run(context.Background(), def, map[string]string{"app": "web"})
	require.NoError(t, err)

	assert.Equal(t, []string{"version:cat VERSION", "ship:ship web@1.4.2 --env staging"}, exec.commands())
	assert.Equal(t, "1.4.2", res.Variables["version"])
	assert.Equal(t, "ship", res.Variables[VarLastStep])
	assert.Equal(t, "ship ${app}@${version} --env ${env}", def.Steps[1].Command, "definition is not mutated")
}

func TestDryRun(t *testing.T) {
	exec := &scriptedExecutor{}
	def := &Definition{Name: "wf", Variables: map[string]string{"d": "/tmp"}, Steps: []Step{
		{Name: "a", Command: "ls ${d}"},
		{Name: "b", Command: "rm -rf ${d}/x", Condition: ConditionOnSuccess},
	}}

	res, err := newTestEngine(exec, WithDryRun(true)).Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Empty(t, exec.commands())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepPlanned, res.Steps[0].Status)
	assert.Equal(t, "rm -rf /tmp/x", res.Steps[1].Command)
}

func TestGlobalTimeout(t *testing.T) {
	exec := StepExecutorFunc(func(ctx context.Context, req StepRequest) ([]*command.Result, error) {
		<-ctx.Done()
		err := errors.NewCancelledError(req.Command)
		return []*command.Result{{Host: command.LocalHost, Err: err}}, err
	})
	def := &Definition{Name: "slow", Timeout: Duration(20 * time.Millisecond), Steps: []Step{
		{Name: "wait", Command: "sleep 60", Retry: 3, ContinueOnError: true},
		{Name: "never", Command: "echo"},
	}}

	res, err := newTestEngine(exec).Run(context.Background(), def, nil)
	require.Error(t, err)

	assert.Equal(t, RunFailed, res.State)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, 1, res.Steps[0].Attempts)
	assert.True(t, errors.IsKind(res.Steps[0].Err, errors.KindTimeout))
	assert.False(t, res.Steps[0].AllowedFailure)
}

func TestCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := StepExecutorFunc(func(context.Context, StepRequest) ([]*command.Result, error) {
		cancel()
		err := errors.NewCancelledError("x")
		return []*command.Result{{Err: err}}, err
	})
	def := &Definition{Name: "wf", Steps: []Step{{Name: "a", Command: "x"}, {Name: "b", Command: "y"}}}

	res, err := newTestEngine(exec).Run(ctx, def, nil)
	require.Error(t, err)
	assert.True(t, errors.IsKind(res.Steps[0].Err, errors.KindCancelled))
	assert.Len(t, res.Steps, 1)
}

func TestRunRejectsInvalidDefinition(t *testing.T) {
	res, err := newTestEngine(&scriptedExecutor{}).Run(context.Background(), &Definition{}, nil)
	assert.Nil(t, res)
	assert.True(t, errors.IsKind(err, errors.KindWorkflow))

	_, err = newTestEngine(&scriptedExecutor{}).Run(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestStepHookAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	var seen []string
	hook := func(o *StepOutcome) { seen = append(seen, o.Name+"="+string(o.Status)) }

	exec := &scriptedExecutor{script: map[string][]error{"a": {execFail(1), nil}}}
	def := &Definition{Name: "wf", Steps: []Step{
		{Name: "a", Command: "a", Retry: 1},
		{Name: "b", Command: "b", Condition: ConditionOnFailure},
	}}

	_, err := newTestEngine(exec, WithMetrics(m), WithStepHook(hook)).Run(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a=succeeded", "b=skipped"}, seen)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepAttempts.WithLabelValues("retried")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepAttempts.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowRuns.WithLabelValues("succeeded")))
}
