package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for warden. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// Command execution metrics
	CommandExecutions *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	CommandErrors     *prometheus.CounterVec

	// Confirmation gate metrics
	GateDecisions *prometheus.CounterVec

	// Workflow metrics
	WorkflowRuns  *prometheus.CounterVec
	StepAttempts  *prometheus.CounterVec
	StepsSkipped  prometheus.Counter
	WorkflowSteps *prometheus.HistogramVec

	// Remote dispatch metrics
	Dispatches       *prometheus.CounterVec
	HostConnectFails *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		CommandExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_command_executions_total",
				Help: "Total number of command execution attempts",
			},
			[]string{"tier", "host_kind", "success"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_command_duration_seconds",
				Help:    "Command execution duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 300, 1800},
			},
			[]string{"tier"},
		),
		CommandErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_command_errors_total",
				Help: "Total number of failed command attempts by error kind",
			},
			[]string{"kind"},
		),

		GateDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_gate_decisions_total",
				Help: "Total number of confirmation gate decisions",
			},
			[]string{"state"},
		),

		WorkflowRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_workflow_runs_total",
				Help: "Total number of workflow runs by terminal state",
			},
			[]string{"state"},
		),
		StepAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_workflow_step_attempts_total",
				Help: "Total number of workflow step attempts",
			},
			[]string{"outcome"},
		),
		StepsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_workflow_steps_skipped_total",
				Help: "Total number of workflow steps skipped by their condition",
			},
		),
		WorkflowSteps: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_workflow_steps_executed",
				Help:    "Number of steps executed per workflow run",
				Buckets: []float64{1, 2, 5, 10, 20, 50},
			},
			[]string{"state"},
		),

		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_dispatch_total",
				Help: "Total number of remote dispatches by summary",
			},
			[]string{"summary"},
		),
		HostConnectFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_host_connection_failures_total",
				Help: "Total number of failed remote host connections",
			},
			[]string{"host"},
		),
	}
}

// RecordCommand records one execution attempt. kind is the error kind, empty
// on success.
func (m *Metrics) RecordCommand(tier, hostKind string, success bool, d time.Duration, kind string) {
	if m == nil {
		return
	}
	m.CommandExecutions.WithLabelValues(tier, hostKind, strconv.FormatBool(success)).Inc()
	m.CommandDuration.WithLabelValues(tier).Observe(d.Seconds())
	if !success && kind != "" {
		m.CommandErrors.WithLabelValues(kind).Inc()
	}
}

// RecordGateDecision records a confirmation gate verdict.
func (m *Metrics) RecordGateDecision(state string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(state).Inc()
}

// RecordStepAttempt records one workflow step attempt outcome.
func (m *Metrics) RecordStepAttempt(outcome string) {
	if m == nil {
		return
	}
	m.StepAttempts.WithLabelValues(outcome).Inc()
}

// RecordStepSkipped records a step whose condition was not met.
func (m *Metrics) RecordStepSkipped() {
	if m == nil {
		return
	}
	m.StepsSkipped.Inc()
}

// RecordWorkflowRun records a finished workflow run.
func (m *Metrics) RecordWorkflowRun(state string, executedSteps int) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(state).Inc()
	m.WorkflowSteps.WithLabelValues(state).Observe(float64(executedSteps))
}

// RecordDispatch records a finished multi-host dispatch.
func (m *Metrics) RecordDispatch(summary string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(summary).Inc()
}

// RecordHostConnectFailure records a host that could not be reached.
func (m *Metrics) RecordHostConnectFailure(host string) {
	if m == nil {
		return
	}
	m.HostConnectFails.WithLabelValues(host).Inc()
}
