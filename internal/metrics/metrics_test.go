package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCommand(t *testing.T) {
	_, m := NewRegistry()

	m.RecordCommand("benign", "local", true, 200*time.Millisecond, "")
	m.RecordCommand("destructive", "remote", false, time.Second, "timeout")
	m.RecordCommand("destructive", "remote", false, time.Second, "timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandExecutions.WithLabelValues("benign", "local", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandExecutions.WithLabelValues("destructive", "remote", "false")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandErrors.WithLabelValues("timeout")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.CommandDuration))
}

func TestRecordWorkflow(t *testing.T) {
	_, m := NewRegistry()

	m.RecordStepAttempt("failed")
	m.RecordStepAttempt("failed")
	m.RecordStepAttempt("succeeded")
	m.RecordStepSkipped()
	m.RecordWorkflowRun("failed", 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.StepAttempts.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StepsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkflowRuns.WithLabelValues("failed")))
}

func TestRecordGateAndDispatch(t *testing.T) {
	_, m := NewRegistry()

	m.RecordGateDecision("auto-approved")
	m.RecordDispatch("partial-failure")
	m.RecordHostConnectFailure("db-1")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateDecisions.WithLabelValues("auto-approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dispatches.WithLabelValues("partial-failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HostConnectFails.WithLabelValues("db-1")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordCommand("benign", "local", true, time.Second, "")
		m.RecordGateDecision("approved")
		m.RecordStepAttempt("succeeded")
		m.RecordStepSkipped()
		m.RecordWorkflowRun("succeeded", 1)
		m.RecordDispatch("all-succeeded")
		m.RecordHostConnectFailure("h")
	})
}

func TestServe(t *testing.T) {
	reg, m := NewRegistry()
	m.RecordDispatch("all-succeeded")

	srv, err := Serve("127.0.0.1:0", reg)
	require.NoError(t, err)
	defer func() { _ = srv.Shutdown(context.Background()) }()

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `warden_dispatch_total{summary="all-succeeded"} 1`))
}
