package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/warden/internal/command"
	"github.com/felixgeelhaar/warden/internal/errors"
)

const tracerName = "github.com/felixgeelhaar/warden"

func tracer() trace.Tracer {
	return GetTracerProvider().Tracer(tracerName)
}

// StartCommandSpan creates a span for one command execution attempt.
//
// Usage:
//
//	ctx, span := telemetry.StartCommandSpan(ctx, spec, command.LocalHost)
//	defer span.End()
func StartCommandSpan(ctx context.Context, spec *command.Spec, host string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "warden.command", trace.WithAttributes(
		attribute.String("command.tier", spec.Tier.String()),
		attribute.String("command.timeout_class", spec.TimeoutClass.String()),
		attribute.String("command.origin", string(spec.Origin)),
		attribute.String("command.fingerprint", spec.Fingerprint()),
		attribute.String("host", host),
	))
}

// StartWorkflowSpan creates the root span of a workflow run.
func StartWorkflowSpan(ctx context.Context, workflow, runID string, steps int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "warden.workflow", trace.WithAttributes(
		attribute.String("workflow.name", workflow),
		attribute.String("workflow.run_id", runID),
		attribute.Int("workflow.steps", steps),
	))
}

// StartStepSpan creates a span for one attempt of a workflow step.
func StartStepSpan(ctx context.Context, step string, attempt int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "warden.step", trace.WithAttributes(
		attribute.String("step.name", step),
		attribute.Int("step.attempt", attempt),
	))
}

// StartDispatchSpan creates a span covering a multi-host dispatch.
func StartDispatchSpan(ctx context.Context, spec *command.Spec, hosts int) (context.Context, trace.Span) {
	return tracer().Start(ctx, "warden.dispatch", trace.WithAttributes(
		attribute.String("command.tier", spec.Tier.String()),
		attribute.Int("dispatch.hosts", hosts),
	))
}

// StartHostSpan creates a span for the execution on one remote host.
func StartHostSpan(ctx context.Context, host string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "warden.host", trace.WithAttributes(
		attribute.String("host", host),
	))
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records an error in a span and sets error status.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if kind := errors.KindOf(err); kind != "" {
		span.SetAttributes(attribute.String("error.kind", string(kind)))
	}
}

// RecordResult sets the outcome of an execution attempt on span.
func RecordResult(span trace.Span, res *command.Result) {
	attrs := []attribute.KeyValue{
		attribute.Int("command.exit_code", res.ExitCode),
		attribute.Int64("command.duration_ms", res.Duration().Milliseconds()),
	}
	if res.Success {
		RecordSuccess(span, attrs...)
		return
	}
	span.SetAttributes(attrs...)
	RecordError(span, res.Err)
}
