package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// A warden invocation lives for seconds, so spans are flushed quickly and
// the final export on shutdown is bounded.
const (
	exportInterval = time.Second
	exportTimeout  = 5 * time.Second
)

var (
	providerMu     sync.RWMutex
	globalProvider trace.TracerProvider
	globalShutdown func(context.Context) error
)

func noShutdown(context.Context) error { return nil }

// install makes tp the provider for the span helpers and the otel global.
// Callers hold providerMu.
func install(tp trace.TracerProvider, shutdown func(context.Context) error) {
	globalProvider = tp
	globalShutdown = shutdown
	otel.SetTracerProvider(tp)
}

// InitProvider installs the tracer provider described by cfg and returns
// the function that flushes and stops it. A disabled config installs a
// no-op provider.
func InitProvider(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	providerMu.Lock()
	defer providerMu.Unlock()

	if !cfg.Enabled {
		install(noop.NewTracerProvider(), noShutdown)
		return noShutdown, nil
	}

	res, err := processResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to describe process for tracing: %w", err)
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	}

	// Without an endpoint spans are still created, so trace IDs reach the
	// logs, but nothing is exported.
	if cfg.Endpoint != "" {
		exporter, err := otlpExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(exportInterval),
			sdktrace.WithExportTimeout(exportTimeout),
		))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	install(tp, tp.Shutdown)
	return tp.Shutdown, nil
}

func processResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
		resource.WithHost(),
		resource.WithOS(),
		resource.WithProcessPID(),
		resource.WithTelemetrySDK(),
	)
}

// sampler keeps every trace at rate 1 and follows the parent otherwise.
func sampler(rate float64) sdktrace.Sampler {
	if rate >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

func otlpExporter(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
		otlptracehttp.WithTimeout(exportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter for %s: %w", cfg.Endpoint, err)
	}
	return exporter, nil
}

// SetTracerProvider replaces the provider used by the span helpers without
// touching the otel global. Tests use it to capture spans.
func SetTracerProvider(tp trace.TracerProvider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	globalProvider = tp
}

// Shutdown flushes the provider installed by InitProvider, if any.
func Shutdown(ctx context.Context) error {
	providerMu.RLock()
	shutdown := globalShutdown
	providerMu.RUnlock()

	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}

// GetTracerProvider returns the installed provider, or a no-op provider
// before InitProvider runs.
func GetTracerProvider() trace.TracerProvider {
	providerMu.RLock()
	defer providerMu.RUnlock()

	if globalProvider == nil {
		return noop.NewTracerProvider()
	}
	return globalProvider
}
