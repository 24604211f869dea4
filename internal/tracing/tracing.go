// Package tracing wraps each pipeline run and task slot in an OpenTelemetry
// span, exporting over OTLP/HTTP.
//
// Exporter/resource/provider setup and the span-wrapper pattern collapse a
// prior multi-exporter choice (jaeger/otlp/console) down to OTLP-only — this
// module's go.mod never pulls in the jaeger exporter, so there is nothing to
// wire it to; see DESIGN.md.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config configures the exporter and sampling for one process's tracing.
type Config struct {
	Enabled     bool
	ServiceName string
	Environment string
	Endpoint    string // e.g. "http://localhost:4318/v1/traces"; used only when Enabled
	SampleRate  float64
}

// Manager owns the tracer provider for one process lifetime (one pipeline
// invocation, per spec §5's single-threaded-per-job model).
type Manager struct {
	config   Config
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// New builds a Manager. When cfg.Enabled is false it returns a no-op tracer
// so callers never need a nil check.
func New(cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: cfg}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpointURL(m.config.Endpoint),
	))
	if err != nil {
		return fmt.Errorf("tracing: create otlp exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", m.config.ServiceName),
			attribute.String("deployment.environment", m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: build resource: %w", err)
	}

	rate := m.config.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)
	return nil
}

// Shutdown flushes and stops the tracer provider, if one was created.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// StartRun opens the root span for one pipeline invocation.
func (m *Manager) StartRun(ctx context.Context, jobName string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, "pipeline.run", oteltrace.WithAttributes(
		attribute.String("job_name", jobName),
	))
}

// StartTask opens a child span for one task slot.
func (m *Manager) StartTask(ctx context.Context, slot string) (context.Context, oteltrace.Span) {
	return m.tracer.Start(ctx, "pipeline.task", oteltrace.WithAttributes(
		attribute.String("task_slot", slot),
	))
}

// RecordError marks span as failed with err, if err is non-nil.
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
