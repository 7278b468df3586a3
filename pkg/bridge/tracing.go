package bridge

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-rest/pkg/telemetry"
)

const tracerName = "github.com/polisai/polis-rest/pkg/bridge"

// TracingManager handles OpenTelemetry span creation for the pipelines. HTTP server
// spans come from otelhttp; the manager adds one child span per pipeline run.
type TracingManager struct {
	tracer  trace.Tracer
	enabled bool
}

// NewTracingManager creates a tracing manager on top of provider. A nil provider
// disables tracing.
func NewTracingManager(provider trace.TracerProvider) *TracingManager {
	if provider == nil {
		return &TracingManager{enabled: false}
	}

	return &TracingManager{
		tracer:  provider.Tracer(tracerName),
		enabled: true,
	}
}

// Enabled reports whether spans are recorded
func (tm *TracingManager) Enabled() bool {
	return tm != nil && tm.enabled
}

// StartSpan starts a new span with the given name and attributes. Credential and
// payload attributes are dropped.
func (tm *TracingManager) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if !tm.Enabled() {
		return ctx, trace.SpanFromContext(ctx)
	}

	return tm.tracer.Start(ctx, name, trace.WithAttributes(telemetry.RedactAttributes(attrs)...))
}

// AddSpanAttributes adds attributes to the current span
func (tm *TracingManager) AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if !tm.Enabled() {
		return
	}

	trace.SpanFromContext(ctx).SetAttributes(telemetry.RedactAttributes(attrs)...)
}

// RecordError records an error on the current span
func (tm *TracingManager) RecordError(ctx context.Context, err error) {
	if !tm.Enabled() || err == nil {
		return
	}

	trace.SpanFromContext(ctx).RecordError(err)
}

// SetSpanStatus sets the status of the current span
func (tm *TracingManager) SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	if !tm.Enabled() {
		return
	}

	trace.SpanFromContext(ctx).SetStatus(code, description)
}
