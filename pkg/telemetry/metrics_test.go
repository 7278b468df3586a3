package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	metrics := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			metrics[m.Name] = m
		}
	}
	return metrics
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(prev)
		resetMetrics()
	})
	resetMetrics()

	RecordOutcome(ctx, OutcomeMetrics{Kind: "stanza", Domain: "example.com", Status: 200, Duration: 20 * time.Millisecond})
	RecordOutcome(ctx, OutcomeMetrics{Kind: "stanza", Domain: "example.com", Status: 406, Reason: "destination"})

	metrics := collect(t, reader)

	outcomes, ok := metrics["rest.outcomes_total"]
	if !ok {
		t.Fatalf("missing rest.outcomes_total metric")
	}
	sum, ok := outcomes.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("unexpected data type for outcomes metric")
	}
	if len(sum.DataPoints) != 2 {
		t.Fatalf("expected 2 datapoints, got %d", len(sum.DataPoints))
	}
	for _, dp := range sum.DataPoints {
		if dp.Value != 1 {
			t.Fatalf("expected count 1, got %d", dp.Value)
		}
		if value, ok := dp.Attributes.Value(attribute.Key("rest.kind")); !ok || value.AsString() != "stanza" {
			t.Fatalf("expected rest.kind stanza, got %v", value)
		}
	}

	rejections := metrics["rest.rejections_total"].Data.(metricdata.Sum[int64])
	if len(rejections.DataPoints) != 1 {
		t.Fatalf("expected 1 rejection datapoint, got %d", len(rejections.DataPoints))
	}
	if value, ok := rejections.DataPoints[0].Attributes.Value(attribute.Key("rest.reason")); !ok || value.AsString() != "destination" {
		t.Fatalf("expected reason destination, got %v", value)
	}

	hist := metrics["rest.outcome.duration_ms"].Data.(metricdata.Histogram[float64])
	if hist.DataPoints[0].Count != 1 || hist.DataPoints[0].Sum != 20 {
		t.Fatalf("unexpected histogram point %+v", hist.DataPoints[0])
	}
}

func TestRecordSecurityEvent(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	tracer := tp.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "stanza")
	RecordSecurityEvent(span, true, "source_ip", "203.0.113.7")
	RecordACLDecision(span, "admins", "domains", false)
	RecordStanza(span, "message", "chat", "bot@example.com")
	span.End()
	_ = ctx

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	events := spans[0].Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Name != "security.event" || events[1].Name != "command.denied" {
		t.Fatalf("unexpected events %q, %q", events[0].Name, events[1].Name)
	}

	attrs := attribute.NewSet(events[0].Attributes...)
	if value, ok := attrs.Value(attribute.Key("security.check")); !ok || value.AsString() != "source_ip" {
		t.Fatalf("expected security.check source_ip, got %v", value)
	}

	spanAttrs := attribute.NewSet(spans[0].Attributes()...)
	if value, ok := spanAttrs.Value(attribute.Key("stanza.kind")); !ok || value.AsString() != "message" {
		t.Fatalf("expected stanza.kind message, got %v", value)
	}
	if value, ok := spanAttrs.Value(attribute.Key("command.allowed")); !ok || value.AsBool() {
		t.Fatalf("expected command.allowed false, got %v", value)
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown tracer provider: %v", err)
	}
}

func TestRedactAttributes(t *testing.T) {
	attrs := []attribute.KeyValue{
		attribute.String("http.request.header.authorization", "Bearer secret"),
		attribute.String("command.auth.password", "hunter2"),
		attribute.String("custom.secret", "x"),
		attribute.String("safe.field", "value"),
	}

	filtered := RedactAttributes(attrs, "custom.secret")
	if len(filtered) != 1 || filtered[0].Key != "safe.field" {
		t.Fatalf("unexpected attributes after redaction: %v", filtered)
	}
}

func TestSetupProviderWithoutEndpoint(t *testing.T) {
	provider, shutdown, err := SetupProvider(context.Background(), Config{ServiceName: "polis-rest"})
	if err != nil {
		t.Fatalf("setup provider: %v", err)
	}
	if provider != nil {
		t.Fatalf("expected nil provider without endpoint")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
