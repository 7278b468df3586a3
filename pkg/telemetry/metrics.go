package telemetry

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	metricsOnce      sync.Once
	metricsInitErr   error
	outcomeCounter   metric.Int64Counter
	rejectionCounter metric.Int64Counter
	outcomeLatency   metric.Float64Histogram
)

// OutcomeMetrics captures the fields recorded for every bridge request.
type OutcomeMetrics struct {
	Kind     string // "stanza", "command" or "default"
	Domain   string
	Status   int
	Reason   string // rejection reason, empty when accepted
	Duration time.Duration
}

// RecordOutcome emits counters and histograms describing a request outcome.
func RecordOutcome(ctx context.Context, m OutcomeMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("rest.kind", m.Kind),
		attribute.String("rest.domain", m.Domain),
		attribute.String("http.status_code", strconv.Itoa(m.Status)),
	}

	outcomeCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if m.Duration > 0 {
		outcomeLatency.Record(ctx, float64(m.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if m.Reason != "" {
		rejectionCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("rest.kind", m.Kind),
			attribute.String("rest.reason", m.Reason),
		))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("polis-rest")

		outcomeCounter, metricsInitErr = meter.Int64Counter(
			"rest.outcomes_total",
			metric.WithDescription("Bridge requests partitioned by kind and status"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		rejectionCounter, metricsInitErr = meter.Int64Counter(
			"rest.rejections_total",
			metric.WithDescription("Rejected bridge requests partitioned by reason"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		outcomeLatency, metricsInitErr = meter.Float64Histogram(
			"rest.outcome.duration_ms",
			metric.WithDescription("Observed request handling latency"),
			metric.WithUnit("ms"),
		)
	})

	return metricsInitErr
}

// resetMetrics clears cached instruments so tests can bind a fresh MeterProvider.
func resetMetrics() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	outcomeCounter = nil
	rejectionCounter = nil
	outcomeLatency = nil
}

// RecordSecurityEvent attaches a rejection to the span without leaking the request body.
func RecordSecurityEvent(span trace.Span, rejected bool, check, value string) {
	if span == nil || !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.Bool("security.rejected", rejected),
	}
	if check != "" {
		attrs = append(attrs, attribute.String("security.check", check))
	}
	if value != "" {
		attrs = append(attrs, attribute.String("security.value", value))
	}

	span.AddEvent("security.event", trace.WithAttributes(attrs...))
}
