package bridge

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// StructuredLogger provides enhanced logging capabilities for the bridge
type StructuredLogger struct {
	logger *slog.Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *slog.Logger) *StructuredLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &StructuredLogger{logger: logger}
}

// Logger returns the underlying slog logger
func (sl *StructuredLogger) Logger() *slog.Logger {
	return sl.logger
}

// LogStanza logs the result of a stanza pipeline run
func (sl *StructuredLogger) LogStanza(ctx context.Context, servedDomain, kind, outcome string, status int, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("domain", servedDomain),
		slog.String("kind", kind),
		slog.String("outcome", outcome),
		slog.Int("status_code", status),
		slog.Duration("duration", duration),
	}
	attrs = appendTrace(ctx, attrs)

	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	}
	sl.logger.LogAttrs(ctx, level, "Stanza processed", attrs...)
}

// LogCommand logs an administrative command invocation. Arguments are never logged
// since they may carry credentials.
func (sl *StructuredLogger) LogCommand(ctx context.Context, servedDomain, command string, code int, duration time.Duration) {
	attrs := []slog.Attr{
		slog.String("domain", servedDomain),
		slog.String("command", command),
		slog.Int("code", code),
		slog.Duration("duration", duration),
	}
	attrs = appendTrace(ctx, attrs)

	level := slog.LevelInfo
	if code != 0 {
		level = slog.LevelWarn
	}
	sl.logger.LogAttrs(ctx, level, "Command executed", attrs...)
}

// LogSecurityEvent logs a request refused by an access check
func (sl *StructuredLogger) LogSecurityEvent(ctx context.Context, servedDomain, check, value string) {
	attrs := []slog.Attr{
		slog.String("event_type", "access_denied"),
		slog.String("domain", servedDomain),
		slog.String("check", check),
		slog.String("value", value),
	}
	attrs = appendTrace(ctx, attrs)

	sl.logger.LogAttrs(ctx, slog.LevelWarn, "Security event", attrs...)
}

// LogHTTPRequest logs HTTP request details
func (sl *StructuredLogger) LogHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration, requestID string) {
	attrs := []slog.Attr{
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration),
	}

	if requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}
	attrs = appendTrace(ctx, attrs)

	level := slog.LevelInfo
	if statusCode >= 400 {
		level = slog.LevelWarn
	}
	if statusCode >= 500 {
		level = slog.LevelError
	}

	sl.logger.LogAttrs(ctx, level, "HTTP request", attrs...)
}

func appendTrace(ctx context.Context, attrs []slog.Attr) []slog.Attr {
	if traceID := getTraceID(ctx); traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if spanID := getSpanID(ctx); spanID != "" {
		attrs = append(attrs, slog.String("span_id", spanID))
	}
	return attrs
}

func getTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

func getSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
