package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordACLDecision annotates the span with a command authorization outcome.
func RecordACLDecision(span trace.Span, acl, command string, allowed bool) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(
		attribute.String("command.name", command),
		attribute.Bool("command.allowed", allowed),
	)
	if acl != "" {
		span.SetAttributes(attribute.String("command.acl", acl))
	}
	if !allowed {
		span.AddEvent("command.denied")
	}
}

// RecordStanza annotates the span with the routed stanza header.
func RecordStanza(span trace.Span, kind, stanzaType, to string) {
	if !span.IsRecording() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("stanza.kind", kind),
		attribute.String("stanza.to", to),
	}
	if stanzaType != "" {
		attrs = append(attrs, attribute.String("stanza.type", stanzaType))
	}
	span.SetAttributes(attrs...)
}
