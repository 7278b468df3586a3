package bridge

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-rest/pkg/access"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/stanza"
	"github.com/polisai/polis-rest/pkg/telemetry"
)

// StanzaPipeline turns a raw XML body into a routed stanza. It holds no per-request
// state and is safe for concurrent use.
type StanzaPipeline struct {
	Gate     *access.Gate
	Parser   domain.ElementParser
	Decoder  domain.MessageDecoder
	Notifier domain.Notifier
	Router   domain.Router

	Log     *StructuredLogger
	Metrics *Metrics
	Tracing *TracingManager
}

// NewStanzaPipeline creates a pipeline with the default parser and decoder.
func NewStanzaPipeline(gate *access.Gate, router domain.Router, notifier domain.Notifier) *StanzaPipeline {
	return &StanzaPipeline{
		Gate:     gate,
		Parser:   stanza.Parser{},
		Decoder:  stanza.Decoder{},
		Notifier: notifier,
		Router:   router,
	}
}

// Handle runs the source check, parse, decode and stanza checks in order, stopping at
// the first failure. On success the stanza is announced to the notifier and handed to
// the router without waiting for delivery.
func (p *StanzaPipeline) Handle(ctx context.Context, body []byte, servedDomain string, source netip.Addr) Outcome {
	start := time.Now()
	timer := p.Metrics.NewRequestTimer("stanza")

	ctx, span := p.Tracing.StartSpan(ctx, "rest.stanza",
		attribute.String("rest.domain", servedDomain),
		attribute.String("rest.source", source.String()),
	)
	defer span.End()

	kind := ""
	outcome := p.run(ctx, body, servedDomain, source, &kind)

	if outcome.Status != okOutcome().Status {
		p.Tracing.SetSpanStatus(ctx, codes.Error, outcome.Reason)
	} else {
		p.Tracing.SetSpanStatus(ctx, codes.Ok, "")
	}

	duration := time.Since(start)
	timer.Done(outcome.Status)
	metrics := telemetry.OutcomeMetrics{
		Kind:     "stanza",
		Domain:   servedDomain,
		Status:   outcome.Status,
		Duration: duration,
	}
	if outcome.Reason != "routed" {
		metrics.Reason = outcome.Reason
	}
	telemetry.RecordOutcome(ctx, metrics)
	if p.Log != nil {
		p.Log.LogStanza(ctx, servedDomain, kind, outcome.Reason, outcome.Status, duration)
	}
	return outcome
}

func (p *StanzaPipeline) run(ctx context.Context, body []byte, servedDomain string, source netip.Addr, kind *string) Outcome {
	if err := p.Gate.CheckSource(servedDomain, source); err != nil {
		return p.fail(ctx, servedDomain, err)
	}

	el, err := p.Parser.ParseElement(body)
	if err != nil {
		var parseErr *domain.ParseError
		if !errors.As(err, &parseErr) {
			err = &domain.ParseError{Err: err}
		}
		return p.fail(ctx, servedDomain, err)
	}

	st, err := p.Decoder.DecodeStanza(el)
	if err != nil {
		var decodeErr *domain.DecodeError
		if !errors.As(err, &decodeErr) {
			p.Tracing.RecordError(ctx, err)
			return internalErrorOutcome()
		}
		return p.fail(ctx, servedDomain, err)
	}
	*kind = string(st.Kind)
	telemetry.RecordStanza(trace.SpanFromContext(ctx), string(st.Kind), st.Type, st.To.String())

	if err := p.Gate.CheckStanza(servedDomain, st); err != nil {
		return p.fail(ctx, servedDomain, err)
	}

	if p.Notifier != nil {
		if err := p.Notifier.PreSend(ctx, st, st.From); err != nil {
			p.Tracing.RecordError(ctx, err)
			if p.Log != nil {
				p.Log.Logger().WarnContext(ctx, "Pre-send notification failed",
					"domain", servedDomain, "error", err)
			}
		}
	}

	p.Router.Route(ctx, st)
	p.Metrics.RecordRouted(string(st.Kind))
	return okOutcome()
}

// fail converts err into an outcome, recording rejections on the span, in logs and in
// metrics.
func (p *StanzaPipeline) fail(ctx context.Context, servedDomain string, err error) Outcome {
	p.Tracing.RecordError(ctx, err)

	var denied *domain.AccessDeniedError
	if errors.As(err, &denied) {
		telemetry.RecordSecurityEvent(trace.SpanFromContext(ctx), true, denied.Check, denied.Value)
		p.Metrics.RecordRejection(denied.Check)
		if p.Log != nil {
			p.Log.LogSecurityEvent(ctx, servedDomain, denied.Check, denied.Value)
		}
	} else if errors.Is(err, domain.ErrMalformedStanza) {
		p.Metrics.RecordRejection("malformed")
	}
	return errorOutcome(err)
}
