package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"runtime/debug"
	"strings"

	"github.com/polisai/polis-rest/pkg/access"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/telemetry"
)

// Request is the transport-independent view of a REST call.
type Request struct {
	Method  string
	SubPath string // path below the endpoint prefix, without leading '/'
	Body    []byte
	Domain  string
	Source  netip.Addr
}

// RequestRouter dispatches REST calls to the stanza or command pipeline.
type RequestRouter struct {
	Stanzas  *StanzaPipeline
	Commands *CommandPipeline
	Gate     *access.Gate

	// BasePath is stripped from the URL path to compute Request.SubPath.
	BasePath     string
	MaxBodyBytes int64

	logger *slog.Logger
}

// NewRequestRouter creates a router
func NewRequestRouter(gate *access.Gate, stanzas *StanzaPipeline, cmds *CommandPipeline, logger *slog.Logger) *RequestRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestRouter{Gate: gate, Stanzas: stanzas, Commands: cmds, logger: logger}
}

// Dispatch selects a pipeline: a POST to the endpoint itself whose body starts with '<'
// is a stanza, any other POST body is a command line from a permitted source. Every
// other request receives the default reply.
func (rr *RequestRouter) Dispatch(ctx context.Context, req Request) Outcome {
	if req.Method != http.MethodPost || req.SubPath != "" {
		return defaultOutcome()
	}

	if len(req.Body) > 0 && req.Body[0] == '<' {
		return rr.Stanzas.Handle(ctx, req.Body, req.Domain, req.Source)
	}

	if err := rr.Gate.CheckSource(req.Domain, req.Source); err != nil {
		outcome := errorOutcome(err)
		var denied *domain.AccessDeniedError
		if errors.As(err, &denied) {
			rr.Commands.Metrics.RecordRejection(denied.Check)
			if rr.Commands.Log != nil {
				rr.Commands.Log.LogSecurityEvent(ctx, req.Domain, denied.Check, denied.Value)
			}
		}
		telemetry.RecordOutcome(ctx, telemetry.OutcomeMetrics{
			Kind:   "command",
			Domain: req.Domain,
			Status: outcome.Status,
			Reason: outcome.Reason,
		})
		return outcome
	}
	return rr.Commands.Handle(ctx, req.Body, req.Domain)
}

// ServeHTTP implements http.Handler. A panic anywhere below yields {500, "Error"}.
func (rr *RequestRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			rr.logger.Error("REST handler panicked",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			internalErrorOutcome().Write(w)
		}
	}()

	req := Request{
		Method:  r.Method,
		SubPath: rr.subPath(r.URL.Path),
		Domain:  domain.ServedDomain(r.Context()),
	}
	if source, err := ParseSource(r.RemoteAddr); err == nil {
		req.Source = source
	} else {
		rr.logger.Debug("Unusable peer address", "error", err)
	}

	if req.Method == http.MethodPost && req.SubPath == "" {
		body, err := rr.readBody(w, r)
		if err != nil {
			if errors.Is(err, ErrBodyTooLarge) {
				rr.logger.Warn("REST request body too large", "limit", rr.MaxBodyBytes)
				Outcome{Status: http.StatusRequestEntityTooLarge, Body: BodyError, Reason: "body_too_large"}.Write(w)
				return
			}
			rr.logger.Warn("Failed to read REST request body", "error", err)
			internalErrorOutcome().Write(w)
			return
		}
		req.Body = body
	}

	rr.Dispatch(r.Context(), req).Write(w)
}

func (rr *RequestRouter) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := io.Reader(r.Body)
	if rr.MaxBodyBytes > 0 {
		reader = http.MaxBytesReader(w, r.Body, rr.MaxBodyBytes)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, tooLarge.Limit)
		}
		return nil, err
	}
	return body, nil
}

func (rr *RequestRouter) subPath(path string) string {
	base := strings.TrimSuffix(rr.BasePath, "/")
	if base != "" {
		if path != base && !strings.HasPrefix(path, base+"/") {
			return strings.Trim(path, "/")
		}
		path = strings.TrimPrefix(path, base)
	}
	return strings.Trim(path, "/")
}

// ParseSource extracts the peer address from an http.Request RemoteAddr. Callers that
// ignore the error get the zero netip.Addr, which matches no network.
func ParseSource(remote string) (netip.Addr, error) {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap(), nil
	}
	if addr, err := netip.ParseAddr(remote); err == nil {
		return addr.Unmap(), nil
	}
	return netip.Addr{}, &SourceAddressError{RemoteAddr: remote}
}
