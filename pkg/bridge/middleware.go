package bridge

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/polisai/polis-rest/pkg/domain"
)

// DomainHeader is the HTTP header that selects the served domain explicitly
const DomainHeader = "X-Polis-Domain"

// RequestIDHeader carries the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// RequestIDContextKey is the context key for storing the request id
const RequestIDContextKey contextKey = "requestID"

// DomainResolver determines the served domain of a request and stores it in the
// request context
type DomainResolver struct {
	DefaultDomain string
	// Known reports whether a host names a served domain. Hosts it rejects fall
	// through to DefaultDomain when one is set.
	Known  func(name string) bool
	logger *slog.Logger
}

// NewDomainResolver creates a new domain resolver
func NewDomainResolver(defaultDomain string, logger *slog.Logger) *DomainResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &DomainResolver{DefaultDomain: defaultDomain, logger: logger}
}

// Resolve returns the served domain: the X-Polis-Domain header, then the request host
// without its port, then the default domain.
func (d *DomainResolver) Resolve(r *http.Request) string {
	// 1. Explicit header
	if name := normalizeDomain(r.Header.Get(DomainHeader)); name != "" {
		return name
	}

	// 2. Host
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if name := normalizeDomain(host); name != "" && d.useHost(name) {
		return name
	}

	// 3. Fallback
	return normalizeDomain(d.DefaultDomain)
}

func (d *DomainResolver) useHost(name string) bool {
	return d.Known == nil || d.DefaultDomain == "" || d.Known(name)
}

// Wrap wraps an HTTP handler with domain resolution
func (d *DomainResolver) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := d.Resolve(r)
		if name == "" {
			d.logger.Debug("No served domain resolved", "path", r.URL.Path, "host", r.Host)
		}
		ctx := domain.WithServedDomain(r.Context(), name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func normalizeDomain(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(strings.TrimSuffix(name, "]"), "[")
	return strings.ToLower(strings.TrimSuffix(name, "."))
}

// RequestIDMiddleware assigns a request id, honoring one supplied by the caller, and
// logs the request once it completes
func RequestIDMiddleware(log *StructuredLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), RequestIDContextKey, id)
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		if log != nil {
			log.LogHTTPRequest(ctx, r.Method, r.URL.Path, wrapped.statusCode, time.Since(start), id)
		}
	})
}

// GetRequestID extracts the request id from the context
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDContextKey).(string)
	return id, ok
}
