package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-rest/pkg/access"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/storage"
)

// Components are the collaborators the bridge dispatches to
type Components struct {
	Policies storage.PolicyStore
	Router   domain.Router
	Notifier domain.Notifier
	Executor domain.CommandExecutor

	// Events streams routed stanzas; nil disables the events endpoint
	Events http.Handler

	// TracerProvider is nil when tracing is disabled
	TracerProvider trace.TracerProvider

	// Limiter throttles REST requests per served domain; nil disables it
	Limiter *RateLimiter
}

// Bridge is the REST bridge HTTP server
type Bridge struct {
	opts          *Options
	components    Components
	gate          *access.Gate
	router        *RequestRouter
	resolver      *DomainResolver
	handler       http.Handler
	httpServer    *http.Server
	logger        *slog.Logger
	structuredLog *StructuredLogger
	metrics       *Metrics
	tracing       *TracingManager
	started       time.Time
	mu            sync.RWMutex
	stopOnce      sync.Once
}

// NewBridge creates a new bridge instance
func NewBridge(opts *Options, components Components, logger *slog.Logger) *Bridge {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		opts:          opts,
		components:    components,
		gate:          access.NewGate(components.Policies),
		resolver:      NewDomainResolver(opts.DefaultDomain, logger),
		logger:        logger,
		structuredLog: NewStructuredLogger(logger),
		tracing:       NewTracingManager(components.TracerProvider),
		started:       time.Now(),
	}

	if components.Policies != nil {
		b.resolver.Known = func(name string) bool {
			_, err := components.Policies.DomainPolicy(name)
			return err == nil
		}
	}

	if opts.MetricsEnabled {
		b.metrics = NewMetrics(b.endpointPaths())
	}

	stanzas := NewStanzaPipeline(b.gate, components.Router, components.Notifier)
	stanzas.Log, stanzas.Metrics, stanzas.Tracing = b.structuredLog, b.metrics, b.tracing

	cmds := NewCommandPipeline(b.gate, components.Executor)
	cmds.Log, cmds.Metrics, cmds.Tracing = b.structuredLog, b.metrics, b.tracing

	b.router = NewRequestRouter(b.gate, stanzas, cmds, logger)
	b.router.BasePath = opts.BasePath
	b.router.MaxBodyBytes = opts.MaxBodyBytes

	mux := http.NewServeMux()
	b.setupRoutes(mux)

	handler := RequestIDMiddleware(b.structuredLog, mux)
	if components.TracerProvider != nil {
		handler = otelhttp.NewHandler(handler, "polis-rest",
			otelhttp.WithTracerProvider(components.TracerProvider),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + b.endpointPaths().Label(r.URL.Path)
			}),
		)
	}
	b.handler = handler

	return b
}

// Handler returns the root HTTP handler
func (b *Bridge) Handler() http.Handler {
	return b.handler
}

// Metrics returns the Prometheus metrics, nil when disabled
func (b *Bridge) Metrics() *Metrics {
	return b.metrics
}

// Gate returns the access gate shared by both pipelines
func (b *Bridge) Gate() *access.Gate {
	return b.gate
}

// Start listens on the configured address and serves until ctx is cancelled
func (b *Bridge) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", b.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", b.opts.ListenAddr, err)
	}
	return b.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	b.mu.Lock()
	b.httpServer = &http.Server{
		Handler:           b.handler,
		ReadHeaderTimeout: b.opts.ReadHeaderTimeout,
		TLSConfig:         b.opts.TLS,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := b.httpServer
	b.mu.Unlock()

	b.logger.Info("Starting REST bridge",
		"listen_addr", ln.Addr().String(),
		"base_path", b.opts.BasePath,
		"tls", b.opts.TLS != nil)

	errCh := make(chan error, 1)
	go func() {
		var err error
		if b.opts.TLS != nil {
			err = server.ServeTLS(ln, b.opts.CertFile, b.opts.KeyFile)
		} else {
			err = server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.opts.ShutdownTimeout)
		defer cancel()
		return b.Stop(shutdownCtx)
	}
}

// Stop gracefully stops the bridge server
func (b *Bridge) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.logger.Info("Stopping REST bridge")

		b.mu.RLock()
		server := b.httpServer
		b.mu.RUnlock()

		if server != nil {
			if stopErr := server.Shutdown(ctx); stopErr != nil {
				b.logger.Error("Failed to shut down HTTP server", "error", stopErr)
				err = stopErr
			}
		}
	})

	return err
}

// HealthStatus represents the health status of the bridge
type HealthStatus struct {
	Status  string   `json:"status"`
	Reason  string   `json:"reason,omitempty"`
	Version string   `json:"version"`
	Uptime  string   `json:"uptime"`
	Domains []string `json:"domains"`
}

// Health returns the current health status of the bridge
func (b *Bridge) Health() *HealthStatus {
	status := &HealthStatus{
		Status:  "healthy",
		Version: b.opts.Version,
		Uptime:  time.Since(b.started).Truncate(time.Second).String(),
		Domains: []string{},
	}

	if b.components.Policies == nil {
		status.Status = "unhealthy"
		status.Reason = "policy store not configured"
		return status
	}
	status.Domains = b.components.Policies.Domains()
	if len(status.Domains) == 0 {
		status.Status = "degraded"
		status.Reason = "no domains configured"
	}
	return status
}

// setupRoutes configures HTTP routes for the bridge
func (b *Bridge) setupRoutes(mux *http.ServeMux) {
	wrapBase := func(handler http.Handler) http.Handler {
		if b.metrics != nil {
			return b.metrics.MetricsMiddleware(handler)
		}
		return handler
	}

	var restHandler http.Handler = b.router
	if b.components.Limiter != nil {
		restHandler = b.components.Limiter.Middleware(restHandler, b.rateLimited)
	}
	rest := wrapBase(b.resolver.Wrap(restHandler))
	base := strings.TrimSuffix(b.opts.BasePath, "/")
	if base != "" {
		mux.Handle(base, rest)
	}
	mux.Handle(base+"/", rest)

	mux.Handle("/health", wrapBase(http.HandlerFunc(b.handleHealth)))

	if b.components.Events != nil && b.opts.EventsPath != "" {
		mux.Handle(b.opts.EventsPath, wrapBase(b.resolver.Wrap(b.guardEvents(b.components.Events))))
	}

	if b.metrics != nil {
		mux.Handle(b.opts.MetricsPath, b.metrics.Handler())
	}
}

// guardEvents subjects event stream subscriptions to the served domain's source
// allow-list and confines them to recipients of that domain. A missing or malformed
// jid is left for the stream handler to refuse.
func (b *Bridge) guardEvents(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		served := domain.ServedDomain(ctx)
		source, err := ParseSource(r.RemoteAddr)
		if err != nil {
			b.logger.Debug("Unusable peer address", "error", err)
		}

		if jid, parseErr := domain.ParseJID(r.URL.Query().Get("jid")); parseErr == nil {
			err = b.gate.CheckSubscriber(served, source, jid)
		} else {
			err = b.gate.CheckSource(served, source)
		}
		if err != nil {
			var denied *domain.AccessDeniedError
			if errors.As(err, &denied) {
				b.metrics.RecordRejection(denied.Check)
				b.structuredLog.LogSecurityEvent(ctx, served, denied.Check, denied.Value)
			}
			errorOutcome(err).Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Bridge) rateLimited(r *http.Request, servedDomain string) {
	b.metrics.RecordRejection("rate_limit")
	b.structuredLog.LogSecurityEvent(r.Context(), rateLimitKey(servedDomain), "rate_limit", r.RemoteAddr)
}

func (b *Bridge) endpointPaths() EndpointPaths {
	paths := EndpointPaths{REST: b.opts.BasePath, Events: b.opts.EventsPath}
	if b.opts.MetricsEnabled {
		paths.Metrics = b.opts.MetricsPath
	}
	return paths
}

// handleHealth handles GET /health requests
func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := b.Health()

	w.Header().Set("Content-Type", "application/json")
	if status.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		b.logger.Warn("Failed to encode health status", "error", err)
	}
}
