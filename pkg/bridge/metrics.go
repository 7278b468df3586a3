package bridge

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the REST bridge
type Metrics struct {
	// Request metrics
	requestsTotal   *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	stanzasRouted   *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec

	// Command metrics
	commandsTotal *prometheus.CounterVec

	// Notifier metrics
	notifierErrors *prometheus.CounterVec

	// Configuration reload metrics
	configReloads *prometheus.CounterVec
	policyVersion prometheus.Gauge

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	paths    EndpointPaths
	registry *prometheus.Registry
}

// EndpointPaths are the mounted paths used to label HTTP requests.
type EndpointPaths struct {
	REST    string
	Events  string
	Metrics string
}

// Label maps a request path onto a bounded label set.
func (p EndpointPaths) Label(path string) string {
	switch {
	case path == "/health":
		return "health"
	case matchesPath(path, p.Metrics):
		return "metrics"
	case matchesPath(path, p.Events):
		return "events"
	case matchesPath(path, p.REST):
		return "rest"
	default:
		return "unknown"
	}
}

func matchesPath(path, mount string) bool {
	mount = strings.TrimSuffix(mount, "/")
	if mount == "" {
		return false
	}
	return path == mount || strings.HasPrefix(path, mount+"/")
}

// NewMetrics creates a new metrics instance. paths label the HTTP requests.
func NewMetrics(paths EndpointPaths) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_requests_total",
				Help: "Total number of REST requests by pipeline kind and HTTP status",
			},
			[]string{"kind", "status"},
		),

		requestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rest_request_duration_seconds",
				Help:    "REST pipeline latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		stanzasRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_stanzas_routed_total",
				Help: "Total number of stanzas handed to the router",
			},
			[]string{"kind"},
		),

		rejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_rejections_total",
				Help: "Total number of requests rejected by an access check",
			},
			[]string{"reason"},
		),

		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_commands_total",
				Help: "Total number of administrative commands by status code",
			},
			[]string{"command", "code"},
		),

		notifierErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_notifier_errors_total",
				Help: "Total number of pre-send notifier failures",
			},
			[]string{"notifier"},
		),

		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_config_reloads_total",
				Help: "Total number of configuration reload attempts by status",
			},
			[]string{"status"},
		),

		policyVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rest_policy_version",
				Help: "Version of the currently published access policies",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rest_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rest_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		paths:    paths,
		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestLatency,
		m.stanzasRouted,
		m.rejectionsTotal,
		m.commandsTotal,
		m.notifierErrors,
		m.configReloads,
		m.policyVersion,
		m.httpRequestsTotal,
		m.httpRequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordRequest records a finished REST pipeline run
func (m *Metrics) RecordRequest(kind string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRouted records a stanza handed to the router
func (m *Metrics) RecordRouted(kind string) {
	if m == nil {
		return
	}
	m.stanzasRouted.WithLabelValues(kind).Inc()
}

// RecordRejection records a request refused by the access gate
func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordCommand records a command execution and its status code
func (m *Metrics) RecordCommand(command string, code int) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(command, strconv.Itoa(code)).Inc()
}

// RecordNotifierError records a failing pre-send notifier
func (m *Metrics) RecordNotifierError(notifier string) {
	if m == nil {
		return
	}
	m.notifierErrors.WithLabelValues(notifier).Inc()
}

// RecordConfigReload records a configuration reload attempt
func (m *Metrics) RecordConfigReload(status string) {
	if m == nil {
		return
	}
	m.configReloads.WithLabelValues(status).Inc()
}

// SetPolicyVersion publishes the active policy version
func (m *Metrics) SetPolicyVersion(version uint64) {
	if m == nil {
		return
	}
	m.policyVersion.Set(float64(version))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware creates HTTP middleware that records request metrics
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := m.paths.Label(r.URL.Path)
		statusCode := strconv.Itoa(wrapped.statusCode)

		m.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support http.Hijacker")
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// RequestTimer measures the duration of one pipeline run
type RequestTimer struct {
	start   time.Time
	metrics *Metrics
	kind    string
}

// NewRequestTimer creates a new request timer for a pipeline kind
func (m *Metrics) NewRequestTimer(kind string) *RequestTimer {
	return &RequestTimer{start: time.Now(), metrics: m, kind: kind}
}

// Done records the final HTTP status of the run
func (rt *RequestTimer) Done(status int) {
	if rt == nil || rt.metrics == nil {
		return
	}
	rt.metrics.RecordRequest(rt.kind, status, time.Since(rt.start))
}
