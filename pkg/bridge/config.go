package bridge

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/polisai/polis-rest/pkg/config"
)

// Options holds the listener and endpoint settings of the bridge server
type Options struct {
	// ListenAddr is the address to listen on (e.g., ":5285")
	ListenAddr string

	// BasePath is the REST endpoint prefix (default: /rest)
	BasePath string

	// EventsPath serves routed stanzas as Server-Sent Events; empty disables it
	EventsPath string

	// MetricsEnabled exposes Prometheus metrics on MetricsPath
	MetricsEnabled bool
	MetricsPath    string

	DefaultDomain     string
	MaxBodyBytes      int64
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// TLS is nil for plain HTTP
	TLS      *tls.Config
	CertFile string
	KeyFile  string

	// Version is reported by /health
	Version string
}

// DefaultOptions returns options with sensible defaults
func DefaultOptions() *Options {
	return &Options{
		ListenAddr:        ":5285",
		BasePath:          "/rest",
		EventsPath:        "/events",
		MetricsEnabled:    true,
		MetricsPath:       "/metrics",
		MaxBodyBytes:      1 << 20,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		Version:           "dev",
	}
}

// OptionsFromConfig derives server options from the loaded configuration
func OptionsFromConfig(cfg *config.Config, version string) (*Options, error) {
	tlsConfig, err := cfg.Server.TLS.Build()
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}

	opts := &Options{
		ListenAddr:        cfg.Server.Address,
		BasePath:          cfg.Server.BasePath,
		EventsPath:        cfg.Routing.EventsPath,
		MetricsEnabled:    cfg.Metrics.Enabled,
		MetricsPath:       cfg.Metrics.Path,
		DefaultDomain:     cfg.Server.DefaultDomain,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		TLS:               tlsConfig,
		Version:           version,
	}
	if tlsConfig != nil {
		opts.CertFile = cfg.Server.TLS.CertFile
		opts.KeyFile = cfg.Server.TLS.KeyFile
	}
	return opts, nil
}
