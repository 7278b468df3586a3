// Package config provides configuration structures and loading logic for the REST bridge.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-rest/pkg/domain"
)

// Config holds the global configuration for the bridge.
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Logging   LoggingConfig           `yaml:"logging"`
	Telemetry TelemetryConfig         `yaml:"telemetry"`
	Metrics   MetricsConfig           `yaml:"metrics"`
	Audit     AuditConfig             `yaml:"audit"`
	Routing   RoutingConfig           `yaml:"routing"`
	Commands  CommandsConfig          `yaml:"commands"`
	Domains   map[string]DomainConfig `yaml:"domains"`
}

// ServerConfig holds configuration for the HTTP listener.
type ServerConfig struct {
	Address           string        `yaml:"address" env:"POLIS_REST_LISTEN"`
	BasePath          string        `yaml:"base_path"`
	DefaultDomain     string        `yaml:"default_domain" env:"POLIS_REST_DEFAULT_DOMAIN"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	TLS               TLSConfig     `yaml:"tls"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"POLIS_REST_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"POLIS_REST_LOG_PRETTY"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"POLIS_REST_OTLP_ENDPOINT"`
	Insecure     bool   `yaml:"insecure" env:"POLIS_REST_OTLP_INSECURE"`
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment" env:"POLIS_REST_ENVIRONMENT"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"POLIS_REST_METRICS_ENABLED"`
	Path    string `yaml:"path"`
}

// AuditConfig configures the SQLite audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"POLIS_REST_AUDIT_ENABLED"`
	Path    string `yaml:"path" env:"POLIS_REST_AUDIT_PATH"`
}

// RoutingConfig sizes the stanza hub.
type RoutingConfig struct {
	Backlog          int           `yaml:"backlog"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	EventsPath       string        `yaml:"events_path"`
	// MaxMailboxes bounds the recipients the hub tracks at once.
	MaxMailboxes int `yaml:"max_mailboxes"`
}

// CommandsConfig holds administrative credentials and Rego ACLs.
type CommandsConfig struct {
	// Admins maps a bare JID ("user@server") to a bcrypt hash.
	Admins map[string]string `yaml:"admins"`
	// ACLs maps an ACL name to Rego source.
	ACLs            map[string]string `yaml:"acls"`
	CacheMaxEntries int               `yaml:"cache_max_entries"`
}

// DomainConfig is the per-domain access configuration. Empty lists impose no restriction.
type DomainConfig struct {
	AllowedIPs          []string `yaml:"allowed_ips"`
	AllowedDestinations []string `yaml:"allowed_destinations"`
	AllowedStanzaTypes  []string `yaml:"allowed_stanza_types"`
	AccessCommands      string   `yaml:"access_commands"`
	// RateLimit caps REST requests for the domain. Zero disables the limit.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket refilled at RequestsPerSecond holding up to Burst tokens.
type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:           ":5285",
			BasePath:          "/rest",
			MaxBodyBytes:      1 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			ServiceName: "polis-rest",
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		Audit:   AuditConfig{Path: "polis-rest-audit.db"},
		Routing: RoutingConfig{
			Backlog:          100,
			SubscriberBuffer: 16,
			KeepAlive:        30 * time.Second,
			EventsPath:       "/events",
			MaxMailboxes:     10000,
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields tagged with env from the process environment.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate performs comprehensive validation of the entire configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics configuration: %w", err)
	}
	if c.Audit.Enabled && strings.TrimSpace(c.Audit.Path) == "" {
		return fmt.Errorf("audit configuration: %w", NewConfigMissingError("audit.path"))
	}
	if err := c.Commands.Validate(); err != nil {
		return fmt.Errorf("commands configuration: %w", err)
	}

	for _, name := range c.DomainNames() {
		if err := c.Domains[name].Validate(name, c.Commands.ACLs); err != nil {
			return fmt.Errorf("domain %q: %w", name, err)
		}
	}

	if c.Server.DefaultDomain != "" {
		if _, ok := c.Domains[c.Server.DefaultDomain]; !ok {
			return fmt.Errorf("server configuration: %w",
				NewConfigValidationError("server.default_domain", c.Server.DefaultDomain, "domain is not configured"))
		}
	}
	return nil
}

// DomainNames returns the configured domains in sorted order.
func (c *Config) DomainNames() []string {
	names := make([]string, 0, len(c.Domains))
	for name := range c.Domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate performs validation of server configuration.
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return NewConfigMissingError("server.address")
	}
	if !strings.HasPrefix(c.BasePath, "/") {
		return NewConfigValidationError("server.base_path", c.BasePath, "must start with '/'")
	}
	if c.MaxBodyBytes <= 0 {
		return NewConfigValidationError("server.max_body_bytes", c.MaxBodyBytes, "must be positive")
	}
	return c.TLS.Validate()
}

// Validate performs validation of logging configuration.
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

// Validate performs validation of metrics configuration.
func (c *MetricsConfig) Validate() error {
	if c.Enabled && !strings.HasPrefix(c.Path, "/") {
		return NewConfigValidationError("metrics.path", c.Path, "must start with '/'")
	}
	return nil
}

// Validate checks admin hashes and ACL names.
func (c *CommandsConfig) Validate() error {
	for account, hash := range c.Admins {
		if !strings.Contains(account, "@") {
			return NewConfigValidationError("commands.admins", account, "expected user@server")
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return NewConfigValidationError("commands.admins."+account, nil, "not a bcrypt hash")
		}
	}
	for name, source := range c.ACLs {
		if strings.TrimSpace(source) == "" {
			return NewConfigMissingError("commands.acls." + name)
		}
	}
	return nil
}

// Validate checks a domain section against the known ACL names.
func (c DomainConfig) Validate(name string, acls map[string]string) error {
	if strings.TrimSpace(name) == "" {
		return NewConfigMissingError("domains")
	}
	for _, raw := range c.AllowedIPs {
		if _, err := ParsePrefix(raw); err != nil {
			return NewConfigValidationError("allowed_ips", raw, err.Error())
		}
	}
	for _, raw := range c.AllowedDestinations {
		if _, err := domain.ParseJID(raw); err != nil {
			return NewConfigValidationError("allowed_destinations", raw, err.Error())
		}
	}
	for _, raw := range c.AllowedStanzaTypes {
		if _, ok := domain.ParseStanzaKind(raw); !ok {
			return NewConfigValidationError("allowed_stanza_types", raw, "expected one of "+kindNames())
		}
	}
	if c.AccessCommands != "" {
		if _, ok := acls[c.AccessCommands]; !ok {
			return NewConfigValidationError("access_commands", c.AccessCommands, "unknown acl")
		}
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return NewConfigValidationError("rate_limit.requests_per_second", c.RateLimit.RequestsPerSecond, "must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return NewConfigValidationError("rate_limit.burst", c.RateLimit.Burst, "must not be negative")
	}
	return nil
}

// RateLimits returns the limits of every domain that sets one.
func (c *Config) RateLimits() map[string]RateLimitConfig {
	limits := make(map[string]RateLimitConfig)
	for name, section := range c.Domains {
		if section.RateLimit.RequestsPerSecond > 0 {
			limits[name] = section.RateLimit
		}
	}
	return limits
}

func kindNames() string {
	names := make([]string, 0, 3)
	for _, kind := range domain.Kinds() {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}

// ParsePrefix accepts either a CIDR or a single address, which becomes a host route.
// Peers are matched in their unmapped form, so IPv4-mapped prefixes are rewritten to
// the IPv4 network they cover. A mapped prefix shorter than /96 spans more than the
// mapped range and is rejected.
func ParsePrefix(raw string) (netip.Prefix, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "/") {
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		if prefix.Addr().Is4In6() {
			if prefix.Bits() < 96 {
				return netip.Prefix{}, fmt.Errorf("IPv4-mapped prefix %q must be at least /96", raw)
			}
			prefix = netip.PrefixFrom(prefix.Addr().Unmap(), prefix.Bits()-96)
		}
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.WithZone("").Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Policies converts the domain sections into access policies. acls resolves
// access_commands references; a missing reference leaves AccessCommands nil.
func (c *Config) Policies(acls map[string]domain.CommandACL) (map[string]*domain.AccessPolicy, error) {
	policies := make(map[string]*domain.AccessPolicy, len(c.Domains))
	for _, name := range c.DomainNames() {
		section := c.Domains[name]
		policy := &domain.AccessPolicy{Domain: name}

		for _, raw := range section.AllowedIPs {
			prefix, err := ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("domain %q: %w", name, err)
			}
			policy.AllowedSourceIPs = append(policy.AllowedSourceIPs, prefix)
		}
		for _, raw := range section.AllowedDestinations {
			jid, err := domain.ParseJID(raw)
			if err != nil {
				return nil, fmt.Errorf("domain %q: %w", name, err)
			}
			policy.AllowedDestinations = append(policy.AllowedDestinations, jid.String())
		}
		for _, raw := range section.AllowedStanzaTypes {
			kind, _ := domain.ParseStanzaKind(raw)
			if !slices.Contains(policy.AllowedStanzaTypes, kind) {
				policy.AllowedStanzaTypes = append(policy.AllowedStanzaTypes, kind)
			}
		}
		if section.AccessCommands != "" {
			policy.AccessCommands = acls[section.AccessCommands]
		}
		policies[name] = policy
	}
	return policies, nil
}
