package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/polisai/polis-rest/pkg/config"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/storage"
)

// ACLCompiler turns the configured Rego sources into command ACLs
type ACLCompiler func(ctx context.Context, cfg *config.Config) (map[string]domain.CommandACL, error)

// ConfigReloader handles atomic reloading of the per-domain access policies
type ConfigReloader struct {
	store       storage.PolicyStore
	compile     ACLCompiler
	current     *config.Config
	logger      *slog.Logger
	mu          sync.RWMutex
	reloadCount int64
	lastReload  time.Time
	metrics     *Metrics
	limiter     *RateLimiter
}

// NewConfigReloader creates a new configuration reloader. current is the configuration
// the process started with and is used to detect changes that need a restart.
func NewConfigReloader(store storage.PolicyStore, compile ACLCompiler, current *config.Config, logger *slog.Logger) *ConfigReloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConfigReloader{
		store:   store,
		compile: compile,
		current: current,
		logger:  logger,
	}
}

// SetMetrics sets the metrics instance for recording reload events
func (cr *ConfigReloader) SetMetrics(metrics *Metrics) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.metrics = metrics
}

// SetRateLimiter makes Apply push per-domain rate limits into limiter
func (cr *ConfigReloader) SetRateLimiter(limiter *RateLimiter) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.limiter = limiter
}

// Apply compiles ACLs for cfg and publishes its policies. The store is only touched
// once everything compiled, so readers see either the old or the new snapshot.
func (cr *ConfigReloader) Apply(ctx context.Context, cfg *config.Config) (uint64, error) {
	acls := map[string]domain.CommandACL{}
	if cr.compile != nil {
		compiled, err := cr.compile(ctx, cfg)
		if err != nil {
			return 0, fmt.Errorf("compile command acls: %w", err)
		}
		acls = compiled
	}

	policies, err := cfg.Policies(acls)
	if err != nil {
		return 0, fmt.Errorf("build policies: %w", err)
	}

	version := cr.store.Replace(policies)
	if cr.limiter != nil {
		cr.limiter.Configure(cfg.RateLimits())
	}
	cr.metrics.SetPolicyVersion(version)
	return version, nil
}

// ReloadConfig atomically reloads the policies from the specified file
func (cr *ConfigReloader) ReloadConfig(configPath string) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	start := time.Now()
	cr.logger.Info("Starting configuration reload", "config_path", configPath)

	// Step 1: Load and validate new configuration
	newConfig, err := config.Load(configPath)
	if err != nil {
		cr.logger.Error("Configuration validation failed", "error", err)
		cr.metrics.RecordConfigReload("validation_failed")
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Step 2: Compile and publish
	version, err := cr.Apply(context.Background(), newConfig)
	if err != nil {
		cr.logger.Error("Configuration application failed", "error", err)
		cr.metrics.RecordConfigReload("application_failed")
		return fmt.Errorf("configuration application failed: %w", err)
	}

	// Step 3: Report settings that only take effect on restart
	if cr.current != nil {
		if changes := restartRequiredChanges(newConfig, cr.current); len(changes) > 0 {
			cr.logger.Warn("Some configuration changes require a restart to take effect",
				"changes", changes)
		}
	}
	cr.current = newConfig

	cr.reloadCount++
	cr.lastReload = time.Now()

	cr.logger.Info("Configuration reload completed successfully",
		"duration", time.Since(start),
		"policy_version", version,
		"domains", len(newConfig.Domains),
		"reload_count", cr.reloadCount)

	cr.metrics.RecordConfigReload("success")
	return nil
}

// restartRequiredChanges lists the sections whose changes are not applied live
func restartRequiredChanges(newConfig, oldConfig *config.Config) []string {
	var changes []string

	if newConfig.Server != oldConfig.Server {
		changes = append(changes, "server")
	}
	if newConfig.Telemetry != oldConfig.Telemetry {
		changes = append(changes, "telemetry")
	}
	if newConfig.Metrics != oldConfig.Metrics {
		changes = append(changes, "metrics")
	}
	if newConfig.Audit != oldConfig.Audit {
		changes = append(changes, "audit")
	}
	if newConfig.Routing != oldConfig.Routing {
		changes = append(changes, "routing")
	}
	if !maps.Equal(newConfig.Commands.Admins, oldConfig.Commands.Admins) {
		changes = append(changes, "commands.admins")
	}

	return changes
}

// GetReloadStats returns statistics about configuration reloads
func (cr *ConfigReloader) GetReloadStats() (int64, time.Time) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return cr.reloadCount, cr.lastReload
}
