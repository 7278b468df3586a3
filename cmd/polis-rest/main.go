// Package main is the entry point for the polis-rest binary.
// It serves the REST bridge and offers a few operator utilities.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/polisai/polis-rest/pkg/argv"
	"github.com/polisai/polis-rest/pkg/audit"
	"github.com/polisai/polis-rest/pkg/bridge"
	"github.com/polisai/polis-rest/pkg/commands"
	"github.com/polisai/polis-rest/pkg/config"
	"github.com/polisai/polis-rest/pkg/domain"
	"github.com/polisai/polis-rest/pkg/logging"
	"github.com/polisai/polis-rest/pkg/policy"
	"github.com/polisai/polis-rest/pkg/routing"
	"github.com/polisai/polis-rest/pkg/storage"
	"github.com/polisai/polis-rest/pkg/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLIConfig holds the parsed CLI configuration
type CLIConfig struct {
	Config   string
	Listen   string
	LogLevel string
	Pretty   bool
	Watch    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for polis-rest
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-rest",
		Short: "REST bridge for stanza routing and administrative commands",
		Long: `A bridge that accepts HTTP POST bodies and either routes them as stanzas
(bodies starting with '<') or runs them as administrative command lines.

Example:
  polis-rest --config /etc/polis-rest/config.yaml
  curl -d '<message from="bot@example.org" to="alice@example.org"><body>hi</body></message>' localhost:5285/rest`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().String("listen", "", "Address to listen on (overrides server.address)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Enable pretty console logging")
	rootCmd.Flags().Bool("watch", true, "Reload domain policies when the config file changes")

	rootCmd.AddCommand(newSplitCmd(), newCheckCmd(), newHashPasswordCmd(), newVersionCmd())
	return rootCmd
}

// parseCLIConfig parses command line flags and returns a CLIConfig
func parseCLIConfig(cmd *cobra.Command) (*CLIConfig, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return nil, fmt.Errorf("failed to get listen flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	pretty, err := cmd.Flags().GetBool("pretty")
	if err != nil {
		return nil, fmt.Errorf("failed to get pretty flag: %w", err)
	}
	watch, err := cmd.Flags().GetBool("watch")
	if err != nil {
		return nil, fmt.Errorf("failed to get watch flag: %w", err)
	}

	return &CLIConfig{
		Config:   configPath,
		Listen:   listen,
		LogLevel: logLevel,
		Pretty:   pretty,
		Watch:    watch,
	}, nil
}

// buildConfig loads the configuration file and applies CLI overrides
func buildConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	if cli.Listen != "" {
		cfg.Server.Address = cli.Listen
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.Pretty {
		cfg.Logging.Pretty = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// compileACLs builds the Rego command ACLs of cfg
func compileACLs(logger *slog.Logger) bridge.ACLCompiler {
	return func(ctx context.Context, cfg *config.Config) (map[string]domain.CommandACL, error) {
		return policy.CompileACLs(ctx, cfg.Commands.ACLs, policy.EngineOptions{
			CacheMaxEntries: cfg.Commands.CacheMaxEntries,
			Logger:          logger,
		})
	}
}

// runServe is the main entry point for the bridge server
func runServe(cmd *cobra.Command, _ []string) error {
	cli, err := parseCLIConfig(cmd)
	if err != nil {
		return err
	}

	cfg, err := buildConfig(cli)
	if err != nil {
		return err
	}

	logger := logging.SetupLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracerProvider, shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.OTLPEndpoint,
		Environment:    cfg.Telemetry.Environment,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		logger.Warn("Failed to initialize tracing", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("Failed to flush traces", "error", err)
		}
	}()

	svc, err := newApp(ctx, cfg, cli.Config, tracerProvider, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if cli.Watch && cli.Config != "" {
		go func() {
			if err := svc.reloader.Watch(ctx, cli.Config, bridge.DefaultSettle); err != nil {
				logger.Warn("Config watch unavailable", "error", err)
			}
		}()
	}

	go handleSIGHUP(ctx, cli.Config, svc.reloader, logger)

	logger.Info("Starting polis-rest",
		"version", version,
		"listen_addr", cfg.Server.Address,
		"domains", cfg.DomainNames(),
		"log_level", cfg.Logging.Level,
	)

	if err := svc.bridge.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Bridge error", "error", err)
		return err
	}

	logger.Info("Bridge stopped")
	return nil
}

func handleSIGHUP(ctx context.Context, path string, reloader *bridge.ConfigReloader, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-hup:
			if path == "" {
				logger.Info("Received SIGHUP without a config file, nothing to reload")
				continue
			}
			if err := reloader.ReloadConfig(path); err != nil {
				logger.Error("Reload on SIGHUP failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// app is the wired process
type app struct {
	bridge   *bridge.Bridge
	reloader *bridge.ConfigReloader
	hub      *routing.Hub
	store    *storage.MemoryPolicyStore
	limiter  *bridge.RateLimiter
	audit    *audit.Store
}

// newApp wires storage, routing, commands and the HTTP bridge from cfg
func newApp(ctx context.Context, cfg *config.Config, configPath string, tracerProvider trace.TracerProvider, logger *slog.Logger) (*app, error) {
	a := &app{
		store: storage.NewMemoryPolicyStore(nil),
		hub: routing.NewHub(routing.Config{
			Backlog:          cfg.Routing.Backlog,
			SubscriberBuffer: cfg.Routing.SubscriberBuffer,
			KeepAlive:        cfg.Routing.KeepAlive,
			MaxMailboxes:     cfg.Routing.MaxMailboxes,
		}, logger),
		limiter: bridge.NewRateLimiter(nil),
	}

	a.reloader = bridge.NewConfigReloader(a.store, compileACLs(logger), cfg, logger)
	a.reloader.SetRateLimiter(a.limiter)
	if _, err := a.reloader.Apply(ctx, cfg); err != nil {
		return nil, err
	}

	notifiers := bridge.NewNotifiers(nil)
	notifiers.Add("log", bridge.NewLogNotifier(logger))

	deps := commands.Deps{
		Version: version,
		Started: time.Now(),
		Domains: a.store,
		Stats:   []commands.StatsSource{a.hub},
		Router:  a.hub,
	}

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.audit = store
		notifiers.Add("audit", store)
		deps.Audit = store
	}

	auth, err := commands.NewBcryptAuthenticator(cfg.Commands.Admins)
	if err != nil {
		a.Close()
		return nil, err
	}
	executor := commands.NewExecutor(
		commands.WithAuthenticator(auth),
		commands.WithLogger(logger),
	)
	commands.RegisterBuiltins(executor, deps)

	opts, err := bridge.OptionsFromConfig(cfg, version)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.bridge = bridge.NewBridge(opts, bridge.Components{
		Policies:       a.store,
		Router:         a.hub,
		Notifier:       notifiers,
		Executor:       executor,
		Events:         a.hub,
		TracerProvider: tracerProvider,
		Limiter:        a.limiter,
	}, logger)

	if metrics := a.bridge.Metrics(); metrics != nil {
		notifiers.SetMetrics(metrics)
		a.reloader.SetMetrics(metrics)
		metrics.SetPolicyVersion(a.store.Version())
	}

	logger.Debug("Application wired",
		"config_path", configPath,
		"notifiers", notifiers.Len(),
		"commands", strings.Join(executor.Names(), ","),
	)
	return a, nil
}

// Close releases resources held by the app
func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			slog.Error("Failed to close audit log", "error", err)
		}
	}
}

func newSplitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "split [line]",
		Short: "Print how a command line is tokenized",
		Long:  "Tokenize a command line the way the bridge does and print one quoted token per line. Reads stdin when no line is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var line string
			if len(args) == 1 {
				line = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				line = strings.TrimRight(string(data), "\r\n")
			}
			for _, token := range argv.Split(line) {
				fmt.Fprintf(cmd.OutOrStdout(), "%q\n", token)
			}
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and compile its command ACLs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			acls, err := compileACLs(logger)(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if _, err := cfg.Policies(acls); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: %d domain(s), %d acl(s)\n", len(cfg.Domains), len(acls))
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for commands.admins",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := cmd.Flags().GetInt("cost")
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "polis-rest", version)
		},
	}
}
