// Package main is the entry point for the themis-policyd binary, the policy
// and data-governance decision service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/makr-code/themis-policy/internal/retry"
	internaltls "github.com/makr-code/themis-policy/internal/tls"
	"github.com/makr-code/themis-policy/pkg/audit"
	"github.com/makr-code/themis-policy/pkg/config"
	"github.com/makr-code/themis-policy/pkg/governance"
	"github.com/makr-code/themis-policy/pkg/logging"
	"github.com/makr-code/themis-policy/pkg/policy"
	"github.com/makr-code/themis-policy/pkg/ranger"
	"github.com/makr-code/themis-policy/pkg/server"
	"github.com/makr-code/themis-policy/pkg/storage"
	"github.com/makr-code/themis-policy/pkg/telemetry"
)

const (
	serviceName              = "themis-policy"
	telemetryShutdownTimeout = 5 * time.Second
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for themis-policyd.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "themis-policyd",
		Short: "Policy and data-governance decision service",
		Long: `themis-policyd serves authorization and data-governance decisions over an
admin HTTP API. It holds an ordered access-policy list (file-backed, hot
reloadable, or synchronized from an external policy authority) and a
classification engine mapping sensitivity levels to handling obligations.

Example:
  themis-policyd --config themis.yaml --listen :8080`,
		Version: version,
		RunE:    runServe,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("listen", "l", "", "Listen address (overrides config)")
	rootCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Enable pretty console logging")

	return rootCmd
}

// runServe is the main entry point for the daemon.
func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// CLI flags override config file values.
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Address = listen
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if cmd.Flags().Changed("pretty") {
		cfg.Logging.Pretty, _ = cmd.Flags().GetBool("pretty")
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	logger.Info("Starting themis-policyd",
		"config", configPath,
		"listen", cfg.Server.Address,
		"log_level", cfg.Logging.Level,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("Received shutdown signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	telemetryShutdown, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Version:      version,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Environment:  cfg.Telemetry.Environment,
		Insecure:     cfg.Telemetry.Insecure,
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}()

	store := policy.NewStore(nil)
	if cfg.Policy.File != "" {
		if err := store.LoadFromFile(cfg.Policy.File); err != nil {
			return fmt.Errorf("policy file load failed: %w", err)
		}
		logger.Info("Policies loaded", "path", cfg.Policy.File, "count", store.Count())
	}

	if cfg.Policy.Watch {
		watcher, err := policy.NewWatcher(store, cfg.Policy.File, logger)
		if err != nil {
			return fmt.Errorf("policy watcher failed: %w", err)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				logger.Error("Watcher close error", "error", err)
			}
		}()
	}

	gov, sinkClose, err := buildGovernance(cfg, logger)
	if err != nil {
		return err
	}
	defer sinkClose()

	syncTrigger, err := startSyncer(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	tlsConfig, err := internaltls.BuildServer(cfg.Server.TLS)
	if err != nil {
		return fmt.Errorf("TLS configuration failed: %w", err)
	}

	srv := server.New(server.Options{
		Store:        store,
		Governance:   gov,
		Syncer:       syncTrigger,
		Logger:       logger,
		TLS:          tlsConfig,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Address)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("Shutdown error", "error", err)
			return err
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

// buildGovernance assembles the classification engine and its audit sink.
// The returned closer releases the sink and is safe to call when no sink is
// configured.
func buildGovernance(cfg *config.Config, logger *slog.Logger) (*governance.Engine, func(), error) {
	govCfg := governance.DefaultConfig()
	if cfg.Governance.File != "" {
		loaded, err := governance.LoadConfig(cfg.Governance.File)
		if err != nil {
			return nil, nil, fmt.Errorf("governance config load failed: %w", err)
		}
		govCfg = loaded
		logger.Info("Governance config loaded",
			"path", cfg.Governance.File,
			"profiles", len(govCfg.Profiles),
		)
	}

	var sink audit.Sink
	closer := func() {}
	if cfg.Governance.AuditLog != "" {
		fileSink, err := audit.NewFileSink(cfg.Governance.AuditLog)
		if err != nil {
			return nil, nil, fmt.Errorf("audit sink failed: %w", err)
		}
		sink = fileSink
		closer = func() {
			if err := fileSink.Close(); err != nil {
				logger.Error("Audit sink close error", "error", err)
			}
		}
		logger.Info("Audit sink enabled", "path", cfg.Governance.AuditLog)
	}

	return governance.New(govCfg, sink, logger), closer, nil
}

// startSyncer wires the authority client and launches the periodic sync loop
// when the authority is configured. It returns nil when syncing is disabled
// so the sync endpoint answers 503 instead of carrying a dead trigger.
func startSyncer(ctx context.Context, cfg *config.Config, store *policy.Store, logger *slog.Logger) (server.SyncTrigger, error) {
	if !cfg.Ranger.Enabled {
		return nil, nil
	}

	client, err := ranger.NewClient(ranger.Config{
		BaseURL:        cfg.Ranger.BaseURL,
		PoliciesPath:   cfg.Ranger.PoliciesPath,
		ServiceName:    cfg.Ranger.ServiceName,
		BearerToken:    cfg.Ranger.BearerToken,
		Timeout:        cfg.Ranger.Timeout,
		ConnectTimeout: cfg.Ranger.ConnectTimeout,
		TLS: ranger.TLSConfig{
			InsecureSkipVerify: cfg.Ranger.InsecureSkipVerify,
			CAFile:             cfg.Ranger.CAFile,
			CertFile:           cfg.Ranger.CertFile,
			KeyFile:            cfg.Ranger.KeyFile,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authority client failed: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	if cfg.Ranger.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.Ranger.MaxRetries
	}

	syncer := ranger.NewSyncer(client, store, storage.NewMemoryKV(), ranger.SyncerConfig{
		Interval:    cfg.Ranger.SyncInterval,
		Retry:       retryCfg,
		ServiceName: cfg.Ranger.ServiceName,
	}, logger)

	go syncer.Run(ctx)
	logger.Info("Authority sync enabled",
		"base_url", cfg.Ranger.BaseURL,
		"service", cfg.Ranger.ServiceName,
		"interval", cfg.Ranger.SyncInterval,
	)

	return syncer, nil
}
