// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

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

	"github.com/cindermc/cinder/internal/logging"
	"github.com/cindermc/cinder/internal/observability"
	"github.com/cindermc/cinder/internal/plugin"
	"github.com/cindermc/cinder/internal/plugin/lua"
	"github.com/cindermc/cinder/internal/plugin/native"
	"github.com/cindermc/cinder/internal/server"
	"github.com/cindermc/cinder/internal/xdg"
)

// Default values for serve command flags.
const (
	defaultPluginsDir  = "plugins"
	defaultMetricsAddr = "127.0.0.1:9100"
	defaultLogFormat   = "json"
	defaultLogLevel    = "info"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the plugin runtime",
		Long: `Start the plugin runtime, which scans the plugins directory,
loads every recognized artifact, and dispatches events between
plugins until shut down.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadServeConfig(cmd.Flags(), resolveConfigFile())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	cmd.Flags().String("plugins-dir", defaultPluginsDir, "directory scanned for plugin artifacts")
	cmd.Flags().String("data-dir", "", "per-plugin data root (default: XDG_DATA_HOME/cinder/plugin-data)")
	cmd.Flags().String("metrics-addr", defaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaultLogFormat, "log format (json or text)")
	cmd.Flags().String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	cmd.Flags().Bool("watch", true, "hot-load artifacts dropped into the plugins directory")

	return cmd
}

// runServeWithDeps starts the plugin runtime with injectable
// dependencies. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *serveConfig, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}

	// Set up default factories
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.LoaderFactory == nil {
		deps.LoaderFactory = defaultLoaders
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.SetDefault("cinder", version, cfg.LogFormat, cfg.LogLevel)

	slog.Info("starting plugin runtime",
		"plugins_dir", cfg.PluginsDir,
		"log_format", cfg.LogFormat,
	)

	dataRoot := cfg.DataDir
	if dataRoot == "" {
		dataRoot = xdg.PluginDataRoot()
	}
	if err := xdg.EnsureDir(dataRoot); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := xdg.EnsureDir(cfg.PluginsDir); err != nil {
		return fmt.Errorf("failed to create plugins directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mgr := plugin.NewManager(dataRoot,
		plugin.WithLogger(slog.Default()),
		plugin.WithGrants(cfg.Grants),
	)
	host := server.New("cinder", version, mgr.Bus())
	mgr.SetHost(host)

	// Broadcasts land in the log until a real transport fronts the
	// runtime. Unsubscribing closes the channel and releases the drain
	// goroutine on every exit path.
	broadcasts := host.Subscribe()
	defer host.Unsubscribe(broadcasts)
	go func() {
		for msg := range broadcasts {
			slog.Info("broadcast", "message", msg)
		}
	}()

	for _, l := range deps.LoaderFactory(slog.Default()) {
		mgr.AddLoader(ctx, l)
	}

	if err := mgr.LoadPlugins(ctx, cfg.PluginsDir); err != nil {
		return fmt.Errorf("failed to scan plugins directory: %w", err)
	}

	var watcher *plugin.Watcher
	if cfg.Watch {
		watcher = plugin.NewWatcher(cfg.PluginsDir, mgr)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start plugin watcher: %w", err)
		}
	}

	// Start observability server if configured
	var obsServer ObservabilityServer
	if cfg.MetricsAddr != "" {
		// Ready once we reach this point: the initial scan has completed
		// and every startup artifact got its load attempt.
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool { return true })
		obsErrChan, err := obsServer.Start()
		if err != nil {
			if watcher != nil {
				if closeErr := watcher.Close(); closeErr != nil {
					slog.Warn("failed to stop plugin watcher during cleanup", "error", closeErr)
				}
			}
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Cinder runtime started")
	slog.Info("plugin runtime ready",
		"loaders", mgr.Loaders(),
		"active", len(mgr.ActivePlugins()),
		"pending", len(mgr.PendingArtifacts()),
	)

	// Wait for shutdown signal or cancellation
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	// Graceful shutdown
	slog.Info("shutting down...")

	// Stop feeding the manager before unloading anything.
	if watcher != nil {
		if err := watcher.Close(); err != nil {
			slog.Warn("error stopping plugin watcher", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := mgr.Close(shutdownCtx); err != nil {
		slog.Warn("error unloading plugins", "error", err)
	}

	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}

// defaultLoaders returns the built-in artifact loaders in probe order.
func defaultLoaders(log *slog.Logger) []plugin.Loader {
	return []plugin.Loader{
		native.NewLoader(native.WithLogger(log)),
		lua.NewLoader(lua.WithLogger(log)),
	}
}

// monitorServerErrors monitors a server's error channel and cancels the context on error.
// This ensures that server failures trigger graceful shutdown of the entire process.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
		// Context cancelled, exit monitoring
	}
}
