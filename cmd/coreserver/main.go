// coreserver is the prediction-market core's entry point: load config,
// wire the engine, optionally serve the admin/query HTTP surface, and
// run until SIGINT/SIGTERM.
//
// Architecture:
//
//	main.go                     — entry point: loads config, starts the engine, waits for a signal
//	internal/engine/engine.go   — orchestrator: registry, executor, lifecycle, resolution, settlement, store, broadcaster
//	internal/executor           — LMSR trade admission
//	internal/lifecycle          — ACTIVE→FROZEN→RESOLVED→SETTLED state machine and payouts
//	internal/resolution         — oracle-driven freeze/resolve control loop
//	internal/settlement         — signature-quorum coordinator and final-state commitment
//	internal/broadcast          — event fan-out to in-process subscribers and WebSocket clients
//	internal/store              — atomic JSON snapshot persistence
//	internal/oracle             — the resolution engine's outcome-proof port plus two reference adapters
//	internal/channel            — the external state-channel network's port plus a reference WS adapter
//	internal/admin               — optional HTTP/WebSocket binding for the admin/query entry points
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"predicore/internal/admin"
	"predicore/internal/config"
	"predicore/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CORE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var adminServer *admin.Server
	if cfg.Dashboard.Enabled {
		adminServer = admin.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := adminServer.Start(); err != nil {
				logger.Error("admin server failed", "error", err)
			}
		}()
		logger.Info("admin surface started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(context.Background()); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE")
	}

	logger.Info("prediction-market core started",
		"oracle_kind", cfg.Oracle.Kind,
		"auto_freeze", cfg.Resolution.AutoFreeze,
		"auto_resolve", cfg.Resolution.AutoResolve,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error("failed to stop admin server", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
