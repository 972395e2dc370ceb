package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"custodian/internal/chain"
	"custodian/internal/chain/retry"
	"custodian/internal/config"
	"custodian/internal/manager"
	"custodian/internal/reconciler"
	"custodian/internal/storage"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load configuration
	_ = godotenv.Load()
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// 2. Configure logger
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("Configuration loaded",
		"network", cfg.Network,
		"funding_address", cfg.FundingAddress,
		"log_level", cfg.LogLevel,
	)

	ctx := context.Background()

	// 3. Select the persistence backend
	var backend storage.Backend
	var err error
	if cfg.DatabaseURL != "" {
		backend, err = storage.NewPostgresBackend(ctx, cfg.DatabaseURL, cfg.Network)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		slog.Info("Using Postgres state backend")
	} else {
		backend, err = storage.NewFileBackend(cfg.StateDir, cfg.Network)
		if err != nil {
			log.Fatalf("Failed to initialize state directory: %v", err)
		}
		slog.Info("Using file state backend", "dir", cfg.StateDir)
	}

	// 4. Create the chain query client
	query := chain.NewHTTPQuery(cfg.ChainGatewayURL, cfg.ChainGatewayKey)

	// 5. Construct the manager. The daemon only reconciles: compilation and
	// migration run inside the wallet application, which injects its own
	// compiler and assembler.
	mgr, err := manager.New(ctx, manager.Options{
		Network:             cfg.Network,
		FundingAddress:      cfg.FundingAddress,
		ContractSourceDir:   cfg.ContractSourceDir,
		MinCompilationInput: cfg.MinCompilationInput,
		Backend:             backend,
		Query:               query,
		QueryRetry:          retry.NewStrategy(retry.LoadConfig()),
	})
	if err != nil {
		log.Fatalf("Failed to initialize manager: %v", err)
	}
	defer mgr.Close()

	// 6. Serve Prometheus metrics
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		slog.Info("Metrics listener started", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Metrics listener failed", "error", err)
		}
	}()

	// 7. Setup graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// 8. Run the reconcile loop
	loop := reconciler.New(mgr, cfg.ReconcileInterval)
	errChan := make(chan error, 1)
	go func() {
		errChan <- loop.Start(ctx)
	}()

	select {
	case <-sigChan:
		slog.Warn("Interrupt received, shutting down...")
		loop.Stop()
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			slog.Error("Reconcile loop error", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("Custodian daemon stopped")
}
