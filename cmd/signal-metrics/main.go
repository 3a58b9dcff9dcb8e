package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/signaldesk-lab/signal-metrics/internal/core/config"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage/postgres"
	"github.com/signaldesk-lab/signal-metrics/internal/ingestion"
	"github.com/signaldesk-lab/signal-metrics/internal/migrations"
	"github.com/signaldesk-lab/signal-metrics/internal/projection"
	"github.com/signaldesk-lab/signal-metrics/internal/server"
)

func main() {
	configPath := flag.String("config", "metrics.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"addr", cfg.Server.Addr(),
		"tracked_actions", len(cfg.Actions.List()),
		"open_registry", cfg.Actions.Open(),
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Initialize Counter Store
	counters, err := postgres.NewCounterAdapter(dbAdapter.DB())
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer counters.Close()

	// 4. Initialize Ingestion (write path) and Projection (read path)
	ingestionSvc := ingestion.NewService(counters, cfg.Actions, cfg.Server.MaxBodySizeMB)
	projectionSvc := projection.NewService(counters)

	// 5. Initialize Server
	srv := server.New(cfg.Server.Addr(), dbAdapter.DB(), cfg.Server.Mode)
	ingestionSvc.RegisterRoutes(srv.Engine)
	projectionSvc.RegisterRoutes(srv.Engine)

	// 6. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	slog.Info("Shutdown complete")
}
