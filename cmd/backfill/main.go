package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/signaldesk-lab/signal-metrics/internal/backfill"
	corecfg "github.com/signaldesk-lab/signal-metrics/internal/core/config"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage/postgres"
)

func main() {
	configPath := flag.String("config", "metrics.yaml", "Path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

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

	events := postgres.NewEventAdapter(dbAdapter.DB())

	// SIGINT/SIGTERM cancels the run; the runner stops cleanly at the next
	// batch boundary, leaving committed batches in place.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, stopping after current batch...")
		cancel()
	}()

	summary, err := backfill.Run(ctx, events, backfill.Options{
		BatchSize:        cfg.Backfill.BatchSize,
		ProgressInterval: cfg.Backfill.ProgressInterval,
		WorkerCount:      cfg.Backfill.WorkerCount,
		BackupDir:        cfg.Backfill.BackupDir,
	})
	if err != nil {
		slog.Error("Backfill failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Backfill complete",
		"run_id", summary.RunID,
		"processed", summary.Processed,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"missing_snapshots", summary.MissingSnapshots,
		"backup", summary.BackupPath,
		"duration", summary.Duration,
	)
}
