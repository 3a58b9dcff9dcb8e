package backfill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
)

const (
	defaultBatchSize        = 1000
	defaultProgressInterval = 5000
	defaultWorkerCount      = 4
)

// Options controls one backfill run.
type Options struct {
	// BatchSize is the number of rows per write transaction.
	BatchSize int
	// ProgressInterval is how many processed rows between progress logs.
	ProgressInterval int
	// WorkerCount bounds the per-key snapshot computation workers.
	WorkerCount int
	// BackupDir receives the pre-run JSON backup and the run summary.
	BackupDir string
}

func (o Options) normalized() Options {
	n := o
	if n.BatchSize <= 0 {
		n.BatchSize = defaultBatchSize
	}
	if n.ProgressInterval <= 0 {
		n.ProgressInterval = defaultProgressInterval
	}
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.BackupDir == "" {
		n.BackupDir = "./backups"
	}
	return n
}

// Summary is the final accounting of a backfill run.
type Summary struct {
	RunID            string        `json:"run_id"`
	Processed        int64         `json:"processed"`
	Updated          int64         `json:"updated"`
	Skipped          int64         `json:"skipped"`
	DistinctKeys     int           `json:"distinct_keys"`
	MissingSnapshots int64         `json:"missing_snapshots"`
	BackupPath       string        `json:"backup_path"`
	Duration         time.Duration `json:"duration_ns"`
}

// Run executes one full backfill: validate schema, back up, replay, write
// back in transactional batches, verify.
//
// The run is restartable from scratch after any abort: write-backs are
// deterministic functions of the full history, and already-correct rows are
// skipped, so a re-run converges with zero extra writes.
func Run(ctx context.Context, store storage.EventStore, opts Options) (*Summary, error) {
	opts = opts.normalized()
	started := time.Now()
	runID := newRunID()

	// Fail fast before touching anything if the table cannot hold the
	// write-backs.
	if err := store.ValidateSnapshotColumns(ctx); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	total, err := store.CountEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	slog.Info("[Backfill] Starting run",
		"run_id", runID,
		"total_events", total,
		"batch_size", opts.BatchSize,
		"workers", opts.WorkerCount)

	events, err := store.RetrieveAllChronological(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	backupPath, err := writeBackup(opts.BackupDir, runID, events)
	if err != nil {
		return nil, fmt.Errorf("backup before write: %w", err)
	}
	slog.Info("[Backfill] Backup written", "path", backupPath, "events", len(events))

	snapshots, distinctKeys, err := ComputeSnapshots(ctx, events, opts.WorkerCount)
	if err != nil {
		return nil, fmt.Errorf("compute snapshots: %w", err)
	}

	summary := &Summary{
		RunID:        runID,
		DistinctKeys: distinctKeys,
		BackupPath:   backupPath,
	}

	// Write back in chronological batches. Each batch is one transaction;
	// an interrupt between batches stops the run without touching the
	// batches already committed.
	batch := make([]storage.SnapshotUpdate, 0, opts.BatchSize)
	inBatch := 0
	for _, snap := range snapshots {
		if inBatch == 0 {
			select {
			case <-ctx.Done():
				slog.Warn("[Backfill] Interrupted between batches",
					"run_id", runID,
					"processed", summary.Processed)
				return summary, fmt.Errorf("backfill interrupted: %w", ctx.Err())
			default:
			}
		}

		if snap.Skip {
			summary.Skipped++
		} else {
			batch = append(batch, snap.Update)
		}
		summary.Processed++
		inBatch++

		if inBatch >= opts.BatchSize {
			if err := flushBatch(ctx, store, batch, summary); err != nil {
				return summary, err
			}
			batch = batch[:0]
			inBatch = 0
		}

		if summary.Processed%int64(opts.ProgressInterval) == 0 {
			slog.Info("[Backfill] Progress",
				"processed", summary.Processed,
				"total", total,
				"updated", summary.Updated,
				"skipped", summary.Skipped)
		}
	}
	if err := flushBatch(ctx, store, batch, summary); err != nil {
		return summary, err
	}

	// Post-run verification: rows still missing snapshots are a warning,
	// not a failure.
	missing, err := store.CountMissingSnapshots(ctx)
	if err != nil {
		slog.Warn("[Backfill] Verification query failed", "error", err)
	} else {
		summary.MissingSnapshots = missing
		if missing > 0 {
			slog.Warn("[Backfill] Rows still missing snapshot fields", "count", missing)
		}
	}

	summary.Duration = time.Since(started)

	if summaryPath, err := writeSummary(opts.BackupDir, runID, summary); err != nil {
		slog.Warn("[Backfill] Failed to write run summary", "error", err)
	} else {
		slog.Info("[Backfill] Run summary written", "path", summaryPath)
	}

	slog.Info("[Backfill] Run complete",
		"run_id", runID,
		"processed", summary.Processed,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"distinct_keys", summary.DistinctKeys,
		"duration", summary.Duration)
	return summary, nil
}

// flushBatch commits one batch transactionally and folds it into the
// summary. A failed batch aborts the run; the transaction rollback keeps
// the store at its pre-batch state.
func flushBatch(ctx context.Context, store storage.EventStore, batch []storage.SnapshotUpdate, summary *Summary) error {
	if len(batch) == 0 {
		return nil
	}
	if err := store.UpdateSnapshots(ctx, batch); err != nil {
		return fmt.Errorf("batch write failed after %d rows processed: %w", summary.Processed, err)
	}
	summary.Updated += int64(len(batch))
	return nil
}
