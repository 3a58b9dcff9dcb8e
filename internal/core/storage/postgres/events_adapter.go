package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
)

// requiredEventColumns are the activity_events columns the backfill reads
// or writes. Startup validation refuses to run without all of them.
var requiredEventColumns = []string{
	"id",
	"user_id",
	"actor_id",
	"action",
	"timestamp",
	"created_at",
	"previous_total",
	"daily_total",
	"monthly_total",
}

// EventAdapter implements storage.EventStore for PostgreSQL.
// Snapshot write-backs run per batch inside one transaction; reads stream
// the full history in the authoritative chronological order.
type EventAdapter struct {
	db *sql.DB
}

// NewEventAdapter creates an event adapter sharing the given connection.
func NewEventAdapter(db *sql.DB) *EventAdapter {
	return &EventAdapter{db: db}
}

// ValidateSnapshotColumns fails with a storage.SchemaError naming every
// missing column. Runs before any mutation so a half-migrated table never
// gets partially backfilled.
func (a *EventAdapter) ValidateSnapshotColumns(ctx context.Context) error {
	rows, err := a.db.QueryContext(ctx, queryListEventColumns)
	if err != nil {
		return fmt.Errorf("failed to list activity_events columns: %w", err)
	}
	defer rows.Close()

	present := make(map[string]bool)
	for rows.Next() {
		var column string
		if err := rows.Scan(&column); err != nil {
			return fmt.Errorf("failed to scan column name: %w", err)
		}
		present[column] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating columns: %w", err)
	}

	var missing []string
	for _, column := range requiredEventColumns {
		if !present[column] {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return &storage.SchemaError{Table: "activity_events", Missing: missing}
	}
	return nil
}

// CountEvents returns the total number of historical rows.
func (a *EventAdapter) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := a.db.QueryRowContext(ctx, queryCountEvents).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count activity events: %w", err)
	}
	return count, nil
}

// RetrieveAllChronological loads the full activity history in replay order:
// COALESCE(timestamp, created_at) ASC, id ASC.
func (a *EventAdapter) RetrieveAllChronological(ctx context.Context) ([]*v1.HistoricalEvent, error) {
	rows, err := a.db.QueryContext(ctx, queryRetrieveEventsChronological)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity events: %w", err)
	}
	defer rows.Close()

	var events []*v1.HistoricalEvent
	for rows.Next() {
		evt, scanErr := scanHistoricalEventRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, evt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity events: %w", err)
	}

	slog.Info("[Events] Loaded activity history", "count", len(events))
	return events, nil
}

// UpdateSnapshots writes one batch of computed snapshot triples in a single
// transaction. Any failure rolls back the whole batch — there is no state
// where only part of a batch is committed.
func (a *EventAdapter) UpdateSnapshots(ctx context.Context, batch []storage.SnapshotUpdate) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot batch: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, queryUpdateEventSnapshots)
	if err != nil {
		return fmt.Errorf("snapshot batch: prepare update: %w", err)
	}
	defer stmt.Close()

	for _, update := range batch {
		if _, err := stmt.ExecContext(ctx,
			update.PreviousTotal,
			update.DailyTotal,
			update.MonthlyTotal,
			update.EventID,
		); err != nil {
			return fmt.Errorf("snapshot batch: update event %d: %w", update.EventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot batch: commit: %w", err)
	}
	return nil
}

// CountMissingSnapshots counts rows still missing any snapshot field.
func (a *EventAdapter) CountMissingSnapshots(ctx context.Context) (int64, error) {
	var count int64
	if err := a.db.QueryRowContext(ctx, queryCountMissingSnapshots).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count missing snapshots: %w", err)
	}
	return count, nil
}
