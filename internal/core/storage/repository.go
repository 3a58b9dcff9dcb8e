package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
)

// ErrNotFound is returned when a lookup targets a counter bucket that has
// never been upserted.
var ErrNotFound = errors.New("counter record not found")

// ValidationError rejects bad input before any store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SchemaError reports required columns missing from the activity_events
// table. Raised by backfill startup validation, before any mutation.
type SchemaError struct {
	Table   string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("table %s is missing required columns: %s",
		e.Table, strings.Join(e.Missing, ", "))
}

// Filter scopes a QueryByPeriod call. Period is required; everything else
// narrows the result set. Zero Limit falls back to the store default.
type Filter struct {
	UserID   *int64
	Action   string
	Period   bucket.Period
	DateFrom string
	DateTo   string
	Limit    int
}

// Summary is the per-user aggregate view served by the dashboard.
type Summary struct {
	NormalizedUserID int64            `json:"normalized_user_id"`
	TotalActions     int64            `json:"total_actions"`
	Daily            map[string]int64 `json:"daily"`
	Monthly          map[string]int64 `json:"monthly"`
	MostActiveAction string           `json:"most_active_action"`
}

// CounterStore is the durable home of CounterRecords. All count mutation in
// the system flows through Upsert; nothing else writes the count column.
type CounterStore interface {
	// Upsert inserts the record for (user, action, date, period) with
	// count=incrementBy, or atomically adds incrementBy to the existing
	// count. The read-modify-write is a single statement, so concurrent
	// callers on the same key never lose updates. Returns the resulting
	// record.
	Upsert(ctx context.Context, userID *int64, action, rawDate string, period bucket.Period, incrementBy int64) (*v1.CounterRecord, error)

	// Get returns the exact record for the normalized key, or ErrNotFound.
	Get(ctx context.Context, userID *int64, action, rawDate string, period bucket.Period) (*v1.CounterRecord, error)

	// QueryByPeriod returns records matching the filter, most recent date
	// first, capped at the filter limit.
	QueryByPeriod(ctx context.Context, filter Filter) ([]*v1.CounterRecord, error)

	// Summarize aggregates every record for the user (optionally restricted
	// to actions) into per-action daily/monthly totals and the single most
	// active action. Ties break by action name, which is stable.
	Summarize(ctx context.Context, userID *int64, actions []string) (*Summary, error)
}

// SnapshotUpdate carries one computed backfill triple to be written onto a
// historical event row.
type SnapshotUpdate struct {
	EventID       int64
	PreviousTotal int64
	DailyTotal    int64
	MonthlyTotal  int64
}

// EventStore reads raw activity history and writes cumulative snapshots
// back onto it. Consumed only by the backfill.
type EventStore interface {
	// ValidateSnapshotColumns fails with a SchemaError naming every missing
	// column if the table cannot hold snapshot write-backs.
	ValidateSnapshotColumns(ctx context.Context) error

	// CountEvents returns the total number of historical rows.
	CountEvents(ctx context.Context) (int64, error)

	// RetrieveAllChronological returns every historical event in the
	// authoritative total order: COALESCE(timestamp, created_at) ASC,
	// id ASC. Ties on time break by ascending id for determinism.
	RetrieveAllChronological(ctx context.Context) ([]*v1.HistoricalEvent, error)

	// UpdateSnapshots applies one batch of snapshot write-backs inside a
	// single transaction: all rows commit together or none do.
	UpdateSnapshots(ctx context.Context, batch []SnapshotUpdate) error

	// CountMissingSnapshots counts rows still carrying NULL snapshot
	// fields. Used by post-run verification.
	CountMissingSnapshots(ctx context.Context) (int64, error)
}
