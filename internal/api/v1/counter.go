package v1

import (
	"fmt"
	"time"

	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
)

// CounterRecord is one persisted counter bucket: how many times a user
// (or the anonymous sentinel) performed an action within a date bucket.
// The tuple (NormalizedUserID, Action, DateBucket, Period) is unique —
// every upsert for the same tuple lands on the same row.
type CounterRecord struct {
	// NormalizedUserID is the stored counting key: a real user id, or
	// bucket.SentinelUserID for unauthenticated activity.
	NormalizedUserID int64 `json:"normalized_user_id"`

	// UserID is the API-facing view of the key: nil when the record
	// belongs to the anonymous sentinel.
	UserID *int64 `json:"user_id"`

	// Action is the domain event name being counted (e.g. "login",
	// "signal_request").
	Action string `json:"action"`

	// DateBucket is the canonical bucket key: YYYY-MM-DD for daily
	// records, YYYY-MM-01 for monthly records.
	DateBucket string `json:"date"`

	Period bucket.Period `json:"period"`

	// Count only ever grows; upserts add to it, nothing decrements it.
	Count int64 `json:"count"`

	LastUpdated time.Time `json:"last_updated"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ActivityEvent is the live-path ingest envelope. One event increments the
// daily and monthly counters for its (user, action) key.
type ActivityEvent struct {
	// UserID is the acting user; nil for unauthenticated activity.
	UserID *int64 `json:"user_id"`

	// Action is the event name. Required.
	Action string `json:"action"`

	// OccurredAt is the client-side timestamp of the activity. Optional;
	// empty or unparseable values bucket to "now" with a logged warning.
	OccurredAt string `json:"occurred_at"`

	// IncrementBy is how much to add to the counters. Defaults to 1.
	IncrementBy int64 `json:"increment_by"`
}

// Validate ensures the event can be counted. Called before any store access.
func (e *ActivityEvent) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("action is required")
	}
	if e.IncrementBy < 0 {
		return fmt.Errorf("increment_by must be >= 0")
	}
	return nil
}

// EffectiveIncrement resolves the default increment of 1.
func (e *ActivityEvent) EffectiveIncrement() int64 {
	if e.IncrementBy == 0 {
		return 1
	}
	return e.IncrementBy
}

// HistoricalEvent is one row of the raw activity history consumed by the
// backfill. The snapshot fields are nil until a backfill run has computed
// them; re-runs overwrite them entirely.
type HistoricalEvent struct {
	ID int64

	// UserID is the recorded actor; ActorID is the legacy fallback column
	// populated by older dashboard versions. Key resolution prefers UserID.
	UserID  *int64
	ActorID *int64

	Action string

	// Timestamp is the client event time; CreatedAt the ingest time.
	// Chronological order uses Timestamp when present, CreatedAt otherwise.
	Timestamp *time.Time
	CreatedAt time.Time

	// Cumulative snapshot fields, written back by the backfill.
	PreviousTotal *int64
	DailyTotal    *int64
	MonthlyTotal  *int64
}

// NormalizedUserID resolves the counting key for this event: user_id first,
// the actor_id fallback second, the anonymous sentinel last.
func (h *HistoricalEvent) NormalizedUserID() int64 {
	if h.UserID != nil {
		return *h.UserID
	}
	return bucket.NormalizeUserID(h.ActorID)
}

// EffectiveTime is the authoritative event time for total ordering.
func (h *HistoricalEvent) EffectiveTime() time.Time {
	if h.Timestamp != nil {
		return *h.Timestamp
	}
	return h.CreatedAt
}

// SnapshotMatches reports whether the stored snapshot triple already equals
// the computed one. Used by the backfill to skip no-op writes.
func (h *HistoricalEvent) SnapshotMatches(previous, daily, monthly int64) bool {
	return h.PreviousTotal != nil && *h.PreviousTotal == previous &&
		h.DailyTotal != nil && *h.DailyTotal == daily &&
		h.MonthlyTotal != nil && *h.MonthlyTotal == monthly
}
