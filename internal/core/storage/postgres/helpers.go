package postgres

import (
	"database/sql"
	"fmt"

	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCounterRow scans a database row into a CounterRecord.
// Compatible with both sql.Row (single) and sql.Rows (multiple).
// The sentinel user id is translated back to a nil UserID at this boundary.
func scanCounterRow(row scanner) (*v1.CounterRecord, error) {
	var rec v1.CounterRecord
	var period string

	err := row.Scan(
		&rec.NormalizedUserID,
		&rec.Action,
		&rec.DateBucket,
		&period,
		&rec.Count,
		&rec.LastUpdated,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Period = bucket.Period(period)
	rec.UserID = bucket.DenormalizeUserID(rec.NormalizedUserID)
	return &rec, nil
}

// scanHistoricalEventRow scans an activity_events row, coercing nullable
// driver values into typed pointers at the repository boundary.
func scanHistoricalEventRow(row scanner) (*v1.HistoricalEvent, error) {
	var evt v1.HistoricalEvent
	var (
		userID    sql.NullInt64
		actorID   sql.NullInt64
		timestamp sql.NullTime
		previous  sql.NullInt64
		daily     sql.NullInt64
		monthly   sql.NullInt64
	)

	err := row.Scan(
		&evt.ID,
		&userID,
		&actorID,
		&evt.Action,
		&timestamp,
		&evt.CreatedAt,
		&previous,
		&daily,
		&monthly,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan activity event row: %w", err)
	}

	if userID.Valid {
		evt.UserID = &userID.Int64
	}
	if actorID.Valid {
		evt.ActorID = &actorID.Int64
	}
	if timestamp.Valid {
		evt.Timestamp = &timestamp.Time
	}
	if previous.Valid {
		evt.PreviousTotal = &previous.Int64
	}
	if daily.Valid {
		evt.DailyTotal = &daily.Int64
	}
	if monthly.Valid {
		evt.MonthlyTotal = &monthly.Int64
	}

	return &evt, nil
}
