package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func columnRows(names ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"column_name"})
	for _, n := range names {
		rows.AddRow(n)
	}
	return rows
}

func TestEventAdapter_ValidateSnapshotColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryListEventColumns)).
		WillReturnRows(columnRows(requiredEventColumns...))

	require.NoError(t, adapter.ValidateSnapshotColumns(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAdapter_ValidateSnapshotColumnsMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	// Table predates the snapshot migration: no snapshot columns at all.
	mock.ExpectQuery(regexp.QuoteMeta(queryListEventColumns)).
		WillReturnRows(columnRows("id", "user_id", "actor_id", "action", "timestamp", "created_at"))

	err = adapter.ValidateSnapshotColumns(context.Background())
	var serr *storage.SchemaError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, "activity_events", serr.Table)
	require.Equal(t, []string{"previous_total", "daily_total", "monthly_total"}, serr.Missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAdapter_RetrieveAllChronological(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	created := time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC)
	stamped := time.Date(2025, 9, 15, 11, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "actor_id", "action", "timestamp", "created_at",
		"previous_total", "daily_total", "monthly_total",
	}).
		AddRow(1, 7, nil, "login", stamped, created, 0, 1, 1).
		AddRow(2, nil, nil, "signal_request", nil, created, nil, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(queryRetrieveEventsChronological)).
		WillReturnRows(rows)

	events, err := adapter.RetrieveAllChronological(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NotNil(t, events[0].UserID)
	require.Equal(t, int64(7), *events[0].UserID)
	require.Equal(t, stamped, events[0].EffectiveTime())
	require.NotNil(t, events[0].PreviousTotal)
	require.Equal(t, int64(0), *events[0].PreviousTotal)

	require.Nil(t, events[1].UserID)
	require.Nil(t, events[1].Timestamp)
	require.Equal(t, created, events[1].EffectiveTime())
	require.Nil(t, events[1].PreviousTotal, "unbackfilled row has no snapshots")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAdapter_UpdateSnapshots(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpdateEventSnapshots)).
		ExpectExec().
		WithArgs(int64(0), int64(1), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateEventSnapshots)).
		WithArgs(int64(1), int64(2), int64(2), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = adapter.UpdateSnapshots(context.Background(), []storage.SnapshotUpdate{
		{EventID: 1, PreviousTotal: 0, DailyTotal: 1, MonthlyTotal: 1},
		{EventID: 2, PreviousTotal: 1, DailyTotal: 2, MonthlyTotal: 2},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAdapter_UpdateSnapshotsRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	boom := errors.New("disk full")

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta(queryUpdateEventSnapshots)).
		ExpectExec().
		WithArgs(int64(0), int64(1), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(queryUpdateEventSnapshots)).
		WithArgs(int64(1), int64(2), int64(2), int64(2)).
		WillReturnError(boom)
	mock.ExpectRollback()

	err = adapter.UpdateSnapshots(context.Background(), []storage.SnapshotUpdate{
		{EventID: 1, PreviousTotal: 0, DailyTotal: 1, MonthlyTotal: 1},
		{EventID: 2, PreviousTotal: 1, DailyTotal: 2, MonthlyTotal: 2},
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAdapter_UpdateSnapshotsEmptyBatchIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	require.NoError(t, adapter.UpdateSnapshots(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventAdapter_CountMissingSnapshots(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	adapter := NewEventAdapter(db)

	mock.ExpectQuery(regexp.QuoteMeta(queryCountMissingSnapshots)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))

	count, err := adapter.CountMissingSnapshots(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(3), count)
	require.NoError(t, mock.ExpectationsWereMet())
}
