package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
	"github.com/stretchr/testify/require"
)

func newCounterAdapterForTest(t *testing.T) (*CounterAdapter, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	mock.ExpectPrepare(regexp.QuoteMeta(queryUpsertCounter))
	mock.ExpectPrepare(regexp.QuoteMeta(queryGetCounter))

	adapter, err := NewCounterAdapter(db)
	require.NoError(t, err)

	return adapter, mock, func() { db.Close() }
}

func counterRows(userID int64, action, date, period string, count int64, now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"user_id", "action", "date", "period", "count",
		"last_updated", "created_at", "updated_at",
	}).AddRow(userID, action, date, period, count, now, now, now)
}

func TestCounterAdapter_Upsert(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	now := time.Now().UTC()
	seven := int64(7)

	mock.ExpectQuery(regexp.QuoteMeta(queryUpsertCounter)).
		WithArgs(int64(7), "login", "2025-09-15", "daily", int64(1), sqlmock.AnyArg()).
		WillReturnRows(counterRows(7, "login", "2025-09-15", "daily", 1, now))

	rec, err := adapter.Upsert(context.Background(), &seven, "login", "2025-09-15", bucket.PeriodDaily, 1)
	require.NoError(t, err)
	require.Equal(t, int64(7), rec.NormalizedUserID)
	require.NotNil(t, rec.UserID)
	require.Equal(t, int64(7), *rec.UserID)
	require.Equal(t, int64(1), rec.Count)
	require.Equal(t, bucket.PeriodDaily, rec.Period)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_UpsertAnonymousUsesSentinel(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	now := time.Now().UTC()

	// Second upsert of an anonymous signal_request: the store already holds
	// count=1, so the returned row carries count=2.
	mock.ExpectQuery(regexp.QuoteMeta(queryUpsertCounter)).
		WithArgs(bucket.SentinelUserID, "signal_request", "2025-09-15", "daily", int64(1), sqlmock.AnyArg()).
		WillReturnRows(counterRows(bucket.SentinelUserID, "signal_request", "2025-09-15", "daily", 2, now))

	rec, err := adapter.Upsert(context.Background(), nil, "signal_request", "2025-09-15", bucket.PeriodDaily, 1)
	require.NoError(t, err)
	require.Equal(t, bucket.SentinelUserID, rec.NormalizedUserID)
	require.Nil(t, rec.UserID, "sentinel denormalizes to nil at the API boundary")
	require.Equal(t, int64(2), rec.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_UpsertCustomIncrement(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	now := time.Now().UTC()
	five := int64(5)

	// Two prior increments of 1 plus this increment of 5 = 7.
	mock.ExpectQuery(regexp.QuoteMeta(queryUpsertCounter)).
		WithArgs(int64(5), "chat_message", "2025-09-15", "daily", int64(5), sqlmock.AnyArg()).
		WillReturnRows(counterRows(5, "chat_message", "2025-09-15", "daily", 7, now))

	rec, err := adapter.Upsert(context.Background(), &five, "chat_message", "2025-09-15", bucket.PeriodDaily, 5)
	require.NoError(t, err)
	require.Equal(t, int64(7), rec.Count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_UpsertInvalidDateBucketsToToday(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	now := time.Now().UTC()
	five := int64(5)
	today := bucket.NormalizeTime(now, bucket.PeriodDaily)

	mock.ExpectQuery(regexp.QuoteMeta(queryUpsertCounter)).
		WithArgs(int64(5), "login", today, "daily", int64(1), sqlmock.AnyArg()).
		WillReturnRows(counterRows(5, "login", today, "daily", 1, now))

	rec, err := adapter.Upsert(context.Background(), &five, "login", "not-a-date", bucket.PeriodDaily, 1)
	require.NoError(t, err)
	require.Equal(t, today, rec.DateBucket)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_UpsertValidation(t *testing.T) {
	adapter, _, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	seven := int64(7)

	tests := []struct {
		name        string
		action      string
		period      bucket.Period
		incrementBy int64
	}{
		{name: "empty action", action: "", period: bucket.PeriodDaily, incrementBy: 1},
		{name: "bad period", action: "login", period: "hourly", incrementBy: 1},
		{name: "zero increment", action: "login", period: bucket.PeriodDaily, incrementBy: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := adapter.Upsert(context.Background(), &seven, tc.action, "2025-09-15", tc.period, tc.incrementBy)
			var verr *storage.ValidationError
			require.ErrorAs(t, err, &verr, "rejected before any store access")
		})
	}
}

func TestCounterAdapter_GetNotFound(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	seven := int64(7)

	mock.ExpectQuery(regexp.QuoteMeta(queryGetCounter)).
		WithArgs(int64(7), "login", "2025-09-15", "daily").
		WillReturnRows(sqlmock.NewRows([]string{
			"user_id", "action", "date", "period", "count",
			"last_updated", "created_at", "updated_at",
		}))

	_, err := adapter.Get(context.Background(), &seven, "login", "2025-09-15", bucket.PeriodDaily)
	require.True(t, errors.Is(err, storage.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_QueryByPeriod(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	now := time.Now().UTC()
	seven := int64(7)

	rows := sqlmock.NewRows([]string{
		"user_id", "action", "date", "period", "count",
		"last_updated", "created_at", "updated_at",
	}).
		AddRow(7, "login", "2025-09-16", "daily", 3, now, now, now).
		AddRow(7, "login", "2025-09-15", "daily", 1, now, now, now)

	mock.ExpectQuery("FROM action_counters").
		WithArgs("daily", int64(7), "login", "2025-09-01", "2025-09-30", 50).
		WillReturnRows(rows)

	records, err := adapter.QueryByPeriod(context.Background(), storage.Filter{
		UserID:   &seven,
		Action:   "login",
		Period:   bucket.PeriodDaily,
		DateFrom: "2025-09-01",
		DateTo:   "2025-09-30",
		Limit:    50,
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "2025-09-16", records[0].DateBucket, "date descending")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCounterAdapter_QueryByPeriodRejectsBadPeriod(t *testing.T) {
	adapter, _, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	_, err := adapter.QueryByPeriod(context.Background(), storage.Filter{Period: "weekly"})
	var verr *storage.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCounterAdapter_Summarize(t *testing.T) {
	adapter, mock, closeDB := newCounterAdapterForTest(t)
	defer closeDB()

	// The daily and monthly group queries run concurrently; their arrival
	// order at the driver is not deterministic.
	mock.MatchExpectationsInOrder(false)

	seven := int64(7)

	mock.ExpectQuery(regexp.QuoteMeta("FROM action_counters")).
		WithArgs(int64(7), "daily").
		WillReturnRows(sqlmock.NewRows([]string{"action", "sum"}).
			AddRow("login", 10).
			AddRow("signal_request", 4))

	mock.ExpectQuery(regexp.QuoteMeta("FROM action_counters")).
		WithArgs(int64(7), "monthly").
		WillReturnRows(sqlmock.NewRows([]string{"action", "sum"}).
			AddRow("login", 10).
			AddRow("signal_request", 4))

	summary, err := adapter.Summarize(context.Background(), &seven, nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), summary.NormalizedUserID)
	require.Equal(t, int64(14), summary.TotalActions)
	require.Equal(t, int64(10), summary.Daily["login"])
	require.Equal(t, int64(4), summary.Monthly["signal_request"])
	require.Equal(t, "login", summary.MostActiveAction)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMostActiveAction_TieBreaksByName(t *testing.T) {
	daily := map[string]int64{"login": 5, "chat_message": 5}
	monthly := map[string]int64{"login": 5, "chat_message": 5}
	require.Equal(t, "chat_message", mostActiveAction(daily, monthly))

	require.Equal(t, "", mostActiveAction(nil, nil), "no records means no most-active action")
}
