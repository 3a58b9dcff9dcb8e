package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// CounterAdapter implements storage.CounterStore for PostgreSQL.
// The upsert and point-lookup statements are prepared once at construction;
// filtered queries are built dynamically.
type CounterAdapter struct {
	db         *sql.DB
	stmtUpsert *sql.Stmt
	stmtGet    *sql.Stmt
}

// NewCounterAdapter creates a counter adapter sharing the given connection.
func NewCounterAdapter(db *sql.DB) (*CounterAdapter, error) {
	stmtUpsert, err := db.Prepare(queryUpsertCounter)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare upsertCounter statement: %w", err)
	}

	stmtGet, err := db.Prepare(queryGetCounter)
	if err != nil {
		stmtUpsert.Close()
		return nil, fmt.Errorf("failed to prepare getCounter statement: %w", err)
	}

	return &CounterAdapter{
		db:         db,
		stmtUpsert: stmtUpsert,
		stmtGet:    stmtGet,
	}, nil
}

// Upsert inserts or atomically increments the counter for the normalized
// (user, action, date, period) key. Returns the post-increment record.
func (a *CounterAdapter) Upsert(
	ctx context.Context,
	userID *int64,
	action, rawDate string,
	period bucket.Period,
	incrementBy int64,
) (*v1.CounterRecord, error) {
	if err := validateCounterInput(action, period, incrementBy); err != nil {
		return nil, err
	}

	normalizedID := bucket.NormalizeUserID(userID)
	dateBucket := normalizeDate(rawDate, period, "upsert", action)
	now := time.Now().UTC()

	rec, err := scanCounterRow(a.stmtUpsert.QueryRowContext(ctx,
		normalizedID, action, dateBucket, string(period), incrementBy, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert counter: %w", err)
	}

	slog.Debug("[Counters] Upserted",
		"user_id", normalizedID,
		"action", action,
		"date", dateBucket,
		"period", period,
		"count", rec.Count)
	return rec, nil
}

// Get returns the counter record for the normalized key, or
// storage.ErrNotFound when no upsert has created it yet.
func (a *CounterAdapter) Get(
	ctx context.Context,
	userID *int64,
	action, rawDate string,
	period bucket.Period,
) (*v1.CounterRecord, error) {
	if err := validateCounterInput(action, period, 1); err != nil {
		return nil, err
	}

	normalizedID := bucket.NormalizeUserID(userID)
	dateBucket := normalizeDate(rawDate, period, "get", action)

	rec, err := scanCounterRow(a.stmtGet.QueryRowContext(ctx,
		normalizedID, action, dateBucket, string(period),
	))
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	return rec, nil
}

// QueryByPeriod returns counter records matching the filter, most recent
// date first. A nil filter UserID means "all users"; pass the sentinel to
// select anonymous records only.
func (a *CounterAdapter) QueryByPeriod(ctx context.Context, filter storage.Filter) ([]*v1.CounterRecord, error) {
	if !bucket.ValidPeriod(filter.Period) {
		return nil, &storage.ValidationError{Field: "period", Reason: fmt.Sprintf("unsupported value %q", filter.Period)}
	}

	query := `
		SELECT user_id, action, date, period, count,
			last_updated, created_at, updated_at
		FROM action_counters
		WHERE period = $1`
	args := []interface{}{string(filter.Period)}

	if filter.UserID != nil {
		args = append(args, *filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.DateFrom != "" {
		args = append(args, filter.DateFrom)
		query += fmt.Sprintf(" AND date >= $%d", len(args))
	}
	if filter.DateTo != "" {
		args = append(args, filter.DateTo)
		query += fmt.Sprintf(" AND date <= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY date DESC, action ASC LIMIT $%d", len(args))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer rows.Close()

	var records []*v1.CounterRecord
	for rows.Next() {
		rec, scanErr := scanCounterRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan counter row: %w", scanErr)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counters: %w", err)
	}
	return records, nil
}

// Summarize aggregates all of a user's counters into per-action daily and
// monthly totals plus the single most active action. The daily and monthly
// group queries run concurrently; they touch disjoint result maps.
func (a *CounterAdapter) Summarize(ctx context.Context, userID *int64, actions []string) (*storage.Summary, error) {
	normalizedID := bucket.NormalizeUserID(userID)

	summary := &storage.Summary{
		NormalizedUserID: normalizedID,
		Daily:            make(map[string]int64),
		Monthly:          make(map[string]int64),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.sumByAction(gctx, normalizedID, bucket.PeriodDaily, actions, summary.Daily)
	})
	g.Go(func() error {
		return a.sumByAction(gctx, normalizedID, bucket.PeriodMonthly, actions, summary.Monthly)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Daily buckets count each event exactly once; monthly buckets recount
	// the same events, so the grand total comes from the daily side.
	for _, count := range summary.Daily {
		summary.TotalActions += count
	}

	summary.MostActiveAction = mostActiveAction(summary.Daily, summary.Monthly)
	return summary, nil
}

func (a *CounterAdapter) sumByAction(
	ctx context.Context,
	normalizedID int64,
	period bucket.Period,
	actions []string,
	out map[string]int64,
) error {
	query := querySummarizeByAction
	args := []interface{}{normalizedID, string(period)}

	if len(actions) > 0 {
		args = append(args, pq.Array(actions))
		query += fmt.Sprintf(" AND action = ANY($%d)", len(args))
	}
	query += " GROUP BY action"

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to summarize %s counters: %w", period, err)
	}
	defer rows.Close()

	for rows.Next() {
		var action string
		var total int64
		if err := rows.Scan(&action, &total); err != nil {
			return fmt.Errorf("failed to scan %s summary row: %w", period, err)
		}
		out[action] = total
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %s summary: %w", period, err)
	}
	return nil
}

// mostActiveAction picks the action with the highest combined daily+monthly
// total. Ties break toward the lexicographically smallest action name, which
// keeps the result stable across runs.
func mostActiveAction(daily, monthly map[string]int64) string {
	combined := make(map[string]int64, len(daily))
	for action, count := range daily {
		combined[action] += count
	}
	for action, count := range monthly {
		combined[action] += count
	}

	var best string
	var bestCount int64 = -1
	for action, count := range combined {
		if count > bestCount || (count == bestCount && action < best) {
			best = action
			bestCount = count
		}
	}
	return best
}

func validateCounterInput(action string, period bucket.Period, incrementBy int64) error {
	if action == "" {
		return &storage.ValidationError{Field: "action", Reason: "must not be empty"}
	}
	if !bucket.ValidPeriod(period) {
		return &storage.ValidationError{Field: "period", Reason: fmt.Sprintf("unsupported value %q", period)}
	}
	if incrementBy < 1 {
		return &storage.ValidationError{Field: "increment_by", Reason: "must be >= 1"}
	}
	return nil
}

// normalizeDate wraps bucket.NormalizeDate with the non-fatal parse warning.
func normalizeDate(rawDate string, period bucket.Period, op, action string) string {
	dateBucket, fellBack := bucket.NormalizeDate(rawDate, period)
	if fellBack {
		slog.Warn("[Counters] Unparseable date, bucketing to today",
			"op", op,
			"raw_date", rawDate,
			"action", action,
			"bucket", dateBucket)
	}
	return dateBucket
}

// Close closes the prepared statements. The shared *sql.DB is owned by the
// connection adapter and closed there.
func (a *CounterAdapter) Close() error {
	var firstErr error
	if err := a.stmtUpsert.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close upsertCounter statement: %w", err)
	}
	if err := a.stmtGet.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close getCounter statement: %w", err)
	}
	return firstErr
}
