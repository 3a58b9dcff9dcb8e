package projection

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
)

// anonymousUserParam is the path segment selecting sentinel-keyed records.
const anonymousUserParam = "anonymous"

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid counter query")

// Service implements the read/query layer over the counter store.
type Service struct {
	counters storage.CounterStore
}

// NewService creates a new projection service.
func NewService(counters storage.CounterStore) *Service {
	if counters == nil {
		panic("projection: counter store must not be nil")
	}
	return &Service{counters: counters}
}

// CounterQueryRequest is the normalized form of a counters listing request.
type CounterQueryRequest struct {
	// UserID is nil for "all users"; the sentinel selects anonymous records.
	UserID   *int64
	Action   string
	Period   bucket.Period
	DateFrom string
	DateTo   string
	Limit    int
}

// QueryCounters lists counter records for a period, newest date first.
func (s *Service) QueryCounters(ctx context.Context, req CounterQueryRequest) ([]*v1.CounterRecord, error) {
	if req.Period == "" {
		req.Period = bucket.PeriodDaily
	}
	if !bucket.ValidPeriod(req.Period) {
		return nil, invalidQueryf("unsupported period %q", req.Period)
	}

	records, err := s.counters.QueryByPeriod(ctx, storage.Filter{
		UserID:   req.UserID,
		Action:   req.Action,
		Period:   req.Period,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
		Limit:    req.Limit,
	})
	if err != nil {
		var verr *storage.ValidationError
		if errors.As(err, &verr) {
			return nil, invalidQueryf("%s", verr.Error())
		}
		return nil, fmt.Errorf("query counters: %w", err)
	}
	return records, nil
}

// GetCounter fetches one exact bucket. Returns storage.ErrNotFound when the
// key has never been upserted.
func (s *Service) GetCounter(ctx context.Context, userID *int64, action, date string, period bucket.Period) (*v1.CounterRecord, error) {
	if action == "" {
		return nil, invalidQueryf("action is required for a point lookup")
	}
	if period == "" {
		period = bucket.PeriodDaily
	}
	if !bucket.ValidPeriod(period) {
		return nil, invalidQueryf("unsupported period %q", period)
	}

	rec, err := s.counters.Get(ctx, userID, action, date, period)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		var verr *storage.ValidationError
		if errors.As(err, &verr) {
			return nil, invalidQueryf("%s", verr.Error())
		}
		return nil, fmt.Errorf("get counter: %w", err)
	}
	return rec, nil
}

// Summarize aggregates a user's activity across all dates.
func (s *Service) Summarize(ctx context.Context, userID *int64, actionsCSV string) (*storage.Summary, error) {
	var actions []string
	for _, a := range strings.Split(actionsCSV, ",") {
		if a = strings.TrimSpace(a); a != "" {
			actions = append(actions, a)
		}
	}

	summary, err := s.counters.Summarize(ctx, userID, actions)
	if err != nil {
		return nil, fmt.Errorf("summarize counters: %w", err)
	}
	return summary, nil
}

// parseUserParam resolves the :user_id path segment: a positive integer id,
// or "anonymous" for the sentinel bucket.
func parseUserParam(raw string) (*int64, error) {
	if raw == anonymousUserParam {
		id := bucket.SentinelUserID
		return &id, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return nil, invalidQueryf("user_id must be a positive integer or %q", anonymousUserParam)
	}
	return &id, nil
}

func invalidQueryf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidQuery}, args...)...)
}
