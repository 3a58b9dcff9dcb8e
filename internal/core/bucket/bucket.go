package bucket

import (
	"fmt"
	"time"
)

// Period is the granularity of a counter bucket.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodMonthly Period = "monthly"
)

// SentinelUserID is the normalized user id stored for unauthenticated
// activity. Real user ids are positive, so -1 can never collide with one.
// The sentinel is persisted as-is so (user_id, action, date, period)
// stays a plain unique index at the schema boundary.
const SentinelUserID int64 = -1

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// acceptedLayouts are the timestamp shapes the dashboard pipeline emits.
// Tried in order; first match wins.
var acceptedLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	dayLayout,
}

// ValidPeriod reports whether p is a supported bucket period.
func ValidPeriod(p Period) bool {
	return p == PeriodDaily || p == PeriodMonthly
}

// ParsePeriod validates a raw period string.
func ParsePeriod(s string) (Period, error) {
	p := Period(s)
	if !ValidPeriod(p) {
		return "", fmt.Errorf("invalid period %q (must be daily or monthly)", s)
	}
	return p, nil
}

// NormalizeDate converts an arbitrary timestamp string into the canonical
// bucket key for a period: YYYY-MM-DD for daily, YYYY-MM-01 for monthly.
// All derivation happens in UTC.
//
// Empty or unparseable input falls back to the current date for the period.
// The second return value reports whether the fallback was taken so callers
// can log the parse warning; the fallback itself is never an error.
func NormalizeDate(raw string, period Period) (string, bool) {
	t, ok := parseTimestamp(raw)
	if !ok {
		return formatBucket(time.Now().UTC(), period), true
	}
	return formatBucket(t.UTC(), period), false
}

// NormalizeTime is NormalizeDate for an already-parsed timestamp.
// Used by the backfill path, which reads timestamps from the database.
func NormalizeTime(t time.Time, period Period) string {
	return formatBucket(t.UTC(), period)
}

// NormalizeUserID maps an optional user id to its stable counting key.
// nil means "no authenticated user" and maps to SentinelUserID.
func NormalizeUserID(id *int64) int64 {
	if id == nil {
		return SentinelUserID
	}
	return *id
}

// DenormalizeUserID is the inverse mapping for API responses: the sentinel
// becomes nil, everything else round-trips.
func DenormalizeUserID(normalized int64) *int64 {
	if normalized == SentinelUserID {
		return nil
	}
	id := normalized
	return &id
}

func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range acceptedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatBucket(t time.Time, period Period) string {
	if period == PeriodMonthly {
		return t.Format(monthLayout) + "-01"
	}
	return t.Format(dayLayout)
}
