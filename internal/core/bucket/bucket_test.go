package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDate(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		period       Period
		want         string
		wantFallback bool
	}{
		{name: "rfc3339 daily", input: "2025-09-15T14:03:22Z", period: PeriodDaily, want: "2025-09-15"},
		{name: "rfc3339 monthly", input: "2025-09-15T14:03:22Z", period: PeriodMonthly, want: "2025-09-01"},
		{name: "plain date daily", input: "2025-09-15", period: PeriodDaily, want: "2025-09-15"},
		{name: "plain date monthly", input: "2025-09-15", period: PeriodMonthly, want: "2025-09-01"},
		{name: "sql timestamp", input: "2025-12-31 23:59:59", period: PeriodDaily, want: "2025-12-31"},
		{name: "tz convert to utc", input: "2025-09-15T01:30:00+05:00", period: PeriodDaily, want: "2025-09-14"},
		{name: "empty falls back", input: "", period: PeriodDaily, wantFallback: true},
		{name: "garbage falls back", input: "not-a-date", period: PeriodDaily, wantFallback: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, fellBack := NormalizeDate(tc.input, tc.period)
			require.Equal(t, tc.wantFallback, fellBack)
			if tc.wantFallback {
				// Fallback is "today" for the period; the exact value depends on
				// the wall clock, so assert the shape instead.
				require.Equal(t, NormalizeTime(time.Now().UTC(), tc.period), got)
				return
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeDateIdempotent(t *testing.T) {
	first, _ := NormalizeDate("2025-09-15T08:00:00Z", PeriodMonthly)
	second, _ := NormalizeDate("2025-09-15T08:00:00Z", PeriodMonthly)
	require.Equal(t, first, second)

	// A canonical bucket key normalizes to itself.
	again, fellBack := NormalizeDate(first, PeriodMonthly)
	require.False(t, fellBack)
	require.Equal(t, first, again)
}

func TestNormalizeUserID(t *testing.T) {
	seven := int64(7)
	require.Equal(t, int64(7), NormalizeUserID(&seven))
	require.Equal(t, SentinelUserID, NormalizeUserID(nil))

	// Sentinel passed explicitly resolves to the same counting key as nil.
	sentinel := SentinelUserID
	require.Equal(t, NormalizeUserID(nil), NormalizeUserID(&sentinel))
}

func TestDenormalizeUserID(t *testing.T) {
	require.Nil(t, DenormalizeUserID(SentinelUserID))

	got := DenormalizeUserID(42)
	require.NotNil(t, got)
	require.Equal(t, int64(42), *got)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("daily")
	require.NoError(t, err)
	require.Equal(t, PeriodDaily, p)

	p, err = ParsePeriod("monthly")
	require.NoError(t, err)
	require.Equal(t, PeriodMonthly, p)

	_, err = ParsePeriod("hourly")
	require.Error(t, err)
}
