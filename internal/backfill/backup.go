package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
)

// backupEvent is the on-disk JSON shape of one historical row. Pointers
// survive marshalling as null, so the backup captures pre-run NULLs exactly.
type backupEvent struct {
	ID            int64      `json:"id"`
	UserID        *int64     `json:"user_id"`
	ActorID       *int64     `json:"actor_id"`
	Action        string     `json:"action"`
	Timestamp     *time.Time `json:"timestamp"`
	CreatedAt     time.Time  `json:"created_at"`
	PreviousTotal *int64     `json:"previous_total"`
	DailyTotal    *int64     `json:"daily_total"`
	MonthlyTotal  *int64     `json:"monthly_total"`
}

type backupFile struct {
	RunID      string        `json:"run_id"`
	CreatedAt  time.Time     `json:"created_at"`
	EventCount int           `json:"event_count"`
	Events     []backupEvent `json:"events"`
}

// writeBackup serializes the full pre-run history to a JSON file in dir and
// returns its path. Written before any mutation so a bad run can be
// restored by hand.
func writeBackup(dir, runID string, events []*v1.HistoricalEvent) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	out := backupFile{
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
		EventCount: len(events),
		Events:     make([]backupEvent, 0, len(events)),
	}
	for _, evt := range events {
		out.Events = append(out.Events, backupEvent{
			ID:            evt.ID,
			UserID:        evt.UserID,
			ActorID:       evt.ActorID,
			Action:        evt.Action,
			Timestamp:     evt.Timestamp,
			CreatedAt:     evt.CreatedAt,
			PreviousTotal: evt.PreviousTotal,
			DailyTotal:    evt.DailyTotal,
			MonthlyTotal:  evt.MonthlyTotal,
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal backup: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("activity-events-%s-%s.json",
		out.CreatedAt.Format("20060102-150405"), runID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	return path, nil
}

// writeSummary persists the final run summary next to the backup. Failure
// here is non-fatal; the caller logs and moves on.
func writeSummary(dir, runID string, summary *Summary) (string, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("backfill-summary-%s.json", runID))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write summary file: %w", err)
	}
	return path, nil
}

// newRunID returns the identity stamped onto backup and summary files.
func newRunID() string {
	return uuid.NewString()
}
