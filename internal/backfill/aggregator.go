package backfill

import (
	"context"

	v1 "github.com/signaldesk-lab/signal-metrics/internal/api/v1"
	"github.com/signaldesk-lab/signal-metrics/internal/core/bucket"
	"github.com/signaldesk-lab/signal-metrics/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// counterKey identifies one independent replay stream: all events of one
// normalized user performing one action.
type counterKey struct {
	userID int64
	action string
}

// accumulator is the explicit per-key running state for one backfill
// invocation. It is created for a run and discarded with it — nothing is
// shared across runs or processes.
type accumulator struct {
	total   int64
	daily   map[string]int64
	monthly map[string]int64
}

func newAccumulator() *accumulator {
	return &accumulator{
		daily:   make(map[string]int64),
		monthly: make(map[string]int64),
	}
}

// apply folds one event into the running state and returns its cumulative
// snapshot triple. previousTotal is the state BEFORE the event; the daily
// and monthly totals are the event's 1-indexed rank within its bucket.
func (a *accumulator) apply(evt *v1.HistoricalEvent) (previous, daily, monthly int64) {
	day := bucket.NormalizeTime(evt.EffectiveTime(), bucket.PeriodDaily)
	month := bucket.NormalizeTime(evt.EffectiveTime(), bucket.PeriodMonthly)

	previous = a.total
	a.total++

	a.daily[day]++
	daily = a.daily[day]

	a.monthly[month]++
	monthly = a.monthly[month]

	return previous, daily, monthly
}

// Snapshot is the computed write-back for one event, aligned by position
// with the chronological input slice. Skip marks rows whose stored triple
// already matches — re-running over backfilled data produces zero writes.
type Snapshot struct {
	Update storage.SnapshotUpdate
	Skip   bool
}

// ComputeSnapshots replays the chronological event stream and computes the
// cumulative snapshot for every event.
//
// Events MUST arrive in the authoritative total order (effective time ASC,
// id ASC). Distinct (user, action) keys are independent, so each key's
// stream is replayed on its own worker; within a key the original order is
// preserved because grouping keeps the ascending input positions.
func ComputeSnapshots(ctx context.Context, events []*v1.HistoricalEvent, workerCount int) ([]Snapshot, int, error) {
	if workerCount <= 0 {
		workerCount = defaultWorkerCount
	}

	// Group input positions per key; positions stay ascending.
	groups := make(map[counterKey][]int)
	for i, evt := range events {
		key := counterKey{userID: evt.NormalizedUserID(), action: evt.Action}
		groups[key] = append(groups[key], i)
	}

	snapshots := make([]Snapshot, len(events))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(workerCount)
	for _, positions := range groups {
		positions := positions
		g.Go(func() error {
			// Each worker owns a disjoint set of positions, so writes into
			// the shared slice never collide.
			acc := newAccumulator()
			for _, i := range positions {
				evt := events[i]
				previous, daily, monthly := acc.apply(evt)
				snapshots[i] = Snapshot{
					Update: storage.SnapshotUpdate{
						EventID:       evt.ID,
						PreviousTotal: previous,
						DailyTotal:    daily,
						MonthlyTotal:  monthly,
					},
					Skip: evt.SnapshotMatches(previous, daily, monthly),
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return snapshots, len(groups), nil
}
