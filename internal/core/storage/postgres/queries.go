package postgres

// SQL queries for counter and activity-event storage.

const (
	// queryUpsertCounter is the single live-path mutation. The increment is
	// folded into the INSERT via ON CONFLICT, so two concurrent upserts on
	// the same key serialize at the row and neither update is lost.
	// RETURNING hands the post-increment row back to the caller.
	queryUpsertCounter = `
		INSERT INTO action_counters (
			user_id, action, date, period, count,
			last_updated, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (user_id, action, date, period)
		DO UPDATE SET
			count        = action_counters.count + EXCLUDED.count,
			last_updated = EXCLUDED.last_updated,
			updated_at   = EXCLUDED.updated_at
		RETURNING user_id, action, date, period, count,
			last_updated, created_at, updated_at
	`

	// queryGetCounter fetches one counter bucket by its exact key.
	queryGetCounter = `
		SELECT user_id, action, date, period, count,
			last_updated, created_at, updated_at
		FROM action_counters
		WHERE user_id = $1 AND action = $2 AND date = $3 AND period = $4
	`

	// querySummarizeByAction groups a user's counters per action for one
	// period. The optional action restriction is appended by the caller.
	querySummarizeByAction = `
		SELECT action, SUM(count)
		FROM action_counters
		WHERE user_id = $1 AND period = $2
	`

	// queryRetrieveEventsChronological is the authoritative replay order for
	// the backfill: event time when recorded, ingest time otherwise, with
	// ascending id breaking timestamp ties so re-runs are deterministic.
	queryRetrieveEventsChronological = `
		SELECT id, user_id, actor_id, action, timestamp, created_at,
			previous_total, daily_total, monthly_total
		FROM activity_events
		ORDER BY COALESCE(timestamp, created_at) ASC, id ASC
	`

	// queryUpdateEventSnapshots writes one computed cumulative triple back
	// onto a historical row. Executed inside the per-batch transaction.
	queryUpdateEventSnapshots = `
		UPDATE activity_events
		SET previous_total = $1, daily_total = $2, monthly_total = $3
		WHERE id = $4
	`

	queryCountEvents = `SELECT COUNT(*) FROM activity_events`

	// queryCountMissingSnapshots drives post-run verification: rows the
	// backfill should have covered but did not.
	queryCountMissingSnapshots = `
		SELECT COUNT(*)
		FROM activity_events
		WHERE previous_total IS NULL
		   OR daily_total IS NULL
		   OR monthly_total IS NULL
	`

	// queryListEventColumns lists the activity_events columns so backfill
	// startup can fail fast with the exact set of missing ones.
	queryListEventColumns = `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = 'activity_events'
	`
)
