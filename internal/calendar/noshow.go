// Package calendar owns the appointment sweeps: no-show detection and
// pre-appointment reminders, plus the cron service that drives them.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SweepNoShows transitions every still-pending event whose start time is
// more than graceMinutes in the past to noshow, stamping noshow_at. The
// WHERE clause excludes already-transitioned rows, so repeated and
// concurrent runs are no-ops for rows a previous run already handled.
// Returns the number of rows transitioned.
func SweepNoShows(ctx context.Context, pool *pgxpool.Pool, graceMinutes int, now time.Time) (int64, error) {
	cutoff := now.Add(-time.Duration(graceMinutes) * time.Minute)
	tag, err := pool.Exec(ctx, `
		UPDATE calendar_events
		SET rsvp_status = 'noshow', noshow_at = $2
		WHERE rsvp_status = 'pending' AND start_at < $1`,
		cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("no-show sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
