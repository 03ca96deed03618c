package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/jobs"
)

type calendarTickPayload struct {
	OrgID string `json:"orgId"`
}

// CalendarTick builds the calendar:tick processor: when the org has the
// birthday automation enabled, create today's scheduled birthday campaign
// row. The unique (org, kind, scheduled_for) constraint makes repeated
// ticks for the same day a no-op.
func CalendarTick(pool *pgxpool.Pool) jobs.Processor {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload calendarTickPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return jobs.NonRetryable(fmt.Errorf("decode calendar:tick payload: %w", err))
		}
		if payload.OrgID == "" {
			return jobs.NonRetryable(fmt.Errorf("calendar:tick payload missing orgId"))
		}

		var enabled bool
		err := pool.QueryRow(ctx, `
			SELECT birthday_enabled FROM org_automations WHERE org_id = $1`,
			payload.OrgID).Scan(&enabled)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load org automations: %w", err)
		}
		if !enabled {
			return nil
		}

		return db.WithOrgTx(ctx, pool, payload.OrgID, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO scheduled_campaigns (org_id, kind, scheduled_for)
				VALUES ($1, 'birthday', $2)
				ON CONFLICT (org_id, kind, scheduled_for) DO NOTHING`,
				payload.OrgID, time.Now().UTC().Format("2006-01-02"))
			if err != nil {
				return fmt.Errorf("schedule birthday campaign: %w", err)
			}
			return nil
		})
	}
}
