package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/contentgen"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/jobs"
)

type repurposePayload struct {
	JobID  string   `json:"jobId"`
	PostID string   `json:"postId"`
	OrgID  string   `json:"orgId"`
	Modes  []string `json:"modes,omitempty"`
}

var defaultRepurposeModes = []string{"story", "email", "video"}

// Repurpose builds the repurpose processor: generate channel-specific
// derivative posts from a source post and mark the repurpose_jobs row
// completed, or not_found when the source post no longer exists.
func Repurpose(pool *pgxpool.Pool, gen *contentgen.Client) jobs.Processor {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload repurposePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return jobs.NonRetryable(fmt.Errorf("decode repurpose payload: %w", err))
		}
		if payload.PostID == "" || payload.OrgID == "" {
			return jobs.NonRetryable(fmt.Errorf("repurpose payload missing postId/orgId"))
		}
		modes := payload.Modes
		if len(modes) == 0 {
			modes = defaultRepurposeModes
		}

		var sourceBody string
		err := pool.QueryRow(ctx, `
			SELECT COALESCE(prompt, '') FROM content_assets WHERE id = $1 AND org_id = $2`,
			payload.PostID, payload.OrgID).Scan(&sourceBody)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return markRepurposeJob(ctx, pool, payload, "not_found")
			}
			return fmt.Errorf("load source post: %w", err)
		}

		derivatives := make(map[string]string, len(modes))
		for _, mode := range modes {
			body, err := gen.Derive(ctx, sourceBody, mode)
			if err != nil {
				return fmt.Errorf("derive %s variant: %w", mode, err)
			}
			derivatives[mode] = body
		}

		return db.WithOrgTx(ctx, pool, payload.OrgID, func(tx pgx.Tx) error {
			for mode, body := range derivatives {
				_, err := tx.Exec(ctx, `
					INSERT INTO derivative_posts (org_id, source_post_id, mode, body)
					VALUES ($1, $2, $3, $4)`,
					payload.OrgID, payload.PostID, mode, body)
				if err != nil {
					return fmt.Errorf("insert derivative post: %w", err)
				}
			}
			return markRepurposeJobTx(ctx, tx, payload, "completed")
		})
	}
}

func markRepurposeJob(ctx context.Context, pool *pgxpool.Pool, payload repurposePayload, status string) error {
	return db.WithOrgTx(ctx, pool, payload.OrgID, func(tx pgx.Tx) error {
		return markRepurposeJobTx(ctx, tx, payload, status)
	})
}

func markRepurposeJobTx(ctx context.Context, tx pgx.Tx, payload repurposePayload, status string) error {
	if payload.JobID == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE repurpose_jobs SET status = $2 WHERE id = $1 AND org_id = $3`,
		payload.JobID, status, payload.OrgID)
	if err != nil {
		return fmt.Errorf("mark repurpose job %s: %w", status, err)
	}
	return nil
}
