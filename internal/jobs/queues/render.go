package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/contentgen"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/jobs"
)

type renderPayload struct {
	AssetID string `json:"assetId"`
	OrgID   string `json:"orgId"`
	Prompt  string `json:"prompt,omitempty"`
}

// Render builds the content:render processor: call the generation provider
// and write the asset URL and metadata back onto the originating row.
func Render(pool *pgxpool.Pool, gen *contentgen.Client) jobs.Processor {
	return func(ctx context.Context, raw json.RawMessage) error {
		var payload renderPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return jobs.NonRetryable(fmt.Errorf("decode render payload: %w", err))
		}
		if payload.AssetID == "" || payload.OrgID == "" {
			return jobs.NonRetryable(fmt.Errorf("render payload missing assetId/orgId"))
		}

		prompt := payload.Prompt
		if prompt == "" {
			err := pool.QueryRow(ctx, `
				SELECT COALESCE(prompt, '') FROM content_assets WHERE id = $1 AND org_id = $2`,
				payload.AssetID, payload.OrgID).Scan(&prompt)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return jobs.NonRetryable(fmt.Errorf("content asset %s not found", payload.AssetID))
				}
				return fmt.Errorf("load content asset: %w", err)
			}
		}

		asset, err := gen.Render(ctx, prompt)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(asset.Metadata)
		if err != nil {
			metadata = []byte(`{}`)
		}

		return db.WithOrgTx(ctx, pool, payload.OrgID, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				UPDATE content_assets
				SET asset_url = $2, metadata = $3, status = 'ready', generated_at = $4
				WHERE id = $1`,
				payload.AssetID, asset.URL, metadata, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("write back content asset: %w", err)
			}
			return nil
		})
	}
}
