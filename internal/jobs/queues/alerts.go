package queues

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loopline-io/loopline/internal/jobs"
)

type alertPayload struct {
	Level   string `json:"level,omitempty"`
	Message string `json:"message"`
	OrgID   string `json:"orgId,omitempty"`
}

// Alerts builds the alerts processor, a fire-and-log notification sink.
func Alerts(log *slog.Logger) jobs.Processor {
	logger := log.With(slog.String("queue", jobs.QueueAlerts))
	return func(_ context.Context, raw json.RawMessage) error {
		var payload alertPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return jobs.NonRetryable(fmt.Errorf("decode alert payload: %w", err))
		}
		attrs := []any{slog.String("message", payload.Message)}
		if payload.OrgID != "" {
			attrs = append(attrs, slog.String("org_id", payload.OrgID))
		}
		switch payload.Level {
		case "error":
			logger.Error("alert", attrs...)
		case "warn":
			logger.Warn("alert", attrs...)
		default:
			logger.Info("alert", attrs...)
		}
		return nil
	}
}
