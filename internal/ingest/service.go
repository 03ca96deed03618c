// Package ingest persists normalized inbound events: contact resolution,
// conversation upsert, idempotent message insert, and aggregate updates, all
// inside one org-scoped transaction.
package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/observability"
)

// Result reports where an inbound event landed.
type Result struct {
	ConversationID string
	MessageID      string
	Outcome        InsertOutcome
}

// Service is the ingestion pipeline.
type Service struct {
	pool    *pgxpool.Pool
	conv    Conventions
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewService builds the pipeline with resolved conventions.
func NewService(log *slog.Logger, pool *pgxpool.Pool, conv Conventions, metrics *observability.Metrics) *Service {
	return &Service{
		pool:    pool,
		conv:    conv,
		metrics: metrics,
		logger:  log.With(slog.String("service", "ingest")),
	}
}

// Ingest persists one inbound event. Calling twice with the same
// (org, channel, message id) yields one message row and bumps the unread
// counter once; the second call reports AlreadyExists with the original ids.
func (s *Service) Ingest(ctx context.Context, orgID string, event channel.InboundEvent) (Result, error) {
	if event.MessageID == "" {
		return Result{}, fmt.Errorf("inbound event missing message id")
	}
	if event.ExternalUserID == "" {
		return Result{}, fmt.Errorf("inbound event missing external user id")
	}

	var result Result
	var st store
	err := db.WithOrgTx(ctx, s.pool, orgID, func(tx pgx.Tx) error {
		contactID, err := st.resolveContact(ctx, tx, orgID, event)
		if err != nil {
			return err
		}
		conversationID, err := st.resolveConversation(ctx, tx, orgID, contactID, event)
		if err != nil {
			return err
		}
		messageID, outcome, err := st.insertMessage(ctx, tx, orgID, conversationID, event, s.conv)
		if err != nil {
			return err
		}
		result = Result{ConversationID: conversationID, MessageID: messageID, Outcome: outcome}
		if outcome == AlreadyExists {
			return nil
		}
		if err := st.insertAttachments(ctx, tx, messageID, event.Attachments); err != nil {
			return err
		}
		return st.bumpAggregates(ctx, tx, conversationID, true, event.Timestamp)
	})
	if err != nil {
		s.metrics.IngestOutcome("error")
		return Result{}, err
	}

	switch result.Outcome {
	case AlreadyExists:
		s.metrics.IngestOutcome("duplicate")
		s.logger.Debug("duplicate delivery",
			slog.String("channel", event.Channel.String()),
			slog.String("message_id", event.MessageID))
	default:
		s.metrics.IngestOutcome("inserted")
	}
	return result, nil
}

// ApplyStatus applies a delivery/read receipt to an already persisted message.
// Unknown message ids are ignored; receipts can arrive before the send path
// has committed, and the next receipt will catch the row up.
func (s *Service) ApplyStatus(ctx context.Context, orgID string, event channel.StatusEvent) error {
	if event.ExternalMessageID == "" || event.Status == "" {
		return nil
	}
	var st store
	return db.WithOrgTx(ctx, s.pool, orgID, func(tx pgx.Tx) error {
		return st.markStatus(ctx, tx, orgID, event)
	})
}
