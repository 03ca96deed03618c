package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopline-io/loopline/internal/channel"
)

// InsertOutcome tells the caller whether a message insert created a row or
// hit an existing one. Duplicate delivery is an expected branch, not an error.
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	AlreadyExists
)

// store runs the ingestion SQL. All methods take the transaction opened by
// the service so one event is all-or-nothing.
type store struct{}

// resolveContact finds the contact for an inbound event, by phone/email first,
// then the channel id map, else creates one with consent defaulted false and
// records the channel mapping.
func (store) resolveContact(ctx context.Context, tx pgx.Tx, orgID string, event channel.InboundEvent) (string, error) {
	var contactID string

	// WhatsApp external user ids are phone numbers; try a direct match first.
	err := tx.QueryRow(ctx, `
		SELECT id FROM contacts
		WHERE org_id = $1 AND (phone = $2 OR email = $2)
		LIMIT 1`,
		orgID, event.ExternalUserID).Scan(&contactID)
	if err == nil {
		return contactID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lookup contact by phone/email: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT contact_id FROM channel_id_map
		WHERE org_id = $1 AND channel = $2 AND external_id = $3`,
		orgID, event.Channel.String(), event.ExternalUserID).Scan(&contactID)
	if err == nil {
		return contactID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("lookup channel id map: %w", err)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO contacts (org_id, name, consent)
		VALUES ($1, $2, FALSE)
		RETURNING id`,
		orgID, event.ExternalUserID).Scan(&contactID)
	if err != nil {
		return "", fmt.Errorf("create contact: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO channel_id_map (org_id, channel, external_id, contact_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, channel, external_id) DO NOTHING`,
		orgID, event.Channel.String(), event.ExternalUserID, contactID)
	if err != nil {
		return "", fmt.Errorf("map channel id: %w", err)
	}
	return contactID, nil
}

// resolveConversation upserts the (org, contact, channel) conversation.
// Two webhooks racing on the same pair both land on the same row: the loser
// of the insert falls through to the select.
func (store) resolveConversation(ctx context.Context, tx pgx.Tx, orgID, contactID string, event channel.InboundEvent) (string, error) {
	var conversationID string
	err := tx.QueryRow(ctx, `
		INSERT INTO conversations (org_id, contact_id, channel, external_thread_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, contact_id, channel) DO NOTHING
		RETURNING id`,
		orgID, contactID, event.Channel.String(), event.ExternalThreadID).Scan(&conversationID)
	if err == nil {
		return conversationID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("upsert conversation: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT id FROM conversations
		WHERE org_id = $1 AND contact_id = $2 AND channel = $3`,
		orgID, contactID, event.Channel.String()).Scan(&conversationID)
	if err != nil {
		return "", fmt.Errorf("select conversation after conflict: %w", err)
	}
	return conversationID, nil
}

// insertMessage writes the message row. A conflict on the external message id
// means the provider redelivered; the existing id is returned with
// AlreadyExists and nothing else changes.
func (store) insertMessage(ctx context.Context, tx pgx.Tx, orgID, conversationID string, event channel.InboundEvent, conv Conventions) (string, InsertOutcome, error) {
	var messageID string
	err := tx.QueryRow(ctx, `
		INSERT INTO messages (org_id, conversation_id, direction, sender_role, type, body, channel, external_message_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (org_id, channel, external_message_id) WHERE external_message_id IS NOT NULL
		DO NOTHING
		RETURNING id`,
		orgID, conversationID, conv.DirectionIn, conv.SenderContact,
		event.MessageType(), event.Text, event.Channel.String(), event.MessageID,
		event.Timestamp).Scan(&messageID)
	if err == nil {
		return messageID, Inserted, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", 0, fmt.Errorf("insert message: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT id FROM messages
		WHERE org_id = $1 AND channel = $2 AND external_message_id = $3`,
		orgID, event.Channel.String(), event.MessageID).Scan(&messageID)
	if err != nil {
		return "", 0, fmt.Errorf("select duplicate message: %w", err)
	}
	return messageID, AlreadyExists, nil
}

func (store) insertAttachments(ctx context.Context, tx pgx.Tx, messageID string, attachments []channel.Attachment) error {
	for _, att := range attachments {
		_, err := tx.Exec(ctx, `
			INSERT INTO message_attachments (message_id, type, mime, remote_url, width, height, duration_ms, size_bytes)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, 0), NULLIF($6, 0), NULLIF($7, 0), NULLIF($8, 0))`,
			messageID, string(att.Type), att.Mime, att.RemoteURL,
			att.Width, att.Height, att.DurationMs, att.Size)
		if err != nil {
			return fmt.Errorf("insert attachment: %w", err)
		}
	}
	return nil
}

// bumpAggregates stamps last_message_at and, for inbound messages only,
// increments the unread counter. Called only when the insert created a row.
func (store) bumpAggregates(ctx context.Context, tx pgx.Tx, conversationID string, inbound bool, at time.Time) error {
	unread := 0
	if inbound {
		unread = 1
	}
	_, err := tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2, unread_count = unread_count + $3
		WHERE id = $1`,
		conversationID, at, unread)
	if err != nil {
		return fmt.Errorf("update conversation aggregates: %w", err)
	}
	return nil
}

// markStatus applies a delivery/read receipt to an existing outbound message.
func (store) markStatus(ctx context.Context, tx pgx.Tx, orgID string, event channel.StatusEvent) error {
	_, err := tx.Exec(ctx, `
		UPDATE messages SET status = $4
		WHERE org_id = $1 AND channel = $2 AND external_message_id = $3
		  AND status NOT IN ('read', 'failed')`,
		orgID, event.Channel.String(), event.ExternalMessageID, event.Status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}
