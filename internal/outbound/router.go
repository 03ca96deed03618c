// Package outbound routes agent replies to the right transport and records
// the resulting message row.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/db"
	"github.com/loopline-io/loopline/internal/ingest"
	"github.com/loopline-io/loopline/internal/observability"
)

// DefaultTransport is used when neither the request nor the conversation
// names one.
const DefaultTransport = "cloud"

// NoteServiceNotConfigured flags messages persisted without real delivery.
const NoteServiceNotConfigured = "service_not_configured"

// ErrProviderFailure wraps transport errors so the HTTP layer can map them
// to a 502 without inspecting provider-specific error types.
var ErrProviderFailure = errors.New("provider failure")

// ErrMissingDestination is returned when neither a destination nor a
// resolvable conversation is supplied.
var ErrMissingDestination = errors.New("missing destination")

// SendRequest is one outbound send. Either To or ConversationID must be set;
// Text and MediaURL are alternatives.
type SendRequest struct {
	OrgID          string
	To             string
	ConversationID string
	Transport      string
	Text           string
	MediaURL       string
	Caption        string
	IdempotencyKey string
}

// SendOutcome reports how a send was resolved.
type SendOutcome struct {
	Transport  string
	To         string
	MessageID  string
	ProviderID string
	Note       string
	Duplicate  bool
}

// ResolveTransportName picks the transport: explicit request field first,
// then the conversation's configured transport, then the default.
func ResolveTransportName(requested, conversation string) string {
	if requested != "" {
		return requested
	}
	if conversation != "" {
		return conversation
	}
	return DefaultTransport
}

// ChannelForTransport maps a transport name to the channel literal stamped
// on message rows. Delivery receipts are matched by channel, so outbound
// rows must carry the same literal the webhook normalizers produce.
func ChannelForTransport(name string) channel.Type {
	if name == "session" {
		return channel.TypeWhatsAppSession
	}
	return channel.TypeWhatsAppCloud
}

// TransportForChannel is the reverse mapping, used when replaying a
// persisted send outcome.
func TransportForChannel(ch channel.Type) string {
	if ch == channel.TypeWhatsAppSession {
		return "session"
	}
	return DefaultTransport
}

// Router selects a transport for each send and persists the outbound message.
// When no transport is configured for the resolved name, the message is still
// recorded (status sent, flagged) so the conversation view stays consistent.
type Router struct {
	pool     *pgxpool.Pool
	registry *channel.Registry
	conv     ingest.Conventions
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewRouter builds the router.
func NewRouter(log *slog.Logger, pool *pgxpool.Pool, registry *channel.Registry, conv ingest.Conventions, metrics *observability.Metrics) *Router {
	return &Router{
		pool:     pool,
		registry: registry,
		conv:     conv,
		metrics:  metrics,
		logger:   log.With(slog.String("service", "outbound")),
	}
}

// Send resolves the transport, delivers, and records the outbound message.
// Repeated calls with the same idempotency key return the original message
// without a second provider call.
func (r *Router) Send(ctx context.Context, req SendRequest) (SendOutcome, error) {
	if req.To == "" && req.ConversationID == "" {
		return SendOutcome{}, ErrMissingDestination
	}

	if req.IdempotencyKey != "" {
		if existing, ok, err := r.findByIdempotencyKey(ctx, req.OrgID, req.IdempotencyKey); err != nil {
			return SendOutcome{}, err
		} else if ok {
			existing.Duplicate = true
			return existing, nil
		}
	}

	to, conversationID, convTransport, err := r.resolveDestination(ctx, req)
	if err != nil {
		return SendOutcome{}, err
	}

	name := ResolveTransportName(req.Transport, convTransport)

	transport, configured := r.registry.Get(name)
	if !configured {
		r.logger.Warn("no transport configured, recording without delivery",
			slog.String("transport", name), slog.String("org_id", req.OrgID))
		messageID, err := r.persist(ctx, req, name, conversationID, "sent", "", NoteServiceNotConfigured)
		if err != nil {
			return SendOutcome{}, err
		}
		r.metrics.OutboundSend(name, "not_configured")
		return SendOutcome{Transport: name, To: to, MessageID: messageID, Note: NoteServiceNotConfigured}, nil
	}

	var result channel.SendResult
	if req.MediaURL != "" {
		result, err = transport.SendMedia(ctx, to, req.MediaURL, req.Caption, req.IdempotencyKey)
	} else {
		result, err = transport.SendText(ctx, to, req.Text, req.IdempotencyKey)
	}
	if err != nil {
		r.metrics.OutboundSend(name, "error")
		if _, persistErr := r.persist(ctx, req, name, conversationID, "failed", "", ""); persistErr != nil {
			r.logger.Error("record failed send", slog.Any("error", persistErr))
		}
		return SendOutcome{}, fmt.Errorf("%w: %s: %v", ErrProviderFailure, name, err)
	}

	messageID, err := r.persist(ctx, req, name, conversationID, "sent", result.ProviderMessageID, "")
	if err != nil {
		return SendOutcome{}, err
	}
	r.metrics.OutboundSend(name, "sent")
	return SendOutcome{
		Transport:  name,
		To:         to,
		MessageID:  messageID,
		ProviderID: result.ProviderMessageID,
	}, nil
}

// resolveDestination fills in the destination and transport hint from the
// conversation row when the request names one.
func (r *Router) resolveDestination(ctx context.Context, req SendRequest) (to, conversationID, transport string, err error) {
	to = req.To
	conversationID = req.ConversationID
	if conversationID == "" {
		return to, "", "", nil
	}
	if _, parseErr := db.ParseUUID(conversationID); parseErr != nil {
		return "", "", "", fmt.Errorf("conversation %s: %w", conversationID, ErrMissingDestination)
	}

	err = db.WithOrgTx(ctx, r.pool, req.OrgID, func(tx pgx.Tx) error {
		var threadID, convTransport *string
		scanErr := tx.QueryRow(ctx, `
			SELECT external_thread_id, transport FROM conversations
			WHERE id = $1 AND org_id = $2`,
			conversationID, req.OrgID).Scan(&threadID, &convTransport)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				return fmt.Errorf("conversation %s: %w", conversationID, ErrMissingDestination)
			}
			return fmt.Errorf("lookup conversation: %w", scanErr)
		}
		if to == "" && threadID != nil {
			to = *threadID
		}
		if convTransport != nil {
			transport = *convTransport
		}
		return nil
	})
	if err != nil {
		return "", "", "", err
	}
	if to == "" {
		return "", "", "", ErrMissingDestination
	}
	return to, conversationID, transport, nil
}

func (r *Router) persist(ctx context.Context, req SendRequest, transportName, conversationID, status, providerID, note string) (string, error) {
	body := req.Text
	msgType := "text"
	if req.MediaURL != "" {
		body = req.Caption
		msgType = "image"
	}
	channelName := ChannelForTransport(transportName).String()

	var messageID string
	err := db.WithOrgTx(ctx, r.pool, req.OrgID, func(tx pgx.Tx) error {
		scanErr := tx.QueryRow(ctx, `
			INSERT INTO messages (org_id, conversation_id, direction, sender_role, type, body, channel, external_message_id, idempotency_key, status, note)
			VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, NULLIF($11, ''))
			ON CONFLICT (org_id, idempotency_key) WHERE idempotency_key IS NOT NULL
			DO NOTHING
			RETURNING id`,
			req.OrgID, conversationID, r.conv.DirectionOut, r.conv.SenderAgent,
			msgType, body, channelName, providerID, req.IdempotencyKey, status, note).Scan(&messageID)
		if scanErr != nil {
			if errors.Is(scanErr, pgx.ErrNoRows) {
				// Lost an idempotency race; reuse the winner's row.
				return tx.QueryRow(ctx, `
					SELECT id FROM messages WHERE org_id = $1 AND idempotency_key = $2`,
					req.OrgID, req.IdempotencyKey).Scan(&messageID)
			}
			return fmt.Errorf("insert outbound message: %w", scanErr)
		}
		if conversationID != "" && status == "sent" {
			_, execErr := tx.Exec(ctx, `
				UPDATE conversations SET last_message_at = $2 WHERE id = $1`,
				conversationID, time.Now().UTC())
			return execErr
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return messageID, nil
}

func (r *Router) findByIdempotencyKey(ctx context.Context, orgID, key string) (SendOutcome, bool, error) {
	var outcome SendOutcome
	found := false
	err := db.WithOrgTx(ctx, r.pool, orgID, func(tx pgx.Tx) error {
		var providerID, note *string
		var channelName string
		scanErr := tx.QueryRow(ctx, `
			SELECT id, channel, external_message_id, note FROM messages
			WHERE org_id = $1 AND idempotency_key = $2`,
			orgID, key).Scan(&outcome.MessageID, &channelName, &providerID, &note)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("lookup idempotency key: %w", scanErr)
		}
		found = true
		outcome.Transport = TransportForChannel(channel.ParseType(channelName))
		if providerID != nil {
			outcome.ProviderID = *providerID
		}
		if note != nil {
			outcome.Note = *note
		}
		return nil
	})
	return outcome, found, err
}
