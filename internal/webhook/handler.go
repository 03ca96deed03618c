// Package webhook is the provider-facing HTTP boundary: challenge
// verification, signature checks, fast acknowledgement, and deferred
// processing of the delivered payload.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"

	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/channel/normalize"
	"github.com/loopline-io/loopline/internal/config"
	"github.com/loopline-io/loopline/internal/ingest"
	"github.com/loopline-io/loopline/internal/observability"
)

const signatureHeader = "X-Hub-Signature-256"

// Handler serves the Meta-family webhook endpoints.
type Handler struct {
	cfg     config.MetaConfig
	pool    *pgxpool.Pool
	ingest  *ingest.Service
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewHandler builds the webhook handler.
func NewHandler(log *slog.Logger, cfg config.MetaConfig, pool *pgxpool.Pool, svc *ingest.Service, metrics *observability.Metrics) *Handler {
	return &Handler{
		cfg:     cfg,
		pool:    pool,
		ingest:  svc,
		metrics: metrics,
		logger:  log.With(slog.String("service", "webhook")),
	}
}

// Register mounts the webhook routes.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/webhooks/:provider", h.Verify)
	e.POST("/webhooks/:provider", h.Receive)
}

// Verify answers the provider's subscription challenge: echo hub.challenge
// when the mode and token match, 403 otherwise.
func (h *Handler) Verify(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.cfg.VerifyToken {
		return c.String(http.StatusOK, challenge)
	}
	return c.NoContent(http.StatusForbidden)
}

// Receive validates the delivery signature and acknowledges immediately.
// Normalization and ingestion run in a detached goroutine so provider-side
// latency budgets never depend on our database.
func (h *Handler) Receive(c echo.Context) error {
	provider := c.Param("provider")

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	if !h.validSignature(body, c.Request().Header.Get(signatureHeader)) {
		h.metrics.WebhookDelivery(provider, "bad_signature")
		h.logger.Warn("webhook signature mismatch", slog.String("provider", provider))
		return c.NoContent(http.StatusUnauthorized)
	}
	h.metrics.WebhookDelivery(provider, "accepted")

	receivedAt := time.Now().UTC()
	go h.process(provider, body, receivedAt)

	return c.NoContent(http.StatusOK)
}

// validSignature compares HMAC-SHA256(appSecret, body) against the
// sha256=<hex> header value in constant time.
func (h *Handler) validSignature(body []byte, header string) bool {
	if h.cfg.AppSecret == "" {
		return false
	}
	expected, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(expected))
}

// process is the deferred continuation: audit, normalize, ingest. Errors are
// logged and dropped; the provider already received its 200.
func (h *Handler) process(provider string, body []byte, receivedAt time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.audit(ctx, provider, body, receivedAt); err != nil {
		h.logger.Error("persist audit event", slog.String("provider", provider), slog.Any("error", err))
	}

	events, statuses, err := h.normalizeBody(provider, body, receivedAt)
	if err != nil {
		h.metrics.WebhookDelivery(provider, "malformed")
		h.logger.Warn("drop malformed webhook payload",
			slog.String("provider", provider), slog.Any("error", err))
		return
	}

	for _, event := range events {
		orgID, err := h.resolveOrg(ctx, event.Channel, event.ExternalAccountID)
		if err != nil {
			h.logger.Warn("drop event for unknown account",
				slog.String("provider", provider),
				slog.String("account_id", event.ExternalAccountID),
				slog.Any("error", err))
			continue
		}
		if _, err := h.ingest.Ingest(ctx, orgID, event); err != nil {
			h.logger.Error("ingest inbound event",
				slog.String("provider", provider),
				slog.String("message_id", event.MessageID),
				slog.Any("error", err))
		}
	}
	for _, status := range statuses {
		orgID, err := h.resolveOrg(ctx, status.Channel, status.ExternalAccountID)
		if err != nil {
			h.logger.Warn("drop status event for unknown account",
				slog.String("provider", provider),
				slog.String("account_id", status.ExternalAccountID),
				slog.Any("error", err))
			continue
		}
		if err := h.ingest.ApplyStatus(ctx, orgID, status); err != nil {
			h.logger.Error("apply status event",
				slog.String("provider", provider), slog.Any("error", err))
		}
	}
}

func (h *Handler) normalizeBody(provider string, body []byte, receivedAt time.Time) ([]channel.InboundEvent, []channel.StatusEvent, error) {
	switch provider {
	case "messenger":
		return normalize.Messenger(body, receivedAt)
	case "instagram":
		return normalize.Instagram(body, receivedAt)
	case "whatsapp":
		return normalize.WhatsApp(body, receivedAt)
	default:
		return nil, nil, fmt.Errorf("unknown provider %q", provider)
	}
}

// audit stores a sanitized copy of the payload for reprocessing and debugging.
func (h *Handler) audit(ctx context.Context, provider string, body []byte, receivedAt time.Time) error {
	_, err := h.pool.Exec(ctx, `
		INSERT INTO integration_events (provider, payload, received_at)
		VALUES ($1, $2, $3)`,
		provider, Sanitize(body), receivedAt)
	return err
}

// resolveOrg maps a provider account id (page id, phone number id) to the
// owning organization.
func (h *Handler) resolveOrg(ctx context.Context, ch channel.Type, accountID string) (string, error) {
	var orgID string
	err := h.pool.QueryRow(ctx, `
		SELECT org_id FROM channel_accounts
		WHERE channel = $1 AND external_account_id = $2`,
		ch.String(), accountID).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("no org for %s account %s", ch, accountID)
		}
		return "", fmt.Errorf("resolve org: %w", err)
	}
	return orgID, nil
}
