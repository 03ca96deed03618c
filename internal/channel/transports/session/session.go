// Package session implements the self-hosted WhatsApp session transport. The
// session service keeps a logged-in device session and exposes a small JSON
// API; delivery guarantees are weaker than the Cloud API, so retries stay
// conservative.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/channel/transports"
	"github.com/loopline-io/loopline/internal/config"
)

const transportName = "session"

// Transport talks to the self-hosted session service.
type Transport struct {
	cfg    config.WhatsAppSessionConfig
	client *http.Client
	keys   *transports.KeyCache
	logger *slog.Logger
}

// New creates a session transport from config.
func New(log *slog.Logger, cfg config.WhatsAppSessionConfig) *Transport {
	return &Transport{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		keys:   transports.NewKeyCache(time.Hour),
		logger: log.With(slog.String("transport", transportName)),
	}
}

func (t *Transport) Name() string { return transportName }

// SendText delivers a plain text message through the session service.
func (t *Transport) SendText(ctx context.Context, to, text, idempotencyKey string) (channel.SendResult, error) {
	return t.send(ctx, "/messages/text", idempotencyKey, map[string]any{
		"to":   to,
		"text": text,
	})
}

// SendMedia delivers a media message by URL through the session service.
func (t *Transport) SendMedia(ctx context.Context, to, mediaURL, caption, idempotencyKey string) (channel.SendResult, error) {
	return t.send(ctx, "/messages/media", idempotencyKey, map[string]any{
		"to":      to,
		"url":     mediaURL,
		"caption": caption,
	})
}

func (t *Transport) send(ctx context.Context, path, idempotencyKey string, body map[string]any) (channel.SendResult, error) {
	if cached, ok := t.keys.Lookup(idempotencyKey); ok {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		result, status, err := t.post(ctx, path, body)
		if err == nil {
			t.keys.Store(idempotencyKey, result)
			return result, nil
		}
		lastErr = err
		if !transports.ShouldRetry(err, status) {
			return channel.SendResult{}, err
		}
		t.logger.Warn("session send retry", slog.Int("attempt", attempt+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return channel.SendResult{}, ctx.Err()
		case <-time.After(transports.Backoff(attempt)):
		}
	}
	return channel.SendResult{}, fmt.Errorf("session send failed after retries: %w", lastErr)
}

func (t *Transport) post(ctx context.Context, path string, body map[string]any) (channel.SendResult, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return channel.SendResult{}, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return channel.SendResult{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", t.cfg.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return channel.SendResult{}, 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return channel.SendResult{}, resp.StatusCode,
			fmt.Errorf("session service status %d: %s", resp.StatusCode, string(raw[:min(len(raw), 256)]))
	}

	var decoded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return channel.SendResult{}, resp.StatusCode, fmt.Errorf("decode session response: %w", err)
	}
	return channel.SendResult{ProviderMessageID: decoded.ID}, resp.StatusCode, nil
}
