// Package cloud implements the WhatsApp Cloud API transport.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/loopline-io/loopline/internal/channel"
	"github.com/loopline-io/loopline/internal/channel/transports"
	"github.com/loopline-io/loopline/internal/config"
)

const transportName = "cloud"

// Transport sends messages through the WhatsApp Cloud API. Calls are rate
// limited per process and wrapped in a circuit breaker so a provider outage
// fails fast instead of piling up blocked workers.
type Transport struct {
	cfg     config.WhatsAppCloudConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	keys    *transports.KeyCache
	logger  *slog.Logger
}

// New creates a cloud transport from config.
func New(log *slog.Logger, cfg config.WhatsAppCloudConfig) *Transport {
	perSecond := cfg.RatePerSecond
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Transport{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(perSecond)),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "whatsapp-cloud",
			Timeout: 30 * time.Second,
		}),
		keys:   transports.NewKeyCache(time.Hour),
		logger: log.With(slog.String("transport", transportName)),
	}
}

func (t *Transport) Name() string { return transportName }

// SendText delivers a plain text message.
func (t *Transport) SendText(ctx context.Context, to, text, idempotencyKey string) (channel.SendResult, error) {
	return t.send(ctx, idempotencyKey, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

// SendMedia delivers a media message by link.
func (t *Transport) SendMedia(ctx context.Context, to, mediaURL, caption, idempotencyKey string) (channel.SendResult, error) {
	media := map[string]any{"link": mediaURL}
	if caption != "" {
		media["caption"] = caption
	}
	return t.send(ctx, idempotencyKey, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             media,
	})
}

func (t *Transport) send(ctx context.Context, idempotencyKey string, body map[string]any) (channel.SendResult, error) {
	if cached, ok := t.keys.Lookup(idempotencyKey); ok {
		return cached, nil
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := t.limiter.Wait(ctx); err != nil {
			return channel.SendResult{}, err
		}
		resultAny, err := t.breaker.Execute(func() (any, error) {
			return t.post(ctx, body)
		})
		if err == nil {
			result := resultAny.(channel.SendResult)
			t.keys.Store(idempotencyKey, result)
			return result, nil
		}
		lastErr = err
		var call callError
		status := 0
		if ok := asCallError(err, &call); ok {
			status = call.httpStatus
		}
		if !transports.ShouldRetry(err, status) {
			return channel.SendResult{}, err
		}
		t.logger.Warn("cloud send retry", slog.Int("attempt", attempt+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return channel.SendResult{}, ctx.Err()
		case <-time.After(transports.Backoff(attempt)):
		}
	}
	return channel.SendResult{}, fmt.Errorf("cloud send failed after retries: %w", lastErr)
}

func (t *Transport) post(ctx context.Context, body map[string]any) (channel.SendResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return channel.SendResult{}, err
	}
	url := fmt.Sprintf("%s/%s/messages", t.cfg.BaseURL, t.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return channel.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.cfg.AccessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return channel.SendResult{}, callError{err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return channel.SendResult{}, callError{
			err:        fmt.Errorf("cloud api status %d: %s", resp.StatusCode, truncate(raw, 256)),
			httpStatus: resp.StatusCode,
		}
	}

	var decoded struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return channel.SendResult{}, fmt.Errorf("decode cloud response: %w", err)
	}
	result := channel.SendResult{}
	if len(decoded.Messages) > 0 {
		result.ProviderMessageID = decoded.Messages[0].ID
	}
	return result, nil
}

type callError struct {
	err        error
	httpStatus int
}

func (e callError) Error() string { return e.err.Error() }
func (e callError) Unwrap() error { return e.err }

func asCallError(err error, target *callError) bool {
	for err != nil {
		if ce, ok := err.(callError); ok {
			*target = ce
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

func truncate(raw []byte, n int) string {
	if len(raw) <= n {
		return string(raw)
	}
	return string(raw[:n])
}
