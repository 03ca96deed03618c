// Package contentgen calls the external content generation provider.
package contentgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/loopline-io/loopline/internal/config"
)

// Asset is one generated artifact.
type Asset struct {
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata"`
}

// Client is a thin JSON client for the generation API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a client from config.
func New(cfg config.GenerationConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Render generates one asset from a prompt.
func (c *Client) Render(ctx context.Context, prompt string) (Asset, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return Asset{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return Asset{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 400 {
		return Asset{}, fmt.Errorf("generation provider status %d", resp.StatusCode)
	}
	var asset Asset
	if err := json.Unmarshal(raw, &asset); err != nil {
		return Asset{}, fmt.Errorf("decode generation response: %w", err)
	}
	if asset.URL == "" {
		return Asset{}, fmt.Errorf("generation response missing asset url")
	}
	return asset, nil
}

// Derive generates a channel-specific variant of an existing post body.
func (c *Client) Derive(ctx context.Context, sourceBody, mode string) (string, error) {
	body, err := json.Marshal(map[string]string{"body": sourceBody, "mode": mode})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/derive", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("generation provider status %d", resp.StatusCode)
	}
	var decoded struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	return decoded.Body, nil
}
