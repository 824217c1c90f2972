// Package dispatch delivers order instructions to the brokerage webhook.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/crypto"
	"github.com/alanyoungcy/trailrelay/internal/domain"
)

const maxResponseBytes = 64 << 10

// Config configures a Client.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
	// SigningSecret, when set, adds HMAC signature headers to every request.
	SigningSecret string
}

// Client posts order payloads. Each Deliver is a single attempt; retries, if
// any, belong to the caller.
type Client struct {
	url    string
	http   *http.Client
	signer *crypto.Signer
	logger *slog.Logger
}

// NewClient creates a Client. A zero timeout selects 10s.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:    strings.TrimSpace(cfg.WebhookURL),
		http:   &http.Client{Timeout: timeout},
		signer: crypto.NewSigner(cfg.SigningSecret),
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// Configured reports whether a webhook URL is set.
func (c *Client) Configured() bool {
	return c.url != ""
}

// Deliver posts payload as JSON. Transport errors and non-2xx replies are
// reported as domain.ErrDispatchFailed.
func (c *Client) Deliver(ctx context.Context, payload domain.OrderPayload) (domain.DispatchResult, error) {
	if c.url == "" {
		return domain.DispatchResult{}, fmt.Errorf("dispatch: %w: webhook url not configured", domain.ErrDispatchFailed)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("dispatch: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return domain.DispatchResult{}, fmt.Errorf("dispatch: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.signer.Headers(http.MethodPost, req.URL.Path, body) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "webhook request failed",
			slog.String("ticker", payload.Ticker),
			slog.String("action", string(payload.Action)),
			slog.String("error", err.Error()),
		)
		return domain.DispatchResult{}, fmt.Errorf("dispatch: %w: %w", domain.ErrDispatchFailed, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	result := domain.DispatchResult{StatusCode: resp.StatusCode, Response: decodeBody(raw)}

	c.logger.InfoContext(ctx, "webhook response",
		slog.String("ticker", payload.Ticker),
		slog.String("action", string(payload.Action)),
		slog.String("order_type", payload.OrderType),
		slog.Int("status", resp.StatusCode),
		slog.Duration("latency", time.Since(start)),
		slog.Any("response", result.Response),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, fmt.Errorf("dispatch: %w: status %d", domain.ErrDispatchFailed, resp.StatusCode)
	}
	return result, nil
}

// decodeBody returns parsed JSON when possible, else the raw text.
func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}
