package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/crypto"
	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stopOrder() domain.OrderPayload {
	return domain.StopOrder("Tiger-Alt", domain.StopAdjustment{
		Ticker:    "MNQU2025",
		Side:      domain.OrderSideSell,
		Quantity:  decimal.NewFromInt(1),
		StopPrice: decimal.NewFromInt(20050),
	})
}

func TestClient_DeliverStopOrder(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"success":true,"id":"abc"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{WebhookURL: srv.URL}, discard())
	res, err := c.Deliver(context.Background(), stopOrder())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, map[string]any{"success": true, "id": "abc"}, res.Response)

	assert.Equal(t, "Tiger-Alt", got["strategy_id"])
	assert.Equal(t, "MNQU2025", got["ticker"])
	assert.Equal(t, "sell", got["action"])
	assert.Equal(t, "stop", got["orderType"])
	assert.Equal(t, "gtc", got["timeInForce"])
	assert.EqualValues(t, 1, got["quantity"])
	assert.EqualValues(t, 20050, got["stopPrice"])
}

func TestClient_DeliverTextResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "accepted")
	}))
	defer srv.Close()

	res, err := NewClient(Config{WebhookURL: srv.URL}, discard()).Deliver(context.Background(), stopOrder())
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Response)
}

func TestClient_DeliverNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"error":"unknown ticker"}`)
	}))
	defer srv.Close()

	res, err := NewClient(Config{WebhookURL: srv.URL}, discard()).Deliver(context.Background(), stopOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDispatchFailed)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestClient_DeliverTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{WebhookURL: srv.URL, Timeout: 20 * time.Millisecond}, discard())
	_, err := c.Deliver(context.Background(), stopOrder())
	assert.ErrorIs(t, err, domain.ErrDispatchFailed)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{WebhookURL: "  "}, discard())
	assert.False(t, c.Configured())
	_, err := c.Deliver(context.Background(), stopOrder())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDispatchFailed)
	assert.True(t, strings.Contains(err.Error(), "not configured"))
}

func TestClient_ResponseLimited(t *testing.T) {
	big := strings.Repeat("x", maxResponseBytes+1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, big)
	}))
	defer srv.Close()

	res, err := NewClient(Config{WebhookURL: srv.URL}, discard()).Deliver(context.Background(), stopOrder())
	require.NoError(t, err)
	assert.Len(t, res.Response, maxResponseBytes)
}

func TestClient_SignsWhenSecretSet(t *testing.T) {
	signer := crypto.NewSigner("shh")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get(crypto.HeaderTimestamp)
		sig := r.Header.Get(crypto.HeaderSignature)
		if !signer.Verify(r.Method, r.URL.Path, body, ts, sig) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	signed := NewClient(Config{WebhookURL: srv.URL + "/orders", SigningSecret: "shh"}, discard())
	_, err := signed.Deliver(context.Background(), stopOrder())
	require.NoError(t, err)

	unsigned := NewClient(Config{WebhookURL: srv.URL + "/orders"}, discard())
	res, err := unsigned.Deliver(context.Background(), stopOrder())
	require.ErrorIs(t, err, domain.ErrDispatchFailed)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
