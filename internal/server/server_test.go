package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	redisstore "github.com/alanyoungcy/trailrelay/internal/cache/redis"
	"github.com/alanyoungcy/trailrelay/internal/dispatch"
	"github.com/alanyoungcy/trailrelay/internal/feed"
	"github.com/alanyoungcy/trailrelay/internal/server/handler"
	"github.com/alanyoungcy/trailrelay/internal/service"
	"github.com/alanyoungcy/trailrelay/internal/symbol"
	"github.com/alanyoungcy/trailrelay/internal/trail"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "monitor-key"

type broker struct {
	mu     sync.Mutex
	orders []map[string]any
}

func (b *broker) received() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.orders...)
}

type relay struct {
	srv    *httptest.Server
	mr     *miniredis.Miniredis
	broker *broker
	trail  *service.TrailService
}

func newRelay(t *testing.T, rateLimit int) *relay {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := redisstore.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	t.Cleanup(func() { _ = client.Close() })

	b := &broker{}
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var order map[string]any
		_ = json.NewDecoder(r.Body).Decode(&order)
		b.mu.Lock()
		b.orders = append(b.orders, order)
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	t.Cleanup(brokerSrv.Close)

	translator, err := symbol.NewTranslator(symbol.Options{Futures: true}, logger)
	require.NoError(t, err)
	adapter := feed.NewAdapter(feed.Config{URL: "ws://unused", APIKey: "k"}, translator, logger)

	bus := redisstore.NewSignalBus(client)
	positions := service.NewPositionService(redisstore.NewPositionStore(client, 0), adapter, service.PositionOptions{
		Locks: redisstore.NewLockManager(client, time.Second),
	}, logger)
	dispatcher := dispatch.NewClient(dispatch.Config{WebhookURL: brokerSrv.URL, Timeout: time.Second}, logger)
	events := service.NewEvents(bus, nil, nil, logger)
	trailSvc := service.NewTrailService(positions, trail.NewEngine(trail.PolicyWholeStep), dispatcher, events, "Tiger-Alt", logger)
	adapter.SetHandler(trailSvc)
	signals := service.NewSignalService(positions, dispatcher, events, []string{"Tiger-Alt"}, decimal.NewFromInt(5), logger)

	cfg := Config{APIKey: apiKey, EntryRateLimit: rateLimit, EntryRateWindow: time.Minute}
	h := Handlers{
		Health:  handler.NewHealthHandler(positions, adapter, "server", "test", logger),
		Webhook: handler.NewWebhookHandler(signals, logger),
		Price:   handler.NewPriceHandler(adapter, adapter, logger),
		Monitor: handler.NewMonitorHandler(adapter, positions, bus, nil, logger),
	}
	srv := httptest.NewServer(Routes(cfg, h, redisstore.NewRateLimiter(client), nil, logger))
	t.Cleanup(srv.Close)

	return &relay{srv: srv, mr: mr, broker: b, trail: trailSvc}
}

func (r *relay) do(t *testing.T, method, path, body string, authed bool) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, r.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if authed {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

const entryBody = `{"strategy_id":"Tiger-Alt","action":"buy","ticker":"MNQU2025","quantity":1,"price":20000,
  "autoTrail":{"armAfterProfit":100,"trailStep":50,"hardStop":19900},"extras":{"pointValue":2}}`

func TestRelay_EntryTrailExit(t *testing.T) {
	r := newRelay(t, 0)

	code, body := r.do(t, http.MethodPost, "/pine-entry", entryBody, false)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "entry_processed", body["status"])
	assert.Equal(t, true, body["position_saved"])

	code, body = r.do(t, http.MethodGet, "/monitor/symbols", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"MNQU2025"}, body["symbols"])

	code, body = r.do(t, http.MethodGet, "/price-update?symbol=mnqu2025&price=20050&source=test", "", true)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["monitored"])
	result := body["processing_result"].(map[string]any)
	assert.Equal(t, true, result["auto_trail_triggered"])
	assert.Equal(t, "20050", result["new_stop"])

	code, body = r.do(t, http.MethodGet, "/price-update?symbol=MNQU2025&price=20060", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["processing_result"].(map[string]any)["auto_trail_triggered"])

	require.True(t, r.trail.Drain(2*time.Second))
	orders := r.broker.received()
	require.Len(t, orders, 2)
	assert.Equal(t, "market", orders[0]["orderType"])
	assert.Equal(t, "stop", orders[1]["orderType"])
	assert.Equal(t, "sell", orders[1]["action"])
	assert.Equal(t, 20050.0, orders[1]["stopPrice"])

	code, body = r.do(t, http.MethodGet, "/price-history/MNQU2025", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 2.0, body["count"])

	code, body = r.do(t, http.MethodGet, "/monitor/events", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 1)

	code, body = r.do(t, http.MethodGet, "/monitor/positions", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, body = r.do(t, http.MethodPost, "/pine-entry", `{"strategy_id":"Tiger-Alt","action":"exit","ticker":"MNQU2025"}`, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "exit_processed", body["status"])
	assert.Equal(t, true, body["position_cleaned"])

	_, body = r.do(t, http.MethodGet, "/monitor/symbols", "", true)
	assert.Equal(t, 0.0, body["count"])

	_, body = r.do(t, http.MethodGet, "/price-history/MNQU2025", "", false)
	assert.Equal(t, "no price history available", body["message"])
}

func TestRelay_UnmonitoredPriceUpdate(t *testing.T) {
	r := newRelay(t, 0)
	code, body := r.do(t, http.MethodGet, "/price-update?symbol=ES&price=5400", "", true)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["monitored"])

	code, body = r.do(t, http.MethodGet, "/price-history/ES", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1.0, body["count"])

	code, _ = r.do(t, http.MethodGet, "/price-update?symbol=ES&price=-1", "", true)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = r.do(t, http.MethodGet, "/price-update?price=1", "", true)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRelay_AuthOnMonitoringOnly(t *testing.T) {
	r := newRelay(t, 0)
	code, _ := r.do(t, http.MethodGet, "/monitor/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = r.do(t, http.MethodGet, "/price-update?symbol=ES&price=1", "", false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := r.do(t, http.MethodGet, "/monitor/status", "", true)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "disconnected", body["feed"].(map[string]any)["state"])

	code, _ = r.do(t, http.MethodGet, "/ping", "", false)
	assert.Equal(t, http.StatusOK, code)
	code, body = r.do(t, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "trailrelay", body["service"])

	code, _ = r.do(t, http.MethodGet, "/monitor/audit", "", true)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRelay_BadAlerts(t *testing.T) {
	r := newRelay(t, 0)
	for _, body := range []string{
		`not json`,
		`{"action":"buy","ticker":"ES"}`,
		`{"strategy_id":"Unknown","action":"buy","ticker":"ES"}`,
		`{"strategy_id":"Tiger-Alt","action":"buy","ticker":"ES"}`,
		`{"strategy_id":"Tiger-Alt","action":"flip","ticker":"ES"}`,
	} {
		code, resp := r.do(t, http.MethodPost, "/pine-entry", body, false)
		assert.Equal(t, http.StatusBadRequest, code, body)
		assert.NotEmpty(t, resp["error"])
	}
	assert.Empty(t, r.broker.received())
}

func TestRelay_EntryRateLimited(t *testing.T) {
	r := newRelay(t, 2)
	exit := `{"strategy_id":"Tiger-Alt","action":"exit","ticker":"ES"}`
	for i := 0; i < 2; i++ {
		code, _ := r.do(t, http.MethodPost, "/pine-entry", exit, false)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := r.do(t, http.MethodPost, "/pine-entry", exit, false)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRelay_HealthReflectsStore(t *testing.T) {
	r := newRelay(t, 0)
	code, body := r.do(t, http.MethodGet, "/health", "", false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	r.mr.Close()
	code, body = r.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unreachable", body["redis"])
}
