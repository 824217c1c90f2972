package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/feed"
)

// Pinger reports backing store reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FeedView is the read side of the price feed adapter.
type FeedView interface {
	Status() feed.Status
	Monitored() []string
	History() *feed.History
}

// HealthHandler serves liveness and health endpoints.
type HealthHandler struct {
	store     Pinger
	feed      FeedView
	mode      string
	version   string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(store Pinger, fv FeedView, mode, version string, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		store:     store,
		feed:      fv,
		mode:      mode,
		version:   version,
		startedAt: time.Now().UTC(),
		logger:    logger.With(slog.String("handler", "health")),
	}
}

// Root serves a banner.
// GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "trailrelay",
		"version": h.version,
		"mode":    h.mode,
		"status":  "running",
	})
}

// Ping answers liveness checks.
// GET /ping
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
}

// Health reports store reachability and feed state. An unreachable store is
// a 503.
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "healthy", http.StatusOK
	storeState := "connected"
	if err := h.store.Ping(ctx); err != nil {
		h.logger.WarnContext(ctx, "store ping failed", slog.String("error", err.Error()))
		status, code = "unhealthy", http.StatusServiceUnavailable
		storeState = "unreachable"
	}

	st := h.feed.Status()
	writeJSON(w, code, map[string]any{
		"status":            status,
		"redis":             storeState,
		"feed":              st.State,
		"monitored_symbols": st.Monitored,
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}
