package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/trailrelay/internal/domain"
)

// PositionLister lists live records.
type PositionLister interface {
	List(ctx context.Context) ([]domain.Position, error)
}

// StreamReader reads a durable event stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// MonitorHandler serves the operator monitoring surface.
type MonitorHandler struct {
	feed      FeedView
	positions PositionLister
	stream    StreamReader
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewMonitorHandler creates a MonitorHandler. audit may be nil when the
// audit database is disabled.
func NewMonitorHandler(fv FeedView, positions PositionLister, stream StreamReader, audit domain.AuditStore, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{
		feed:      fv,
		positions: positions,
		stream:    stream,
		audit:     audit,
		logger:    logger.With(slog.String("handler", "monitor")),
	}
}

// Status reports feed state and history sizes.
// GET /monitor/status
func (h *MonitorHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"feed":                h.feed.Status(),
		"monitored_symbols":   h.feed.Monitored(),
		"price_history_count": h.feed.History().Counts(),
	})
}

// Symbols lists the monitored set.
// GET /monitor/symbols
func (h *MonitorHandler) Symbols(w http.ResponseWriter, r *http.Request) {
	symbols := h.feed.Monitored()
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

// Positions lists live records.
// GET /monitor/positions
func (h *MonitorHandler) Positions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.List(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "position store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

type streamEvent struct {
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

// Events pages through the durable trail event stream. Pass the last seen id
// as after to continue.
// GET /monitor/events?after=<id>&limit=<n>
func (h *MonitorHandler) Events(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = min(n, 1000)
	}

	msgs, err := h.stream.StreamRead(r.Context(), domain.StreamTrail, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "read events failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}

	events := make([]streamEvent, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		events = append(events, streamEvent{ID: m.ID, Event: m.Payload})
	}
	next := after
	if len(msgs) > 0 {
		next = msgs[len(msgs)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   next,
	})
}

// Audit lists audit rows.
// GET /monitor/audit?limit=&offset=&since=&until=&ticker=
func (h *MonitorHandler) Audit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
