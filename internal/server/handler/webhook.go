package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/service"
)

const maxAlertBytes = 64 << 10

// SignalIngester processes decoded alerts.
type SignalIngester interface {
	Ingest(ctx context.Context, sig domain.Signal) (service.IngestResult, error)
}

// WebhookHandler receives alerts from the charting tool.
type WebhookHandler struct {
	ingester SignalIngester
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(ingester SignalIngester, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{ingester: ingester, logger: logger.With(slog.String("handler", "webhook"))}
}

// PineEntry ingests one entry or exit alert.
// POST /pine-entry
func (h *WebhookHandler) PineEntry(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAlertBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxAlertBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "alert body too large")
		return
	}

	sig, err := service.DecodeSignal(body, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ingester.Ingest(r.Context(), sig)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, domain.ErrInvalidSignal):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrLockHeld):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.logger.ErrorContext(r.Context(), "ingest failed", slog.String("ticker", sig.Ticker), slog.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, "position store unavailable")
	default:
		h.logger.ErrorContext(r.Context(), "ingest failed", slog.String("ticker", sig.Ticker), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
