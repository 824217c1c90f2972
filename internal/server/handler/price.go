package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
)

// TickInjector runs an externally sourced tick through the trail path.
type TickInjector interface {
	Inject(ctx context.Context, tick domain.PriceTick) (domain.TickResult, bool, error)
}

// PriceHandler accepts pushed prices and serves recent tick history.
type PriceHandler struct {
	injector TickInjector
	feed     FeedView
	logger   *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(injector TickInjector, fv FeedView, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{injector: injector, feed: fv, logger: logger.With(slog.String("handler", "price"))}
}

// Update injects one price.
// GET /price-update?symbol=MNQU2025&price=21450.75&source=polygon
func (h *PriceHandler) Update(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.ToUpper(strings.TrimSpace(q.Get("symbol")))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol must not be empty")
		return
	}
	price, err := decimal.NewFromString(strings.TrimSpace(q.Get("price")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "price must be a number")
		return
	}
	if !price.IsPositive() {
		writeError(w, http.StatusBadRequest, "price must be greater than 0")
		return
	}
	source := q.Get("source")
	if source == "" {
		source = "http"
	}

	now := time.Now().UTC()
	res, monitored, err := h.injector.Inject(r.Context(), domain.PriceTick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: now,
		Source:    source,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "price update failed", slog.String("symbol", symbol), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "error processing price update")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"symbol":            symbol,
		"price":             price,
		"source":            source,
		"timestamp":         now.Format(time.RFC3339Nano),
		"monitored":         monitored,
		"processing_result": res,
	})
}

// History returns the recent ticks kept for symbol.
// GET /price-history/{symbol}
func (h *PriceHandler) History(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	ticks := h.feed.History().Recent(symbol)
	if len(ticks) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"symbol":  symbol,
			"history": []domain.PriceTick{},
			"message": "no price history available",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":  symbol,
		"history": ticks,
		"count":   len(ticks),
	})
}
