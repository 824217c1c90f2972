package feed

import (
	"sync"

	"github.com/alanyoungcy/trailrelay/internal/domain"
)

// History keeps the last few ticks per symbol for diagnostics.
type History struct {
	mu    sync.Mutex
	size  int
	ticks map[string][]domain.PriceTick
}

// NewHistory creates a History holding at most size ticks per symbol.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 10
	}
	return &History{size: size, ticks: make(map[string][]domain.PriceTick)}
}

// Record appends a tick, evicting the oldest once the symbol is full.
func (h *History) Record(t domain.PriceTick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := append(h.ticks[t.Symbol], t)
	if len(buf) > h.size {
		buf = buf[len(buf)-h.size:]
	}
	h.ticks[t.Symbol] = buf
}

// Recent returns a copy of the ticks for symbol, oldest first.
func (h *History) Recent(symbol string) []domain.PriceTick {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := h.ticks[symbol]
	out := make([]domain.PriceTick, len(buf))
	copy(out, buf)
	return out
}

// Drop forgets every tick for symbol.
func (h *History) Drop(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.ticks, symbol)
}

// Counts returns the number of retained ticks per symbol.
func (h *History) Counts() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]int, len(h.ticks))
	for sym, buf := range h.ticks {
		out[sym] = len(buf)
	}
	return out
}
