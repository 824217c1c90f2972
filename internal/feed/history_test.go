package feed

import (
	"testing"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Record(domain.PriceTick{Symbol: "AAPL", Price: decimal.NewFromInt(int64(i)), Timestamp: time.Now()})
	}
	h.Record(domain.PriceTick{Symbol: "MSFT", Price: decimal.NewFromInt(1)})

	recent := h.Recent("AAPL")
	require.Len(t, recent, 3)
	assert.True(t, recent[0].Price.Equal(decimal.NewFromInt(3)))
	assert.True(t, recent[2].Price.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, map[string]int{"AAPL": 3, "MSFT": 1}, h.Counts())

	h.Drop("AAPL")
	assert.Empty(t, h.Recent("AAPL"))
	assert.Equal(t, map[string]int{"MSFT": 1}, h.Counts())
}

func TestHistory_DefaultSize(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 25; i++ {
		h.Record(domain.PriceTick{Symbol: "ES", Price: decimal.NewFromInt(int64(i))})
	}
	assert.Len(t, h.Recent("ES"), 10)
}
