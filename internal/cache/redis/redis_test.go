package redis

import (
	"testing"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func samplePosition(ticker string) domain.Position {
	now := time.Date(2025, 8, 1, 14, 30, 0, 0, time.UTC)
	return domain.Position{
		Ticker:         ticker,
		Side:           domain.SideLong,
		EntryPrice:     decimal.RequireFromString("20000.25"),
		Quantity:       decimal.NewFromInt(1),
		PointValue:     decimal.NewFromInt(2),
		ArmAfterProfit: decimal.NewFromInt(100),
		TrailStep:      decimal.NewFromInt(50),
		HardStop:       decimal.NewFromInt(19900),
		StrategyID:     "Tiger-Alt",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
