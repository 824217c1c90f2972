package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceTick is a single trade print delivered by the feed or injected over HTTP.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
}

// TickResult reports what the auto-trail path did with one tick.
type TickResult struct {
	Ticker       string              `json:"ticker"`
	Acted        bool                `json:"auto_trail_triggered"`
	Reason       string              `json:"reason,omitempty"`
	Profit       decimal.Decimal     `json:"profit"`
	LockedProfit decimal.Decimal     `json:"locked_profit"`
	NewStop      decimal.NullDecimal `json:"new_stop"`
}
