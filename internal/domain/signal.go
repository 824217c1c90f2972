package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalAction is the action carried by an inbound alert.
type SignalAction string

const (
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
	SignalExit SignalAction = "exit"
)

// Signal is a normalised inbound alert.
type Signal struct {
	ID          string
	StrategyID  string
	Action      SignalAction
	Ticker      string
	Quantity    decimal.NullDecimal
	Price       decimal.NullDecimal
	SignalPrice decimal.NullDecimal
	Sentiment   string
	AutoTrail   AutoTrailParams
	PointValue  decimal.NullDecimal
	ReceivedAt  time.Time
}

// AutoTrailParams are the trailing parameters attached to an entry alert.
type AutoTrailParams struct {
	ArmAfterProfit decimal.NullDecimal
	TrailStep      decimal.NullDecimal
	HardStop       decimal.NullDecimal
}

// TrailEvent is published and archived whenever a stop ratchets.
type TrailEvent struct {
	Ticker       string          `json:"ticker"`
	Side         Side            `json:"side"`
	Price        decimal.Decimal `json:"current_price"`
	Profit       decimal.Decimal `json:"profit"`
	LockedProfit decimal.Decimal `json:"locked_profit"`
	NewStop      decimal.Decimal `json:"new_stop"`
	Action       OrderSide       `json:"action"`
	At           time.Time       `json:"at"`
}
