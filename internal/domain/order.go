package domain

import "github.com/shopspring/decimal"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
	OrderSideExit OrderSide = "exit"
)

// Order types and time-in-force values understood by the brokerage webhook.
const (
	OrderTypeMarket = "market"
	OrderTypeStop   = "stop"
	TimeInForceGTC  = "gtc"
)

// StopAdjustment is the instruction emitted when a trailing stop ratchets.
type StopAdjustment struct {
	Ticker    string
	Side      OrderSide // closing side, opposite of the position
	Quantity  decimal.Decimal
	StopPrice decimal.Decimal
}

// OrderPayload is the JSON body posted to the brokerage webhook.
type OrderPayload struct {
	StrategyID  string         `json:"strategy_id"`
	Ticker      string         `json:"ticker"`
	Action      OrderSide      `json:"action"`
	Quantity    *float64       `json:"quantity,omitempty"`
	OrderType   string         `json:"orderType"`
	StopPrice   *float64       `json:"stopPrice,omitempty"`
	TimeInForce string         `json:"timeInForce"`
	Sentiment   string         `json:"sentiment,omitempty"`
	Price       *float64       `json:"price,omitempty"`
	SignalPrice *float64       `json:"signalPrice,omitempty"`
	Extras      map[string]any `json:"extras,omitempty"`
}

// StopOrder builds the stop-order payload for a ratchet.
func StopOrder(strategyID string, adj StopAdjustment) OrderPayload {
	return OrderPayload{
		StrategyID:  strategyID,
		Ticker:      adj.Ticker,
		Action:      adj.Side,
		Quantity:    Float(adj.Quantity),
		OrderType:   OrderTypeStop,
		StopPrice:   Float(adj.StopPrice),
		TimeInForce: TimeInForceGTC,
	}
}

// Float converts a decimal into the float pointer used by OrderPayload.
func Float(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}

// DispatchResult is the outcome of a successful webhook delivery.
type DispatchResult struct {
	StatusCode int `json:"status_code"`
	Response   any `json:"response,omitempty"`
}
