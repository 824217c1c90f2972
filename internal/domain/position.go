package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an open position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// ParseSide accepts both position ("long"/"short") and order ("buy"/"sell")
// vocabulary.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy":
		return SideLong, nil
	case "short", "sell":
		return SideShort, nil
	default:
		return "", fmt.Errorf("%w: unknown side %q", ErrInvalidPosition, s)
	}
}

// UnmarshalJSON normalises "buy"/"sell" records written by older versions.
func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseSide(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Opposite returns the order side that closes a position of this side.
func (s Side) Opposite() OrderSide {
	if s == SideShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// EntryAction returns the order side that opens a position of this side.
func (s Side) EntryAction() OrderSide {
	if s == SideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// Position is the auto-trail record kept for every actively monitored ticker.
// It is stored as JSON under position:{ticker}.
type Position struct {
	Ticker         string              `json:"ticker"`
	Side           Side                `json:"side"`
	EntryPrice     decimal.Decimal     `json:"entryPrice"`
	Quantity       decimal.Decimal     `json:"quantity"`
	PointValue     decimal.Decimal     `json:"pointValue"`
	ArmAfterProfit decimal.Decimal     `json:"armAfterProfit"`
	TrailStep      decimal.Decimal     `json:"trailStep"`
	HardStop       decimal.Decimal     `json:"hardStop"` // reference only, never sent
	CurrentStop    decimal.NullDecimal `json:"currentStop"`
	LockedProfit   decimal.Decimal     `json:"lockedProfit"`
	StrategyID     string              `json:"strategyId,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

// Validate checks the record invariants.
func (p Position) Validate() error {
	var problems []string
	if strings.TrimSpace(p.Ticker) == "" {
		problems = append(problems, "ticker must not be empty")
	}
	if p.Side != SideLong && p.Side != SideShort {
		problems = append(problems, fmt.Sprintf("side must be long or short, got %q", p.Side))
	}
	if !p.Quantity.IsPositive() {
		problems = append(problems, "quantity must be > 0")
	}
	if !p.PointValue.IsPositive() {
		problems = append(problems, "pointValue must be > 0")
	}
	if !p.TrailStep.IsPositive() {
		problems = append(problems, "trailStep must be > 0")
	}
	if !p.ArmAfterProfit.IsPositive() {
		problems = append(problems, "armAfterProfit must be > 0")
	}
	if p.LockedProfit.IsNegative() {
		problems = append(problems, "lockedProfit must be >= 0")
	}
	if p.CurrentStop.Valid != p.LockedProfit.IsPositive() {
		problems = append(problems, "currentStop must be set exactly when lockedProfit > 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidPosition, p.Ticker, strings.Join(problems, "; "))
	}
	return nil
}

// Armed reports whether a trailing stop has been sent for this position.
func (p Position) Armed() bool {
	return p.CurrentStop.Valid
}
