// Package trail holds the pure auto-trail ratchet: given a position record and
// a trade price it decides whether the protective stop should move.
package trail

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
)

// Policy selects how the locked profit is derived from completed steps.
type Policy string

const (
	// PolicyWholeStep locks arm + floor((profit-arm)/step)*step.
	PolicyWholeStep Policy = "whole_step"
	// PolicyStepBehind keeps the lock one step behind: arm - step + increments*step.
	PolicyStepBehind Policy = "step_behind"
)

// ParsePolicy maps a config value onto a Policy. Empty selects whole_step.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyWholeStep:
		return PolicyWholeStep, nil
	case PolicyStepBehind:
		return PolicyStepBehind, nil
	default:
		return "", fmt.Errorf("trail: unknown policy %q", s)
	}
}

// Reasons reported on a Decision that does not act.
const (
	ReasonBelowArm      = "profit below arm threshold"
	ReasonNoImprovement = "candidate does not exceed locked profit"
	ReasonNonPositive   = "candidate lock is not positive"
	ReasonBadPrice      = "price must be positive"
	ReasonBadRecord     = "record sizing is not positive"
)

// Decision is the outcome of evaluating one tick against one record.
type Decision struct {
	Act          bool
	Reason       string
	Profit       decimal.Decimal
	LockedProfit decimal.Decimal
	StopPrice    decimal.Decimal
	Adjustment   domain.StopAdjustment
}

// Engine evaluates ticks. The zero value uses PolicyWholeStep.
type Engine struct {
	Policy Policy
}

// NewEngine creates an Engine for the given policy.
func NewEngine(p Policy) *Engine {
	return &Engine{Policy: p}
}

// Profit is the unrealised profit of pos at price, positive when favourable.
func Profit(pos domain.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(pos.EntryPrice)
	if pos.Side == domain.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(pos.PointValue).Mul(pos.Quantity)
}

// StopPrice converts a locked profit into a price level for pos.
func StopPrice(pos domain.Position, locked decimal.Decimal) decimal.Decimal {
	offset := locked.Div(pos.PointValue.Mul(pos.Quantity))
	if pos.Side == domain.SideShort {
		return pos.EntryPrice.Sub(offset)
	}
	return pos.EntryPrice.Add(offset)
}

// Evaluate decides whether the stop for pos should move at price. It has no
// side effects; callers persist the result with Apply.
func (e *Engine) Evaluate(pos domain.Position, price decimal.Decimal) Decision {
	if !price.IsPositive() {
		return Decision{Reason: ReasonBadPrice}
	}
	if !pos.TrailStep.IsPositive() || !pos.PointValue.IsPositive() || !pos.Quantity.IsPositive() {
		return Decision{Reason: ReasonBadRecord}
	}

	profit := Profit(pos, price)
	if profit.LessThan(pos.ArmAfterProfit) {
		return Decision{Profit: profit, Reason: ReasonBelowArm}
	}

	increments := profit.Sub(pos.ArmAfterProfit).Div(pos.TrailStep).Floor()
	candidate := pos.ArmAfterProfit.Add(increments.Mul(pos.TrailStep))
	if e.Policy == PolicyStepBehind {
		candidate = candidate.Sub(pos.TrailStep)
	}
	if !candidate.IsPositive() {
		return Decision{Profit: profit, Reason: ReasonNonPositive}
	}

	if pos.CurrentStop.Valid && !candidate.GreaterThan(pos.LockedProfit) {
		return Decision{Profit: profit, LockedProfit: pos.LockedProfit, Reason: ReasonNoImprovement}
	}

	stop := StopPrice(pos, candidate)
	return Decision{
		Act:          true,
		Profit:       profit,
		LockedProfit: candidate,
		StopPrice:    stop,
		Adjustment: domain.StopAdjustment{
			Ticker:    pos.Ticker,
			Side:      pos.Side.Opposite(),
			Quantity:  pos.Quantity,
			StopPrice: stop,
		},
	}
}

// Apply records an acting decision on pos. Non-acting decisions are ignored.
func Apply(pos *domain.Position, d Decision, now time.Time) {
	if !d.Act {
		return
	}
	pos.LockedProfit = d.LockedProfit
	pos.CurrentStop = decimal.NewNullDecimal(d.StopPrice)
	pos.UpdatedAt = now
}

// Event builds the published form of an acting decision.
func Event(pos domain.Position, price decimal.Decimal, d Decision, now time.Time) domain.TrailEvent {
	return domain.TrailEvent{
		Ticker:       pos.Ticker,
		Side:         pos.Side,
		Price:        price,
		Profit:       d.Profit,
		LockedProfit: d.LockedProfit,
		NewStop:      d.StopPrice,
		Action:       d.Adjustment.Side,
		At:           now,
	}
}
