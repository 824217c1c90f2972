package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// alert is the wire shape of an inbound alert.
type alert struct {
	StrategyID  string              `json:"strategy_id"`
	Action      string              `json:"action"`
	Ticker      string              `json:"ticker"`
	Quantity    decimal.NullDecimal `json:"quantity"`
	Price       decimal.NullDecimal `json:"price"`
	SignalPrice decimal.NullDecimal `json:"signalPrice"`
	Sentiment   string              `json:"sentiment"`
	AutoTrail   struct {
		ArmAfterProfit decimal.NullDecimal `json:"armAfterProfit"`
		TrailStep      decimal.NullDecimal `json:"trailStep"`
		HardStop       decimal.NullDecimal `json:"hardStop"`
	} `json:"autoTrail"`
	Extras map[string]json.RawMessage `json:"extras"`
}

// DecodeSignal parses an alert body. The body may be a JSON object or a JSON
// string that itself holds the object, which is how some alert tools post.
func DecodeSignal(body []byte, receivedAt time.Time) (domain.Signal, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return domain.Signal{}, fmt.Errorf("%w: empty body", domain.ErrInvalidSignal)
	}
	if body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return domain.Signal{}, fmt.Errorf("%w: invalid JSON: %w", domain.ErrInvalidSignal, err)
		}
		body = []byte(inner)
	}

	var a alert
	if err := json.Unmarshal(body, &a); err != nil {
		return domain.Signal{}, fmt.Errorf("%w: invalid JSON: %w", domain.ErrInvalidSignal, err)
	}

	var missing []string
	if a.StrategyID == "" {
		missing = append(missing, "strategy_id")
	}
	if a.Action == "" {
		missing = append(missing, "action")
	}
	if a.Ticker == "" {
		missing = append(missing, "ticker")
	}
	if len(missing) > 0 {
		return domain.Signal{}, fmt.Errorf("%w: missing required fields: %s", domain.ErrInvalidSignal, strings.Join(missing, ", "))
	}

	sig := domain.Signal{
		ID:          uuid.NewString(),
		StrategyID:  a.StrategyID,
		Action:      domain.SignalAction(strings.ToLower(strings.TrimSpace(a.Action))),
		Ticker:      strings.TrimSpace(a.Ticker),
		Quantity:    a.Quantity,
		Price:       a.Price,
		SignalPrice: a.SignalPrice,
		Sentiment:   a.Sentiment,
		AutoTrail: domain.AutoTrailParams{
			ArmAfterProfit: a.AutoTrail.ArmAfterProfit,
			TrailStep:      a.AutoTrail.TrailStep,
			HardStop:       a.AutoTrail.HardStop,
		},
		ReceivedAt: receivedAt,
	}
	if raw, ok := a.Extras["pointValue"]; ok {
		var pv decimal.NullDecimal
		if err := json.Unmarshal(raw, &pv); err != nil {
			return domain.Signal{}, fmt.Errorf("%w: extras.pointValue: %w", domain.ErrInvalidSignal, err)
		}
		sig.PointValue = pv
	}
	return sig, nil
}
