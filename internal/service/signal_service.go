package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/notify"
	"github.com/shopspring/decimal"
)

// Ingest result statuses.
const (
	StatusEntryProcessed = "entry_processed"
	StatusExitProcessed  = "exit_processed"
	StatusDuplicate      = "duplicate_ignored"
)

// IngestResult is returned to the alert tool.
type IngestResult struct {
	Status          string                 `json:"status"`
	Ticker          string                 `json:"ticker"`
	Action          domain.SignalAction    `json:"action,omitempty"`
	AutoTrail       string                 `json:"autoTrail,omitempty"`
	PositionSaved   bool                   `json:"position_saved,omitempty"`
	PositionCleaned *bool                  `json:"position_cleaned,omitempty"`
	BrokerResult    *domain.DispatchResult `json:"broker_result,omitempty"`
	BrokerError     string                 `json:"broker_error,omitempty"`
}

// SignalService turns alerts into live records and brokerage orders.
type SignalService struct {
	positions         *PositionService
	dispatcher        Dispatcher
	events            *Events
	strategies        map[string]bool
	defaultPointValue decimal.Decimal
	dedup             *Dedup
	logger            *slog.Logger
	now               func() time.Time
}

// NewSignalService creates a SignalService accepting alerts only from the
// listed strategies.
func NewSignalService(
	positions *PositionService,
	dispatcher Dispatcher,
	events *Events,
	strategies []string,
	defaultPointValue decimal.Decimal,
	logger *slog.Logger,
) *SignalService {
	allowed := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		allowed[s] = true
	}
	return &SignalService{
		positions:         positions,
		dispatcher:        dispatcher,
		events:            events,
		strategies:        allowed,
		defaultPointValue: defaultPointValue,
		logger:            logger.With(slog.String("component", "signal_service")),
		now:               time.Now,
	}
}

// SetDedup enables duplicate-alert suppression. A nil Dedup disables it.
func (s *SignalService) SetDedup(d *Dedup) {
	s.dedup = d
}

// Ingest processes one decoded alert.
func (s *SignalService) Ingest(ctx context.Context, sig domain.Signal) (IngestResult, error) {
	if !s.strategies[sig.StrategyID] {
		return IngestResult{}, fmt.Errorf("%w: unsupported strategy_id %q", domain.ErrInvalidSignal, sig.StrategyID)
	}
	s.logger.InfoContext(ctx, "signal received",
		slog.String("signal_id", sig.ID),
		slog.String("strategy_id", sig.StrategyID),
		slog.String("action", string(sig.Action)),
		slog.String("ticker", sig.Ticker),
	)

	if s.dedup != nil {
		key := signalKey(sig)
		if s.dedup.IsDuplicate(key) {
			s.logger.InfoContext(ctx, "duplicate signal ignored",
				slog.String("signal_id", sig.ID),
				slog.String("ticker", sig.Ticker),
			)
			return IngestResult{Status: StatusDuplicate, Ticker: sig.Ticker, Action: sig.Action}, nil
		}
		res, err := s.route(ctx, sig)
		if err != nil {
			// A failed alert may be retried.
			s.dedup.Forget(key)
		}
		return res, err
	}
	return s.route(ctx, sig)
}

func (s *SignalService) route(ctx context.Context, sig domain.Signal) (IngestResult, error) {
	switch sig.Action {
	case domain.SignalBuy, domain.SignalSell:
		return s.entry(ctx, sig)
	case domain.SignalExit:
		return s.exit(ctx, sig)
	default:
		return IngestResult{}, fmt.Errorf("%w: unknown action %q", domain.ErrInvalidSignal, sig.Action)
	}
}

func (s *SignalService) entry(ctx context.Context, sig domain.Signal) (IngestResult, error) {
	var missing []string
	for name, v := range map[string]decimal.NullDecimal{
		"quantity":                 sig.Quantity,
		"price":                    sig.Price,
		"autoTrail.armAfterProfit": sig.AutoTrail.ArmAfterProfit,
		"autoTrail.trailStep":      sig.AutoTrail.TrailStep,
		"autoTrail.hardStop":       sig.AutoTrail.HardStop,
	} {
		if !v.Valid {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return IngestResult{}, fmt.Errorf("%w: missing required fields: %s", domain.ErrInvalidSignal, strings.Join(missing, ", "))
	}

	side, err := domain.ParseSide(string(sig.Action))
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidSignal, err)
	}
	pointValue := s.defaultPointValue
	if sig.PointValue.Valid && sig.PointValue.Decimal.IsPositive() {
		pointValue = sig.PointValue.Decimal
	}

	now := s.now().UTC()
	pos := domain.Position{
		Ticker:         sig.Ticker,
		Side:           side,
		EntryPrice:     sig.Price.Decimal,
		Quantity:       sig.Quantity.Decimal,
		PointValue:     pointValue,
		ArmAfterProfit: sig.AutoTrail.ArmAfterProfit.Decimal,
		TrailStep:      sig.AutoTrail.TrailStep.Decimal,
		HardStop:       sig.AutoTrail.HardStop.Decimal,
		StrategyID:     sig.StrategyID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.positions.Save(ctx, pos); err != nil {
		if errors.Is(err, domain.ErrInvalidPosition) {
			return IngestResult{}, fmt.Errorf("%w: %w", domain.ErrInvalidSignal, err)
		}
		return IngestResult{}, fmt.Errorf("signal_service: entry %s: %w", sig.Ticker, err)
	}

	s.events.Publish(ctx, domain.ChannelPositions, map[string]any{
		"event":    domain.AuditPositionOpened,
		"position": pos,
	})
	s.events.Audit(ctx, domain.AuditPositionOpened, map[string]any{
		"ticker":      pos.Ticker,
		"side":        string(pos.Side),
		"entry_price": pos.EntryPrice.String(),
		"quantity":    pos.Quantity.String(),
		"strategy_id": pos.StrategyID,
		"signal_id":   sig.ID,
	})
	s.events.Notify(ctx, notify.EventPositionOpened, "Position opened",
		fmt.Sprintf("%s %s %s @ %s, arm %s, step %s",
			pos.Ticker, pos.Side, pos.Quantity, pos.EntryPrice, pos.ArmAfterProfit, pos.TrailStep))

	res := IngestResult{
		Status:        StatusEntryProcessed,
		Ticker:        sig.Ticker,
		Action:        sig.Action,
		AutoTrail:     "enabled",
		PositionSaved: true,
	}
	s.deliver(ctx, entryOrder(sig, side), &res)
	return res, nil
}

func (s *SignalService) exit(ctx context.Context, sig domain.Signal) (IngestResult, error) {
	pos, found, err := s.positions.Delete(ctx, sig.Ticker)
	if err != nil {
		return IngestResult{}, fmt.Errorf("signal_service: exit %s: %w", sig.Ticker, err)
	}

	if found {
		s.events.Publish(ctx, domain.ChannelPositions, map[string]any{
			"event":    domain.AuditPositionClosed,
			"position": pos,
		})
		s.events.Audit(ctx, domain.AuditPositionClosed, map[string]any{
			"ticker":        pos.Ticker,
			"side":          string(pos.Side),
			"locked_profit": pos.LockedProfit.String(),
			"strategy_id":   sig.StrategyID,
			"signal_id":     sig.ID,
		})
		s.events.Notify(ctx, notify.EventPositionClosed, "Position closed",
			fmt.Sprintf("%s %s closed, locked profit %s", pos.Ticker, pos.Side, pos.LockedProfit))
	} else {
		s.logger.InfoContext(ctx, "exit for ticker without live record", slog.String("ticker", sig.Ticker))
	}

	res := IngestResult{
		Status:          StatusExitProcessed,
		Ticker:          sig.Ticker,
		PositionCleaned: &found,
	}
	s.deliver(ctx, exitOrder(sig), &res)
	return res, nil
}

// deliver sends payload synchronously so the alert tool sees the brokerage
// response. A failed delivery does not fail the ingest.
func (s *SignalService) deliver(ctx context.Context, payload domain.OrderPayload, res *IngestResult) {
	result, err := s.dispatcher.Deliver(ctx, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "order dispatch failed",
			slog.String("ticker", payload.Ticker),
			slog.String("action", string(payload.Action)),
			slog.String("error", err.Error()),
		)
		s.events.Audit(ctx, domain.AuditDispatchFailed, map[string]any{
			"ticker": payload.Ticker,
			"action": string(payload.Action),
			"error":  err.Error(),
		})
		s.events.Notify(ctx, notify.EventDispatchFailed, "Order failed",
			fmt.Sprintf("%s %s: %v", payload.Ticker, payload.Action, err))
		res.BrokerError = err.Error()
		return
	}
	res.BrokerResult = &result
}

func entryOrder(sig domain.Signal, side domain.Side) domain.OrderPayload {
	sentiment := sig.Sentiment
	if sentiment == "" {
		sentiment = "bullish"
		if side == domain.SideShort {
			sentiment = "bearish"
		}
	}
	signalPrice := sig.Price.Decimal
	if sig.SignalPrice.Valid {
		signalPrice = sig.SignalPrice.Decimal
	}
	return domain.OrderPayload{
		StrategyID:  sig.StrategyID,
		Ticker:      sig.Ticker,
		Action:      side.EntryAction(),
		Quantity:    domain.Float(sig.Quantity.Decimal),
		OrderType:   domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceGTC,
		Sentiment:   sentiment,
		Price:       domain.Float(sig.Price.Decimal),
		SignalPrice: domain.Float(signalPrice),
		Extras: map[string]any{
			"strategy": sig.StrategyID + "-AutoTrail",
			"signalId": sig.ID,
		},
	}
}

func exitOrder(sig domain.Signal) domain.OrderPayload {
	p := domain.OrderPayload{
		StrategyID:  sig.StrategyID,
		Ticker:      sig.Ticker,
		Action:      domain.OrderSideExit,
		OrderType:   domain.OrderTypeMarket,
		TimeInForce: domain.TimeInForceGTC,
		Extras: map[string]any{
			"exitReason": "signal",
			"strategy":   sig.StrategyID + "-AutoTrail",
			"signalId":   sig.ID,
		},
	}
	if sig.Price.Valid {
		p.Price = domain.Float(sig.Price.Decimal)
		p.SignalPrice = p.Price
	}
	if sig.SignalPrice.Valid {
		p.SignalPrice = domain.Float(sig.SignalPrice.Decimal)
	}
	return p
}
