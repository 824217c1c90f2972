package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/notify"
	"github.com/alanyoungcy/trailrelay/internal/trail"
)

// Dispatcher delivers one order to the brokerage.
type Dispatcher interface {
	Deliver(ctx context.Context, payload domain.OrderPayload) (domain.DispatchResult, error)
}

// reasonNoPosition is reported when a tick arrives for a ticker whose record
// has already expired.
const reasonNoPosition = "no live position"

// reasonMalformed is reported when the stored record cannot be trailed.
const reasonMalformed = "malformed position record"

// TrailService runs every monitored tick through the trail engine and turns
// ratchets into persisted records, events and stop orders.
type TrailService struct {
	positions       *PositionService
	engine          *trail.Engine
	dispatcher      Dispatcher
	events          *Events
	defaultStrategy string
	logger          *slog.Logger
	now             func() time.Time

	inflight sync.WaitGroup
}

// NewTrailService creates a TrailService. defaultStrategy is used for records
// that carry no strategy id.
func NewTrailService(
	positions *PositionService,
	engine *trail.Engine,
	dispatcher Dispatcher,
	events *Events,
	defaultStrategy string,
	logger *slog.Logger,
) *TrailService {
	return &TrailService{
		positions:       positions,
		engine:          engine,
		dispatcher:      dispatcher,
		events:          events,
		defaultStrategy: defaultStrategy,
		logger:          logger.With(slog.String("component", "trail_service")),
		now:             time.Now,
	}
}

// HandleTick evaluates tick against the latest record for its ticker. At most
// one stop adjustment is emitted per tick, and only after the ratcheted
// record has been persisted.
func (s *TrailService) HandleTick(ctx context.Context, tick domain.PriceTick) (domain.TickResult, error) {
	res := domain.TickResult{Ticker: tick.Symbol}
	s.events.Publish(ctx, domain.ChannelTicks, tick)

	var d trail.Decision
	pos, found, err := s.positions.Update(ctx, tick.Symbol, func(p *domain.Position) (bool, error) {
		d = s.engine.Evaluate(*p, tick.Price)
		if !d.Act {
			return false, nil
		}
		trail.Apply(p, d, s.now().UTC())
		return true, nil
	})
	if errors.Is(err, domain.ErrMalformedRecord) {
		// The ticker stays monitored; a new entry or an exit replaces the key.
		s.logger.WarnContext(ctx, "skipping tick for malformed record",
			slog.String("ticker", tick.Symbol),
			slog.String("error", err.Error()),
		)
		res.Reason = reasonMalformed
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("trail_service: handle tick %s: %w", tick.Symbol, err)
	}
	if !found {
		if _, err := s.positions.Forget(ctx, tick.Symbol); err != nil {
			s.logger.WarnContext(ctx, "forget failed", slog.String("ticker", tick.Symbol), slog.String("error", err.Error()))
		}
		res.Reason = reasonNoPosition
		return res, nil
	}

	res.Profit = d.Profit
	res.LockedProfit = pos.LockedProfit
	res.NewStop = pos.CurrentStop
	if !d.Act {
		res.Reason = d.Reason
		return res, nil
	}
	res.Acted = true

	s.logger.InfoContext(ctx, "trailing stop ratcheted",
		slog.String("ticker", pos.Ticker),
		slog.String("side", string(pos.Side)),
		slog.String("price", tick.Price.String()),
		slog.String("profit", d.Profit.String()),
		slog.String("locked_profit", d.LockedProfit.String()),
		slog.String("stop", d.StopPrice.String()),
	)

	evt := trail.Event(pos, tick.Price, d, s.now().UTC())
	s.events.Publish(ctx, domain.ChannelTrail, evt)
	s.events.Append(ctx, domain.StreamTrail, evt)
	s.events.Audit(ctx, domain.AuditTrailUpdated, map[string]any{
		"ticker":        pos.Ticker,
		"side":          string(pos.Side),
		"price":         tick.Price.String(),
		"profit":        d.Profit.String(),
		"locked_profit": d.LockedProfit.String(),
		"stop":          d.StopPrice.String(),
	})
	s.events.Notify(ctx, notify.EventTrailUpdated, "Trailing stop moved",
		fmt.Sprintf("%s %s: stop %s, locked profit %s at %s",
			pos.Ticker, pos.Side, d.StopPrice.String(), d.LockedProfit.String(), tick.Price.String()))

	strategy := pos.StrategyID
	if strategy == "" {
		strategy = s.defaultStrategy
	}
	s.dispatch(ctx, domain.StopOrder(strategy, d.Adjustment))
	return res, nil
}

// dispatch delivers payload in the background. Failures are logged, audited
// and notified; there is no retry.
func (s *TrailService) dispatch(ctx context.Context, payload domain.OrderPayload) {
	ctx = context.WithoutCancel(ctx)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		result, err := s.dispatcher.Deliver(ctx, payload)
		if err != nil {
			s.logger.ErrorContext(ctx, "stop order dispatch failed",
				slog.String("ticker", payload.Ticker),
				slog.String("error", err.Error()),
			)
			s.events.Audit(ctx, domain.AuditDispatchFailed, map[string]any{
				"ticker": payload.Ticker,
				"action": string(payload.Action),
				"error":  err.Error(),
			})
			s.events.Notify(ctx, notify.EventDispatchFailed, "Stop order failed",
				fmt.Sprintf("%s %s stop: %v", payload.Ticker, payload.Action, err))
			return
		}
		s.logger.InfoContext(ctx, "stop order dispatched",
			slog.String("ticker", payload.Ticker),
			slog.Int("status", result.StatusCode),
		)
	}()
}

// Drain waits for in-flight dispatches for at most grace and reports whether
// they all finished.
func (s *TrailService) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(grace):
		s.logger.Warn("dropping in-flight stop orders", slog.Duration("grace", grace))
		return false
	}
}
