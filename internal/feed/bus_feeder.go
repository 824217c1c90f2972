package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/shopspring/decimal"
)

// busTick is the JSON shape external publishers push to the ingest channel.
type busTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp string          `json:"timestamp"`
	Source    string          `json:"source"`
}

// Injector accepts externally sourced ticks.
type Injector interface {
	Inject(ctx context.Context, tick domain.PriceTick) (domain.TickResult, bool, error)
}

// BusFeeder subscribes to a signal bus channel and injects each tick it
// carries. It lets another process stream prices to the relay without a
// direct feed connection.
type BusFeeder struct {
	bus      domain.SignalBus
	channel  string
	injector Injector
	logger   *slog.Logger
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus domain.SignalBus, channel string, injector Injector, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:      bus,
		channel:  channel,
		injector: injector,
		logger:   logger.With(slog.String("component", "bus_feeder"), slog.String("channel", channel)),
	}
}

// Run consumes the channel until ctx ends.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("feed: bus feeder subscribe: %w", err)
	}
	f.logger.Info("bus feeder started")
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handle(ctx, msg.Payload); err != nil {
				f.logger.Debug("bus tick dropped",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(msg.Payload)),
				)
			}
		}
	}
}

func (f *BusFeeder) handle(ctx context.Context, payload []byte) error {
	var bt busTick
	if err := json.Unmarshal(payload, &bt); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMalformedTick, err)
	}
	sym := strings.TrimSpace(bt.Symbol)
	if sym == "" || !bt.Price.IsPositive() {
		return fmt.Errorf("%w: symbol and positive price required", domain.ErrMalformedTick)
	}
	ts := time.Now()
	if bt.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, bt.Timestamp); err == nil {
			ts = t
		}
	}
	source := bt.Source
	if source == "" {
		source = "bus"
	}
	_, _, err := f.injector.Inject(ctx, domain.PriceTick{Symbol: sym, Price: bt.Price, Timestamp: ts, Source: source})
	return err
}
