package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/notify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signalFixture struct {
	*fixture
	dispatcher *fakeDispatcher
	audit      *fakeAudit
	notifier   *fakeNotifier
	svc        *SignalService
}

func newSignalFixture(t *testing.T) *signalFixture {
	t.Helper()
	f := newFixture(t)
	sf := &signalFixture{
		fixture:    f,
		dispatcher: &fakeDispatcher{},
		audit:      &fakeAudit{},
		notifier:   &fakeNotifier{},
	}
	events := NewEvents(nil, sf.audit, sf.notifier, discardLogger())
	sf.svc = NewSignalService(f.positions, sf.dispatcher, events, []string{"Tiger-Alt"}, decimal.NewFromInt(5), discardLogger())
	sf.svc.now = func() time.Time { return time.Date(2025, 8, 1, 14, 30, 0, 0, time.UTC) }
	return sf
}

func decode(t *testing.T, body string) domain.Signal {
	t.Helper()
	sig, err := DecodeSignal([]byte(body), time.Now())
	require.NoError(t, err)
	return sig
}

func TestSignalService_Entry(t *testing.T) {
	sf := newSignalFixture(t)
	ctx := context.Background()

	res, err := sf.svc.Ingest(ctx, decode(t, entryAlert))
	require.NoError(t, err)
	assert.Equal(t, StatusEntryProcessed, res.Status)
	assert.Equal(t, "enabled", res.AutoTrail)
	assert.True(t, res.PositionSaved)
	require.NotNil(t, res.BrokerResult)
	assert.Equal(t, 200, res.BrokerResult.StatusCode)

	pos, ok, err := sf.positions.Get(ctx, "MNQU2025")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SideLong, pos.Side)
	assert.True(t, pos.PointValue.Equal(d("2")))
	assert.False(t, pos.CurrentStop.Valid)
	assert.True(t, pos.LockedProfit.IsZero())
	assert.Equal(t, "Tiger-Alt", pos.StrategyID)
	assert.Equal(t, []string{"MNQU2025"}, sf.registry.Monitored())

	sent := sf.dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.OrderSideBuy, sent[0].Action)
	assert.Equal(t, domain.OrderTypeMarket, sent[0].OrderType)
	assert.Equal(t, "bullish", sent[0].Sentiment)
	assert.Equal(t, 21450.75, *sent[0].SignalPrice)
	assert.Nil(t, sent[0].StopPrice)

	assert.Equal(t, []string{domain.AuditPositionOpened}, sf.audit.events())
	assert.Equal(t, []string{notify.EventPositionOpened}, sf.notifier.seen())
}

func TestSignalService_SellEntryDefaultsPointValue(t *testing.T) {
	sf := newSignalFixture(t)
	ctx := context.Background()
	body := `{"strategy_id":"Tiger-Alt","action":"sell","ticker":"CL","quantity":10,"price":50,
	  "sentiment":"flat","autoTrail":{"armAfterProfit":20,"trailStep":5,"hardStop":53}}`

	_, err := sf.svc.Ingest(ctx, decode(t, body))
	require.NoError(t, err)

	pos, ok, err := sf.positions.Get(ctx, "CL")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, pos.Side)
	assert.True(t, pos.PointValue.Equal(d("5")))

	sent := sf.dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.OrderSideSell, sent[0].Action)
	assert.Equal(t, "flat", sent[0].Sentiment)
}

func TestSignalService_NonPositivePointValueDefaults(t *testing.T) {
	sf := newSignalFixture(t)
	ctx := context.Background()

	for ticker, pv := range map[string]string{"CL": "0", "GC": "-2"} {
		body := `{"strategy_id":"Tiger-Alt","action":"buy","ticker":"` + ticker + `","quantity":1,"price":50,
		  "autoTrail":{"armAfterProfit":20,"trailStep":5,"hardStop":45},"extras":{"pointValue":` + pv + `}}`
		res, err := sf.svc.Ingest(ctx, decode(t, body))
		require.NoError(t, err, ticker)
		assert.True(t, res.PositionSaved, ticker)

		pos, ok, err := sf.positions.Get(ctx, ticker)
		require.NoError(t, err)
		require.True(t, ok, ticker)
		assert.True(t, pos.PointValue.Equal(d("5")), ticker)
	}
}

func TestSignalService_EntryReplacesExisting(t *testing.T) {
	sf := newSignalFixture(t)
	ctx := context.Background()
	armed := longPosition("MNQU2025")
	armed.LockedProfit = d("100")
	armed.CurrentStop = decimal.NewNullDecimal(d("20050"))
	require.NoError(t, sf.positions.Save(ctx, armed))

	_, err := sf.svc.Ingest(ctx, decode(t, entryAlert))
	require.NoError(t, err)

	pos, _, err := sf.positions.Get(ctx, "MNQU2025")
	require.NoError(t, err)
	assert.False(t, pos.CurrentStop.Valid)
	assert.True(t, pos.EntryPrice.Equal(d("21450.75")))
}

func TestSignalService_EntryMissingFields(t *testing.T) {
	sf := newSignalFixture(t)
	body := `{"strategy_id":"Tiger-Alt","action":"buy","ticker":"ES","quantity":1,"autoTrail":{"trailStep":5}}`

	_, err := sf.svc.Ingest(context.Background(), decode(t, body))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignal))
	assert.Contains(t, err.Error(), "autoTrail.armAfterProfit, autoTrail.hardStop, price")
	assert.Empty(t, sf.dispatcher.sent())
}

func TestSignalService_EntryInvalidPosition(t *testing.T) {
	sf := newSignalFixture(t)
	body := `{"strategy_id":"Tiger-Alt","action":"buy","ticker":"ES","quantity":0,"price":1,
	  "autoTrail":{"armAfterProfit":1,"trailStep":1,"hardStop":0.5}}`

	_, err := sf.svc.Ingest(context.Background(), decode(t, body))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignal))
	assert.True(t, errors.Is(err, domain.ErrInvalidPosition))
}

func TestSignalService_Exit(t *testing.T) {
	sf := newSignalFixture(t)
	ctx := context.Background()
	require.NoError(t, sf.positions.Save(ctx, longPosition("ES")))

	res, err := sf.svc.Ingest(ctx, decode(t, `{"strategy_id":"Tiger-Alt","action":"exit","ticker":"ES","price":5400}`))
	require.NoError(t, err)
	assert.Equal(t, StatusExitProcessed, res.Status)
	require.NotNil(t, res.PositionCleaned)
	assert.True(t, *res.PositionCleaned)
	assert.Empty(t, sf.registry.Monitored())
	assert.Equal(t, []archived{{"ES", domain.ArchiveClosed}}, sf.archiver.all())

	sent := sf.dispatcher.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.OrderSideExit, sent[0].Action)
	assert.Equal(t, 5400.0, *sent[0].SignalPrice)
	assert.Equal(t, "signal", sent[0].Extras["exitReason"])

	assert.Equal(t, []string{domain.AuditPositionClosed}, sf.audit.events())
}

func TestSignalService_ExitWithoutRecord(t *testing.T) {
	sf := newSignalFixture(t)
	res, err := sf.svc.Ingest(context.Background(), decode(t, `{"strategy_id":"Tiger-Alt","action":"exit","ticker":"ES"}`))
	require.NoError(t, err)
	require.NotNil(t, res.PositionCleaned)
	assert.False(t, *res.PositionCleaned)
	require.Len(t, sf.dispatcher.sent(), 1)
	assert.Nil(t, sf.dispatcher.sent()[0].Price)
}

func TestSignalService_RejectsUnknownStrategyAndAction(t *testing.T) {
	sf := newSignalFixture(t)
	ctx := context.Background()

	_, err := sf.svc.Ingest(ctx, decode(t, `{"strategy_id":"Other","action":"buy","ticker":"ES"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignal))
	assert.Contains(t, err.Error(), "unsupported strategy_id")

	_, err = sf.svc.Ingest(ctx, decode(t, `{"strategy_id":"Tiger-Alt","action":"hold","ticker":"ES"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown action "hold"`)
}

func TestSignalService_DispatchFailureStillProcessed(t *testing.T) {
	sf := newSignalFixture(t)
	sf.dispatcher.err = errors.New("dispatch failed: status 502")

	res, err := sf.svc.Ingest(context.Background(), decode(t, entryAlert))
	require.NoError(t, err)
	assert.True(t, res.PositionSaved)
	assert.Nil(t, res.BrokerResult)
	assert.Contains(t, res.BrokerError, "502")
	assert.Contains(t, sf.audit.events(), domain.AuditDispatchFailed)
	assert.Contains(t, sf.notifier.seen(), notify.EventDispatchFailed)
}
