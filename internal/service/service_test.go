package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	redisstore "github.com/alanyoungcy/trailrelay/internal/cache/redis"
	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeRegistry is an in-memory monitored set.
type fakeRegistry struct {
	mu  sync.Mutex
	set map[string]bool
}

func newFakeRegistry() *fakeRegistry { return &fakeRegistry{set: map[string]bool{}} }

func (r *fakeRegistry) AddSymbol(t string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set[t] = true
}

func (r *fakeRegistry) RemoveSymbol(t string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.set, t)
}

func (r *fakeRegistry) Monitored() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.set))
	for t := range r.set {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// fakeDispatcher records payloads and optionally fails.
type fakeDispatcher struct {
	mu       sync.Mutex
	payloads []domain.OrderPayload
	err      error
	delay    time.Duration
}

func (f *fakeDispatcher) Deliver(_ context.Context, p domain.OrderPayload) (domain.DispatchResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	if f.err != nil {
		return domain.DispatchResult{}, f.err
	}
	return domain.DispatchResult{StatusCode: 200, Response: map[string]any{"ok": true}}, nil
}

func (f *fakeDispatcher) sent() []domain.OrderPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.OrderPayload(nil), f.payloads...)
}

type auditRow struct {
	event  string
	detail map[string]any
}

type fakeAudit struct {
	mu   sync.Mutex
	rows []auditRow
}

func (a *fakeAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, auditRow{event, detail})
	return nil
}

func (a *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (a *fakeAudit) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, r := range a.rows {
		out = append(out, r.event)
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *fakeNotifier) seen() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type archived struct {
	ticker string
	reason string
}

type fakeArchiver struct {
	mu   sync.Mutex
	recs []archived
	err  error
}

func (a *fakeArchiver) ArchivePosition(_ context.Context, pos domain.Position, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recs = append(a.recs, archived{pos.Ticker, reason})
	return a.err
}

func (a *fakeArchiver) all() []archived {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]archived(nil), a.recs...)
}

// failingStore fails every call.
type failingStore struct{}

var errDown = errors.New("connection refused")

func (failingStore) Save(context.Context, domain.Position) error { return errDown }
func (failingStore) Get(context.Context, string) (domain.Position, bool, error) {
	return domain.Position{}, false, errDown
}
func (failingStore) Delete(context.Context, string) error                { return errDown }
func (failingStore) ListActiveTickers(context.Context) ([]string, error) { return nil, errDown }
func (failingStore) Ping(context.Context) error                          { return errDown }

type fixture struct {
	mr        *miniredis.Miniredis
	client    *redisstore.Client
	store     *redisstore.PositionStore
	registry  *fakeRegistry
	archiver  *fakeArchiver
	positions *PositionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisstore.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		mr:       mr,
		client:   client,
		store:    redisstore.NewPositionStore(client, 0),
		registry: newFakeRegistry(),
		archiver: &fakeArchiver{},
	}
	f.positions = NewPositionService(f.store, f.registry, PositionOptions{
		Locks:    redisstore.NewLockManager(client, time.Second),
		Archiver: f.archiver,
	}, discardLogger())
	return f
}

func longPosition(ticker string) domain.Position {
	now := time.Date(2025, 8, 1, 14, 30, 0, 0, time.UTC)
	return domain.Position{
		Ticker:         ticker,
		Side:           domain.SideLong,
		EntryPrice:     d("20000"),
		Quantity:       d("1"),
		PointValue:     d("2"),
		ArmAfterProfit: d("100"),
		TrailStep:      d("50"),
		HardStop:       d("19900"),
		StrategyID:     "Tiger-Alt",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
