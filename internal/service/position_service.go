// Package service holds the orchestration between the feed, the trail engine,
// the live position store and the outbound side effects.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
)

// SymbolRegistry is the monitored-symbol set kept equal to the live records.
type SymbolRegistry interface {
	AddSymbol(ticker string)
	RemoveSymbol(ticker string)
	Monitored() []string
}

// PositionOptions configures the optional collaborators of a PositionService.
type PositionOptions struct {
	// Locks, when set, serialises read-modify-write across processes.
	Locks   domain.LockManager
	LockTTL time.Duration
	// Archiver, when set, receives records that leave the live store.
	Archiver domain.PositionArchiver
}

// PositionService is the only writer of live position records. Every store
// mutation carries its side effect on the monitored set.
type PositionService struct {
	store    domain.PositionStore
	registry SymbolRegistry
	locks    domain.LockManager
	lockTTL  time.Duration
	archiver domain.PositionArchiver
	logger   *slog.Logger

	mu        sync.Mutex
	tickerMu  map[string]*tickerLock
	lastKnown map[string]domain.Position
}

// tickerLock is a per-ticker mutex dropped from the map once no caller
// holds or waits for it.
type tickerLock struct {
	sync.Mutex
	refs int
}

// NewPositionService creates a PositionService.
func NewPositionService(store domain.PositionStore, registry SymbolRegistry, opts PositionOptions, logger *slog.Logger) *PositionService {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	return &PositionService{
		store:     store,
		registry:  registry,
		locks:     opts.Locks,
		lockTTL:   opts.LockTTL,
		archiver:  opts.Archiver,
		logger:    logger.With(slog.String("component", "position_service")),
		tickerMu:  make(map[string]*tickerLock),
		lastKnown: make(map[string]domain.Position),
	}
}

// Save validates and persists pos, then starts monitoring its ticker. An
// existing record for the ticker is replaced.
func (s *PositionService) Save(ctx context.Context, pos domain.Position) error {
	if err := pos.Validate(); err != nil {
		return fmt.Errorf("position_service: save %s: %w", pos.Ticker, err)
	}
	return s.withLock(ctx, pos.Ticker, func() error {
		if err := s.store.Save(ctx, pos); err != nil {
			return fmt.Errorf("position_service: save %s: %w", pos.Ticker, err)
		}
		s.remember(pos)
		s.registry.AddSymbol(pos.Ticker)
		return nil
	})
}

// Get returns the live record for ticker.
func (s *PositionService) Get(ctx context.Context, ticker string) (domain.Position, bool, error) {
	pos, ok, err := s.store.Get(ctx, ticker)
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("position_service: get %s: %w", ticker, err)
	}
	return pos, ok, nil
}

// ListActiveTickers returns every ticker with a live record.
func (s *PositionService) ListActiveTickers(ctx context.Context) ([]string, error) {
	tickers, err := s.store.ListActiveTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("position_service: list: %w", err)
	}
	return tickers, nil
}

// List returns every live record. Records that expire between the scan and
// the read are skipped.
func (s *PositionService) List(ctx context.Context) ([]domain.Position, error) {
	tickers, err := s.ListActiveTickers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Position, 0, len(tickers))
	for _, t := range tickers {
		pos, ok, err := s.Get(ctx, t)
		if errors.Is(err, domain.ErrMalformedRecord) {
			s.logger.WarnContext(ctx, "skipping malformed record", slog.String("ticker", t), slog.String("error", err.Error()))
			continue
		}
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, pos)
		}
	}
	return out, nil
}

// Delete removes the record for ticker and stops monitoring it. It returns
// the removed record, if there was one, and archives it as closed. A
// malformed record is removed too and reported as found with only its
// ticker set; it is not archived.
func (s *PositionService) Delete(ctx context.Context, ticker string) (domain.Position, bool, error) {
	var (
		pos       domain.Position
		found     bool
		malformed bool
	)
	err := s.withLock(ctx, ticker, func() error {
		var err error
		pos, found, err = s.store.Get(ctx, ticker)
		switch {
		case errors.Is(err, domain.ErrMalformedRecord):
			s.logger.WarnContext(ctx, "deleting malformed record", slog.String("ticker", ticker), slog.String("error", err.Error()))
			pos, found, malformed = domain.Position{Ticker: ticker}, true, true
		case err != nil:
			return fmt.Errorf("position_service: delete %s: %w", ticker, err)
		}
		if err := s.store.Delete(ctx, ticker); err != nil {
			return fmt.Errorf("position_service: delete %s: %w", ticker, err)
		}
		s.registry.RemoveSymbol(ticker)
		s.forgetSnapshot(ticker)
		return nil
	})
	if err != nil {
		return domain.Position{}, false, err
	}
	if found && !malformed {
		s.archive(ctx, pos, domain.ArchiveClosed)
	}
	return pos, found, nil
}

// Update runs fn on the latest persisted record for ticker under the ticker
// lock. When fn reports a change the record is saved back. found is false
// when no live record exists; fn is not called then.
func (s *PositionService) Update(ctx context.Context, ticker string, fn func(*domain.Position) (bool, error)) (domain.Position, bool, error) {
	var (
		pos   domain.Position
		found bool
	)
	err := s.withLock(ctx, ticker, func() error {
		var err error
		pos, found, err = s.store.Get(ctx, ticker)
		if err != nil {
			return fmt.Errorf("position_service: update %s: %w", ticker, err)
		}
		if !found {
			return nil
		}
		changed, err := fn(&pos)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := s.store.Save(ctx, pos); err != nil {
			return fmt.Errorf("position_service: update %s: %w", ticker, err)
		}
		s.remember(pos)
		return nil
	})
	if err != nil {
		return domain.Position{}, false, err
	}
	return pos, found, nil
}

// Rebuild registers every live ticker with the monitored set. It is run once
// at startup.
func (s *PositionService) Rebuild(ctx context.Context) (int, error) {
	tickers, err := s.ListActiveTickers(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tickers {
		if pos, ok, err := s.store.Get(ctx, t); err == nil && ok {
			s.remember(pos)
		}
		s.registry.AddSymbol(t)
	}
	s.logger.InfoContext(ctx, "monitored set rebuilt", slog.Int("tickers", len(tickers)))
	return len(tickers), nil
}

// Reconcile deregisters monitored tickers whose record has expired and
// returns them.
func (s *PositionService) Reconcile(ctx context.Context) ([]string, error) {
	var expired []string
	for _, t := range s.registry.Monitored() {
		gone, err := s.Forget(ctx, t)
		if err != nil {
			return expired, fmt.Errorf("position_service: reconcile: %w", err)
		}
		if gone {
			expired = append(expired, t)
		}
	}
	if len(expired) > 0 {
		s.logger.InfoContext(ctx, "expired positions deregistered", slog.Any("tickers", expired))
	}
	return expired, nil
}

// RunReconciler calls Reconcile every interval until ctx ends.
func (s *PositionService) RunReconciler(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.WarnContext(ctx, "reconcile failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Forget stops monitoring ticker when it no longer has a live record and
// reports whether it did. The last record seen for it, if any, is archived as
// expired. A ticker that is live again is left alone.
func (s *PositionService) Forget(ctx context.Context, ticker string) (bool, error) {
	var (
		snapshot domain.Position
		had      bool
		gone     bool
	)
	err := s.withLock(ctx, ticker, func() error {
		_, ok, err := s.store.Get(ctx, ticker)
		if errors.Is(err, domain.ErrMalformedRecord) {
			// The key still exists; it expires or is replaced like any other.
			return nil
		}
		if err != nil {
			return fmt.Errorf("position_service: forget %s: %w", ticker, err)
		}
		if ok {
			return nil
		}
		gone = true
		s.registry.RemoveSymbol(ticker)

		s.mu.Lock()
		snapshot, had = s.lastKnown[ticker]
		delete(s.lastKnown, ticker)
		s.mu.Unlock()
		return nil
	})
	if err != nil || !gone {
		return false, err
	}

	s.logger.InfoContext(ctx, "position expired", slog.String("ticker", ticker))
	if had {
		s.archive(ctx, snapshot, domain.ArchiveExpired)
	}
	return true, nil
}

// Ping checks the backing store.
func (s *PositionService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *PositionService) withLock(ctx context.Context, ticker string, fn func() error) error {
	m := s.acquireTicker(ticker)
	m.Lock()
	defer s.releaseTicker(ticker, m)

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "trail:"+ticker, s.lockTTL)
		if err != nil {
			return fmt.Errorf("position_service: lock %s: %w", ticker, err)
		}
		defer unlock()
	}
	return fn()
}

func (s *PositionService) acquireTicker(ticker string) *tickerLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tickerMu[ticker]
	if !ok {
		m = &tickerLock{}
		s.tickerMu[ticker] = m
	}
	m.refs++
	return m
}

func (s *PositionService) releaseTicker(ticker string, m *tickerLock) {
	m.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	m.refs--
	if m.refs == 0 {
		delete(s.tickerMu, ticker)
	}
}

func (s *PositionService) remember(pos domain.Position) {
	s.mu.Lock()
	s.lastKnown[pos.Ticker] = pos
	s.mu.Unlock()
}

func (s *PositionService) forgetSnapshot(ticker string) {
	s.mu.Lock()
	delete(s.lastKnown, ticker)
	s.mu.Unlock()
}

func (s *PositionService) archive(ctx context.Context, pos domain.Position, reason string) {
	if s.archiver == nil {
		return
	}
	if err := s.archiver.ArchivePosition(ctx, pos, reason); err != nil {
		s.logger.WarnContext(ctx, "archive failed",
			slog.String("ticker", pos.Ticker),
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	}
}
