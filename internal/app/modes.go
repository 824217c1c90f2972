package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/feed"
	"github.com/alanyoungcy/trailrelay/internal/server"
	"github.com/alanyoungcy/trailrelay/internal/server/handler"
	"github.com/alanyoungcy/trailrelay/internal/server/ws"
	"github.com/alanyoungcy/trailrelay/internal/service"
	"github.com/alanyoungcy/trailrelay/internal/trail"
)

// components are the services shared by every mode.
type components struct {
	adapter   *feed.Adapter
	positions *service.PositionService
	trail     *service.TrailService
	signals   *service.SignalService
}

func (a *App) buildComponents(deps *Dependencies) (*components, error) {
	policy, err := trail.ParsePolicy(a.cfg.Trail.Policy)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	adapter := feed.NewAdapter(feed.Config{
		URL:    a.cfg.Feed.URL,
		APIKey: a.cfg.Feed.APIKey,
		Backoff: feed.Backoff{
			Base:        a.cfg.Feed.ReconnectBase.Duration,
			Ceiling:     a.cfg.Feed.ReconnectCeiling.Duration,
			MaxAttempts: a.cfg.Feed.MaxReconnectAttempts,
		},
		HistorySize:      a.cfg.Feed.HistorySize,
		HandshakeTimeout: a.cfg.Feed.HandshakeTimeout.Duration,
		PongWait:         a.cfg.Feed.PongWait.Duration,
	}, deps.Translator, a.logger)

	events := service.NewEvents(deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger)
	positions := service.NewPositionService(deps.PositionStore, adapter, service.PositionOptions{
		Locks:    deps.LockManager,
		LockTTL:  a.cfg.Trail.LockTTL.Duration,
		Archiver: deps.Archiver,
	}, a.logger)

	defaultStrategy := ""
	if len(a.cfg.Broker.Strategies) > 0 {
		defaultStrategy = a.cfg.Broker.Strategies[0]
	}
	trailSvc := service.NewTrailService(positions, trail.NewEngine(policy), deps.Dispatcher, events, defaultStrategy, a.logger)
	signals := service.NewSignalService(positions, deps.Dispatcher, events, a.cfg.Broker.Strategies, a.cfg.Trail.PointValue(), a.logger)
	if w := a.cfg.Broker.DedupWindow.Duration; w > 0 {
		signals.SetDedup(service.NewDedup(w))
	}

	adapter.SetHandler(trailSvc)
	adapter.SetObserver(service.NewFeedObserver(events, a.logger))

	return &components{
		adapter:   adapter,
		positions: positions,
		trail:     trailSvc,
		signals:   signals,
	}, nil
}

// runMode starts the goroutines of the configured mode under one errgroup.
// full runs everything, monitor omits HTTP, server omits the upstream feed.
func (a *App) runMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildComponents(deps)
	if err != nil {
		return err
	}

	// Live records from a previous run are re-registered before ticks flow.
	if n, err := c.positions.Rebuild(ctx); err != nil {
		a.logger.WarnContext(ctx, "rebuild of monitored set failed", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "monitored set rebuilt", slog.Int("positions", n))
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Streams() {
		g.Go(func() error {
			defer c.adapter.Close()
			err := c.adapter.Run(ctx)
			if errors.Is(err, domain.ErrFeedExhausted) {
				// Ingest and injection keep working without the feed.
				a.logger.ErrorContext(ctx, "market data feed gave up", slog.String("error", err.Error()))
				return nil
			}
			return quiet(err)
		})
	}

	if iv := a.cfg.Trail.ReconcileInterval.Duration; iv > 0 {
		g.Go(func() error {
			return quiet(c.positions.RunReconciler(ctx, iv))
		})
	}

	if ch := a.cfg.Feed.IngestChannel; ch != "" {
		feeder := feed.NewBusFeeder(deps.SignalBus, ch, c.adapter, a.logger)
		g.Go(func() error {
			return quiet(feeder.Run(ctx))
		})
	}

	if a.cfg.ServesHTTP() {
		a.startHTTP(ctx, g, deps, c)
	}

	err = g.Wait()

	grace := a.cfg.Broker.ShutdownGrace.Duration
	if !c.trail.Drain(grace) {
		a.logger.Warn("shutdown grace elapsed with stop orders in flight", slog.Duration("grace", grace))
	}
	return err
}

// startHTTP runs the observer hub and the HTTP server, shutting the server
// down when ctx ends.
func (a *App) startHTTP(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *components) {
	hub := ws.NewHub(deps.SignalBus, ws.DefaultChannels, func() any { return c.adapter.Status() }, a.logger)
	g.Go(func() error {
		return quiet(hub.Run(ctx))
	})

	h := server.Handlers{
		Health:  handler.NewHealthHandler(c.positions, c.adapter, a.cfg.Mode, a.version, a.logger),
		Webhook: handler.NewWebhookHandler(c.signals, a.logger),
		Price:   handler.NewPriceHandler(c.adapter, c.adapter, a.logger),
		Monitor: handler.NewMonitorHandler(c.adapter, c.positions, deps.SignalBus, deps.AuditStore, a.logger),
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		EntryRateLimit:  a.cfg.Server.EntryRateLimit,
		EntryRateWindow: a.cfg.Server.EntryRateWindow.Duration,
	}, h, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// quiet drops the cancellation error every loop returns on shutdown.
func quiet(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
