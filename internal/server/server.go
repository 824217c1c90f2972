// Package server exposes the relay over HTTP: the alert webhook, price
// injection, monitoring and the observer websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/server/handler"
	"github.com/alanyoungcy/trailrelay/internal/server/middleware"
	"github.com/alanyoungcy/trailrelay/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey protects /monitor/* and /price-update. Empty disables auth.
	APIKey          string
	EntryRateLimit  int
	EntryRateWindow time.Duration
}

// Handlers aggregates the endpoint handlers.
type Handlers struct {
	Health  *handler.HealthHandler
	Webhook *handler.WebhookHandler
	Price   *handler.PriceHandler
	Monitor *handler.MonitorHandler
}

// Server is the relay HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging and CORS.
// limiter and hub may be nil.
func NewServer(cfg Config, h Handlers, limiter domain.RateLimiter, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, limiter, hub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler tree.
func Routes(cfg Config, h Handlers, limiter domain.RateLimiter, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)
	entryLimit := middleware.RateLimit(limiter, "entry", cfg.EntryRateLimit, cfg.EntryRateWindow, logger)

	mux.HandleFunc("GET /{$}", h.Health.Root)
	mux.HandleFunc("GET /ping", h.Health.Ping)
	mux.HandleFunc("GET /health", h.Health.Health)

	mux.Handle("POST /pine-entry", entryLimit(http.HandlerFunc(h.Webhook.PineEntry)))

	mux.Handle("GET /price-update", auth(http.HandlerFunc(h.Price.Update)))
	mux.HandleFunc("GET /price-history/{symbol}", h.Price.History)

	mux.Handle("GET /monitor/status", auth(http.HandlerFunc(h.Monitor.Status)))
	mux.Handle("GET /monitor/symbols", auth(http.HandlerFunc(h.Monitor.Symbols)))
	mux.Handle("GET /monitor/positions", auth(http.HandlerFunc(h.Monitor.Positions)))
	mux.Handle("GET /monitor/events", auth(http.HandlerFunc(h.Monitor.Events)))
	mux.Handle("GET /monitor/audit", auth(http.HandlerFunc(h.Monitor.Audit)))

	if hub != nil {
		mux.Handle("GET /ws", auth(http.HandlerFunc(hub.HandleWS)))
	}

	var handler http.Handler = mux
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)
	return handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
