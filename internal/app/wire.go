package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/trailrelay/internal/blob/s3"
	"github.com/alanyoungcy/trailrelay/internal/cache/redis"
	"github.com/alanyoungcy/trailrelay/internal/config"
	"github.com/alanyoungcy/trailrelay/internal/dispatch"
	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/alanyoungcy/trailrelay/internal/notify"
	"github.com/alanyoungcy/trailrelay/internal/store/postgres"
	"github.com/alanyoungcy/trailrelay/internal/symbol"
)

// Dependencies bundles the infrastructure the modes build services from. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Redis         *redis.Client
	PositionStore domain.PositionStore
	LockManager   domain.LockManager // nil when trail.lock_enabled is false
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus

	// Optional sinks; nil when their section is disabled.
	AuditStore domain.AuditStore
	Archiver   domain.PositionArchiver

	Notifier   *notify.Notifier
	Translator *symbol.Translator
	Dispatcher *dispatch.Client
}

// Wire constructs the concrete implementations named by cfg and returns them
// together with a cleanup function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		URL:         cfg.Redis.URL,
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		MaxRetries:  cfg.Redis.MaxRetries,
		TLSEnabled:  cfg.Redis.TLSEnabled,
		DialTimeout: cfg.Redis.DialTimeout.Duration,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: redis: %w", err))
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Redis = redisClient
	deps.PositionStore = redis.NewPositionStore(redisClient, cfg.Redis.PositionTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	if cfg.Trail.LockEnabled {
		deps.LockManager = redis.NewLockManager(redisClient, cfg.Trail.LockWait.Duration)
	}

	// --- PostgreSQL audit log (optional) ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
	}

	// --- S3 archive (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		if err := s3Client.CheckBucket(ctx); err != nil {
			logger.WarnContext(ctx, "s3 bucket not reachable, archives will fail until it is",
				slog.String("bucket", cfg.S3.Bucket),
				slog.String("error", err.Error()),
			)
		}
		deps.Archiver = s3blob.NewPositionArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "")
		if err != nil {
			logger.WarnContext(ctx, "telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Symbols and brokerage ---
	translator, err := symbol.NewTranslator(symbol.Options{
		Aliases: cfg.Symbols.Aliases,
		Futures: cfg.Symbols.Futures,
	}, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: symbols: %w", err))
	}
	deps.Translator = translator

	deps.Dispatcher = dispatch.NewClient(dispatch.Config{
		WebhookURL:    cfg.Broker.WebhookURL,
		Timeout:       cfg.Broker.Timeout.Duration,
		SigningSecret: cfg.Broker.SigningSecret,
	}, logger)
	if !deps.Dispatcher.Configured() {
		logger.WarnContext(ctx, "broker.webhook_url is empty; orders will be logged as dispatch failures")
	}

	return deps, cleanup, nil
}
