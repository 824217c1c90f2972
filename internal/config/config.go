// Package config defines the relay configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by TRAILRELAY_* environment variables.
type Config struct {
	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Feed     FeedConfig     `toml:"feed"`
	Trail    TrailConfig    `toml:"trail"`
	Symbols  SymbolsConfig  `toml:"symbols"`
	Broker   BrokerConfig   `toml:"broker"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// RedisConfig holds Redis connection parameters. URL, when set, takes
// precedence over the discrete fields.
type RedisConfig struct {
	URL         string   `toml:"url"`
	Addr        string   `toml:"addr"`
	Password    string   `toml:"password"`
	DB          int      `toml:"db"`
	PoolSize    int      `toml:"pool_size"`
	MaxRetries  int      `toml:"max_retries"`
	TLSEnabled  bool     `toml:"tls_enabled"`
	DialTimeout duration `toml:"dial_timeout"`
	PositionTTL duration `toml:"position_ttl"`
}

// PostgresConfig holds the optional audit database parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds the optional archive bucket parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the market data websocket parameters.
type FeedConfig struct {
	URL                  string   `toml:"url"`
	APIKey               string   `toml:"api_key"`
	ReconnectBase        duration `toml:"reconnect_base"`
	ReconnectCeiling     duration `toml:"reconnect_ceiling"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	HistorySize          int      `toml:"history_size"`
	HandshakeTimeout     duration `toml:"handshake_timeout"`
	PongWait             duration `toml:"pong_wait"`
	// IngestChannel is a Redis channel external publishers can push ticks to.
	// Empty disables it.
	IngestChannel string `toml:"ingest_channel"`
}

// TrailConfig holds auto-trail parameters.
type TrailConfig struct {
	Policy            string   `toml:"policy"`
	DefaultPointValue float64  `toml:"default_point_value"`
	LockEnabled       bool     `toml:"lock_enabled"`
	LockTTL           duration `toml:"lock_ttl"`
	LockWait          duration `toml:"lock_wait"`
	ReconcileInterval duration `toml:"reconcile_interval"`
}

// PointValue returns DefaultPointValue as a decimal.
func (t TrailConfig) PointValue() decimal.Decimal {
	return decimal.NewFromFloat(t.DefaultPointValue)
}

// SymbolsConfig controls ticker <-> feed symbol translation.
type SymbolsConfig struct {
	Futures bool              `toml:"futures"`
	Aliases map[string]string `toml:"aliases"`
}

// BrokerConfig holds the brokerage webhook parameters.
type BrokerConfig struct {
	WebhookURL    string   `toml:"webhook_url"`
	Timeout       duration `toml:"timeout"`
	Strategies    []string `toml:"strategies"`
	ShutdownGrace duration `toml:"shutdown_grace"`
	// SigningSecret adds HMAC signature headers to webhook requests.
	SigningSecret string `toml:"signing_secret"`
	// DedupWindow drops identical alerts repeated within the window. Zero
	// disables it.
	DedupWindow duration `toml:"dedup_window"`
}

// duration wraps time.Duration for TOML string decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects /monitor/* and /price-update when set.
	APIKey          string   `toml:"api_key"`
	EntryRateLimit  int      `toml:"entry_rate_limit"`
	EntryRateWindow duration `toml:"entry_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Mode names.
const (
	ModeFull    = "full"
	ModeMonitor = "monitor"
	ModeServer  = "server"
)

// Defaults returns a Config populated with the values in config.example.toml.
func Defaults() Config {
	return Config{
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			DialTimeout: duration{5 * time.Second},
			PositionTTL: duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "trailrelay",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			RunMigrations: true,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "trailrelay-archive",
			Prefix:         "positions",
			ForcePathStyle: true,
		},
		Feed: FeedConfig{
			URL:              "wss://socket.polygon.io/stocks",
			ReconnectBase:    duration{2 * time.Second},
			ReconnectCeiling: duration{60 * time.Second},
			HistorySize:      10,
			HandshakeTimeout: duration{15 * time.Second},
			PongWait:         duration{60 * time.Second},
		},
		Trail: TrailConfig{
			Policy:            "whole_step",
			DefaultPointValue: 5.0,
			LockEnabled:       true,
			LockTTL:           duration{10 * time.Second},
			LockWait:          duration{2 * time.Second},
			ReconcileInterval: duration{time.Minute},
		},
		Symbols: SymbolsConfig{
			Futures: true,
			Aliases: map[string]string{},
		},
		Broker: BrokerConfig{
			Timeout:       duration{10 * time.Second},
			Strategies:    []string{"Tiger-Alt"},
			ShutdownGrace: duration{5 * time.Second},
		},
		Server: ServerConfig{
			Port:            8000,
			CORSOrigins:     []string{"*"},
			EntryRateLimit:  60,
			EntryRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"position_opened", "position_closed", "feed_exhausted", "dispatch_failed"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	ModeFull:    true,
	ModeMonitor: true,
	ModeServer:  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validPolicies = map[string]bool{
	"whole_step":  true,
	"step_behind": true,
}

// Streams reports whether the mode runs the market data feed.
func (c *Config) Streams() bool {
	return c.Mode == ModeFull || c.Mode == ModeMonitor
}

// ServesHTTP reports whether the mode runs the HTTP server.
func (c *Config) ServesHTTP() bool {
	return c.Mode == ModeFull || c.Mode == ModeServer
}

// Validate returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Redis
	if c.Redis.URL == "" && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr or url must be set")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.PositionTTL.Duration <= 0 {
		errs = append(errs, "redis: position_ttl must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	// Feed
	if c.Streams() {
		if c.Feed.URL == "" {
			errs = append(errs, "feed: url must not be empty for mode "+c.Mode)
		}
		if c.Feed.APIKey == "" {
			errs = append(errs, "feed: api_key is required for mode "+c.Mode)
		}
	}
	if c.Feed.ReconnectBase.Duration <= 0 {
		errs = append(errs, "feed: reconnect_base must be > 0")
	}
	if c.Feed.ReconnectCeiling.Duration < c.Feed.ReconnectBase.Duration {
		errs = append(errs, "feed: reconnect_ceiling must be >= reconnect_base")
	}
	if c.Feed.MaxReconnectAttempts < 0 {
		errs = append(errs, "feed: max_reconnect_attempts must be >= 0 (0 retries forever)")
	}

	// Trail
	if !validPolicies[strings.ToLower(strings.TrimSpace(c.Trail.Policy))] {
		errs = append(errs, fmt.Sprintf("trail: unknown policy %q (valid: whole_step, step_behind)", c.Trail.Policy))
	}
	if c.Trail.DefaultPointValue <= 0 {
		errs = append(errs, "trail: default_point_value must be > 0")
	}
	if c.Trail.LockEnabled && c.Trail.LockTTL.Duration <= 0 {
		errs = append(errs, "trail: lock_ttl must be > 0 when lock_enabled")
	}
	if c.Trail.ReconcileInterval.Duration <= 0 {
		errs = append(errs, "trail: reconcile_interval must be > 0")
	}

	// Symbols
	seen := make(map[string]string, len(c.Symbols.Aliases))
	for ticker, feed := range c.Symbols.Aliases {
		if prev, dup := seen[feed]; dup {
			errs = append(errs, fmt.Sprintf("symbols: feed symbol %q aliased by both %q and %q", feed, prev, ticker))
		}
		seen[feed] = ticker
	}

	// Broker
	if len(c.Broker.Strategies) == 0 {
		errs = append(errs, "broker: strategies must list at least one strategy_id")
	}
	if c.Broker.DedupWindow.Duration < 0 {
		errs = append(errs, "broker: dedup_window must not be negative")
	}
	if c.Broker.Timeout.Duration <= 0 {
		errs = append(errs, "broker: timeout must be > 0")
	}

	// Server
	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.EntryRateLimit < 0 {
			errs = append(errs, "server: entry_rate_limit must be >= 0 (0 disables)")
		}
	}

	// Notify
	if c.Notify.TelegramToken != "" && c.Notify.TelegramChatID == 0 {
		errs = append(errs, "notify: telegram_chat_id is required with telegram_token")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
