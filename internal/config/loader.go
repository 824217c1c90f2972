package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults, then applies environment
// overrides. An empty path skips the file. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields from TRAILRELAY_* variables that are set.
// REDIS_URL, TP_ALT_URL and PORT are honoured for older deployments.
func applyEnvOverrides(cfg *Config) {
	// ── Redis ──
	setStr(&cfg.Redis.URL, "REDIS_URL")
	setStr(&cfg.Redis.URL, "TRAILRELAY_REDIS_URL")
	setStr(&cfg.Redis.Addr, "TRAILRELAY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRAILRELAY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRAILRELAY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRAILRELAY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRAILRELAY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRAILRELAY_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.DialTimeout, "TRAILRELAY_REDIS_DIAL_TIMEOUT")
	setDuration(&cfg.Redis.PositionTTL, "TRAILRELAY_REDIS_POSITION_TTL")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TRAILRELAY_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TRAILRELAY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRAILRELAY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRAILRELAY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRAILRELAY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRAILRELAY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRAILRELAY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRAILRELAY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRAILRELAY_POSTGRES_POOL_MAX_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRAILRELAY_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TRAILRELAY_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TRAILRELAY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRAILRELAY_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRAILRELAY_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "TRAILRELAY_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "TRAILRELAY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRAILRELAY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRAILRELAY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRAILRELAY_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.URL, "TRAILRELAY_FEED_URL")
	setStr(&cfg.Feed.APIKey, "TRAILRELAY_FEED_API_KEY")
	setDuration(&cfg.Feed.ReconnectBase, "TRAILRELAY_FEED_RECONNECT_BASE")
	setDuration(&cfg.Feed.ReconnectCeiling, "TRAILRELAY_FEED_RECONNECT_CEILING")
	setInt(&cfg.Feed.MaxReconnectAttempts, "TRAILRELAY_FEED_MAX_RECONNECT_ATTEMPTS")
	setInt(&cfg.Feed.HistorySize, "TRAILRELAY_FEED_HISTORY_SIZE")
	setDuration(&cfg.Feed.HandshakeTimeout, "TRAILRELAY_FEED_HANDSHAKE_TIMEOUT")
	setDuration(&cfg.Feed.PongWait, "TRAILRELAY_FEED_PONG_WAIT")
	setStr(&cfg.Feed.IngestChannel, "TRAILRELAY_FEED_INGEST_CHANNEL")

	// ── Trail ──
	setStr(&cfg.Trail.Policy, "TRAILRELAY_TRAIL_POLICY")
	setFloat64(&cfg.Trail.DefaultPointValue, "TRAILRELAY_TRAIL_DEFAULT_POINT_VALUE")
	setBool(&cfg.Trail.LockEnabled, "TRAILRELAY_TRAIL_LOCK_ENABLED")
	setDuration(&cfg.Trail.LockTTL, "TRAILRELAY_TRAIL_LOCK_TTL")
	setDuration(&cfg.Trail.LockWait, "TRAILRELAY_TRAIL_LOCK_WAIT")
	setDuration(&cfg.Trail.ReconcileInterval, "TRAILRELAY_TRAIL_RECONCILE_INTERVAL")

	// ── Symbols ──
	setBool(&cfg.Symbols.Futures, "TRAILRELAY_SYMBOLS_FUTURES")
	setAliases(&cfg.Symbols.Aliases, "TRAILRELAY_SYMBOLS_ALIASES")

	// ── Broker ──
	setStr(&cfg.Broker.WebhookURL, "TP_ALT_URL")
	setStr(&cfg.Broker.WebhookURL, "TRAILRELAY_BROKER_WEBHOOK_URL")
	setDuration(&cfg.Broker.Timeout, "TRAILRELAY_BROKER_TIMEOUT")
	setStringSlice(&cfg.Broker.Strategies, "TRAILRELAY_BROKER_STRATEGIES")
	setDuration(&cfg.Broker.ShutdownGrace, "TRAILRELAY_BROKER_SHUTDOWN_GRACE")
	setStr(&cfg.Broker.SigningSecret, "TRAILRELAY_BROKER_SIGNING_SECRET")
	setDuration(&cfg.Broker.DedupWindow, "TRAILRELAY_BROKER_DEDUP_WINDOW")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "TRAILRELAY_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRAILRELAY_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRAILRELAY_SERVER_API_KEY")
	setInt(&cfg.Server.EntryRateLimit, "TRAILRELAY_SERVER_ENTRY_RATE_LIMIT")
	setDuration(&cfg.Server.EntryRateWindow, "TRAILRELAY_SERVER_ENTRY_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRAILRELAY_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "TRAILRELAY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRAILRELAY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRAILRELAY_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRAILRELAY_MODE")
	setStr(&cfg.LogLevel, "TRAILRELAY_LOG_LEVEL")
}

// Each helper mutates the target only when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setAliases parses "MNQ=MNQ1!,ES=ES1!" into a ticker -> feed symbol map.
func setAliases(dst *map[string]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]string)
	for _, pair := range splitList(v) {
		ticker, sym, ok := strings.Cut(pair, "=")
		ticker, sym = strings.TrimSpace(ticker), strings.TrimSpace(sym)
		if !ok || ticker == "" || sym == "" {
			continue
		}
		out[ticker] = sym
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
