package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// Signal bus channel and stream names.
const (
	ChannelPositions = "positions"
	ChannelTrail     = "trail"
	ChannelTicks     = "ticks"
	ChannelFeed      = "feed"
	StreamTrail      = "stream:trail"
)

// BusMessage is one pub/sub delivery.
type BusMessage struct {
	Channel string
	Payload []byte
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string `json:"id"`
	Payload []byte `json:"payload"`
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe delivers messages from every named channel until ctx ends.
	Subscribe(ctx context.Context, channels ...string) (<-chan BusMessage, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
