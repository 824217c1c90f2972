package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

// streamMaxLen caps streams via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus with Pub/Sub for fan-out to live
// observers and Streams for the replayable trail history.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens one subscription covering all channels. Glob patterns are
// subscribed with PSUBSCRIBE. The returned channel closes when ctx ends.
func (sb *SignalBus) Subscribe(ctx context.Context, channels ...string) (<-chan domain.BusMessage, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("redis: subscribe: no channels")
	}

	var plain, patterns []string
	for _, ch := range channels {
		if hasPattern(ch) {
			patterns = append(patterns, ch)
		} else {
			plain = append(plain, ch)
		}
	}

	pubsub := sb.rdb.Subscribe(ctx)
	if len(plain) > 0 {
		if err := pubsub.Subscribe(ctx, plain...); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("redis: subscribe %s: %w", strings.Join(plain, ","), err)
		}
	}
	if len(patterns) > 0 {
		if err := pubsub.PSubscribe(ctx, patterns...); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("redis: psubscribe %s: %w", strings.Join(patterns, ","), err)
		}
	}

	// wait for the server to confirm before handing out the channel
	for range channels {
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return nil, fmt.Errorf("redis: subscribe confirm: %w", err)
		}
	}

	out := make(chan domain.BusMessage, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- domain.BusMessage{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a stream, trimming it to roughly
// streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}
	if err := sb.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start). It does not block and returns an empty slice when nothing is new.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}

	// Block < 0 omits BLOCK; zero would wait forever.
	results, err := sb.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var entries []redis.XMessage
	for _, s := range results {
		entries = append(entries, s.Messages...)
	}

	messages := make([]domain.StreamMessage, 0, len(entries))
	for _, msg := range entries {
		var data []byte
		switch v := msg.Values["payload"].(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}
		messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return messages, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
