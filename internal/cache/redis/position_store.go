package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	positionKeyPrefix = "position:"
	// DefaultPositionTTL is the rolling expiry applied on every write.
	DefaultPositionTTL = 24 * time.Hour
	scanBatch          = 100
)

// PositionStore implements domain.PositionStore. Each ticker has one JSON
// record under position:{ticker} whose TTL restarts on every save.
type PositionStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPositionStore creates a PositionStore. ttl <= 0 selects
// DefaultPositionTTL.
func NewPositionStore(c *Client, ttl time.Duration) *PositionStore {
	if ttl <= 0 {
		ttl = DefaultPositionTTL
	}
	return &PositionStore{rdb: c.Underlying(), ttl: ttl}
}

func positionKey(ticker string) string {
	return positionKeyPrefix + ticker
}

// Save writes the record and resets its TTL.
func (s *PositionStore) Save(ctx context.Context, pos domain.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("redis: marshal position %s: %w", pos.Ticker, err)
	}
	if err := s.rdb.Set(ctx, positionKey(pos.Ticker), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis: save position %s: %w: %w", pos.Ticker, domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Get loads the record for ticker. A missing or expired key yields false. A
// value that does not decode into a valid record is reported as
// domain.ErrMalformedRecord.
func (s *PositionStore) Get(ctx context.Context, ticker string) (domain.Position, bool, error) {
	data, err := s.rdb.Get(ctx, positionKey(ticker)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Position{}, false, nil
		}
		return domain.Position{}, false, fmt.Errorf("redis: get position %s: %w: %w", ticker, domain.ErrStorageUnavailable, err)
	}

	var pos domain.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return domain.Position{}, false, fmt.Errorf("redis: decode position %s: %w: %w", ticker, domain.ErrMalformedRecord, err)
	}
	if err := pos.Validate(); err != nil {
		return domain.Position{}, false, fmt.Errorf("redis: position %s: %w: %w", ticker, domain.ErrMalformedRecord, err)
	}
	return pos, true, nil
}

// Delete removes the record. Deleting a missing key is not an error.
func (s *PositionStore) Delete(ctx context.Context, ticker string) error {
	if err := s.rdb.Del(ctx, positionKey(ticker)).Err(); err != nil {
		return fmt.Errorf("redis: delete position %s: %w: %w", ticker, domain.ErrStorageUnavailable, err)
	}
	return nil
}

// ListActiveTickers scans for live keys and returns their tickers, sorted.
func (s *PositionStore) ListActiveTickers(ctx context.Context) ([]string, error) {
	var (
		cursor  uint64
		tickers []string
	)
	seen := make(map[string]struct{})
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, positionKeyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan positions: %w: %w", domain.ErrStorageUnavailable, err)
		}
		for _, k := range keys {
			t := strings.TrimPrefix(k, positionKeyPrefix)
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tickers = append(tickers, t)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(tickers)
	return tickers, nil
}

// Ping reports whether the backing server is reachable.
func (s *PositionStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
