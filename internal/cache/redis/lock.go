package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes the lock only when it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

const lockRetryInterval = 25 * time.Millisecond

// LockManager implements domain.LockManager using SET NX with a TTL and a
// token-checked unlock.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	// wait bounds how long Acquire polls a held lock before giving up.
	wait time.Duration
}

// NewLockManager creates a LockManager. With wait > 0 Acquire retries a held
// lock until wait elapses; with wait == 0 it fails immediately.
func NewLockManager(c *Client, wait time.Duration) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		wait:     wait,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire obtains the lock for key. The returned unlock func may be called
// more than once. A lock still held after the wait budget yields
// domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lockKey(key)
	deadline := time.Now().Add(lm.wait)

	for {
		ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: acquire lock %s: %w: %w", key, domain.ErrStorageUnavailable, err)
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// the caller's context may already be cancelled
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

var _ domain.LockManager = (*LockManager)(nil)
