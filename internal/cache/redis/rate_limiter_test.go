package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "pine-entry:10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
		now = now.Add(time.Second)
	}

	ok, err := rl.Allow(ctx, "pine-entry:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "pine-entry:10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, err = rl.Allow(ctx, "pine-entry:10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
