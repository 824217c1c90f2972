package feed

import "time"

// Backoff is the reconnect schedule. The delay before attempt n (1-based) is
// min(Base*2^(n-1), Ceiling).
type Backoff struct {
	Base        time.Duration
	Ceiling     time.Duration
	MaxAttempts int // 0 retries forever
}

// DefaultBackoff matches the reconnect schedule used by the feed in production.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Ceiling: 60 * time.Second}
}

// Delay returns the wait before attempt n.
func (b Backoff) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := b.Base
	for i := 1; i < n; i++ {
		if d >= b.Ceiling {
			break
		}
		d *= 2
	}
	if b.Ceiling > 0 && d > b.Ceiling {
		d = b.Ceiling
	}
	return d
}

// Exhausted reports whether failures consecutive failures used up the budget.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}
