package service

import (
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
)

// Dedup suppresses alerts repeated within a time-to-live window. It is safe
// for concurrent use.
type Dedup struct {
	seen map[string]time.Time // alert key -> last seen time
	ttl  time.Duration
	mu   sync.Mutex
	now  func() time.Time
}

// NewDedup creates a Dedup that treats an alert seen within ttl as a
// duplicate.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// IsDuplicate reports whether key was seen within the window. A key that is
// new or expired is recorded and false is returned.
func (d *Dedup) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if lastSeen, ok := d.seen[key]; ok && now.Sub(lastSeen) < d.ttl {
		return true
	}
	d.seen[key] = now
	if len(d.seen) > 1024 {
		d.cleanupLocked(now)
	}
	return false
}

// Forget drops key so it is accepted again.
func (d *Dedup) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

// Cleanup removes expired entries.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanupLocked(d.now())
}

func (d *Dedup) cleanupLocked(now time.Time) {
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// signalKey identifies an alert by everything that affects its outcome.
func signalKey(sig domain.Signal) string {
	parts := []string{sig.StrategyID, string(sig.Action), sig.Ticker}
	for _, v := range []interface{ String() string }{
		sig.Quantity.Decimal, sig.Price.Decimal,
		sig.AutoTrail.ArmAfterProfit.Decimal, sig.AutoTrail.TrailStep.Decimal, sig.AutoTrail.HardStop.Decimal,
	} {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, "|")
}
