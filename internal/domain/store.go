package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Ticker string
}

// PositionStore persists one auto-trail record per ticker with a rolling TTL.
type PositionStore interface {
	Save(ctx context.Context, pos Position) error
	// Get returns false when no live record exists for the ticker.
	Get(ctx context.Context, ticker string) (Position, bool, error)
	Delete(ctx context.Context, ticker string) error
	ListActiveTickers(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// Audit event names.
const (
	AuditPositionOpened = "position_opened"
	AuditPositionClosed = "position_closed"
	AuditTrailUpdated   = "trail_updated"
	AuditDispatchFailed = "dispatch_failed"
)

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
