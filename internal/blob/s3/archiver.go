package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/trailrelay/internal/domain"
)

// Archive reasons, re-exported for callers that only import this package.
const (
	ReasonClosed  = domain.ArchiveClosed
	ReasonExpired = domain.ArchiveExpired
)

// archivedPosition is the object body written for every archived record.
type archivedPosition struct {
	Reason     string          `json:"reason"`
	ArchivedAt time.Time       `json:"archived_at"`
	Position   domain.Position `json:"position"`
}

// PositionArchiver writes records that left the live store to object
// storage under positions/YYYY/MM/DD/{ticker}-{unixnano}.json.
type PositionArchiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time
}

// NewPositionArchiver creates an archiver. An empty prefix selects
// "positions".
func NewPositionArchiver(w domain.BlobWriter, prefix string) *PositionArchiver {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "positions"
	}
	return &PositionArchiver{writer: w, prefix: prefix, now: time.Now}
}

// ArchivePosition serialises pos with the reason it left the live store.
func (a *PositionArchiver) ArchivePosition(ctx context.Context, pos domain.Position, reason string) error {
	now := a.now().UTC()
	body, err := json.Marshal(archivedPosition{Reason: reason, ArchivedAt: now, Position: pos})
	if err != nil {
		return fmt.Errorf("s3blob: marshal archived position %s: %w", pos.Ticker, err)
	}

	path := a.objectPath(pos.Ticker, now)
	if err := a.writer.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive position %s: %w", pos.Ticker, err)
	}
	return nil
}

func (a *PositionArchiver) objectPath(ticker string, at time.Time) string {
	safe := strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(ticker)
	return fmt.Sprintf("%s/%s/%s-%d.json", a.prefix, at.Format("2006/01/02"), safe, at.UnixNano())
}

var _ domain.PositionArchiver = (*PositionArchiver)(nil)
