package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// PositionArchiver keeps a cold copy of records that left the live store.
type PositionArchiver interface {
	ArchivePosition(ctx context.Context, pos Position, reason string) error
}

// Reasons a record is archived.
const (
	ArchiveClosed  = "closed"
	ArchiveExpired = "expired"
)
