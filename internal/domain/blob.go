package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged audit events to cold storage. ArchiveEvents uploads
// every event older than before and, once the upload succeeded, deletes
// them from the primary store. It returns how many events were moved.
type Archiver interface {
	ArchiveEvents(ctx context.Context, before time.Time) (int64, error)
}
