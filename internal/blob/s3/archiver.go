package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/concordmarkets/concord/internal/domain"
)

// archiveBatchSize bounds how many events one ArchiveEvents call moves. Runs
// repeat on a schedule, so a backlog drains over successive runs instead of
// producing one unbounded query.
const archiveBatchSize = 50_000

// ArchiveImpl implements domain.Archiver by querying the audit store for
// aged events, serializing them to JSONL, uploading the result to S3, and
// then deleting the archived rows. Deletion only happens after the upload
// succeeded; a failed upload leaves the primary store untouched.
type ArchiveImpl struct {
	writer domain.BlobWriter
	audit  domain.AuditStore
}

// NewArchiver creates an ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		audit:  audit,
	}
}

// ArchiveEvents uploads every audit event older than before to
// archive/audit/YYYY-MM.jsonl and deletes the archived rows. It returns the
// number of events moved.
func (a *ArchiveImpl) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.audit.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path := archivePath("audit", before)
	if int64(len(buf)) > minPartSize {
		if mpw, ok := a.writer.(*Writer); ok {
			err = mpw.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	// The upload is durable; drop the archived window. The cutoff is the
	// last archived event's timestamp, not before, in case the batch limit
	// truncated the window.
	cutoff := events[len(events)-1].At.Add(time.Nanosecond)
	deleted, err := a.audit.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: purge archived events: %w", err)
	}

	return deleted, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/audit/2026-08.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
