package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

const contentTypeJSONL = "application/x-ndjson"

// multipartThreshold is the payload size above which uploads go multipart.
const multipartThreshold = 8 * 1024 * 1024

// PositionArchiver uploads batches of closed positions as JSONL objects.
// It does not remove anything from the primary stores.
type PositionArchiver struct {
	writer domain.BlobWriter
	prefix string
	audit  domain.AuditStore
}

// NewPositionArchiver creates an archiver writing under prefix. audit may
// be nil.
func NewPositionArchiver(writer domain.BlobWriter, prefix string, audit domain.AuditStore) *PositionArchiver {
	return &PositionArchiver{writer: writer, prefix: prefix, audit: audit}
}

// Prefix returns the key prefix positions are archived under.
func (a *PositionArchiver) Prefix() string {
	return path.Join(a.prefix, "positions") + "/"
}

// Archive uploads positions to a key derived from at and returns the key.
// An empty batch uploads nothing and returns "".
func (a *PositionArchiver) Archive(ctx context.Context, positions []domain.Position, at time.Time) (string, error) {
	if len(positions) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive positions marshal: %w", err)
	}

	key := PositionArchivePath(a.prefix, at)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive positions upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.positions", map[string]any{
			"path":  key,
			"count": len(positions),
		}); err != nil {
			return key, fmt.Errorf("s3blob: archive positions audit log: %w", err)
		}
	}
	return key, nil
}

// PositionArchivePath returns the object key for a batch archived at t:
//
//	<prefix>/positions/2025/01/31/closed-1738281600.jsonl
func PositionArchivePath(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, "positions", t.Format("2006/01/02"), fmt.Sprintf("closed-%d.jsonl", t.Unix()))
}

// marshalJSONL encodes each record as one compact JSON line.
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
