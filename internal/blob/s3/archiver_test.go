package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

type memWriter struct {
	objects   map[string][]byte
	multipart int
	err       error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	w.multipart++
	return w.Put(ctx, path, data, "")
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func TestPositionArchivePath(t *testing.T) {
	at := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/positions/2025/01/31/closed-1738281600.jsonl", PositionArchivePath("archive", at))
	assert.Equal(t, "positions/2025/01/31/closed-1738281600.jsonl", PositionArchivePath("", at))
}

func TestPositionArchiver_Archive(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	audit := &memAudit{}
	a := NewPositionArchiver(w, "archive", audit)
	at := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)

	key, err := a.Archive(context.Background(), []domain.Position{
		{ID: 1, Status: domain.PositionStatusClosed},
		{ID: 2, Status: domain.PositionStatusClosed},
	}, at)
	require.NoError(t, err)
	assert.Equal(t, PositionArchivePath("archive", at), key)
	assert.Equal(t, []string{"archive.positions"}, audit.events)
	assert.Zero(t, w.multipart)

	lines := strings.Split(strings.TrimSpace(string(w.objects[key])), "\n")
	require.Len(t, lines, 2)
	var p domain.Position
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(lines[1]))).Decode(&p))
	assert.Equal(t, int64(2), p.ID)
}

func TestPositionArchiver_EmptyAndErrors(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	a := NewPositionArchiver(w, "archive", nil)

	key, err := a.Archive(context.Background(), nil, time.Now())
	require.NoError(t, err)
	assert.Empty(t, key)
	assert.Empty(t, w.objects)

	w.err = errors.New("boom")
	_, err = a.Archive(context.Background(), []domain.Position{{ID: 1}}, time.Now())
	assert.ErrorContains(t, err, "upload")
	assert.Equal(t, "archive/positions/", a.Prefix())
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://minio.local", normaliseEndpoint("minio.local", false))
}
