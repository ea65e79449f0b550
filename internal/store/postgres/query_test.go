package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

func TestAppendListOpts(t *testing.T) {
	q, args := appendListOpts("SELECT 1 WHERE 1=1", nil, "created_at", domain.ListOpts{})
	assert.Equal(t, "SELECT 1 WHERE 1=1 ORDER BY created_at DESC", q)
	assert.Empty(t, args)

	since := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	q, args = appendListOpts("SELECT 1 WHERE x = $1", []any{"a"}, "closed_at",
		domain.ListOpts{Since: &since, Limit: 10, Offset: 5})
	assert.Equal(t, "SELECT 1 WHERE x = $1 AND closed_at >= $2 ORDER BY closed_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{"a", since, 10, 5}, args)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/iq?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "iq"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationFiles(t *testing.T) {
	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}

func TestClosedAt(t *testing.T) {
	assert.Nil(t, closedAt(domain.Position{}))
	got := closedAt(domain.Position{CloseAt: 1700000000123})
	require.NotNil(t, got)
	assert.Equal(t, int64(1700000000123), got.UnixMilli())
}
