package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/config"
	"github.com/alanyoungcy/iqsession/internal/crypto"
	"github.com/alanyoungcy/iqsession/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_SessionOnly(t *testing.T) {
	cfg := config.Defaults()
	cfg.Broker.Username = "alice@example.com"
	cfg.Broker.Password = "hunter2"

	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.S3)
	assert.Nil(t, deps.AuditStore)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Mirror)
	assert.Nil(t, deps.Archive)
	require.NotNil(t, deps.Session)
	require.NotNil(t, deps.Trading)
	require.NotNil(t, deps.Journal)

	checks := deps.HealthChecks()
	require.Len(t, checks, 1)
	assert.ErrorIs(t, checks["session"](context.Background()), domain.ErrNotConnected)

	st := deps.Trading.Status()
	assert.Equal(t, "session", st.Mode)
	assert.False(t, st.Connected)
}

func TestWire_EncryptedPassword(t *testing.T) {
	blob, err := crypto.EncryptSecret("hunter2", "master-key")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "password.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	cfg := config.Defaults()
	cfg.Broker.Username = "alice@example.com"
	cfg.Broker.EncryptedPasswordPath = path
	cfg.Broker.PasswordKey = "wrong-key"

	_, _, err = Wire(context.Background(), &cfg, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wire: broker password")

	cfg.Broker.PasswordKey = "master-key"
	deps, cleanup, err := Wire(context.Background(), &cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()
	assert.NotNil(t, deps.Session)
}

func TestInstrumentTypes(t *testing.T) {
	assert.Equal(t,
		[]domain.InstrumentType{domain.InstrumentForex, domain.InstrumentCrypto},
		instrumentTypes([]string{"forex", "crypto"}))
	assert.Empty(t, instrumentTypes(nil))
}
