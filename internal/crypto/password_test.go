package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("s3cret-pass", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "s3cret-pass")

	got, err := DecryptSecret(blob, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "s3cret-pass", got)

	_, err = DecryptSecret(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestEncryptSecret_RejectsEmpty(t *testing.T) {
	_, err := EncryptSecret("x", "")
	assert.Error(t, err)
	_, err = EncryptSecret("", "k")
	assert.Error(t, err)
}

func TestDecryptSecret_BadInput(t *testing.T) {
	_, err := DecryptSecret([]byte(`{"version":2}`), "k")
	assert.ErrorContains(t, err, "unsupported version")
	_, err = DecryptSecret([]byte(`{"version":1,"salt":"!!"}`), "k")
	assert.ErrorContains(t, err, "decoding salt")
	_, err = DecryptSecret([]byte(`nope`), "k")
	assert.Error(t, err)
}

func TestLoadPassword(t *testing.T) {
	got, err := LoadPassword(PasswordSource{Plain: "plain", EncryptedPath: "/nonexistent"})
	require.NoError(t, err)
	assert.Equal(t, "plain", got)

	blob, err := EncryptSecret("from-file", "k")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pw.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadPassword(PasswordSource{EncryptedPath: path, Key: "k"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)

	_, err = LoadPassword(PasswordSource{})
	assert.Error(t, err)
}
