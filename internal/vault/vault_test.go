package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir())
	require.NoError(t, err)
	return v
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)
	handle, err := v.ProvisionKey()
	require.NoError(t, err)

	plaintext := []byte("a photograph of a smiling person")
	dest := filepath.Join(v.SessionDir("s1"), "photo_0.enc")
	require.NoError(t, v.EncryptToFile(plaintext, handle, dest))

	got, err := v.DecryptFile(dest, handle)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestCiphertextDoesNotContainPlaintext(t *testing.T) {
	v := newTestVault(t)
	handle, err := v.ProvisionKey()
	require.NoError(t, err)

	plaintext := []byte("dear diary, today was wonderful and I told nobody about it")
	dest := filepath.Join(v.SessionDir("s1"), "text.enc")
	require.NoError(t, v.EncryptToFile(plaintext, handle, dest))

	raw, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "wonderful")
	assert.False(t, bytes.Contains(raw, plaintext))
}

func TestDistinctKeysProduceUndecryptableCiphertext(t *testing.T) {
	v := newTestVault(t)
	h1, err := v.ProvisionKey()
	require.NoError(t, err)
	h2, err := v.ProvisionKey()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	dest := filepath.Join(v.SessionDir("s1"), "audio.enc")
	require.NoError(t, v.EncryptToFile([]byte("voice sample"), h1, dest))

	_, err = v.DecryptFile(dest, h2)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDestroyKeyMakesArtifactsUnrecoverable(t *testing.T) {
	v := newTestVault(t)
	handle, err := v.ProvisionKey()
	require.NoError(t, err)

	dest := filepath.Join(v.SessionDir("s1"), "photo_0.enc")
	require.NoError(t, v.EncryptToFile([]byte("portrait"), handle, dest))

	require.NoError(t, v.DestroyKey(handle))
	_, err = v.DecryptFile(dest, handle)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// idempotent
	assert.NoError(t, v.DestroyKey(handle))
}

func TestKeyFilePermissions(t *testing.T) {
	v := newTestVault(t)
	handle, err := v.ProvisionKey()
	require.NoError(t, err)

	info, err := os.Stat(v.keyPath(handle))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	v := newTestVault(t)
	handle, err := v.ProvisionKey()
	require.NoError(t, err)

	dest := filepath.Join(v.SessionDir("s1"), "short.enc")
	require.NoError(t, os.MkdirAll(filepath.Dir(dest), 0o700))
	require.NoError(t, os.WriteFile(dest, []byte{1, 2, 3}, 0o600))

	_, err = v.DecryptFile(dest, handle)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}
