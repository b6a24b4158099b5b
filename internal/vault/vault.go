package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var (
	ErrKeyNotFound       = errors.New("encryption key not found")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Vault owns per-session symmetric keys and the encrypt/decrypt of uploaded
// artifacts. Keys live under <root>/keys with mode 0600, referenced only by
// an opaque handle. Plaintext exists in memory only: EncryptToFile writes
// ciphertext straight to disk and DecryptFile returns bytes, never a file.
type Vault struct {
	root string
}

// New creates a Vault rooted at dir, ensuring the key store exists.
func New(dir string) (*Vault, error) {
	keyDir := filepath.Join(dir, "keys")
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return nil, fmt.Errorf("create key store: %w", err)
	}
	return &Vault{root: dir}, nil
}

// ProvisionKey generates a fresh 256-bit key and returns its opaque handle.
func (v *Vault) ProvisionKey() (string, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	handle := uuid.NewString()
	if err := os.WriteFile(v.keyPath(handle), key, 0o600); err != nil {
		return "", fmt.Errorf("persist key: %w", err)
	}
	return handle, nil
}

// EncryptToFile seals plaintext under the handle's key and writes
// nonce||ciphertext to destPath with mode 0600. A partial file left by a
// failed write is removed so no half-written artifact survives.
func (v *Vault) EncryptToFile(plaintext []byte, handle, destPath string) error {
	aead, err := v.aead(handle)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(destPath, sealed, 0o600); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("write ciphertext: %w", err)
	}
	return nil
}

// DecryptFile opens the ciphertext at path and returns the plaintext bytes.
// Callers must not write the result back to disk.
func (v *Vault) DecryptFile(path, handle string) ([]byte, error) {
	aead, err := v.aead(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ciphertext: %w", err)
	}
	ns := aead.NonceSize()
	if len(data) < ns {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// DestroyKey overwrites and removes the key material for the handle. After
// this returns nil, every artifact encrypted under the handle is
// unrecoverable. Destroying an already-destroyed key is a no-op.
func (v *Vault) DestroyKey(handle string) error {
	path := v.keyPath(handle)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat key: %w", err)
	}
	// Best-effort scrub before unlink.
	if zeros := make([]byte, info.Size()); len(zeros) > 0 {
		_ = os.WriteFile(path, zeros, 0o600)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove key: %w", err)
	}
	return nil
}

// SessionDir returns the directory holding a session's ciphertext artifacts.
func (v *Vault) SessionDir(sessionID string) string {
	return filepath.Join(v.root, sessionID)
}

func (v *Vault) keyPath(handle string) string {
	return filepath.Join(v.root, "keys", handle+".key")
}

func (v *Vault) aead(handle string) (cipher.AEAD, error) {
	if handle == "" {
		return nil, ErrKeyNotFound
	}
	key, err := os.ReadFile(v.keyPath(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("load key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}
