package ipc

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// NonceSize is the number of bytes a client sends before the greeting.
const NonceSize = 16

// NoncePath returns the nonce file stored next to a socket.
func NoncePath(socketPath string) string {
	return socketPath + ".nonce"
}

func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// WriteNonce atomically replaces the nonce file with mode 0600.
func WriteNonce(path string, nonce []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".nonce-*")
	if err != nil {
		return fmt.Errorf("create nonce file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod nonce file: %w", err)
	}
	if _, err := tmp.Write(nonce); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write nonce file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close nonce file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("install nonce file: %w", err)
	}
	return nil
}

// ReadNonce loads a nonce file. A missing file returns os.ErrNotExist.
func ReadNonce(path string) ([]byte, error) {
	nonce, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce file %s: want %d bytes, got %d", path, NonceSize, len(nonce))
	}
	return nonce, nil
}

// CheckNonce compares in constant time.
func CheckNonce(got, want []byte) bool {
	return len(want) == NonceSize && subtle.ConstantTimeCompare(got, want) == 1
}

// RemoveNonce deletes the nonce file, ignoring a missing one.
func RemoveNonce(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove nonce file: %w", err)
	}
	return nil
}
