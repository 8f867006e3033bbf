// Package secretbox encrypts history entries at rest using NaCl secretbox
// keyed by a machine-local key file.
package secretbox

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

// ErrUnavailable is returned when no encryption key could be loaded or created.
var ErrUnavailable = errors.New("encryption key unavailable")

// ErrMalformedCiphertext is returned for ciphertexts that cannot be opened.
var ErrMalformedCiphertext = errors.New("malformed or tampered ciphertext")

// Box encrypts and decrypts short strings for at-rest storage.
type Box interface {
	Available() bool
	Seal(plaintext string) ([]byte, error)
	Open(ciphertext []byte) (string, error)
}

// FileKeyBox is a Box backed by a random key stored in an owner-only file.
// A zero-value key field marks the box as unavailable; callers degrade to
// plaintext storage in that case.
type FileKeyBox struct {
	key *[keySize]byte
}

// NewFileKeyBox loads the key at path, creating it on first use. A box is
// always returned; key failures surface through Available.
func NewFileKeyBox(path string) *FileKeyBox {
	key, err := loadOrCreateKey(path)
	if err != nil {
		return &FileKeyBox{}
	}
	return &FileKeyBox{key: key}
}

// Available reports whether encryption can be performed.
func (b *FileKeyBox) Available() bool {
	return b.key != nil
}

// Seal encrypts plaintext, prefixing the random nonce to the ciphertext.
func (b *FileKeyBox) Seal(plaintext string) ([]byte, error) {
	if b.key == nil {
		return nil, ErrUnavailable
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], []byte(plaintext), &nonce, b.key), nil
}

// Open decrypts a ciphertext produced by Seal.
func (b *FileKeyBox) Open(ciphertext []byte) (string, error) {
	if b.key == nil {
		return "", ErrUnavailable
	}
	if len(ciphertext) < nonceSize {
		return "", ErrMalformedCiphertext
	}

	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, b.key)
	if !ok {
		return "", ErrMalformedCiphertext
	}
	return string(plaintext), nil
}

// loadOrCreateKey reads the key file or generates a new key on first run.
func loadOrCreateKey(path string) (*[keySize]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != keySize {
			return nil, fmt.Errorf("key file %s has %d bytes, want %d", path, len(data), keySize)
		}
		key := new([keySize]byte)
		copy(key[:], data)
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	key := new([keySize]byte)
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
