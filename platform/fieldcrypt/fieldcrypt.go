// Package fieldcrypt encrypts individual column values at rest with AES-256-GCM.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	prefix  = "enc:v1:"
	keySize = 32
	kdfInfo = "safereport field encryption v1"
)

// ErrMalformed is returned when a stored value carries the prefix but cannot be decoded.
var ErrMalformed = errors.New("fieldcrypt: malformed ciphertext")

// Cipher seals and opens values. The column name is bound as additional
// data so a ciphertext copied into another column fails to open.
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 32-byte key from secret with HKDF-SHA256.
func New(secret string) (*Cipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("fieldcrypt: empty secret")
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(kdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt returns "enc:v1:" followed by base64(nonce|ciphertext).
// Empty plaintext stays empty.
func (c *Cipher) Encrypt(column, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), []byte(column))
	return prefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the prefix are returned unchanged
// so rows written before encryption was enabled stay readable.
func (c *Cipher) Decrypt(column, stored string) (string, error) {
	if !strings.HasPrefix(stored, prefix) {
		return stored, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, prefix))
	if err != nil {
		return "", ErrMalformed
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrMalformed
	}

	plaintext, err := c.aead.Open(nil, data[:nonceSize], data[nonceSize:], []byte(column))
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", column, err)
	}
	return string(plaintext), nil
}
