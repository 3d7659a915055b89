package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var ErrBadCiphertext = errors.New("token ciphertext is malformed or was sealed for another owner")

// TokenCipher seals backend access tokens at rest with AES-GCM. The owner id is
// bound as additional data, so a token copied onto another user row fails to open.
type TokenCipher struct {
	gcm cipher.AEAD
}

// NewTokenCipher accepts a raw 16/24/32-byte key or its hex encoding.
func NewTokenCipher(key string) (*TokenCipher, error) {
	k := []byte(key)
	if dec, err := hex.DecodeString(key); err == nil && validKeyLen(len(dec)) {
		k = dec
	}
	if !validKeyLen(len(k)) {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes (raw or hex); got %d", len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &TokenCipher{gcm: gcm}, nil
}

func validKeyLen(n int) bool { return n == 16 || n == 24 || n == 32 }

// Seal returns base64(nonce || ciphertext).
func (c *TokenCipher) Seal(plaintext, owner string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}
	ct := c.gcm.Seal(nonce, nonce, []byte(plaintext), []byte(owner))
	return base64.StdEncoding.EncodeToString(ct), nil
}

func (c *TokenCipher) Open(sealed, owner string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrBadCiphertext
	}
	ns := c.gcm.NonceSize()
	if len(data) < ns+c.gcm.Overhead() {
		return "", ErrBadCiphertext
	}
	pt, err := c.gcm.Open(nil, data[:ns], data[ns:], []byte(owner))
	if err != nil {
		return "", ErrBadCiphertext
	}
	return string(pt), nil
}
