// Package secrets encrypts integration credentials at rest using
// AES-256-GCM with the envelope format `v1:iv_b64:tag_b64:ciphertext_b64`
// (12-byte nonce, standard base64 per part).
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	envelopeVersion = "v1"
	nonceSize       = 12
	tagSize         = 16
	keySize         = 32
)

var (
	// ErrKeySize indicates the encryption key is not 32 bytes.
	ErrKeySize = errors.New("secrets: key must be 32 bytes")
	// ErrEnvelopeFormat indicates stored data is not a v1 envelope.
	ErrEnvelopeFormat = errors.New("secrets: malformed envelope")
)

// ParseKey decodes a configured key string: standard base64 of 32 bytes,
// or the raw 32-byte string itself.
func ParseKey(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) == keySize {
		return decoded, nil
	}
	if len(s) == keySize {
		return []byte(s), nil
	}
	return nil, ErrKeySize
}

// Encrypt seals plaintext into a v1 envelope with a fresh random nonce.
func Encrypt(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		envelopeVersion,
		enc.EncodeToString(nonce),
		enc.EncodeToString(tag),
		enc.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt opens a v1 envelope. Tampered ciphertext, a wrong key, or an
// unknown envelope version all fail.
func Decrypt(key []byte, envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 4 || parts[0] != envelopeVersion {
		return "", ErrEnvelopeFormat
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrEnvelopeFormat
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil || len(tag) != tagSize {
		return "", ErrEnvelopeFormat
	}
	ct, err := enc.DecodeString(parts[3])
	if err != nil {
		return "", ErrEnvelopeFormat
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != keySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secrets: gcm: %w", err)
	}
	return gcm, nil
}
