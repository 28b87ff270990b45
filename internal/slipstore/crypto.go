package slipstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ErrNoEncryptionKey means no slip encryption secret was configured. Slips
// cannot be stored or read without one, so this is a hard startup error.
var ErrNoEncryptionKey = errors.New("slipstore: no encryption key configured")

var errDecrypt = errors.New("slipstore: decrypt failed")

// cipherBox encrypts slip payloads with AES-256-GCM. The 32-byte key is
// derived from the configured secret so operators can supply secrets of any
// length.
type cipherBox struct {
	aead cipher.AEAD
}

func newCipherBox(secret string) (*cipherBox, error) {
	if secret == "" {
		return nil, ErrNoEncryptionKey
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte("lunara-slip-store"), nil)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("slipstore: key derivation failed: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("slipstore: cipher init failed: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("slipstore: gcm init failed: %w", err)
	}
	return &cipherBox{aead: aead}, nil
}

// encrypt returns base64(nonce || ciphertext).
func (b *cipherBox) encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("slipstore: nonce generation failed: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// decrypt reverses encrypt. Any malformed or wrong-key input yields
// errDecrypt; callers treat that as "record unreadable", not as a fault.
func (b *cipherBox) decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errDecrypt
	}
	if len(sealed) < b.aead.NonceSize() {
		return nil, errDecrypt
	}
	nonce, ciphertext := sealed[:b.aead.NonceSize()], sealed[b.aead.NonceSize():]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errDecrypt
	}
	return plaintext, nil
}
