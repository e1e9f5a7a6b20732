// Package vaultcrypto seals and opens the exported database blob with
// AES-256-GCM. The server only ever sees the sealed form.
//
// Wire format: nonce(12 bytes) || ciphertext || auth tag. The nonce is
// generated fresh per call from crypto/rand and prepended so decryption
// needs nothing beyond the key.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

const keyBytes = 32

// DecryptionError means the blob cannot be opened: wrong key, corrupted or
// truncated ciphertext, or a malformed key. Callers must treat it as
// "cannot unlock database"; no plaintext is ever returned alongside it.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vaultcrypto: %s: %v", e.Reason, e.Err)
	}
	return "vaultcrypto: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// NewKeyHex returns a fresh random 256-bit key, hex encoded.
func NewKeyHex() (string, error) {
	key := make([]byte, keyBytes)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vaultcrypto: generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

func parseKey(keyHex string) ([]byte, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(key) != keyBytes {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keyBytes, len(key))
	}
	return key, nil
}

// Encrypt seals plaintext under the hex-encoded 256-bit key.
func Encrypt(plaintext []byte, keyHex string) ([]byte, error) {
	key, err := parseKey(keyHex)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: %w", err)
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, fmt.Errorf("vaultcrypto: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vaultcrypto: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt. Every failure mode returns a
// *DecryptionError so callers cannot accidentally proceed with partial data.
func Decrypt(ciphertext []byte, keyHex string) ([]byte, error) {
	key, err := parseKey(keyHex)
	if err != nil {
		return nil, &DecryptionError{Reason: "bad key", Err: err}
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, &DecryptionError{Reason: "init cipher", Err: err}
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, &DecryptionError{Reason: "ciphertext too short"}
	}
	nonce := ciphertext[:gcm.NonceSize()]
	body := ciphertext[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
