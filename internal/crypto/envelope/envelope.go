// Package envelope implements authenticated field-level encryption for
// sensitive identity attributes (document numbers, biometric templates).
//
// Each field is sealed independently with AES-256-GCM under a fresh random
// nonce, so equal plaintexts never produce equal envelopes. The persisted form
// is three colon-separated hex segments: nonce, authentication tag,
// ciphertext. Decryption fails closed: any tamper, wrong key, or malformed
// envelope yields sentinel.ErrTampered and no plaintext.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"civis/pkg/platform/sentinel"
)

const keySize = 32

// Service seals and opens field envelopes with a single process-lifetime key.
type Service struct {
	aead cipher.AEAD
}

// New constructs an encryption service from key material. Accepts a 64-char
// hex key, a base64 key, or raw bytes of at least 256 bits; anything else is
// a startup error, not a runtime fallback.
func New(keyMaterial string) (*Service, error) {
	if keyMaterial == "" {
		return nil, errors.New("envelope: encryption key is required")
	}

	key, err := deriveKey(keyMaterial)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: init gcm: %w", err)
	}
	return &Service{aead: aead}, nil
}

func deriveKey(material string) ([]byte, error) {
	if len(material) == hex.EncodedLen(keySize) {
		if key, err := hex.DecodeString(material); err == nil {
			return key, nil
		}
	}
	if key, err := base64.StdEncoding.DecodeString(material); err == nil && len(key) == keySize {
		return key, nil
	}
	// Raw passphrase material: must carry at least 256 bits before hashing.
	if len(material) < keySize {
		return nil, errors.New("envelope: encryption key must be at least 256 bits")
	}
	sum := sha256.Sum256([]byte(material))
	return sum[:], nil
}

// Encrypt seals plaintext into an envelope string. A fresh nonce is drawn for
// every call.
func (s *Service) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("envelope: draw nonce: %w", err)
	}

	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)
	// Seal appends the tag to the ciphertext; the persisted format keeps them
	// as separate segments.
	tagAt := len(sealed) - s.aead.Overhead()
	ciphertext, tag := sealed[:tagAt], sealed[tagAt:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens an envelope string. Returns sentinel.ErrTampered for any
// malformed input or failed tag verification; partial plaintext is never
// returned.
func (s *Service) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("envelope: malformed envelope: %w", sentinel.ErrTampered)
	}

	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != s.aead.NonceSize() {
		return "", fmt.Errorf("envelope: malformed nonce: %w", sentinel.ErrTampered)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != s.aead.Overhead() {
		return "", fmt.Errorf("envelope: malformed tag: %w", sentinel.ErrTampered)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("envelope: malformed ciphertext: %w", sentinel.ErrTampered)
	}

	plaintext, err := s.aead.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("envelope: integrity check failed: %w", sentinel.ErrTampered)
	}
	return string(plaintext), nil
}
