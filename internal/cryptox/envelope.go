// Package cryptox implements the crypto envelope protecting document blobs
// and short text fields at rest, plus the keyed integrity tag used as a
// stable content fingerprint for duplicate detection.
//
// Encryption (AES-256-GCM, fresh nonce per call) is deliberately
// non-deterministic; the integrity tag (HMAC-SHA256 over plaintext, with a
// key independent of the encryption key) is deliberately deterministic.
// The two primitives share no nonce and no key material beyond the HKDF
// master secret they are both derived from.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/dmitrijs2005/docvault/internal/common"
)

// textPrefix marks text-column values produced by EncryptText. Values
// without it are treated as legacy plaintext and passed through unchanged.
const textPrefix = "enc:v1:"

// Envelope is the process-wide crypto context. Built once at startup from
// the configured master secret and passed by reference to every component
// that needs encrypt/decrypt/tag operations. Immutable after construction.
type Envelope struct {
	aead   cipher.AEAD
	tagKey []byte
}

// New derives the AES-256-GCM encryption key and the HMAC tag key from
// masterSecret via HKDF-SHA256 and returns a ready Envelope.
func New(masterSecret string) (*Envelope, error) {
	if masterSecret == "" {
		return nil, fmt.Errorf("%w: empty master secret", common.ErrorValidation)
	}

	encKey, err := deriveKey(masterSecret, "docvault/files/v1", 32)
	if err != nil {
		return nil, err
	}
	tagKey, err := deriveKey(masterSecret, "docvault/integrity/v1", 32)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm mode: %w", err)
	}

	return &Envelope{aead: aead, tagKey: tagKey}, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// EncryptBytes seals plaintext with a fresh random nonce. The nonce is
// prepended to the ciphertext. Two calls on identical input produce
// different output.
func (e *Envelope) EncryptBytes(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptBytes opens a blob produced by EncryptBytes. A corrupt blob or a
// wrong key yields common.ErrIntegrity; callers must treat that as a fatal
// I/O error for the document, not as "empty".
func (e *Envelope) DecryptBytes(blob []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(blob) < ns {
		return nil, fmt.Errorf("%w: blob shorter than nonce", common.ErrIntegrity)
	}
	plaintext, err := e.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return plaintext, nil
}

// EncryptText adapts the byte envelope to text columns (OCR cache,
// category keywords): base64 ciphertext behind a version prefix.
func (e *Envelope) EncryptText(plaintext string) (string, error) {
	blob, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return textPrefix + base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptText reverses EncryptText. A value without the envelope prefix is
// returned unchanged: historical rows stored these columns in plaintext and
// must keep working. A prefixed value that fails to open is an integrity
// error, never silently treated as plaintext.
func (e *Envelope) DecryptText(value string) (string, error) {
	if !strings.HasPrefix(value, textPrefix) {
		return value, nil
	}
	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, textPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	plaintext, err := e.DecryptBytes(blob)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IntegrityTag computes the keyed content fingerprint over plaintext:
// hex(HMAC-SHA256(tagKey, plaintext)). Deterministic by design — the
// opposite property from EncryptBytes — so equal content always maps to an
// equal tag regardless of encryption nonces.
func (e *Envelope) IntegrityTag(plaintext []byte) string {
	mac := hmac.New(sha256.New, e.tagKey)
	mac.Write(plaintext)
	return hex.EncodeToString(mac.Sum(nil))
}
