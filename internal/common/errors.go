// Package common defines shared constants and sentinel errors used across
// the docvault core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal   = errors.New("internal error")
	ErrorValidation = errors.New("validation error")

	// ErrIntegrity marks a failed authenticated decryption: corrupt
	// ciphertext or wrong key. Never to be conflated with "no data".
	ErrIntegrity = errors.New("integrity check failed")

	// Upload intake errors, raised before any side effect.
	ErrFileTooLarge     = errors.New("file too large")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrEmptyFile        = errors.New("empty file")

	// ErrVersionConflict signals a lost race on (document_id, version_number).
	ErrVersionConflict = errors.New("version conflict")
)
