package common

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// RandomToken returns an opaque 32-character hex token used for on-disk
// blob names and pending-upload handles. Never shown to end users.
func RandomToken() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// WipeByteArray overwrites the contents of the provided byte slice with
// zeros. The OCR pipeline uses it to drop decrypted document plaintext
// from memory once extraction is done.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
