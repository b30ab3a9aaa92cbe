// Package ocr extracts searchable text from decrypted document content.
// The extraction libraries require a real file path, so plaintext is staged
// in a scoped temp file whose lifetime is bounded to one extraction call.
// Point the temp directory at a tmpfs mount so plaintext never touches
// persistent disk.
package ocr

import (
	"fmt"
	"os"
)

// TempPlaintext is a process-local plaintext staging file. It is exclusively
// owned by the extraction call that created it; Remove must run on every
// exit path (acquire, then defer Remove).
type TempPlaintext struct {
	path    string
	removed bool
}

// WriteTempPlaintext writes plaintext to a fresh temp file in dir (""
// falls back to the OS default). ext, taken from the original filename,
// keeps format detection working in the extraction libraries.
func WriteTempPlaintext(dir, ext string, plaintext []byte) (*TempPlaintext, error) {
	f, err := os.CreateTemp(dir, "ocr-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp plaintext: %w", err)
	}

	if _, err := f.Write(plaintext); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("write temp plaintext: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, fmt.Errorf("close temp plaintext: %w", err)
	}

	return &TempPlaintext{path: f.Name()}, nil
}

// Path returns the temp file location for the extraction libraries.
func (t *TempPlaintext) Path() string {
	return t.path
}

// Remove deletes the plaintext file. Idempotent; safe under defer.
func (t *TempPlaintext) Remove() error {
	if t.removed {
		return nil
	}
	t.removed = true
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp plaintext: %w", err)
	}
	return nil
}
