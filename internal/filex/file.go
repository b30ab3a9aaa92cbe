// Package filex contains small filesystem helpers shared by the storage
// backends and the OCR pipeline.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return nil
}

// EnsureSubDir joins base and name, creates the directory and returns it.
func EnsureSubDir(base, name string) (string, error) {
	dir := filepath.Join(base, name)
	if err := EnsureDir(dir); err != nil {
		return "", err
	}
	return dir, nil
}

// SanitizeDisplayName cleans a user-supplied filename for DB/UI use:
// strips any path components, replaces separators and NUL bytes, caps the
// length at 255 and falls back to "unnamed" when nothing is left.
func SanitizeDisplayName(name string) string {
	name = strings.TrimSpace(name)
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		name = ""
	}
	name = strings.NewReplacer("/", "_", "\\", "_", "\x00", "").Replace(name)
	if len(name) > 255 {
		name = name[:255]
	}
	if name == "" {
		return "unnamed"
	}
	return name
}

// ValidDisplayName reports whether name is acceptable as a document display
// name: non-empty and free of path separators and NUL bytes.
func ValidDisplayName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// LowerExt returns the lowercased extension of name, including the dot.
func LowerExt(name string) string {
	return strings.ToLower(filepath.Ext(name))
}
