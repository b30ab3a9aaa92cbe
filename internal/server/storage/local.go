package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/filex"
)

// maxAllocateAttempts bounds token regeneration on path collisions.
// Collisions are vanishingly unlikely with 128-bit tokens.
const maxAllocateAttempts = 16

// LocalStore keeps encrypted blobs under <base>/<user_id>/<token>.
// No extension or original name is encoded on disk; display names live
// only in the database.
type LocalStore struct {
	base string
}

// NewLocalStore ensures the base directory exists and returns the store.
func NewLocalStore(base string) (*LocalStore, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs %s: %w", base, err)
	}
	if err := filex.EnsureDir(abs); err != nil {
		return nil, err
	}
	return &LocalStore{base: abs}, nil
}

func (s *LocalStore) userDir(userID int64) string {
	return filepath.Join(s.base, strconv.FormatInt(userID, 10))
}

// allocatePath picks a fresh token whose path does not exist yet.
func (s *LocalStore) allocatePath(userID int64) (string, string, error) {
	dir := s.userDir(userID)
	if err := filex.EnsureDir(dir); err != nil {
		return "", "", err
	}
	for i := 0; i < maxAllocateAttempts; i++ {
		token := common.RandomToken()
		path := filepath.Join(dir, token)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return token, path, nil
		}
	}
	return "", "", fmt.Errorf("%w: could not allocate unique blob path", common.ErrorInternal)
}

func (s *LocalStore) Save(ctx context.Context, userID int64, data []byte) (string, string, error) {
	token, path, err := s.allocatePath(userID)
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", "", fmt.Errorf("write blob: %w", err)
	}
	return token, path, nil
}

// resolveExisting tries a deterministic list of candidate absolute paths
// for a recorded location and returns the first that exists. Historical
// rows recorded paths inconsistently (relative, absolute, backslashes, or
// just the stored token); new rows always hit the first candidate.
func (s *LocalStore) resolveExisting(userID int64, loc Locator) (string, error) {
	normalized := strings.ReplaceAll(loc.StoragePath, "\\", "/")

	var candidates []string
	if loc.StoragePath != "" {
		if filepath.IsAbs(loc.StoragePath) {
			candidates = append(candidates, loc.StoragePath)
		}
		candidates = append(candidates,
			filepath.Join(s.base, filepath.FromSlash(normalized)),
			filepath.Join(s.userDir(userID), filepath.Base(filepath.FromSlash(normalized))),
		)
	}
	if loc.StoredName != "" {
		candidates = append(candidates, filepath.Join(s.userDir(userID), loc.StoredName))
	}

	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: blob for user %d", common.ErrorNotFound, userID)
}

func (s *LocalStore) Load(ctx context.Context, userID int64, loc Locator) ([]byte, error) {
	path, err := s.resolveExisting(userID, loc)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *LocalStore) Copy(ctx context.Context, userID int64, src Locator) (string, string, error) {
	data, err := s.Load(ctx, userID, src)
	if err != nil {
		return "", "", err
	}
	return s.Save(ctx, userID, data)
}

func (s *LocalStore) Remove(ctx context.Context, userID int64, loc Locator) error {
	path, err := s.resolveExisting(userID, loc)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}
