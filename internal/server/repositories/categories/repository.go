package categories

import (
	"context"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// Repository persists per-user categories. Keyword glossaries cross this
// boundary as plaintext; the implementation encrypts them at rest.
type Repository interface {
	Create(ctx context.Context, c *models.Category) error
	// ListForUser returns the user's categories ordered by id ascending,
	// keywords decrypted.
	ListForUser(ctx context.Context, userID int64) ([]*models.Category, error)
	GetForUser(ctx context.Context, userID, catID int64) (*models.Category, error)
	UpdateKeywords(ctx context.Context, userID, catID int64, keywords string) error
	Rename(ctx context.Context, userID, catID int64, name string) error
	Delete(ctx context.Context, userID, catID int64) error
}
