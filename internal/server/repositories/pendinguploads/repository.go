package pendinguploads

import (
	"context"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// Repository persists staging records for uploads awaiting a duplicate
// decision. Records are consumed exactly once: GetByToken inside a
// transaction, then Delete in the same transaction whether the decision
// was keep, replace, version or discard.
type Repository interface {
	Create(ctx context.Context, p *models.PendingUpload) error
	// GetByToken returns the user's staging record, additionally filtered
	// by purpose when purpose is non-empty.
	GetByToken(ctx context.Context, userID int64, token string, purpose models.UploadPurpose) (*models.PendingUpload, error)
	Delete(ctx context.Context, userID int64, token string) error
}
