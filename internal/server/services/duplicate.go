package services

import (
	"context"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// FindDuplicate classifies whether incoming content matches something the
// user already has. Match priority: exact integrity-tag equality first
// (strong signal), then case-insensitive filename plus exact size (weak
// signal). Returns nil when neither rule fires or when neither input is
// usable. Side-effect-free.
func (s *DocumentService) FindDuplicate(ctx context.Context, userID int64, tag, filename string, size int64) (*DuplicateMatch, error) {
	repo := s.repomanager.Documents(s.db)

	if tag != "" {
		doc, err := repo.FindByTag(ctx, userID, tag)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return &DuplicateMatch{Document: doc, Reason: models.DuplicateBySHA256}, nil
		}
	}

	if filename != "" && size > 0 {
		doc, err := repo.FindByNameSize(ctx, userID, filename, size)
		if err != nil {
			return nil, err
		}
		if doc != nil {
			return &DuplicateMatch{Document: doc, Reason: models.DuplicateByNameSize}, nil
		}
	}

	return nil, nil
}
