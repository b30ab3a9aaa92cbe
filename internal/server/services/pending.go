package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/storage"
)

// stagePending encrypts and stores the blob, then records a token-addressed
// staging row for the user's duplicate decision. The storage token doubles
// as the pending token.
func (s *DocumentService) stagePending(ctx context.Context, userID int64, purpose models.UploadPurpose,
	contextDocID *int64, name, mimeType string, data []byte, tag string) (string, error) {
	blob, err := s.env.EncryptBytes(data)
	if err != nil {
		return "", err
	}
	token, location, err := s.store.Save(ctx, userID, blob)
	if err != nil {
		return "", err
	}

	p := &models.PendingUpload{
		OwnerUserID:       userID,
		Token:             token,
		Purpose:           purpose,
		ContextDocumentID: contextDocID,
		OriginalFilename:  name,
		MimeType:          mimeType,
		SizeBytes:         int64(len(data)),
		IntegrityTag:      tag,
		StoragePath:       location,
	}
	if err := s.repomanager.PendingUploads(s.db).Create(ctx, p); err != nil {
		if rmErr := s.store.Remove(ctx, userID, storage.Locator{StoragePath: location, StoredName: token}); rmErr != nil {
			s.log.Warn(ctx, "failed to clean up staged blob", "location", location, "error", rmErr)
		}
		return "", err
	}
	return token, nil
}

// CommitPendingAsDocument promotes a staged upload to a new document ("keep
// both"). The staging record is consumed in the same transaction.
func (s *DocumentService) CommitPendingAsDocument(ctx context.Context, userID int64, token string) (*models.Document, error) {
	var doc *models.Document
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		pending := s.repomanager.PendingUploads(tx)

		p, err := pending.GetByToken(ctx, userID, token, models.PurposeDocumentUpload)
		if err != nil {
			return err
		}
		doc = &models.Document{
			OwnerUserID:      userID,
			Filename:         p.OriginalFilename,
			OriginalFilename: p.OriginalFilename,
			StoredName:       p.Token,
			StoragePath:      p.StoragePath,
			SizeBytes:        p.SizeBytes,
			IntegrityTag:     p.IntegrityTag,
			MimeType:         p.MimeType,
		}
		if err := s.repomanager.Documents(tx).CreateWithVersion(ctx, doc, "Initial upload"); err != nil {
			return err
		}
		return pending.Delete(ctx, userID, token)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "pending upload committed as document", "user_id", userID, "document_id", doc.ID)
	s.triggerEnrichment(userID, doc.ID)
	return doc, nil
}

// CommitPendingAsVersion promotes a staged version upload to the next
// version of its target document.
func (s *DocumentService) CommitPendingAsVersion(ctx context.Context, userID int64, token string) (*models.DocumentVersion, error) {
	var v *models.DocumentVersion
	var docID int64
	err := s.withVersionRetry(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		pending := s.repomanager.PendingUploads(tx)

		p, err := pending.GetByToken(ctx, userID, token, models.PurposeVersionUpload)
		if err != nil {
			return err
		}
		if p.ContextDocumentID == nil {
			return fmt.Errorf("%w: pending upload %s has no target document", common.ErrorInternal, token)
		}
		docID = *p.ContextDocumentID

		if _, err := s.repomanager.Documents(tx).GetForUser(ctx, userID, docID); err != nil {
			return err
		}
		v = &models.DocumentVersion{
			DocumentID:   docID,
			StoragePath:  p.StoragePath,
			SizeBytes:    p.SizeBytes,
			IntegrityTag: p.IntegrityTag,
			MimeType:     p.MimeType,
			Note:         fmt.Sprintf("New version upload '%s'", p.OriginalFilename),
		}
		if _, err := s.repomanager.Documents(tx).AddVersion(ctx, v); err != nil {
			return err
		}
		return pending.Delete(ctx, userID, token)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "pending upload committed as version",
		"user_id", userID, "document_id", docID, "version", v.VersionNumber)
	s.triggerEnrichment(userID, docID)
	return v, nil
}

// ReplacePendingTarget promotes the staged upload to a new document and
// soft-deletes the matched old one ("replace old"), atomically.
func (s *DocumentService) ReplacePendingTarget(ctx context.Context, userID int64, token string, targetDocID int64) (*models.Document, error) {
	var doc *models.Document
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		pending := s.repomanager.PendingUploads(tx)

		p, err := pending.GetByToken(ctx, userID, token, models.PurposeDocumentUpload)
		if err != nil {
			return err
		}
		doc = &models.Document{
			OwnerUserID:      userID,
			Filename:         p.OriginalFilename,
			OriginalFilename: p.OriginalFilename,
			StoredName:       p.Token,
			StoragePath:      p.StoragePath,
			SizeBytes:        p.SizeBytes,
			IntegrityTag:     p.IntegrityTag,
			MimeType:         p.MimeType,
		}
		if err := s.repomanager.Documents(tx).CreateWithVersion(ctx, doc, "Initial upload"); err != nil {
			return err
		}
		if _, err := s.repomanager.Documents(tx).SoftDelete(ctx, userID, targetDocID, time.Now().UTC()); err != nil {
			return err
		}
		return pending.Delete(ctx, userID, token)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "pending upload replaced document",
		"user_id", userID, "new_document_id", doc.ID, "replaced_document_id", targetDocID)
	s.triggerEnrichment(userID, doc.ID)
	return doc, nil
}

// DiscardPending drops the staging record and its blob. The record is
// consumed even when blob removal fails.
func (s *DocumentService) DiscardPending(ctx context.Context, userID int64, token string) error {
	pending := s.repomanager.PendingUploads(s.db)

	p, err := pending.GetByToken(ctx, userID, token, "")
	if err != nil {
		return err
	}
	if err := pending.Delete(ctx, userID, token); err != nil {
		return err
	}
	if err := s.store.Remove(ctx, userID, storage.Locator{StoragePath: p.StoragePath, StoredName: p.Token}); err != nil {
		s.log.Warn(ctx, "failed to remove discarded blob", "location", p.StoragePath, "error", err)
	}
	s.log.Info(ctx, "pending upload discarded", "user_id", userID, "token", token)
	return nil
}
