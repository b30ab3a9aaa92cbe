// Package services implements the application core: upload intake with
// duplicate detection, the document/version ledger operations, trash
// handling, OCR enrichment, categorization, keyword suggestion and search.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/filex"
	"github.com/dmitrijs2005/docvault/internal/logging"
	sc "github.com/dmitrijs2005/docvault/internal/server/config"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/server/storage"
)

// maxVersionRetries bounds retries when a concurrent writer wins the
// (document_id, version_number) race.
const maxVersionRetries = 3

// Enricher is invoked after a successful upload, version add or restore with
// the owner and document id. The app wires it to the OCR pipeline running in
// a background goroutine; it must never block or fail the caller.
type Enricher func(userID, docID int64)

// UploadInput carries untrusted intake data for a new document or version.
type UploadInput struct {
	Filename     string
	DeclaredMime string
	Data         []byte

	// Bypass skips duplicate staging: the upload commits even when the
	// detector finds a match.
	Bypass bool
}

// DuplicateMatch is a classified duplicate-detector outcome.
type DuplicateMatch struct {
	Document *models.Document
	Reason   models.DuplicateReason
}

// UploadOutcome is either a committed document or a staged duplicate: when
// Duplicate is non-nil, Document is nil and PendingToken addresses the
// staging record awaiting the user's decision.
type UploadOutcome struct {
	Document     *models.Document
	Version      *models.DocumentVersion
	Duplicate    *DuplicateMatch
	PendingToken string
}

// DashboardStats summarizes a user's vault.
type DashboardStats struct {
	TotalDocuments   int64
	StorageUsedBytes int64
	UploadedLastWeek int64
	RecentUploads    []*models.Document
}

// DocumentService owns the upload intake and the document/version ledger.
type DocumentService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	store       storage.BlobStore
	env         *cryptox.Envelope
	log         logging.Logger
	enrich      Enricher
}

func NewDocumentService(db *sql.DB, repomanager repomanager.RepositoryManager,
	config *sc.Config, store storage.BlobStore, env *cryptox.Envelope, log logging.Logger) *DocumentService {
	return &DocumentService{
		db:          db,
		repomanager: repomanager,
		config:      config,
		store:       store,
		env:         env,
		log:         log,
	}
}

// WithEnricher installs the post-commit enrichment hook.
func (s *DocumentService) WithEnricher(fn Enricher) *DocumentService {
	s.enrich = fn
	return s
}

func (s *DocumentService) triggerEnrichment(userID, docID int64) {
	if s.enrich != nil {
		s.enrich(userID, docID)
	}
}

// validateIntake enforces the upload limits before any side effect and
// returns the sanitized display name and the effective MIME type.
func (s *DocumentService) validateIntake(in *UploadInput) (string, string, error) {
	if !filex.ValidDisplayName(in.Filename) {
		return "", "", fmt.Errorf("%w: invalid filename", common.ErrorValidation)
	}
	name := filex.SanitizeDisplayName(in.Filename)

	if len(in.Data) == 0 {
		return "", "", common.ErrEmptyFile
	}
	if int64(len(in.Data)) > s.config.MaxUploadBytes {
		return "", "", fmt.Errorf("%w: %d bytes (limit %d)", common.ErrFileTooLarge, len(in.Data), s.config.MaxUploadBytes)
	}

	mimeType := resolveMime(in.DeclaredMime, name)
	if !s.mimeAllowed(mimeType) {
		return "", "", fmt.Errorf("%w: %s", common.ErrUnsupportedMedia, mimeType)
	}
	return name, mimeType, nil
}

// resolveMime re-derives the MIME type from the filename extension when the
// client-declared one is empty or the generic octet-stream placeholder.
func resolveMime(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filex.LowerExt(filename)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
		return byExt
	}
	return "application/octet-stream"
}

func (s *DocumentService) mimeAllowed(mimeType string) bool {
	allowed := strings.TrimSpace(s.config.AllowedMime)
	if allowed == "" {
		return true
	}
	for _, m := range strings.Split(allowed, ",") {
		if strings.EqualFold(strings.TrimSpace(m), mimeType) {
			return true
		}
	}
	return false
}

// Upload validates and commits a new document, or stages it as a pending
// upload when the duplicate detector fires and the bypass flag is off.
func (s *DocumentService) Upload(ctx context.Context, userID int64, in *UploadInput) (*UploadOutcome, error) {
	name, mimeType, err := s.validateIntake(in)
	if err != nil {
		return nil, err
	}

	tag := s.env.IntegrityTag(in.Data)

	if !in.Bypass {
		match, err := s.FindDuplicate(ctx, userID, tag, name, int64(len(in.Data)))
		if err != nil {
			return nil, err
		}
		if match != nil {
			token, err := s.stagePending(ctx, userID, models.PurposeDocumentUpload, nil, name, mimeType, in.Data, tag)
			if err != nil {
				return nil, err
			}
			s.log.Info(ctx, "upload staged as pending duplicate",
				"user_id", userID, "reason", match.Reason, "matched_document_id", match.Document.ID)
			return &UploadOutcome{Duplicate: match, PendingToken: token}, nil
		}
	}

	doc, err := s.commitNewDocument(ctx, userID, name, mimeType, in.Data, tag)
	if err != nil {
		return nil, err
	}
	s.triggerEnrichment(userID, doc.ID)
	return &UploadOutcome{Document: doc}, nil
}

// commitNewDocument encrypts and writes the blob, then records the document
// with its version 1 in one transaction.
func (s *DocumentService) commitNewDocument(ctx context.Context, userID int64, name, mimeType string, data []byte, tag string) (*models.Document, error) {
	blob, err := s.env.EncryptBytes(data)
	if err != nil {
		return nil, err
	}
	token, location, err := s.store.Save(ctx, userID, blob)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		OwnerUserID:      userID,
		Filename:         name,
		OriginalFilename: name,
		StoredName:       token,
		StoragePath:      location,
		SizeBytes:        int64(len(data)),
		IntegrityTag:     tag,
		MimeType:         mimeType,
	}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.repomanager.Documents(tx).CreateWithVersion(ctx, doc, "Initial upload")
	})
	if err != nil {
		// The blob is orphaned if the transaction failed; remove it so
		// storage does not leak.
		if rmErr := s.store.Remove(ctx, userID, storage.Locator{StoragePath: location, StoredName: token}); rmErr != nil {
			s.log.Warn(ctx, "failed to clean up orphaned blob", "location", location, "error", rmErr)
		}
		return nil, err
	}
	s.log.Info(ctx, "document created", "user_id", userID, "document_id", doc.ID, "size", doc.SizeBytes)
	return doc, nil
}

// Get returns a single document, owner-scoped.
func (s *DocumentService) Get(ctx context.Context, userID, docID int64) (*models.Document, error) {
	return s.repomanager.Documents(s.db).GetForUser(ctx, userID, docID)
}

// List returns the user's active documents, newest first.
func (s *DocumentService) List(ctx context.Context, userID int64) ([]*models.Document, error) {
	return s.repomanager.Documents(s.db).ListActive(ctx, userID)
}

// Download decrypts and returns the current version's content along with the
// name and MIME type to serve it under. Trashed documents are not served.
func (s *DocumentService) Download(ctx context.Context, userID, docID int64) (string, string, []byte, error) {
	doc, err := s.repomanager.Documents(s.db).GetForUser(ctx, userID, docID)
	if err != nil {
		return "", "", nil, err
	}
	if doc.IsDeleted {
		return "", "", nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	data, err := s.loadPlaintext(ctx, userID, storage.Locator{StoragePath: doc.StoragePath, StoredName: doc.StoredName})
	if err != nil {
		return "", "", nil, err
	}
	name := doc.OriginalFilename
	if name == "" {
		name = doc.Filename
	}
	// rows predating intake-time MIME resolution may have it empty
	return name, resolveMime(doc.MimeType, name), data, nil
}

// DownloadVersion decrypts and returns a historical version's content.
func (s *DocumentService) DownloadVersion(ctx context.Context, userID, docID int64, versionNumber int) (*models.DocumentVersion, []byte, error) {
	v, err := s.repomanager.Documents(s.db).GetVersion(ctx, userID, docID, versionNumber)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.loadPlaintext(ctx, userID, storage.Locator{StoragePath: v.StoragePath})
	if err != nil {
		return nil, nil, err
	}
	return v, data, nil
}

func (s *DocumentService) loadPlaintext(ctx context.Context, userID int64, loc storage.Locator) ([]byte, error) {
	blob, err := s.store.Load(ctx, userID, loc)
	if err != nil {
		return nil, err
	}
	return s.env.DecryptBytes(blob)
}

// Rename changes the display name and appends a rename-only version pointing
// at the current blob, annotated "Renamed to '<new>'". Returns false (not an
// error) on an invalid name or when the document is missing, so callers can
// distinguish "nothing happened" from a crash.
func (s *DocumentService) Rename(ctx context.Context, userID, docID int64, newName string) (bool, error) {
	if !filex.ValidDisplayName(newName) {
		return false, nil
	}
	name := filex.SanitizeDisplayName(newName)

	var renamed bool
	err := s.withVersionRetry(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Documents(tx)

		doc, err := repo.GetForUser(ctx, userID, docID)
		if err != nil {
			return err
		}
		if doc.IsDeleted {
			return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
		}
		if err := repo.UpdateFilename(ctx, userID, docID, name); err != nil {
			return err
		}
		_, err = repo.AddVersion(ctx, &models.DocumentVersion{
			DocumentID:   docID,
			StoragePath:  doc.StoragePath,
			SizeBytes:    doc.SizeBytes,
			IntegrityTag: doc.IntegrityTag,
			MimeType:     doc.MimeType,
			Note:         fmt.Sprintf("Renamed to '%s'", name),
		})
		if err != nil {
			return err
		}
		renamed = true
		return nil
	})
	if err != nil {
		if errorsIsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return renamed, nil
}

// AddVersion validates and commits new content as the next version of an
// existing document, or stages it when the duplicate detector fires.
func (s *DocumentService) AddVersion(ctx context.Context, userID, docID int64, in *UploadInput) (*UploadOutcome, error) {
	name, mimeType, err := s.validateIntake(in)
	if err != nil {
		return nil, err
	}

	// The target must exist and be active before any disk write.
	doc, err := s.repomanager.Documents(s.db).GetForUser(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if doc.IsDeleted {
		return nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}

	tag := s.env.IntegrityTag(in.Data)

	if !in.Bypass {
		match, err := s.FindDuplicate(ctx, userID, tag, name, int64(len(in.Data)))
		if err != nil {
			return nil, err
		}
		if match != nil {
			token, err := s.stagePending(ctx, userID, models.PurposeVersionUpload, &docID, name, mimeType, in.Data, tag)
			if err != nil {
				return nil, err
			}
			s.log.Info(ctx, "version upload staged as pending duplicate",
				"user_id", userID, "document_id", docID, "reason", match.Reason)
			return &UploadOutcome{Duplicate: match, PendingToken: token}, nil
		}
	}

	v, err := s.commitNewVersion(ctx, userID, docID, mimeType, in.Data, tag, fmt.Sprintf("New version upload '%s'", name))
	if err != nil {
		return nil, err
	}
	s.triggerEnrichment(userID, docID)
	return &UploadOutcome{Version: v}, nil
}

// commitNewVersion encrypts and writes the blob, then appends the version
// row and the document mirror update atomically.
func (s *DocumentService) commitNewVersion(ctx context.Context, userID, docID int64, mimeType string, data []byte, tag, note string) (*models.DocumentVersion, error) {
	blob, err := s.env.EncryptBytes(data)
	if err != nil {
		return nil, err
	}
	token, location, err := s.store.Save(ctx, userID, blob)
	if err != nil {
		return nil, err
	}

	v := &models.DocumentVersion{
		DocumentID:   docID,
		StoragePath:  location,
		SizeBytes:    int64(len(data)),
		IntegrityTag: tag,
		MimeType:     mimeType,
		Note:         note,
	}
	err = s.withVersionRetry(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		// Owner check happens inside the transaction so a concurrent
		// delete cannot slip between check and append.
		if _, err := s.repomanager.Documents(tx).GetForUser(ctx, userID, docID); err != nil {
			return err
		}
		_, err := s.repomanager.Documents(tx).AddVersion(ctx, v)
		return err
	})
	if err != nil {
		if rmErr := s.store.Remove(ctx, userID, storage.Locator{StoragePath: location, StoredName: token}); rmErr != nil {
			s.log.Warn(ctx, "failed to clean up orphaned blob", "location", location, "error", rmErr)
		}
		return nil, err
	}
	s.log.Info(ctx, "version added", "user_id", userID, "document_id", docID, "version", v.VersionNumber)
	return v, nil
}

// RestoreVersion appends a new version whose blob is a fresh copy of the
// target version's blob. History is never retroactively mutated: the old
// version's row and blob stay untouched.
func (s *DocumentService) RestoreVersion(ctx context.Context, userID, docID int64, versionNumber int) (*models.DocumentVersion, error) {
	// The target must be active: a trashed document's chain stays frozen
	// until it is restored from the trash.
	doc, err := s.repomanager.Documents(s.db).GetForUser(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if doc.IsDeleted {
		return nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}

	src, err := s.repomanager.Documents(s.db).GetVersion(ctx, userID, docID, versionNumber)
	if err != nil {
		return nil, err
	}

	_, location, err := s.store.Copy(ctx, userID, storage.Locator{StoragePath: src.StoragePath})
	if err != nil {
		return nil, err
	}

	v := &models.DocumentVersion{
		DocumentID:   docID,
		StoragePath:  location,
		SizeBytes:    src.SizeBytes,
		IntegrityTag: src.IntegrityTag,
		MimeType:     src.MimeType,
		Note:         fmt.Sprintf("Restored from v%d", versionNumber),
	}
	err = s.withVersionRetry(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		_, err := s.repomanager.Documents(tx).AddVersion(ctx, v)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "version restored", "user_id", userID, "document_id", docID,
		"from_version", versionNumber, "new_version", v.VersionNumber)
	s.triggerEnrichment(userID, docID)
	return v, nil
}

// ListVersions returns the document's version chain, newest first.
func (s *DocumentService) ListVersions(ctx context.Context, userID, docID int64) ([]*models.DocumentVersion, error) {
	return s.repomanager.Documents(s.db).ListVersions(ctx, userID, docID)
}

// withVersionRetry runs fn in a transaction, retrying when a concurrent
// version append wins the unique-constraint race.
func (s *DocumentService) withVersionRetry(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	var err error
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		err = dbx.WithTx(ctx, s.db, nil, fn)
		if err == nil || !dbx.IsUniqueViolation(err) {
			return err
		}
		s.log.Warn(ctx, "version number race lost, retrying", "attempt", attempt+1)
	}
	return fmt.Errorf("%w: %v", common.ErrVersionConflict, err)
}

// SetFavorite flips the favorite flag, owner-scoped.
func (s *DocumentService) SetFavorite(ctx context.Context, userID, docID int64, favorite bool) error {
	return s.repomanager.Documents(s.db).SetFavorite(ctx, userID, docID, favorite)
}

// SoftDelete moves the document to the trash. Returns true on the first
// call, false when it was already trashed.
func (s *DocumentService) SoftDelete(ctx context.Context, userID, docID int64) (bool, error) {
	changed, err := s.repomanager.Documents(s.db).SoftDelete(ctx, userID, docID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if changed {
		s.log.Info(ctx, "document trashed", "user_id", userID, "document_id", docID)
	}
	return changed, nil
}

// RestoreFromTrash clears the soft-delete flag.
func (s *DocumentService) RestoreFromTrash(ctx context.Context, userID, docID int64) error {
	if err := s.repomanager.Documents(s.db).RestoreDeleted(ctx, userID, docID); err != nil {
		return err
	}
	s.log.Info(ctx, "document restored from trash", "user_id", userID, "document_id", docID)
	return nil
}

// ListTrash returns the user's trashed documents, most recently deleted first.
func (s *DocumentService) ListTrash(ctx context.Context, userID int64) ([]*models.Document, error) {
	return s.repomanager.Documents(s.db).ListTrash(ctx, userID)
}

// PurgeExpired hard-deletes trashed documents past the retention window, in
// one bounded batch, removing every version's blob first. Returns the number
// of documents purged.
func (s *DocumentService) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.config.TrashRetentionDays)
	repo := s.repomanager.Documents(s.db)

	expired, err := repo.ExpiredForPurge(ctx, cutoff, s.config.PurgeBatchSize)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, doc := range expired {
		locations, err := repo.VersionLocations(ctx, doc.ID)
		if err != nil {
			s.log.Warn(ctx, "purge: failed to list version blobs", "document_id", doc.ID, "error", err)
			continue
		}
		// Blob removal is best-effort: a missing blob must not block the
		// row purge.
		for _, loc := range locations {
			if err := s.store.Remove(ctx, doc.OwnerUserID, storage.Locator{StoragePath: loc}); err != nil {
				s.log.Warn(ctx, "purge: failed to remove blob", "document_id", doc.ID, "location", loc, "error", err)
			}
		}
		if err := repo.DeleteHard(ctx, doc.ID); err != nil {
			s.log.Warn(ctx, "purge: failed to delete document row", "document_id", doc.ID, "error", err)
			continue
		}
		purged++
	}
	if purged > 0 {
		s.log.Info(ctx, "trash purge completed", "purged", purged)
	}
	return purged, nil
}

// Stats assembles the dashboard summary for a user.
func (s *DocumentService) Stats(ctx context.Context, userID int64) (*DashboardStats, error) {
	repo := s.repomanager.Documents(s.db)

	total, err := repo.CountActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	used, err := repo.StorageUsed(ctx, userID)
	if err != nil {
		return nil, err
	}
	lastWeek, err := repo.CountCreatedSince(ctx, userID, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		return nil, err
	}
	recent, err := repo.RecentUploads(ctx, userID, 5)
	if err != nil {
		return nil, err
	}
	return &DashboardStats{
		TotalDocuments:   total,
		StorageUsedBytes: used,
		UploadedLastWeek: lastWeek,
		RecentUploads:    recent,
	}, nil
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound)
}
