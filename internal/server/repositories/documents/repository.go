package documents

import (
	"context"
	"time"

	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// Candidate is a search input: an active document plus the timestamp of its
// latest activity (creation or any version append), which feeds the recency
// bonus.
type Candidate struct {
	Document    *models.Document
	LastUpdated time.Time
}

// Repository is the persistence surface for documents and their version
// chains. Every user-facing read and write is scoped by owner user id; the
// unscoped methods (purge, OCR writeback) serve system loops that already
// hold a verified document id.
type Repository interface {
	// CreateWithVersion inserts the document and its version 1 row. Run it
	// inside a transaction; the version note is typically "Initial upload".
	CreateWithVersion(ctx context.Context, doc *models.Document, note string) error

	GetForUser(ctx context.Context, userID, docID int64) (*models.Document, error)
	ListActive(ctx context.Context, userID int64) ([]*models.Document, error)
	ListSearchCandidates(ctx context.Context, userID int64) ([]*Candidate, error)

	UpdateFilename(ctx context.Context, userID, docID int64, filename string) error
	SetFavorite(ctx context.Context, userID, docID int64, favorite bool) error
	SetOCRText(ctx context.Context, docID int64, encryptedText string) error

	// SoftDelete reports whether the call changed state: true on the first
	// delete, false when the document was already in the trash.
	SoftDelete(ctx context.Context, userID, docID int64, at time.Time) (bool, error)
	RestoreDeleted(ctx context.Context, userID, docID int64) error
	ListTrash(ctx context.Context, userID int64) ([]*models.Document, error)

	// ExpiredForPurge returns trashed documents whose deleted_at is at or
	// before cutoff, oldest first, capped at limit. Not owner-scoped.
	ExpiredForPurge(ctx context.Context, cutoff time.Time, limit int) ([]*models.Document, error)
	// VersionLocations returns the distinct storage paths of every version
	// of the document, for blob cleanup before a hard delete.
	VersionLocations(ctx context.Context, docID int64) ([]string, error)
	DeleteHard(ctx context.Context, docID int64) error

	// FindByTag and FindByNameSize return (nil, nil) when nothing matches.
	// Both consider active documents only.
	FindByTag(ctx context.Context, userID int64, tag string) (*models.Document, error)
	FindByNameSize(ctx context.Context, userID int64, filename string, size int64) (*models.Document, error)

	// AddVersion appends the next version row (number assigned in SQL) and
	// mirrors its storage fields onto the document. Run it inside a
	// transaction. Returns the assigned version number.
	AddVersion(ctx context.Context, v *models.DocumentVersion) (int, error)
	ListVersions(ctx context.Context, userID, docID int64) ([]*models.DocumentVersion, error)
	GetVersion(ctx context.Context, userID, docID int64, versionNumber int) (*models.DocumentVersion, error)

	AssignCategories(ctx context.Context, docID int64, categoryIDs []int64) error

	CountActive(ctx context.Context, userID int64) (int64, error)
	StorageUsed(ctx context.Context, userID int64) (int64, error)
	CountCreatedSince(ctx context.Context, userID int64, since time.Time) (int64, error)
	RecentUploads(ctx context.Context, userID int64, limit int) ([]*models.Document, error)
}
