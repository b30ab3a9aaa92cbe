// Package models defines the persisted data model of the document vault.
package models

import "time"

// Document is one logical, user-visible file. Its storage/size/tag/mime
// fields mirror the highest-numbered version by construction: add_version
// overwrites them in the same transaction that inserts the version row.
type Document struct {
	ID          int64
	OwnerUserID int64

	// Filename is the mutable, user-controlled display name.
	Filename string
	// OriginalFilename is the immutable name from the first upload,
	// used for download naming and OCR format dispatch.
	OriginalFilename string
	// StoredName is the opaque internal storage token. Unique, never
	// shown to users.
	StoredName string

	// Current-version mirror fields.
	StoragePath  string
	SizeBytes    int64
	IntegrityTag string
	MimeType     string

	// OCRText is the encrypted plaintext extracted from the current
	// version ("" until OCR completes or when extraction yields nothing).
	OCRText string

	IsFavorite bool
	IsDeleted  bool
	DeletedAt  *time.Time

	CreatedAt time.Time

	// Categories is populated by owner-scoped eager loads; nil when the
	// query did not ask for associations.
	Categories []*Category
}

// DocumentVersion is one immutable row of a document's version chain.
// Rows are never deleted by soft-delete or rename; only a full document
// purge removes them (via FK cascade).
type DocumentVersion struct {
	ID         int64
	DocumentID int64

	// VersionNumber starts at 1 and increases without gaps per document.
	VersionNumber int

	StoragePath  string
	SizeBytes    int64
	IntegrityTag string
	MimeType     string

	// Note is a human annotation: "Initial upload", "Renamed to X",
	// "Restored from v3".
	Note string

	CreatedAt time.Time
}
