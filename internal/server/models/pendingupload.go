package models

import "time"

// DuplicateReason classifies how an upload matched an existing document.
type DuplicateReason string

const (
	// DuplicateBySHA256: exact integrity-tag equality. Strong signal.
	DuplicateBySHA256 DuplicateReason = "sha256"
	// DuplicateByNameSize: case-insensitive filename plus exact byte size.
	// Weak signal, used when no tag match exists.
	DuplicateByNameSize DuplicateReason = "name_size"
)

// UploadPurpose scopes a pending upload to the flow that staged it.
type UploadPurpose string

const (
	PurposeDocumentUpload UploadPurpose = "document_upload"
	PurposeVersionUpload  UploadPurpose = "version_upload"
)

// PendingUpload is a transient, token-addressed staging record for a blob
// whose duplicate status awaits a user decision. The blob is stored
// encrypted like any other; the record is deleted exactly once on
// consumption or discard.
type PendingUpload struct {
	ID          int64
	OwnerUserID int64

	Token   string
	Purpose UploadPurpose

	// ContextDocumentID is the target document for version-upload
	// duplicates; nil for plain document uploads.
	ContextDocumentID *int64

	OriginalFilename string
	MimeType         string
	SizeBytes        int64
	IntegrityTag     string
	StoragePath      string

	CreatedAt time.Time
}
