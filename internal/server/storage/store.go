// Package storage provides the blob backends holding encrypted document
// content: a local filesystem store laid out as
// <files_root>/<owner_user_id>/<opaque_token>, and an S3-compatible store
// using users/<owner_user_id>/<opaque_token> keys. Blobs arrive already
// encrypted; the backends never see plaintext.
package storage

import "context"

// Locator carries the persisted addressing fields of a blob. StoragePath is
// the recorded location, which on old rows may be relative, absolute, or
// use foreign path separators; StoredName is the opaque token and serves as
// the last-resort candidate under the owner's directory.
type Locator struct {
	StoragePath string
	StoredName  string
}

// BlobStore stores and retrieves encrypted blobs per owner. The owner id
// partitions storage per tenant — it simplifies quota and cleanup but is
// never a security boundary by itself; ownership checks stay mandatory in
// the ledger.
type BlobStore interface {
	// Save writes data under a fresh collision-free token for userID and
	// returns the token and the location to persist.
	Save(ctx context.Context, userID int64, data []byte) (token string, location string, err error)

	// Load reads the blob addressed by loc, resolving legacy path
	// encodings defensively. Returns common.ErrorNotFound when no
	// candidate exists.
	Load(ctx context.Context, userID int64, loc Locator) ([]byte, error)

	// Copy duplicates the blob at src under a fresh token, never aliasing
	// the source. Used by version restore so history stays immutable.
	Copy(ctx context.Context, userID int64, src Locator) (token string, location string, err error)

	// Remove deletes the blob addressed by loc. Missing blobs yield
	// common.ErrorNotFound, which purge callers treat as already-done.
	Remove(ctx context.Context, userID int64, loc Locator) error
}
