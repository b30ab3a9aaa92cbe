// Package documents provides PostgreSQL-backed persistence for documents
// and their immutable version chains.
package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// PostgresRepository implements document storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const documentColumns = `id, owner_user_id, filename, original_filename, stored_name,
	storage_path, size_bytes, integrity_tag, mime_type, ocr_text,
	is_favorite, is_deleted, deleted_at, created_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	err := row.Scan(
		&d.ID, &d.OwnerUserID, &d.Filename, &d.OriginalFilename, &d.StoredName,
		&d.StoragePath, &d.SizeBytes, &d.IntegrityTag, &d.MimeType, &d.OCRText,
		&d.IsFavorite, &d.IsDeleted, &d.DeletedAt, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *PostgresRepository) queryDocuments(ctx context.Context, query string, args ...any) ([]*models.Document, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CreateWithVersion inserts the document row, then its version 1. The
// caller wraps this in a transaction so both rows appear together.
func (r *PostgresRepository) CreateWithVersion(ctx context.Context, doc *models.Document, note string) error {
	query := `
		INSERT INTO documents (owner_user_id, filename, original_filename, stored_name,
			storage_path, size_bytes, integrity_tag, mime_type, ocr_text, is_favorite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', FALSE)
		RETURNING id, created_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		doc.OwnerUserID, doc.Filename, doc.OriginalFilename, doc.StoredName,
		doc.StoragePath, doc.SizeBytes, doc.IntegrityTag, doc.MimeType,
	).Scan(&doc.ID, &doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	versionQuery := `
		INSERT INTO document_versions (document_id, version_number, storage_path, size_bytes, integrity_tag, mime_type, note)
		VALUES ($1, 1, $2, $3, $4, $5, $6);
	`
	_, err = r.db.ExecContext(ctx, versionQuery,
		doc.ID, doc.StoragePath, doc.SizeBytes, doc.IntegrityTag, doc.MimeType, note)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetForUser(ctx context.Context, userID, docID int64) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE owner_user_id=$1 AND id=$2;`
	d, err := scanDocument(r.db.QueryRowContext(ctx, query, userID, docID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := r.loadCategories(ctx, userID, []*models.Document{d}); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID int64) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE owner_user_id=$1 AND NOT is_deleted ORDER BY created_at DESC, id DESC;`
	docs, err := r.queryDocuments(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	if err := r.loadCategories(ctx, userID, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// ListSearchCandidates returns active documents together with their latest
// activity timestamp (creation or newest version append).
func (r *PostgresRepository) ListSearchCandidates(ctx context.Context, userID int64) ([]*Candidate, error) {
	query := `
		SELECT d.id, d.owner_user_id, d.filename, d.original_filename, d.stored_name,
			d.storage_path, d.size_bytes, d.integrity_tag, d.mime_type, d.ocr_text,
			d.is_favorite, d.is_deleted, d.deleted_at, d.created_at,
			GREATEST(d.created_at, COALESCE(MAX(v.created_at), d.created_at)) AS last_updated
		FROM documents d
		LEFT JOIN document_versions v ON v.document_id = d.id
		WHERE d.owner_user_id=$1 AND NOT d.is_deleted
		GROUP BY d.id
		ORDER BY d.id;
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select search candidates: %w", err)
	}
	defer rows.Close()

	var result []*Candidate
	for rows.Next() {
		var d models.Document
		var last time.Time
		if err := rows.Scan(
			&d.ID, &d.OwnerUserID, &d.Filename, &d.OriginalFilename, &d.StoredName,
			&d.StoragePath, &d.SizeBytes, &d.IntegrityTag, &d.MimeType, &d.OCRText,
			&d.IsFavorite, &d.IsDeleted, &d.DeletedAt, &d.CreatedAt, &last,
		); err != nil {
			return nil, err
		}
		result = append(result, &Candidate{Document: &d, LastUpdated: last})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// loadCategories attaches category ids and names to the given documents.
// Keyword glossaries stay encrypted at rest and are not read here; callers
// that need them go through the categories repository.
func (r *PostgresRepository) loadCategories(ctx context.Context, userID int64, docs []*models.Document) error {
	if len(docs) == 0 {
		return nil
	}
	byID := make(map[int64]*models.Document, len(docs))
	for _, d := range docs {
		d.Categories = []*models.Category{}
		byID[d.ID] = d
	}

	query := `
		SELECT dc.document_id, c.id, c.user_id, c.name
		FROM document_categories dc
		JOIN categories c ON c.id = dc.category_id
		JOIN documents d ON d.id = dc.document_id
		WHERE d.owner_user_id = $1
		ORDER BY dc.document_id, c.id;
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to select document categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var docID int64
		var c models.Category
		if err := rows.Scan(&docID, &c.ID, &c.UserID, &c.Name); err != nil {
			return err
		}
		if d, ok := byID[docID]; ok {
			d.Categories = append(d.Categories, &c)
		}
	}
	return rows.Err()
}

func (r *PostgresRepository) UpdateFilename(ctx context.Context, userID, docID int64, filename string) error {
	query := `UPDATE documents SET filename=$3 WHERE owner_user_id=$1 AND id=$2 AND NOT is_deleted;`
	res, err := r.db.ExecContext(ctx, query, userID, docID, filename)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, docID)
}

func (r *PostgresRepository) SetFavorite(ctx context.Context, userID, docID int64, favorite bool) error {
	query := `UPDATE documents SET is_favorite=$3 WHERE owner_user_id=$1 AND id=$2 AND NOT is_deleted;`
	res, err := r.db.ExecContext(ctx, query, userID, docID, favorite)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, docID)
}

// SetOCRText writes back the encrypted extraction result. Not owner-scoped:
// the OCR pipeline holds a document id it already loaded owner-scoped.
func (r *PostgresRepository) SetOCRText(ctx context.Context, docID int64, encryptedText string) error {
	query := `UPDATE documents SET ocr_text=$2 WHERE id=$1;`
	res, err := r.db.ExecContext(ctx, query, docID, encryptedText)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, docID)
}

func (r *PostgresRepository) SoftDelete(ctx context.Context, userID, docID int64, at time.Time) (bool, error) {
	query := `UPDATE documents SET is_deleted=TRUE, deleted_at=$3
		WHERE owner_user_id=$1 AND id=$2 AND NOT is_deleted;`
	res, err := r.db.ExecContext(ctx, query, userID, docID, at)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish "already in trash" from "no such document".
	var isDeleted bool
	err = r.db.QueryRowContext(ctx,
		`SELECT is_deleted FROM documents WHERE owner_user_id=$1 AND id=$2;`,
		userID, docID).Scan(&isDeleted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	}
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return false, nil
}

func (r *PostgresRepository) RestoreDeleted(ctx context.Context, userID, docID int64) error {
	query := `UPDATE documents SET is_deleted=FALSE, deleted_at=NULL
		WHERE owner_user_id=$1 AND id=$2 AND is_deleted;`
	res, err := r.db.ExecContext(ctx, query, userID, docID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, docID)
}

func (r *PostgresRepository) ListTrash(ctx context.Context, userID int64) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE owner_user_id=$1 AND is_deleted ORDER BY deleted_at DESC, id DESC;`
	return r.queryDocuments(ctx, query, userID)
}

func (r *PostgresRepository) ExpiredForPurge(ctx context.Context, cutoff time.Time, limit int) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE is_deleted AND deleted_at <= $1 ORDER BY deleted_at LIMIT $2;`
	return r.queryDocuments(ctx, query, cutoff, limit)
}

func (r *PostgresRepository) VersionLocations(ctx context.Context, docID int64) ([]string, error) {
	query := `SELECT DISTINCT storage_path FROM document_versions WHERE document_id=$1;`
	rows, err := r.db.QueryContext(ctx, query, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to select version locations: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

// DeleteHard removes the document row; versions and category links go with
// it via FK cascade.
func (r *PostgresRepository) DeleteHard(ctx context.Context, docID int64) error {
	query := `DELETE FROM documents WHERE id=$1;`
	res, err := r.db.ExecContext(ctx, query, docID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, docID)
}

func (r *PostgresRepository) FindByTag(ctx context.Context, userID int64, tag string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE owner_user_id=$1 AND integrity_tag=$2 AND NOT is_deleted
		ORDER BY id LIMIT 1;`
	d, err := scanDocument(r.db.QueryRowContext(ctx, query, userID, tag))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) FindByNameSize(ctx context.Context, userID int64, filename string, size int64) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE owner_user_id=$1 AND LOWER(filename)=LOWER($2) AND size_bytes=$3 AND NOT is_deleted
		ORDER BY id LIMIT 1;`
	d, err := scanDocument(r.db.QueryRowContext(ctx, query, userID, filename, size))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// AddVersion appends the next version and mirrors its storage fields onto
// the document in the same transaction. The version number is assigned by
// the database; a concurrent append loses the UNIQUE(document_id,
// version_number) race and surfaces as a unique violation the caller
// retries.
func (r *PostgresRepository) AddVersion(ctx context.Context, v *models.DocumentVersion) (int, error) {
	query := `
		INSERT INTO document_versions (document_id, version_number, storage_path, size_bytes, integrity_tag, mime_type, note)
		SELECT $1, COALESCE(MAX(version_number), 0) + 1, $2, $3, $4, $5, $6
		FROM document_versions WHERE document_id = $1
		RETURNING id, version_number, created_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		v.DocumentID, v.StoragePath, v.SizeBytes, v.IntegrityTag, v.MimeType, v.Note,
	).Scan(&v.ID, &v.VersionNumber, &v.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	mirror := `UPDATE documents SET storage_path=$2, size_bytes=$3, integrity_tag=$4, mime_type=$5 WHERE id=$1;`
	res, err := r.db.ExecContext(ctx, mirror,
		v.DocumentID, v.StoragePath, v.SizeBytes, v.IntegrityTag, v.MimeType)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if err := requireOneRow(res, v.DocumentID); err != nil {
		return 0, err
	}
	return v.VersionNumber, nil
}

func (r *PostgresRepository) ListVersions(ctx context.Context, userID, docID int64) ([]*models.DocumentVersion, error) {
	query := `
		SELECT v.id, v.document_id, v.version_number, v.storage_path, v.size_bytes, v.integrity_tag, v.mime_type, v.note, v.created_at
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id
		WHERE d.owner_user_id=$1 AND v.document_id=$2
		ORDER BY v.version_number DESC;
	`
	rows, err := r.db.QueryContext(ctx, query, userID, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to select versions: %w", err)
	}
	defer rows.Close()

	var result []*models.DocumentVersion
	for rows.Next() {
		var v models.DocumentVersion
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.VersionNumber, &v.StoragePath,
			&v.SizeBytes, &v.IntegrityTag, &v.MimeType, &v.Note, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetVersion(ctx context.Context, userID, docID int64, versionNumber int) (*models.DocumentVersion, error) {
	query := `
		SELECT v.id, v.document_id, v.version_number, v.storage_path, v.size_bytes, v.integrity_tag, v.mime_type, v.note, v.created_at
		FROM document_versions v
		JOIN documents d ON d.id = v.document_id
		WHERE d.owner_user_id=$1 AND v.document_id=$2 AND v.version_number=$3;
	`
	var v models.DocumentVersion
	err := r.db.QueryRowContext(ctx, query, userID, docID, versionNumber).Scan(
		&v.ID, &v.DocumentID, &v.VersionNumber, &v.StoragePath,
		&v.SizeBytes, &v.IntegrityTag, &v.MimeType, &v.Note, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: version %d of document %d", common.ErrorNotFound, versionNumber, docID)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &v, nil
}

// AssignCategories replaces the document's category links with the given
// set. Run it inside a transaction.
func (r *PostgresRepository) AssignCategories(ctx context.Context, docID int64, categoryIDs []int64) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM document_categories WHERE document_id=$1;`, docID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, catID := range categoryIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO document_categories (document_id, category_id) VALUES ($1, $2) ON CONFLICT DO NOTHING;`,
			docID, catID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) CountActive(ctx context.Context, userID int64) (int64, error) {
	return r.scalarInt64(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner_user_id=$1 AND NOT is_deleted;`, userID)
}

func (r *PostgresRepository) StorageUsed(ctx context.Context, userID int64) (int64, error) {
	return r.scalarInt64(ctx,
		`SELECT COALESCE(SUM(size_bytes), 0) FROM documents WHERE owner_user_id=$1 AND NOT is_deleted;`, userID)
}

func (r *PostgresRepository) CountCreatedSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	return r.scalarInt64(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner_user_id=$1 AND NOT is_deleted AND created_at >= $2;`,
		userID, since)
}

func (r *PostgresRepository) RecentUploads(ctx context.Context, userID int64, limit int) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE owner_user_id=$1 AND NOT is_deleted ORDER BY created_at DESC, id DESC LIMIT $2;`
	return r.queryDocuments(ctx, query, userID, limit)
}

func (r *PostgresRepository) scalarInt64(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func requireOneRow(res sql.Result, docID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%w: document %d", common.ErrorNotFound, docID)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
