// Package pendinguploads provides PostgreSQL-backed persistence for
// token-addressed upload staging records.
package pendinguploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// PostgresRepository implements staging-record storage over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.PendingUpload) error {
	query := `
		INSERT INTO pending_uploads (owner_user_id, token, purpose, context_document_id,
			original_filename, mime_type, size_bytes, integrity_tag, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at;
	`
	err := r.db.QueryRowContext(ctx, query,
		p.OwnerUserID, p.Token, p.Purpose, p.ContextDocumentID,
		p.OriginalFilename, p.MimeType, p.SizeBytes, p.IntegrityTag, p.StoragePath,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, userID int64, token string, purpose models.UploadPurpose) (*models.PendingUpload, error) {
	query := `
		SELECT id, owner_user_id, token, purpose, context_document_id,
			original_filename, mime_type, size_bytes, integrity_tag, storage_path, created_at
		FROM pending_uploads
		WHERE owner_user_id=$1 AND token=$2 AND ($3 = '' OR purpose=$3);
	`
	var p models.PendingUpload
	err := r.db.QueryRowContext(ctx, query, userID, token, string(purpose)).Scan(
		&p.ID, &p.OwnerUserID, &p.Token, &p.Purpose, &p.ContextDocumentID,
		&p.OriginalFilename, &p.MimeType, &p.SizeBytes, &p.IntegrityTag, &p.StoragePath, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pending upload %s", common.ErrorNotFound, token)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID int64, token string) error {
	query := `DELETE FROM pending_uploads WHERE owner_user_id=$1 AND token=$2;`
	res, err := r.db.ExecContext(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: pending upload %s", common.ErrorNotFound, token)
	}
	return nil
}
