// Package categories provides PostgreSQL-backed persistence for per-user
// categories and their keyword glossaries.
package categories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/dbx"
	"github.com/dmitrijs2005/docvault/internal/server/models"
)

// PostgresRepository implements category storage over a dbx.DBTX. Keyword
// glossaries are encrypted before they reach the database and decrypted on
// the way out; rows written before encryption was introduced pass through
// unchanged.
type PostgresRepository struct {
	db  dbx.DBTX
	env *cryptox.Envelope
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX, env *cryptox.Envelope) *PostgresRepository {
	return &PostgresRepository{db: db, env: env}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Category) error {
	enc, err := r.env.EncryptText(c.Keywords)
	if err != nil {
		return fmt.Errorf("encrypt keywords: %w", err)
	}
	query := `INSERT INTO categories (user_id, name, keywords) VALUES ($1, $2, $3) RETURNING id;`
	err = r.db.QueryRowContext(ctx, query, c.UserID, c.Name, enc).Scan(&c.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: category %q already exists", common.ErrorValidation, c.Name)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID int64) ([]*models.Category, error) {
	query := `SELECT id, user_id, name, keywords FROM categories WHERE user_id=$1 ORDER BY id;`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select categories: %w", err)
	}
	defer rows.Close()

	var result []*models.Category
	for rows.Next() {
		var c models.Category
		var keywords sql.NullString
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &keywords); err != nil {
			return nil, err
		}
		if c.Keywords, err = r.env.DecryptText(keywords.String); err != nil {
			return nil, fmt.Errorf("decrypt keywords for category %d: %w", c.ID, err)
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetForUser(ctx context.Context, userID, catID int64) (*models.Category, error) {
	query := `SELECT id, user_id, name, keywords FROM categories WHERE user_id=$1 AND id=$2;`
	var c models.Category
	var keywords sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID, catID).Scan(&c.ID, &c.UserID, &c.Name, &keywords)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: category %d", common.ErrorNotFound, catID)
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if c.Keywords, err = r.env.DecryptText(keywords.String); err != nil {
		return nil, fmt.Errorf("decrypt keywords for category %d: %w", c.ID, err)
	}
	return &c, nil
}

func (r *PostgresRepository) UpdateKeywords(ctx context.Context, userID, catID int64, keywords string) error {
	enc, err := r.env.EncryptText(keywords)
	if err != nil {
		return fmt.Errorf("encrypt keywords: %w", err)
	}
	query := `UPDATE categories SET keywords=$3 WHERE user_id=$1 AND id=$2;`
	res, err := r.db.ExecContext(ctx, query, userID, catID, enc)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, catID)
}

func (r *PostgresRepository) Rename(ctx context.Context, userID, catID int64, name string) error {
	query := `UPDATE categories SET name=$3 WHERE user_id=$1 AND id=$2;`
	res, err := r.db.ExecContext(ctx, query, userID, catID, name)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: category %q already exists", common.ErrorValidation, name)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, catID)
}

// Delete removes the category; document links go with it via FK cascade.
func (r *PostgresRepository) Delete(ctx context.Context, userID, catID int64) error {
	query := `DELETE FROM categories WHERE user_id=$1 AND id=$2;`
	res, err := r.db.ExecContext(ctx, query, userID, catID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireOneRow(res, catID)
}

func requireOneRow(res sql.Result, catID int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%w: category %d", common.ErrorNotFound, catID)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}
