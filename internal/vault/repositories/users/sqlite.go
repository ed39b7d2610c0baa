package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/dbx"
	"github.com/akorchagin/passvault/internal/vault/models"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const userColumns = `id, username, role, verifier, salt, kdf_algorithm, kdf_iterations, personal_key_wrap, active, synced, updated_at`

func (r *SQLiteRepository) scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var updatedAt int64
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.Verifier, &u.Salt,
		&u.KDFAlgorithm, &u.KDFIterations, &u.PersonalKeyWrap, &u.Active, &u.Synced, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return u, nil
}

func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteRepository) Create(ctx context.Context, u *models.User) error {
	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Username, u.Role, u.Verifier, u.Salt,
		u.KDFAlgorithm, u.KDFIterations, u.PersonalKeyWrap, u.Active, u.Synced, u.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, u *models.User) error {
	query := `UPDATE users SET role = ?, verifier = ?, salt = ?, kdf_algorithm = ?,
		kdf_iterations = ?, personal_key_wrap = ?, active = ?, synced = ?, updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		u.Role, u.Verifier, u.Salt, u.KDFAlgorithm, u.KDFIterations,
		u.PersonalKeyWrap, u.Active, u.Synced, u.UpdatedAt.Unix(), u.ID)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) RemapID(ctx context.Context, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET id = ?, synced = 1 WHERE id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap user id: %w", err)
	}
	return nil
}
