package secrets

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

const secretColumns = `id, vault_id, service, username, ciphertext, integrity_hash,
	owner_name, owner_id, is_private, deleted, synced, key_state, cloud_id, updated_at, version`

func scanSecret(scan func(dest ...any) error) (*models.Secret, error) {
	s := &models.Secret{}
	var updatedAt int64
	err := scan(&s.ID, &s.VaultID, &s.Service, &s.Username, &s.Ciphertext, &s.IntegrityHash,
		&s.OwnerName, &s.OwnerID, &s.IsPrivate, &s.Deleted, &s.Synced, &s.KeyState,
		&s.CloudID, &updatedAt, &s.Version)
	if err != nil {
		return nil, err
	}
	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return s, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, s *models.Secret) (int64, error) {
	query := `INSERT INTO secrets (vault_id, service, username, ciphertext, integrity_hash,
		owner_name, owner_id, is_private, deleted, synced, key_state, cloud_id, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		s.VaultID, s.Service, s.Username, s.Ciphertext, s.IntegrityHash,
		s.OwnerName, s.OwnerID, s.IsPrivate, s.Deleted, s.Synced, s.KeyState,
		s.CloudID, s.UpdatedAt.Unix(), s.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert secret: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}
	s.ID = id
	return id, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, s *models.Secret) error {
	query := `UPDATE secrets SET vault_id = ?, service = ?, username = ?, ciphertext = ?,
		integrity_hash = ?, owner_name = ?, owner_id = ?, is_private = ?, deleted = ?,
		synced = ?, key_state = ?, cloud_id = ?, updated_at = ?, version = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query,
		s.VaultID, s.Service, s.Username, s.Ciphertext, s.IntegrityHash,
		s.OwnerName, s.OwnerID, s.IsPrivate, s.Deleted, s.Synced, s.KeyState,
		s.CloudID, s.UpdatedAt.Unix(), s.Version, s.ID)
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
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

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg any) (*models.Secret, error) {
	row := r.db.QueryRowContext(ctx, query, arg)
	s, err := scanSecret(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan secret: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id int64) (*models.Secret, error) {
	return r.getOne(ctx, `SELECT `+secretColumns+` FROM secrets WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetByCloudID(ctx context.Context, cloudID string) (*models.Secret, error) {
	return r.getOne(ctx, `SELECT `+secretColumns+` FROM secrets WHERE cloud_id = ?`, cloudID)
}

func (r *SQLiteRepository) listQuery(ctx context.Context, query string, args ...any) ([]models.Secret, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select secrets: %w", err)
	}
	defer rows.Close()

	var result []models.Secret
	for rows.Next() {
		s, err := scanSecret(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) List(ctx context.Context, owner string, includeDeleted bool) ([]models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE (is_private = 0 OR owner_name = ?)`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	return r.listQuery(ctx, query, owner)
}

func (r *SQLiteRepository) ListByVault(ctx context.Context, vaultID string) ([]models.Secret, error) {
	return r.listQuery(ctx, `SELECT `+secretColumns+` FROM secrets WHERE vault_id = ? AND deleted = 0`, vaultID)
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context) ([]models.Secret, error) {
	return r.listQuery(ctx, `SELECT `+secretColumns+` FROM secrets WHERE synced = 0`)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64, cloudID string, version int64) error {
	// The remote identity is recorded unconditionally so a follow-up push
	// updates the existing remote row instead of inserting a duplicate.
	_, err := r.db.ExecContext(ctx,
		`UPDATE secrets SET cloud_id = ? WHERE id = ?`, cloudID, id)
	if err != nil {
		return fmt.Errorf("failed to record cloud id: %w", err)
	}
	// The clean flag is guarded by the version that was pushed: an edit
	// landing mid-push bumps the version, the guard fails, and the row
	// stays dirty for the next cycle.
	_, err = r.db.ExecContext(ctx,
		`UPDATE secrets SET synced = 1 WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("failed to mark secret synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SoftDelete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE secrets SET deleted = 1, synced = 0, version = version + 1, updated_at = ? WHERE id = ? AND deleted = 0`,
		time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to soft-delete secret: %w", err)
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

func (r *SQLiteRepository) Purge(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to purge secret: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) PurgeForeignPrivate(ctx context.Context, owner string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM secrets WHERE is_private = 1 AND owner_name != ?`, owner)
	if err != nil {
		return 0, fmt.Errorf("failed to purge foreign private secrets: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) RemapOwner(ctx context.Context, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE secrets SET owner_id = ? WHERE owner_id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap secret owner: %w", err)
	}
	return nil
}
