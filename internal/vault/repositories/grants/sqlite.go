package grants

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

func (r *SQLiteRepository) Get(ctx context.Context, vaultID, userID string) (*models.Grant, error) {
	query := `SELECT vault_id, user_id, wrapped_master_key, access_level, updated_at, synced
		FROM vault_access WHERE vault_id = ? AND user_id = ?`
	g := &models.Grant{}
	var updatedAt int64
	err := r.db.QueryRowContext(ctx, query, vaultID, userID).
		Scan(&g.VaultID, &g.UserID, &g.WrappedMasterKey, &g.AccessLevel, &updatedAt, &g.Synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select grant: %w", err)
	}
	g.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return g, nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, arg any) ([]models.Grant, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to select grants: %w", err)
	}
	defer rows.Close()

	var result []models.Grant
	for rows.Next() {
		var g models.Grant
		var updatedAt int64
		if err := rows.Scan(&g.VaultID, &g.UserID, &g.WrappedMasterKey, &g.AccessLevel, &updatedAt, &g.Synced); err != nil {
			return nil, err
		}
		g.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]models.Grant, error) {
	return r.list(ctx, `SELECT vault_id, user_id, wrapped_master_key, access_level, updated_at, synced
		FROM vault_access WHERE user_id = ?`, userID)
}

func (r *SQLiteRepository) ListByVault(ctx context.Context, vaultID string) ([]models.Grant, error) {
	return r.list(ctx, `SELECT vault_id, user_id, wrapped_master_key, access_level, updated_at, synced
		FROM vault_access WHERE vault_id = ?`, vaultID)
}

func (r *SQLiteRepository) Upsert(ctx context.Context, g *models.Grant) error {
	query := `INSERT INTO vault_access (vault_id, user_id, wrapped_master_key, access_level, updated_at, synced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(vault_id, user_id) DO UPDATE SET
			wrapped_master_key = excluded.wrapped_master_key,
			access_level = excluded.access_level,
			updated_at = excluded.updated_at,
			synced = excluded.synced`
	_, err := r.db.ExecContext(ctx, query,
		g.VaultID, g.UserID, g.WrappedMasterKey, g.AccessLevel, g.UpdatedAt.Unix(), g.Synced)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, vaultID, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM vault_access WHERE vault_id = ? AND user_id = ?`, vaultID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
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

func (r *SQLiteRepository) CountAdmins(ctx context.Context, vaultID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vault_access WHERE vault_id = ? AND access_level = ?`,
		vaultID, models.RoleAdmin).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count admin grants: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) RemapUser(ctx context.Context, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE vault_access SET user_id = ? WHERE user_id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap grant user: %w", err)
	}
	return nil
}
