package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

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

func (r *SQLiteRepository) Append(ctx context.Context, e *models.AuditEvent) error {
	query := `INSERT INTO security_audit (timestamp, user_name, user_id, action, status, details, device_info, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		e.Timestamp.Unix(), e.UserName, e.UserID, e.Action, e.Status, e.Details, e.DeviceInfo, e.Synced)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert id: %w", err)
	}
	e.ID = id
	return nil
}

func (r *SQLiteRepository) list(ctx context.Context, query string, args ...any) ([]models.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select audit events: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.UserName, &e.UserID, &e.Action, &e.Status, &e.Details, &e.DeviceInfo, &e.Synced); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

const auditColumns = `id, timestamp, user_name, user_id, action, status, details, device_info, synced`

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM security_audit ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

func (r *SQLiteRepository) ListPending(ctx context.Context) ([]models.AuditEvent, error) {
	return r.list(ctx, `SELECT `+auditColumns+` FROM security_audit WHERE synced = 0 ORDER BY id`)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE security_audit SET synced = 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to mark audit events synced: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) RemapUser(ctx context.Context, oldID, newID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE security_audit SET user_id = ? WHERE user_id = ?`, newID, oldID)
	if err != nil {
		return fmt.Errorf("failed to remap audit user: %w", err)
	}
	return nil
}
