package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/akorchagin/passvault/internal/vault/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE security_audit (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp INTEGER NOT NULL,
  user_name TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  action TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'SUCCESS',
  details TEXT NOT NULL DEFAULT '',
  device_info TEXT NOT NULL DEFAULT '',
  synced INTEGER NOT NULL DEFAULT 0
);
`)
	require.NoError(t, err)
	return db
}

func event(action string) *models.AuditEvent {
	return &models.AuditEvent{
		Timestamp:  time.Now().UTC(),
		UserName:   "ALICE",
		UserID:     "uid-1",
		Action:     action,
		Status:     "SUCCESS",
		DeviceInfo: "test-host",
	}
}

func TestAppendAndPending(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e1 := event(models.AuditActionUnlock)
	require.NoError(t, r.Append(ctx, e1))
	require.NotZero(t, e1.ID)

	e2 := event(models.AuditActionSync)
	require.NoError(t, r.Append(ctx, e2))

	pending, err := r.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, r.MarkSynced(ctx, []int64{e1.ID}))

	pending, err = r.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, e2.ID, pending[0].ID)
}

func TestMarkSynced_EmptyIsNoop(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, r.MarkSynced(context.Background(), nil))
}

func TestRemapUser(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	e := event(models.AuditActionUnlock)
	e.UserID = "local-id"
	require.NoError(t, r.Append(ctx, e))

	require.NoError(t, r.RemapUser(ctx, "local-id", "remote-id"))

	list, err := r.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "remote-id", list[0].UserID)
}
