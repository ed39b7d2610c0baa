// Package services implements the application core on top of the
// repositories: session and key hierarchy management, the secret record
// codec, the sync reconciliation engine, and encrypted snapshot backups.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/filex"
	"github.com/akorchagin/passvault/internal/vault/migrations"
	"github.com/akorchagin/passvault/internal/vault/repositories/metadata"
	"github.com/pressly/goose/v3"
)

// InitDatabase opens the local store at dsn and applies pending migrations.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	if err := filex.EnsureParentDir(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// RunMigrations applies the embedded goose migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// EnsureDeviceID returns this installation's stable identifier, generating
// and persisting one on first use. It survives config renames, so audit
// entries from the same store stay attributable.
func EnsureDeviceID(ctx context.Context, db *sql.DB) (string, error) {
	meta := metadata.NewSQLiteRepository(db)

	v, err := meta.Get(ctx, metadata.KeyDeviceID)
	if err != nil {
		return "", err
	}
	if v != nil {
		return string(v), nil
	}

	id, err := common.MakeRandHexString(4)
	if err != nil {
		return "", fmt.Errorf("generate device id: %w", err)
	}
	if err := meta.Set(ctx, metadata.KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}
