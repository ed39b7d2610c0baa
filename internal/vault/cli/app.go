// Package cli implements the interactive passvault shell: authentication,
// record management, sharing, synchronization and backups, driven by a
// small REPL.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/akorchagin/passvault/internal/logging"
	"github.com/akorchagin/passvault/internal/ratelimit"
	"github.com/akorchagin/passvault/internal/vault/config"
	"github.com/akorchagin/passvault/internal/vault/remote"
	"github.com/akorchagin/passvault/internal/vault/services"

	_ "modernc.org/sqlite"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

type App struct {
	config  *config.Config
	log     logging.Logger
	db      *sql.DB
	remote  remote.Client
	session *services.Session
	secrets *services.Secrets
	syncer  *services.Syncer
	backup  *services.Backup
	reader  *bufio.Reader
	Mode    Mode
}

func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	db, err := services.InitDatabase(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	deviceID, err := services.EnsureDeviceID(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("device id: %w", err)
	}
	device := fmt.Sprintf("%s-%s", c.DeviceName, deviceID)

	limiter := ratelimit.New(c.UnlockAttempts, c.UnlockWindow)
	session := services.NewSession(db, limiter, log, device)
	secrets := services.NewSecrets(db, session, log)

	app := &App{
		config:  c,
		log:     log,
		db:      db,
		session: session,
		secrets: secrets,
		reader:  bufio.NewReader(os.Stdin),
		Mode:    ModeDisabled,
	}

	if c.RemoteAddr != "" {
		rc, err := remote.NewRESTClient(c.RemoteAddr, c.ServiceKey)
		if err != nil {
			return nil, fmt.Errorf("remote client: %w", err)
		}
		app.remote = rc
		app.syncer = services.NewSyncer(db, rc, session, secrets, log, device)
		app.Mode = ModeOffline
	}

	if c.Backup.Bucket != "" {
		b, err := services.NewBackup(ctx, db, session, services.BackupOptions{
			Endpoint:        c.Backup.Endpoint,
			Region:          c.Backup.Region,
			Bucket:          c.Backup.Bucket,
			AccessKeyID:     c.Backup.AccessKeyID,
			SecretAccessKey: c.Backup.SecretAccessKey,
		}, log, device)
		if err != nil {
			return nil, fmt.Errorf("backup store: %w", err)
		}
		app.backup = b
	}

	return app, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.Close(ctx)

	if a.syncer != nil && a.config.SyncInterval > 0 {
		go a.startBackgroundSync(ctx, a.config.SyncInterval)
	}

	a.Root(ctx)
}

func (a *App) Close(ctx context.Context) {
	a.session.Lock(ctx)
	if a.remote != nil {
		_ = a.remote.Close()
	}
	_ = a.db.Close()
}

func (a *App) setMode(mode Mode) {
	if a.Mode != mode && a.Mode != ModeDisabled {
		a.Mode = mode
		fmt.Printf("(switched to %s mode)\n", mode)
	}
}

// startBackgroundSync runs the reconciliation cycle periodically while a
// session is unlocked, and doubles as the online/offline probe.
func (a *App) startBackgroundSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := a.remote.Ping(probeCtx)
			cancel()
			if err != nil {
				a.setMode(ModeOffline)
				continue
			}
			a.setMode(ModeOnline)

			if !a.session.Unlocked() {
				continue
			}
			if _, err := a.syncer.Run(ctx); err != nil {
				a.log.Warn(ctx, "background sync failed", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
