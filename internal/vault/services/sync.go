package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/dbx"
	"github.com/akorchagin/passvault/internal/logging"
	"github.com/akorchagin/passvault/internal/vault/models"
	"github.com/akorchagin/passvault/internal/vault/remote"
	"github.com/akorchagin/passvault/internal/vault/repositories/audit"
	"github.com/akorchagin/passvault/internal/vault/repositories/grants"
	"github.com/akorchagin/passvault/internal/vault/repositories/metadata"
	"github.com/akorchagin/passvault/internal/vault/repositories/secrets"
	"github.com/akorchagin/passvault/internal/vault/repositories/users"
)

// Syncer reconciles the local store with the remote collaborator:
// identity resolution and remapping, push of dirty records and tombstones,
// pull of remote deltas past the watermark, privacy-boundary enforcement,
// and audit upload. The cycle is idempotent: re-running it after a crash
// converges instead of duplicating.
type Syncer struct {
	db      *sql.DB
	remote  remote.Client
	session *Session
	secrets *Secrets
	log     logging.Logger
	device  string
}

func NewSyncer(db *sql.DB, rc remote.Client, session *Session, secretsSvc *Secrets, log logging.Logger, device string) *Syncer {
	return &Syncer{db: db, remote: rc, session: session, secrets: secretsSvc, log: log, device: device}
}

// Run executes one full reconciliation cycle. Transport errors abort the
// cycle and leave every affected record unsynced; the next cycle retries.
// No record is ever permanently abandoned.
func (s *Syncer) Run(ctx context.Context) (*models.SyncReport, error) {
	report := &models.SyncReport{}

	if !s.session.Unlocked() {
		return report, common.ErrVaultLocked
	}

	if err := s.remote.Ping(ctx); err != nil {
		report.Errors++
		return report, err
	}

	if err := s.ensureIdentity(ctx); err != nil {
		report.Errors++
		return report, err
	}

	if err := s.pushSecrets(ctx, report); err != nil {
		report.Errors++
		return report, err
	}
	if err := s.pushGrants(ctx); err != nil {
		report.Errors++
		return report, err
	}
	if err := s.pullGrants(ctx); err != nil {
		report.Errors++
		return report, err
	}
	if err := s.pullSecrets(ctx, report); err != nil {
		report.Errors++
		return report, err
	}
	if err := s.pushAudit(ctx); err != nil {
		report.Errors++
		return report, err
	}

	if _, err := s.secrets.RecheckLocked(ctx); err != nil {
		s.log.Warn(ctx, "locked record recheck failed", "error", err)
	}

	u, err := s.session.CurrentUser()
	if err != nil {
		return report, err
	}
	s.session.appendAudit(ctx, u, models.AuditActionSync, "SUCCESS",
		fmt.Sprintf("pushed=%d pulled=%d purged=%d conflicts=%d awaiting_key=%d",
			report.Pushed, report.Pulled, report.Purged, report.Conflicts, report.AwaitingKey))

	s.log.Info(ctx, "sync cycle complete",
		"pushed", report.Pushed, "pulled", report.Pulled, "purged", report.Purged,
		"conflicts", report.Conflicts, "awaiting_key", report.AwaitingKey)
	return report, nil
}

// ensureIdentity resolves the session account against the remote before
// anything is pushed. An account provisioned offline carries a placeholder
// id; on first contact the canonical remote id replaces it in every table
// in one transaction, so no later push is rejected by the remote
// uniqueness constraints.
func (s *Syncer) ensureIdentity(ctx context.Context) error {
	u, err := s.session.CurrentUser()
	if err != nil {
		return err
	}

	if !u.Synced {
		ru, err := s.remote.ResolveUser(ctx, u.Username)
		switch {
		case errors.Is(err, common.ErrNotFound):
			row := &remote.UserRow{
				ID:            u.ID,
				Username:      u.Username,
				Role:          string(u.Role),
				Verifier:      hex.EncodeToString(u.Verifier),
				Salt:          hex.EncodeToString(u.Salt),
				KDFAlgorithm:  u.KDFAlgorithm,
				KDFIterations: u.KDFIterations,
			}
			if err := s.remote.UpsertUser(ctx, row); err != nil {
				return err
			}
			u.Synced = true
			u.UpdatedAt = time.Now().UTC()
			if err := users.NewSQLiteRepository(s.db).Update(ctx, u); err != nil {
				return err
			}
			s.session.setUserID(u.ID)

		case err != nil:
			return err

		case ru.ID != u.ID:
			oldID, newID := u.ID, ru.ID
			err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
				if err := users.NewSQLiteRepository(tx).RemapID(ctx, oldID, newID); err != nil {
					return err
				}
				if err := grants.NewSQLiteRepository(tx).RemapUser(ctx, oldID, newID); err != nil {
					return err
				}
				if err := secrets.NewSQLiteRepository(tx).RemapOwner(ctx, oldID, newID); err != nil {
					return err
				}
				return audit.NewSQLiteRepository(tx).RemapUser(ctx, oldID, newID)
			})
			if err != nil {
				return err
			}
			s.session.setUserID(newID)
			u.ID = newID
			s.log.Info(ctx, "identity remapped", "username", u.Username, "old_id", oldID, "new_id", newID)

		default:
			u.Synced = true
			u.UpdatedAt = time.Now().UTC()
			if err := users.NewSQLiteRepository(s.db).Update(ctx, u); err != nil {
				return err
			}
			s.session.setUserID(u.ID)
		}
	}

	vaultID, err := s.session.DefaultVaultID(ctx)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	s.remote.SetIdentity(remote.Identity{
		Username: u.Username,
		UserID:   u.ID,
		VaultID:  vaultID,
		Role:     string(u.Role),
	})
	return nil
}

func secretToRow(rec *models.Secret) *remote.SecretRow {
	return &remote.SecretRow{
		ID:            rec.CloudID,
		VaultID:       rec.VaultID,
		Service:       rec.Service,
		Username:      rec.Username,
		Secret:        base64.StdEncoding.EncodeToString(rec.Ciphertext),
		IntegrityHash: rec.IntegrityHash,
		OwnerName:     rec.OwnerName,
		OwnerID:       rec.OwnerID,
		IsPrivate:     rec.IsPrivate,
		Deleted:       rec.Deleted,
		Version:       rec.Version,
		UpdatedAt:     rec.UpdatedAt.Unix(),
	}
}

// recordFromRow builds a local record from a remote row. It arrives with
// the locked marker; classifyRecord decides whether the keys in session
// open it. A record that cannot be opened (vault key not yet distributed
// here) is stored locked, never discarded.
func recordFromRow(row *remote.SecretRow) (*models.Secret, error) {
	blob, err := base64.StdEncoding.DecodeString(row.Secret)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext of %s: %w", row.ID, err)
	}

	return &models.Secret{
		VaultID:       row.VaultID,
		Service:       row.Service,
		Username:      row.Username,
		Ciphertext:    blob,
		IntegrityHash: row.IntegrityHash,
		OwnerName:     row.OwnerName,
		OwnerID:       row.OwnerID,
		IsPrivate:     row.IsPrivate,
		Synced:        true,
		KeyState:      models.KeyStateLocked,
		CloudID:       row.ID,
		UpdatedAt:     time.Unix(row.UpdatedAt, 0).UTC(),
		Version:       row.Version,
	}, nil
}

// classifyRecord attempts decryption under the available keys and clears
// the locked marker on success.
func classifyRecord(rec *models.Secret, u *models.User, personal []byte, vaultKeys map[string][]byte) {
	key, err := keyFor(rec, u, personal, vaultKeys)
	if err != nil {
		return
	}
	if _, err := openRecord(key, rec); err == nil {
		rec.KeyState = models.KeyStateOK
	}
}

// pushSecrets uploads every locally changed record: tombstones first issue
// the remote delete and are purged only after it succeeds; new records are
// inserted and adopt the generated remote id; edits are pushed by remote
// id. A transport error stops the loop with the remaining records left
// dirty for the next cycle.
func (s *Syncer) pushSecrets(ctx context.Context, report *models.SyncReport) error {
	list, err := newSecretsRepo(s.db).ListUnsynced(ctx)
	if err != nil {
		return err
	}

	for i := range list {
		rec := &list[i]
		if err := s.pushOne(ctx, rec, report); err != nil {
			if errors.Is(err, common.ErrTransport) {
				return err
			}
			report.Errors++
			s.log.Error(ctx, "push failed", "id", rec.ID, "service", rec.Service, "error", err)
		}
	}
	return nil
}

func (s *Syncer) pushOne(ctx context.Context, rec *models.Secret, report *models.SyncReport) error {
	repo := newSecretsRepo(s.db)

	switch {
	case rec.Deleted:
		if rec.CloudID != "" {
			if err := s.remote.DeleteSecret(ctx, rec.CloudID); err != nil {
				return err
			}
		}
		if err := repo.Purge(ctx, rec.ID); err != nil {
			return err
		}
		report.Pushed++

	case rec.CloudID == "":
		stored, err := s.remote.InsertSecret(ctx, secretToRow(rec))
		if errors.Is(err, common.ErrConflict) {
			report.Conflicts++
			return s.resolveConflict(ctx, rec, report)
		}
		if err != nil {
			return err
		}
		if err := repo.MarkSynced(ctx, rec.ID, stored.ID, rec.Version); err != nil {
			return err
		}
		report.Pushed++

	default:
		row := secretToRow(rec)
		if err := s.remote.UpdateSecret(ctx, row); err != nil {
			return err
		}
		if err := repo.MarkSynced(ctx, rec.ID, rec.CloudID, rec.Version); err != nil {
			return err
		}
		report.Pushed++
	}
	return nil
}

// resolveConflict handles a duplicate push: the canonical remote row is
// re-fetched and compared by version; the higher version wins, remote
// winning ties. Either way the local row adopts the canonical remote id.
func (s *Syncer) resolveConflict(ctx context.Context, rec *models.Secret, report *models.SyncReport) error {
	canonical, err := s.remote.FindSecret(ctx, rec.Service, rec.Username, rec.OwnerName)
	if err != nil {
		return err
	}
	repo := newSecretsRepo(s.db)

	if canonical.Version >= rec.Version {
		merged, err := recordFromRow(canonical)
		if err != nil {
			return err
		}
		if err := s.session.withKeys(func(u *models.User, personal []byte, vaultKeys map[string][]byte) error {
			classifyRecord(merged, u, personal, vaultKeys)
			return nil
		}); err != nil {
			return err
		}
		merged.ID = rec.ID
		if merged.KeyState == models.KeyStateLocked {
			report.AwaitingKey++
		}
		return repo.Update(ctx, merged)
	}

	row := secretToRow(rec)
	row.ID = canonical.ID
	if err := s.remote.UpdateSecret(ctx, row); err != nil {
		return err
	}
	return repo.MarkSynced(ctx, rec.ID, canonical.ID, rec.Version)
}

// pullSecrets fetches remote rows changed past the watermark and applies
// them in a single transaction: whole-record replacement, higher version
// wins, remote wins ties. Foreign private rows are never retained; any
// that slipped into the store earlier are purged with an audit entry.
func (s *Syncer) pullSecrets(ctx context.Context, report *models.SyncReport) error {
	owner, err := s.session.OwnerName()
	if err != nil {
		return err
	}
	u, err := s.session.CurrentUser()
	if err != nil {
		return err
	}

	meta := metadata.NewSQLiteRepository(s.db)
	watermark, err := metadata.GetWatermark(ctx, meta)
	if err != nil {
		return err
	}

	rows, err := s.remote.ListSecrets(ctx, owner, watermark)
	if err != nil {
		return err
	}

	// The key snapshot wraps the transaction so a concurrent rewrap cannot
	// invalidate key material mid-batch.
	maxTS := watermark
	var badTS int64
	err = s.session.withKeys(func(su *models.User, personal []byte, vaultKeys map[string][]byte) error {
		return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := newSecretsRepo(tx)

			for i := range rows {
				row := &rows[i]
				if row.UpdatedAt > maxTS {
					maxTS = row.UpdatedAt
				}
				if row.IsPrivate && !strings.EqualFold(row.OwnerName, owner) {
					// The query filter should never let these through; they
					// must not be stored even transiently.
					continue
				}

				local, err := repo.GetByCloudID(ctx, row.ID)
				if err != nil && !errors.Is(err, common.ErrNotFound) {
					return err
				}

				if row.Deleted {
					if local != nil {
						if err := repo.Purge(ctx, local.ID); err != nil {
							return err
						}
						report.Pulled++
					}
					continue
				}

				if local == nil {
					rec, err := recordFromRow(row)
					if err != nil {
						report.Errors++
						if badTS == 0 || row.UpdatedAt < badTS {
							badTS = row.UpdatedAt
						}
						s.log.Error(ctx, "pull skipped", "cloud_id", row.ID, "error", err)
						continue
					}
					classifyRecord(rec, su, personal, vaultKeys)
					if rec.KeyState == models.KeyStateLocked {
						report.AwaitingKey++
					}
					if _, err := repo.Insert(ctx, rec); err != nil {
						return err
					}
					report.Pulled++
					continue
				}

				if local.Version > row.Version {
					continue // local edit wins; pushed next cycle
				}
				if local.Version == row.Version && local.Synced {
					continue // already converged
				}
				if !local.Synced {
					report.Conflicts++
				}

				rec, err := recordFromRow(row)
				if err != nil {
					report.Errors++
					if badTS == 0 || row.UpdatedAt < badTS {
						badTS = row.UpdatedAt
					}
					s.log.Error(ctx, "pull skipped", "cloud_id", row.ID, "error", err)
					continue
				}
				classifyRecord(rec, su, personal, vaultKeys)
				rec.ID = local.ID
				if rec.KeyState == models.KeyStateLocked {
					report.AwaitingKey++
				}
				if err := repo.Update(ctx, rec); err != nil {
					return err
				}
				report.Pulled++
			}

			n, err := repo.PurgeForeignPrivate(ctx, owner)
			if err != nil {
				return err
			}
			if n > 0 {
				report.Purged += int(n)
				if err := audit.NewSQLiteRepository(tx).Append(ctx, &models.AuditEvent{
					Timestamp:  time.Now().UTC(),
					UserName:   owner,
					UserID:     u.ID,
					Action:     models.AuditActionPurgeLeak,
					Status:     "SUCCESS",
					Details:    fmt.Sprintf("purged=%d foreign private records", n),
					DeviceInfo: s.device,
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	// Rows that failed to decode stay behind the watermark so later cycles
	// fetch them again.
	if badTS != 0 && badTS-1 < maxTS {
		maxTS = badTS - 1
	}
	if maxTS > watermark {
		if err := metadata.SetWatermark(ctx, meta, maxTS); err != nil {
			return err
		}
	}
	return nil
}

// pushGrants uploads locally changed grants of the default vault.
func (s *Syncer) pushGrants(ctx context.Context) error {
	vaultID, err := s.session.DefaultVaultID(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	gr := grants.NewSQLiteRepository(s.db)
	list, err := gr.ListByVault(ctx, vaultID)
	if err != nil {
		return err
	}
	for _, g := range list {
		if g.Synced {
			continue
		}
		row := &remote.GrantRow{
			VaultID:          g.VaultID,
			UserID:           g.UserID,
			WrappedMasterKey: hex.EncodeToString(g.WrappedMasterKey),
			AccessLevel:      string(g.AccessLevel),
			UpdatedAt:        g.UpdatedAt.Unix(),
		}
		if err := s.remote.UpsertGrant(ctx, row); err != nil {
			return err
		}
		g.Synced = true
		if err := gr.Upsert(ctx, &g); err != nil {
			return err
		}
	}
	return nil
}

// pullGrants fetches the session user's grants issued elsewhere (a key
// distributed on another device). The wrapped key opens only at the next
// unlock, when the password is available again.
func (s *Syncer) pullGrants(ctx context.Context) error {
	u, err := s.session.CurrentUser()
	if err != nil {
		return err
	}

	rows, err := s.remote.ListGrants(ctx, u.ID)
	if err != nil {
		return err
	}

	gr := grants.NewSQLiteRepository(s.db)
	for _, row := range rows {
		wrap, err := hex.DecodeString(row.WrappedMasterKey)
		if err != nil {
			s.log.Error(ctx, "grant skipped: bad wrapped key encoding", "vault_id", row.VaultID, "error", err)
			continue
		}

		local, err := gr.Get(ctx, row.VaultID, row.UserID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if local != nil && !local.Synced && local.UpdatedAt.Unix() >= row.UpdatedAt {
			continue // local rewrap pending upload wins
		}

		if err := gr.Upsert(ctx, &models.Grant{
			VaultID:          row.VaultID,
			UserID:           row.UserID,
			WrappedMasterKey: wrap,
			AccessLevel:      models.Role(row.AccessLevel),
			UpdatedAt:        time.Unix(row.UpdatedAt, 0).UTC(),
			Synced:           true,
		}); err != nil {
			return err
		}
	}
	return nil
}

// pushAudit uploads pending audit events. ensureIdentity has already run,
// so no event leaves with a placeholder user id.
func (s *Syncer) pushAudit(ctx context.Context) error {
	u, err := s.session.CurrentUser()
	if err != nil {
		return err
	}
	if !u.Synced {
		return nil
	}

	ar := audit.NewSQLiteRepository(s.db)
	pending, err := ar.ListPending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	rows := make([]remote.AuditRow, 0, len(pending))
	ids := make([]int64, 0, len(pending))
	for _, e := range pending {
		rows = append(rows, remote.AuditRow{
			Timestamp:  e.Timestamp.Unix(),
			UserName:   e.UserName,
			UserID:     e.UserID,
			Action:     e.Action,
			Status:     e.Status,
			Details:    e.Details,
			DeviceInfo: e.DeviceInfo,
		})
		ids = append(ids, e.ID)
	}

	if err := s.remote.InsertAuditEvents(ctx, rows); err != nil {
		return err
	}
	return ar.MarkSynced(ctx, ids)
}
