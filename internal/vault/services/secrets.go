package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/cryptox"
	"github.com/akorchagin/passvault/internal/dbx"
	"github.com/akorchagin/passvault/internal/logging"
	"github.com/akorchagin/passvault/internal/vault/models"
	"github.com/akorchagin/passvault/internal/vault/repositories/grants"
	"github.com/akorchagin/passvault/internal/vault/repositories/secrets"
)

func newSecretsRepo(h dbx.DBTX) secrets.Repository { return secrets.NewSQLiteRepository(h) }

// Secrets is the record codec service: it seals and opens individual
// credential records and enforces the key-selection policy. A private
// record is sealed under the owner's personal key, never the vault master
// key; a shared record under the VMK of its vault.
type Secrets struct {
	db      *sql.DB
	session *Session
	log     logging.Logger
}

func NewSecrets(db *sql.DB, session *Session, log logging.Logger) *Secrets {
	return &Secrets{db: db, session: session, log: log}
}

func (s *Secrets) repo() secrets.Repository { return newSecretsRepo(s.db) }

// sealFields serializes and encrypts the payload, returning the blob and
// its storage integrity hash.
func sealFields(key []byte, fields models.SecretFields) ([]byte, string, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	blob, err := cryptox.Seal(key, plaintext, nil)
	common.WipeByteArray(plaintext)
	if err != nil {
		return nil, "", err
	}
	return blob, cryptox.IntegrityHash(blob), nil
}

// openRecord verifies the integrity hash before any cryptographic work,
// then opens the blob and deserializes the payload. Hash mismatch means
// storage corruption (common.ErrIntegrity); a tag mismatch under the right
// hash means tamper or wrong key (common.ErrAuth).
func openRecord(key []byte, rec *models.Secret) (*models.SecretFields, error) {
	if cryptox.IntegrityHash(rec.Ciphertext) != rec.IntegrityHash {
		return nil, common.ErrIntegrity
	}
	plaintext, err := cryptox.Open(key, rec.Ciphertext, nil)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)

	var fields models.SecretFields
	if err := json.Unmarshal(plaintext, &fields); err != nil {
		return nil, fmt.Errorf("decode record payload: %w", err)
	}
	return &fields, nil
}

// keyFor selects the policy key for a record. Foreign private records are
// a policy violation, not a missing-key condition.
func keyFor(rec *models.Secret, u *models.User, personal []byte, vaultKeys map[string][]byte) ([]byte, error) {
	if rec.IsPrivate {
		if rec.OwnerID != u.ID && !strings.EqualFold(rec.OwnerName, u.Username) {
			return nil, common.ErrPolicy
		}
		return personal, nil
	}
	k := vaultKeys[rec.VaultID]
	if k == nil {
		return nil, common.ErrAwaitingKey
	}
	return k, nil
}

// Add encrypts a new record and stores it unsynced. Service names are
// normalized to upper case; (service, username, owner) must be unique.
func (s *Secrets) Add(ctx context.Context, service, username string, fields models.SecretFields, private bool) (*models.Secret, error) {
	service = strings.ToUpper(strings.TrimSpace(service))
	if service == "" {
		return nil, errors.New("service name must not be empty")
	}

	vaultID, err := s.session.DefaultVaultID(ctx)
	if err != nil {
		return nil, err
	}

	var rec *models.Secret
	err = s.session.withKeys(func(u *models.User, personal []byte, vaultKeys map[string][]byte) error {
		var key []byte
		if private {
			key = personal
		} else {
			key = vaultKeys[vaultID]
			if key == nil {
				// No key in session: writing to a vault without a grant is
				// a policy violation; a grant that did not unwrap means the
				// key is pending.
				if _, gerr := grants.NewSQLiteRepository(s.db).Get(ctx, vaultID, u.ID); errors.Is(gerr, common.ErrNotFound) {
					return common.ErrPolicy
				}
				return common.ErrAwaitingKey
			}
		}

		blob, hash, err := sealFields(key, fields)
		if err != nil {
			return err
		}
		rec = &models.Secret{
			VaultID:       vaultID,
			Service:       service,
			Username:      strings.TrimSpace(username),
			Ciphertext:    blob,
			IntegrityHash: hash,
			OwnerName:     strings.ToUpper(u.Username),
			OwnerID:       u.ID,
			IsPrivate:     private,
			KeyState:      models.KeyStateOK,
			Version:       1,
			UpdatedAt:     time.Now().UTC(),
		}
		_, err = s.repo().Insert(ctx, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns record metadata visible to the session: shared records plus
// the session user's own private ones. Ciphertext is included; plaintext
// requires Reveal.
func (s *Secrets) List(ctx context.Context) ([]models.Secret, error) {
	owner, err := s.session.OwnerName()
	if err != nil {
		return nil, err
	}
	return s.repo().List(ctx, owner, false)
}

// Reveal decrypts one record under its policy key.
func (s *Secrets) Reveal(ctx context.Context, id int64) (*models.SecretFields, error) {
	rec, err := s.repo().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var fields *models.SecretFields
	err = s.session.withKeys(func(u *models.User, personal []byte, vaultKeys map[string][]byte) error {
		key, err := keyFor(rec, u, personal, vaultKeys)
		if err != nil {
			return err
		}
		fields, err = openRecord(key, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// Update re-encrypts a record with a new payload, bumps its version, and
// marks it for upload.
func (s *Secrets) Update(ctx context.Context, id int64, fields models.SecretFields) error {
	rec, err := s.repo().GetByID(ctx, id)
	if err != nil {
		return err
	}

	return s.session.withKeys(func(u *models.User, personal []byte, vaultKeys map[string][]byte) error {
		key, err := keyFor(rec, u, personal, vaultKeys)
		if err != nil {
			return err
		}
		blob, hash, err := sealFields(key, fields)
		if err != nil {
			return err
		}
		rec.Ciphertext = blob
		rec.IntegrityHash = hash
		rec.KeyState = models.KeyStateOK
		rec.Version++
		rec.Synced = false
		rec.UpdatedAt = time.Now().UTC()
		return s.repo().Update(ctx, rec)
	})
}

// Delete turns a record into an unsynced tombstone. The row disappears
// physically only after the remote acknowledges the delete.
func (s *Secrets) Delete(ctx context.Context, id int64) error {
	rec, err := s.repo().GetByID(ctx, id)
	if err != nil {
		return err
	}
	u, err := s.session.CurrentUser()
	if err != nil {
		return err
	}
	if rec.IsPrivate && rec.OwnerID != u.ID && !strings.EqualFold(rec.OwnerName, u.Username) {
		return common.ErrPolicy
	}
	return s.repo().SoftDelete(ctx, id)
}

// RecheckLocked retries records stored with the locked marker against the
// keys currently in session and clears the marker where decryption now
// succeeds (a vault key arrived after the record did). Returns how many
// records were unlocked.
func (s *Secrets) RecheckLocked(ctx context.Context) (int, error) {
	owner, err := s.session.OwnerName()
	if err != nil {
		return 0, err
	}
	list, err := s.repo().List(ctx, owner, false)
	if err != nil {
		return 0, err
	}

	var unlocked int
	err = s.session.withKeys(func(u *models.User, personal []byte, vaultKeys map[string][]byte) error {
		for i := range list {
			rec := &list[i]
			if rec.KeyState != models.KeyStateLocked {
				continue
			}
			key, err := keyFor(rec, u, personal, vaultKeys)
			if err != nil {
				continue
			}
			if _, err := openRecord(key, rec); err != nil {
				continue
			}
			rec.KeyState = models.KeyStateOK
			if err := s.repo().Update(ctx, rec); err != nil {
				return err
			}
			unlocked++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if unlocked > 0 {
		s.log.Info(ctx, "locked records recovered", "count", unlocked)
	}
	return unlocked, nil
}
