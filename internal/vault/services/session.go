package services

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/cryptox"
	"github.com/akorchagin/passvault/internal/dbx"
	"github.com/akorchagin/passvault/internal/logging"
	"github.com/akorchagin/passvault/internal/ratelimit"
	"github.com/akorchagin/passvault/internal/vault/models"
	"github.com/akorchagin/passvault/internal/vault/repositories/audit"
	"github.com/akorchagin/passvault/internal/vault/repositories/grants"
	"github.com/akorchagin/passvault/internal/vault/repositories/metadata"
	"github.com/akorchagin/passvault/internal/vault/repositories/users"
	"github.com/google/uuid"
)

// Session owns the key hierarchy for one unlocked vault session. The
// personal key and every reachable vault master key are held in memory
// between Unlock and Lock and zeroed on Lock. All mutating key operations
// (password change, grant management, rotation) take the exclusive lock so
// a rewrap never races an in-flight encrypt using stale material.
type Session struct {
	db      *sql.DB
	limiter *ratelimit.Limiter
	log     logging.Logger
	device  string

	mu          sync.RWMutex
	user        *models.User
	personalKey []byte
	vaultKeys   map[string][]byte
}

func NewSession(db *sql.DB, limiter *ratelimit.Limiter, log logging.Logger, device string) *Session {
	return &Session{
		db:      db,
		limiter: limiter,
		log:     log,
		device:  device,
	}
}

func (s *Session) usersRepo() users.Repository   { return users.NewSQLiteRepository(s.db) }
func (s *Session) grantsRepo() grants.Repository { return grants.NewSQLiteRepository(s.db) }
func (s *Session) auditRepo() audit.Repository   { return audit.NewSQLiteRepository(s.db) }
func (s *Session) metaRepo() metadata.Repository { return metadata.NewSQLiteRepository(s.db) }

// verifierParams reconstructs the derivation parameters of a user's
// password verifier from the profile fields. Wrapped blobs do not need
// this; their envelopes carry their own parameters.
func verifierParams(u *models.User) cryptox.KDFParams {
	if u.KDFAlgorithm == uint8(cryptox.KDFPBKDF2SHA256) {
		return cryptox.LegacyKDFParams(u.Salt, u.KDFIterations)
	}
	return cryptox.KDFParams{
		Algorithm:  cryptox.KDFArgon2id,
		Salt:       u.Salt,
		Iterations: u.KDFIterations,
		Memory:     cryptox.Argon2MemoryK,
		Threads:    cryptox.Argon2Threads,
	}
}

// Register provisions a new account. The very first account bootstraps the
// vault: it generates the vault master key and receives the admin grant.
// Later accounts start as members with no grant; an admin issues one with
// GrantAccess.
func (s *Session) Register(ctx context.Context, username string, password []byte) (*models.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return nil, errors.New("username must not be empty")
	}

	if _, err := s.usersRepo().GetByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("user %q already exists", username)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	profile := cryptox.NewKDFParams()
	derived, err := cryptox.Derive(password, profile)
	if err != nil {
		return nil, err
	}
	verifier := cryptox.MakeVerifier(derived)
	common.WipeByteArray(derived)

	personal := cryptox.GenerateKey()
	defer common.WipeByteArray(personal)
	personalWrap, err := cryptox.WrapKey(personal, password, cryptox.NewKDFParams())
	if err != nil {
		return nil, err
	}

	u := &models.User{
		ID:              uuid.NewString(),
		Username:        username,
		Role:            models.RoleMember,
		Verifier:        verifier,
		Salt:            profile.Salt,
		KDFAlgorithm:    uint8(profile.Algorithm),
		KDFIterations:   profile.Iterations,
		PersonalKeyWrap: personalWrap,
		Active:          true,
		UpdatedAt:       time.Now().UTC(),
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		meta := metadata.NewSQLiteRepository(tx)

		vaultID, err := meta.Get(ctx, metadata.KeyVaultID)
		if err != nil {
			return err
		}
		if vaultID == nil {
			// First account: create the vault and the admin grant.
			u.Role = models.RoleAdmin

			newVaultID := uuid.NewString()
			vmk := cryptox.GenerateKey()
			defer common.WipeByteArray(vmk)

			wrap, err := cryptox.WrapKey(vmk, password, cryptox.NewKDFParams())
			if err != nil {
				return err
			}
			if err := meta.Set(ctx, metadata.KeyVaultID, []byte(newVaultID)); err != nil {
				return err
			}
			if err := grants.NewSQLiteRepository(tx).Upsert(ctx, &models.Grant{
				VaultID:          newVaultID,
				UserID:           u.ID,
				WrappedMasterKey: wrap,
				AccessLevel:      models.RoleAdmin,
				UpdatedAt:        time.Now().UTC(),
			}); err != nil {
				return err
			}
		}

		return users.NewSQLiteRepository(tx).Create(ctx, u)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "account provisioned", "username", username, "role", u.Role)
	return u, nil
}

// Unlock authenticates username/password and loads the key hierarchy into
// memory. Any failure after the rate-limit gate is reported as the same
// generic common.ErrAuthFailure; the actual cause is logged internally and
// recorded in the audit trail.
func (s *Session) Unlock(ctx context.Context, username string, password []byte) error {
	username = strings.ToLower(strings.TrimSpace(username))

	if s.limiter.IsBlocked(username) {
		d := s.limiter.RemainingLockout(username).Round(time.Second)
		return fmt.Errorf("%w: retry in %s", common.ErrRateLimited, d)
	}

	u, err := s.usersRepo().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return s.failUnlock(ctx, username, "unknown user")
		}
		return err
	}
	if !u.Active {
		return s.failUnlock(ctx, username, "account disabled")
	}

	derived, err := cryptox.Derive(password, verifierParams(u))
	if err != nil {
		return s.failUnlock(ctx, username, "key derivation failed: "+err.Error())
	}
	ok := subtle.ConstantTimeCompare(cryptox.MakeVerifier(derived), u.Verifier) == 1
	common.WipeByteArray(derived)
	if !ok {
		return s.failUnlock(ctx, username, "verifier mismatch")
	}

	personal, err := cryptox.UnwrapKey(u.PersonalKeyWrap, password)
	if err != nil {
		// The verifier matched but the wrap did not open: corrupt stored
		// material, not a wrong password. The caller still sees the same
		// generic failure.
		return s.failUnlock(ctx, username, "personal key unwrap failed: "+err.Error())
	}

	grantList, err := s.grantsRepo().ListByUser(ctx, u.ID)
	if err != nil {
		common.WipeByteArray(personal)
		return err
	}

	vaultKeys := make(map[string][]byte, len(grantList))
	for _, g := range grantList {
		vmk, err := cryptox.UnwrapKey(g.WrappedMasterKey, password)
		if err != nil {
			// Vault stays locked for this session; its records surface as
			// awaiting-key rather than disappearing.
			s.log.Warn(ctx, "vault key not available", "vault_id", g.VaultID, "error", err)
			continue
		}
		vaultKeys[g.VaultID] = vmk
	}

	s.limiter.Reset(username)

	s.mu.Lock()
	s.wipeLocked()
	s.user = u
	s.personalKey = personal
	s.vaultKeys = vaultKeys
	s.mu.Unlock()

	s.appendAudit(ctx, u, models.AuditActionUnlock, "SUCCESS", "")
	s.log.Info(ctx, "vault unlocked", "username", username, "vaults", len(vaultKeys))
	return nil
}

func (s *Session) failUnlock(ctx context.Context, username, reason string) error {
	s.limiter.RecordAttempt(username)
	s.log.Warn(ctx, "unlock failed", "username", username, "reason", reason)

	e := &models.AuditEvent{
		Timestamp:  time.Now().UTC(),
		UserName:   strings.ToUpper(username),
		Action:     models.AuditActionUnlockFailed,
		Status:     "FAILURE",
		Details:    reason,
		DeviceInfo: s.device,
	}
	if err := s.auditRepo().Append(ctx, e); err != nil {
		s.log.Error(ctx, "audit append failed", "error", err)
	}
	return common.ErrAuthFailure
}

// Lock zeroes all key material and ends the session.
func (s *Session) Lock(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		s.log.Info(ctx, "vault locked", "username", s.user.Username)
	}
	s.wipeLocked()
}

// wipeLocked clears session state. Callers must hold mu.
func (s *Session) wipeLocked() {
	common.WipeByteArray(s.personalKey)
	s.personalKey = nil
	for _, k := range s.vaultKeys {
		common.WipeByteArray(k)
	}
	s.vaultKeys = nil
	s.user = nil
}

// Unlocked reports whether a session is active.
func (s *Session) Unlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// CurrentUser returns a copy of the active account, common.ErrVaultLocked
// when no session is active.
func (s *Session) CurrentUser() (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, common.ErrVaultLocked
	}
	u := *s.user
	return &u, nil
}

// OwnerName returns the session identity in the canonical owner form.
func (s *Session) OwnerName() (string, error) {
	u, err := s.CurrentUser()
	if err != nil {
		return "", err
	}
	return strings.ToUpper(u.Username), nil
}

// DefaultVaultID returns the vault this store was bootstrapped with.
func (s *Session) DefaultVaultID(ctx context.Context) (string, error) {
	v, err := s.metaRepo().Get(ctx, metadata.KeyVaultID)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", common.ErrNotFound
	}
	return string(v), nil
}

// FindUser looks up an account by login name, common.ErrNotFound if absent.
func (s *Session) FindUser(ctx context.Context, username string) (*models.User, error) {
	return s.usersRepo().GetByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
}

// withKeys runs fn with the live key material under the read lock, so no
// rewrap or lock can invalidate the slices mid-operation. fn must not
// retain them.
func (s *Session) withKeys(fn func(u *models.User, personal []byte, vaultKeys map[string][]byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return common.ErrVaultLocked
	}
	return fn(s.user, s.personalKey, s.vaultKeys)
}

// setUserID rewrites the in-memory identity after a remap.
func (s *Session) setUserID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		s.user.ID = id
		s.user.Synced = true
	}
}

// ChangePassword rewraps the personal key and every grant held by the
// session user under the new password, and replaces the verifier, all in
// one transaction. A partial rewrap (some grants under the old password,
// some under the new) must never be observable; either every staged wrap
// commits or none do.
func (s *Session) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return common.ErrVaultLocked
	}
	u := *s.user

	derived, err := cryptox.Derive(oldPassword, verifierParams(&u))
	if err != nil {
		return common.ErrAuthFailure
	}
	ok := subtle.ConstantTimeCompare(cryptox.MakeVerifier(derived), u.Verifier) == 1
	common.WipeByteArray(derived)
	if !ok {
		return common.ErrAuthFailure
	}

	personal, err := cryptox.UnwrapKey(u.PersonalKeyWrap, oldPassword)
	if err != nil {
		s.log.Error(ctx, "personal key unwrap failed with verified password", "error", err)
		return common.ErrAuthFailure
	}
	defer common.WipeByteArray(personal)

	profile := cryptox.NewKDFParams()
	newDerived, err := cryptox.Derive(newPassword, profile)
	if err != nil {
		return err
	}
	newVerifier := cryptox.MakeVerifier(newDerived)
	common.WipeByteArray(newDerived)

	newPersonalWrap, err := cryptox.WrapKey(personal, newPassword, cryptox.NewKDFParams())
	if err != nil {
		return err
	}

	grantList, err := s.grantsRepo().ListByUser(ctx, u.ID)
	if err != nil {
		return err
	}

	// Stage every grant rewrap before touching the database.
	type stagedGrant struct {
		grant models.Grant
		vmk   []byte
	}
	staged := make([]stagedGrant, 0, len(grantList))
	for _, g := range grantList {
		vmk := s.vaultKeys[g.VaultID]
		if vmk == nil {
			var err error
			vmk, err = cryptox.UnwrapKey(g.WrappedMasterKey, oldPassword)
			if err != nil {
				// A grant that never opened under the old password stays
				// as-is; it is already awaiting re-issue.
				s.log.Warn(ctx, "grant skipped during rewrap", "vault_id", g.VaultID, "error", err)
				continue
			}
		}
		wrap, err := cryptox.WrapKey(vmk, newPassword, cryptox.NewKDFParams())
		if err != nil {
			return err
		}
		g.WrappedMasterKey = wrap
		g.UpdatedAt = time.Now().UTC()
		g.Synced = false
		staged = append(staged, stagedGrant{grant: g, vmk: vmk})
	}

	u.Verifier = newVerifier
	u.Salt = profile.Salt
	u.KDFAlgorithm = uint8(profile.Algorithm)
	u.KDFIterations = profile.Iterations
	u.PersonalKeyWrap = newPersonalWrap
	u.Synced = false
	u.UpdatedAt = time.Now().UTC()

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := users.NewSQLiteRepository(tx).Update(ctx, &u); err != nil {
			return err
		}
		gr := grants.NewSQLiteRepository(tx)
		for _, sg := range staged {
			if err := gr.Upsert(ctx, &sg.grant); err != nil {
				return err
			}
		}
		return audit.NewSQLiteRepository(tx).Append(ctx, &models.AuditEvent{
			Timestamp:  time.Now().UTC(),
			UserName:   strings.ToUpper(u.Username),
			UserID:     u.ID,
			Action:     models.AuditActionPassword,
			Status:     "SUCCESS",
			DeviceInfo: s.device,
		})
	})
	if err != nil {
		return err
	}

	*s.user = u
	for _, sg := range staged {
		if s.vaultKeys[sg.grant.VaultID] == nil {
			s.vaultKeys[sg.grant.VaultID] = sg.vmk
		}
	}
	s.log.Info(ctx, "password changed", "username", u.Username, "grants_rewrapped", len(staged))
	return nil
}

// GrantAccess wraps the vault master key for another account. The grantee
// must be present: their password is needed to derive the KEK the wrap is
// sealed under, and it is verified against their profile first so a typo
// cannot silently produce an unopenable grant.
func (s *Session) GrantAccess(ctx context.Context, vaultID, username string, level models.Role, granteePassword []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return common.ErrVaultLocked
	}

	if err := s.requireAdmin(ctx, vaultID, s.user.ID); err != nil {
		return err
	}
	vmk := s.vaultKeys[vaultID]
	if vmk == nil {
		return common.ErrAwaitingKey
	}

	target, err := s.usersRepo().GetByUsername(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return err
	}

	derived, err := cryptox.Derive(granteePassword, verifierParams(target))
	if err != nil {
		return common.ErrAuthFailure
	}
	ok := subtle.ConstantTimeCompare(cryptox.MakeVerifier(derived), target.Verifier) == 1
	common.WipeByteArray(derived)
	if !ok {
		return common.ErrAuthFailure
	}

	wrap, err := cryptox.WrapKey(vmk, granteePassword, cryptox.NewKDFParams())
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := grants.NewSQLiteRepository(tx).Upsert(ctx, &models.Grant{
			VaultID:          vaultID,
			UserID:           target.ID,
			WrappedMasterKey: wrap,
			AccessLevel:      level,
			UpdatedAt:        time.Now().UTC(),
		}); err != nil {
			return err
		}
		return audit.NewSQLiteRepository(tx).Append(ctx, &models.AuditEvent{
			Timestamp:  time.Now().UTC(),
			UserName:   strings.ToUpper(s.user.Username),
			UserID:     s.user.ID,
			Action:     models.AuditActionGrant,
			Status:     "SUCCESS",
			Details:    fmt.Sprintf("vault=%s grantee=%s level=%s", vaultID, target.Username, level),
			DeviceInfo: s.device,
		})
	})
}

// RevokeAccess deletes a grant. The vault master key is not rotated: a
// revoked member who cached the key retains historical access until an
// explicit RotateVaultKey. The last admin grant can never be revoked.
func (s *Session) RevokeAccess(ctx context.Context, vaultID, userID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return common.ErrVaultLocked
	}
	if err := s.requireAdmin(ctx, vaultID, s.user.ID); err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		gr := grants.NewSQLiteRepository(tx)

		g, err := gr.Get(ctx, vaultID, userID)
		if err != nil {
			return err
		}
		if g.AccessLevel == models.RoleAdmin {
			n, err := gr.CountAdmins(ctx, vaultID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return common.ErrLastAdmin
			}
		}
		if err := gr.Delete(ctx, vaultID, userID); err != nil {
			return err
		}
		return audit.NewSQLiteRepository(tx).Append(ctx, &models.AuditEvent{
			Timestamp:  time.Now().UTC(),
			UserName:   strings.ToUpper(s.user.Username),
			UserID:     s.user.ID,
			Action:     models.AuditActionRevoke,
			Status:     "SUCCESS",
			Details:    fmt.Sprintf("vault=%s user=%s", vaultID, userID),
			DeviceInfo: s.device,
		})
	})
}

// RotateVaultKey generates a fresh vault master key, re-encrypts every
// shared record under it, and rewraps the caller's grant. All other grants
// are removed: they were wrapped under the retired key and must be
// re-issued explicitly, which is the point of rotating after a revocation.
// The caller's password is verified and used for the new wrap.
func (s *Session) RotateVaultKey(ctx context.Context, vaultID string, password []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return common.ErrVaultLocked
	}
	u := s.user

	if err := s.requireAdmin(ctx, vaultID, u.ID); err != nil {
		return err
	}
	oldVMK := s.vaultKeys[vaultID]
	if oldVMK == nil {
		return common.ErrAwaitingKey
	}

	derived, err := cryptox.Derive(password, verifierParams(u))
	if err != nil {
		return common.ErrAuthFailure
	}
	ok := subtle.ConstantTimeCompare(cryptox.MakeVerifier(derived), u.Verifier) == 1
	common.WipeByteArray(derived)
	if !ok {
		return common.ErrAuthFailure
	}

	newVMK := cryptox.GenerateKey()
	newWrap, err := cryptox.WrapKey(newVMK, password, cryptox.NewKDFParams())
	if err != nil {
		common.WipeByteArray(newVMK)
		return err
	}

	var reencrypted, skipped, revoked int
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		sr := newSecretsRepo(tx)

		list, err := sr.ListByVault(ctx, vaultID)
		if err != nil {
			return err
		}
		for i := range list {
			rec := &list[i]
			if rec.IsPrivate {
				continue
			}
			plaintext, err := cryptox.Open(oldVMK, rec.Ciphertext, nil)
			if err != nil {
				// Not openable under the retiring key either; leave the
				// ciphertext alone and mark it locked.
				rec.KeyState = models.KeyStateLocked
				if err := sr.Update(ctx, rec); err != nil {
					return err
				}
				skipped++
				continue
			}
			blob, err := cryptox.Seal(newVMK, plaintext, nil)
			common.WipeByteArray(plaintext)
			if err != nil {
				return err
			}
			rec.Ciphertext = blob
			rec.IntegrityHash = cryptox.IntegrityHash(blob)
			rec.KeyState = models.KeyStateOK
			rec.Version++
			rec.Synced = false
			rec.UpdatedAt = time.Now().UTC()
			if err := sr.Update(ctx, rec); err != nil {
				return err
			}
			reencrypted++
		}

		gr := grants.NewSQLiteRepository(tx)
		grantList, err := gr.ListByVault(ctx, vaultID)
		if err != nil {
			return err
		}
		for _, g := range grantList {
			if g.UserID == u.ID {
				continue
			}
			if err := gr.Delete(ctx, vaultID, g.UserID); err != nil {
				return err
			}
			revoked++
		}
		if err := gr.Upsert(ctx, &models.Grant{
			VaultID:          vaultID,
			UserID:           u.ID,
			WrappedMasterKey: newWrap,
			AccessLevel:      models.RoleAdmin,
			UpdatedAt:        time.Now().UTC(),
		}); err != nil {
			return err
		}

		return audit.NewSQLiteRepository(tx).Append(ctx, &models.AuditEvent{
			Timestamp:  time.Now().UTC(),
			UserName:   strings.ToUpper(u.Username),
			UserID:     u.ID,
			Action:     models.AuditActionRotate,
			Status:     "SUCCESS",
			Details:    fmt.Sprintf("vault=%s reencrypted=%d skipped=%d grants_revoked=%d", vaultID, reencrypted, skipped, revoked),
			DeviceInfo: s.device,
		})
	})
	if err != nil {
		common.WipeByteArray(newVMK)
		return err
	}

	common.WipeByteArray(oldVMK)
	s.vaultKeys[vaultID] = newVMK
	s.log.Info(ctx, "vault key rotated", "vault_id", vaultID,
		"reencrypted", reencrypted, "skipped", skipped, "grants_revoked", revoked)
	return nil
}

// requireAdmin checks that userID holds an admin grant on vaultID.
func (s *Session) requireAdmin(ctx context.Context, vaultID, userID string) error {
	g, err := s.grantsRepo().Get(ctx, vaultID, userID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return common.ErrPolicy
		}
		return err
	}
	if g.AccessLevel != models.RoleAdmin {
		return common.ErrPolicy
	}
	return nil
}

// AuditTrail returns the most recent audit events, newest first.
func (s *Session) AuditTrail(ctx context.Context, limit int) ([]models.AuditEvent, error) {
	if !s.Unlocked() {
		return nil, common.ErrVaultLocked
	}
	return s.auditRepo().List(ctx, limit)
}

func (s *Session) appendAudit(ctx context.Context, u *models.User, action, status, details string) {
	e := &models.AuditEvent{
		Timestamp:  time.Now().UTC(),
		UserName:   strings.ToUpper(u.Username),
		UserID:     u.ID,
		Action:     action,
		Status:     status,
		Details:    details,
		DeviceInfo: s.device,
	}
	if err := s.auditRepo().Append(ctx, e); err != nil {
		s.log.Error(ctx, "audit append failed", "action", action, "error", err)
	}
}
