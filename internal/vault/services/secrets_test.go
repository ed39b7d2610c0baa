package services

import (
	"context"
	"testing"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/akorchagin/passvault/internal/cryptox"
	"github.com/akorchagin/passvault/internal/vault/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretRoundtrip(t *testing.T) {
	db := setupDB(t)
	s := newTestSession(t, db)
	svc := NewSecrets(db, s, testLogger())
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte("alice password"))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte("alice password")))

	rec, err := svc.Add(ctx, "gmail", "alice@example.com",
		models.SecretFields{Password: "s3cr3t", Notes: "work account"}, false)
	require.NoError(t, err)
	assert.Equal(t, "GMAIL", rec.Service, "service name normalized")
	assert.Equal(t, "ALICE", rec.OwnerName)
	assert.Equal(t, int64(1), rec.Version)
	assert.False(t, rec.Synced)
	assert.Equal(t, cryptox.IntegrityHash(rec.Ciphertext), rec.IntegrityHash)

	fields, err := svc.Reveal(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", fields.Password)
	assert.Equal(t, "work account", fields.Notes)
}

func TestSecretUpdateBumpsVersion(t *testing.T) {
	db := setupDB(t)
	s := newTestSession(t, db)
	svc := NewSecrets(db, s, testLogger())
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte("alice password"))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte("alice password")))

	rec, err := svc.Add(ctx, "github", "alice", models.SecretFields{Password: "v1"}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, rec.ID, models.SecretFields{Password: "v2"}))

	got, err := svc.repo().GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.False(t, got.Synced)

	fields, err := svc.Reveal(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", fields.Password)
}

func TestPrivacyBoundary(t *testing.T) {
	db := setupDB(t)
	alice := newTestSession(t, db)
	ctx := context.Background()

	_, err := alice.Register(ctx, "alice", []byte("alice password"))
	require.NoError(t, err)
	_, err = alice.Register(ctx, "bob", []byte("bob password!!"))
	require.NoError(t, err)
	require.NoError(t, alice.Unlock(ctx, "alice", []byte("alice password")))

	vaultID, err := alice.DefaultVaultID(ctx)
	require.NoError(t, err)
	require.NoError(t, alice.GrantAccess(ctx, vaultID, "bob", models.RoleMember, []byte("bob password!!")))

	aliceSecrets := NewSecrets(db, alice, testLogger())
	private, err := aliceSecrets.Add(ctx, "bank", "alice",
		models.SecretFields{Password: "only mine"}, true)
	require.NoError(t, err)
	shared, err := aliceSecrets.Add(ctx, "wifi", "office",
		models.SecretFields{Password: "for everyone"}, false)
	require.NoError(t, err)

	bob := newTestSession(t, db)
	require.NoError(t, bob.Unlock(ctx, "bob", []byte("bob password!!")))
	bobSecrets := NewSecrets(db, bob, testLogger())

	// Bob sees the shared record but not the private one.
	list, err := bobSecrets.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, shared.ID, list[0].ID)

	_, err = bobSecrets.Reveal(ctx, shared.ID)
	require.NoError(t, err)

	// Even reaching the row directly, the policy key is refused.
	_, err = bobSecrets.Reveal(ctx, private.ID)
	assert.ErrorIs(t, err, common.ErrPolicy)

	err = bobSecrets.Delete(ctx, private.ID)
	assert.ErrorIs(t, err, common.ErrPolicy)
}

func TestRevealDetectsCorruption(t *testing.T) {
	db := setupDB(t)
	s := newTestSession(t, db)
	svc := NewSecrets(db, s, testLogger())
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte("alice password"))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte("alice password")))

	rec, err := svc.Add(ctx, "gmail", "alice", models.SecretFields{Password: "x"}, false)
	require.NoError(t, err)

	// Bit rot: ciphertext no longer matches the stored hash. Detected
	// before any cryptographic work.
	corrupt := make([]byte, len(rec.Ciphertext))
	copy(corrupt, rec.Ciphertext)
	corrupt[len(corrupt)-1] ^= 0x01
	_, err = db.ExecContext(ctx, `UPDATE secrets SET ciphertext = ? WHERE id = ?`, corrupt, rec.ID)
	require.NoError(t, err)

	_, err = svc.Reveal(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrIntegrity)

	// Tamper with a recomputed hash: the integrity check passes and the
	// AEAD tag catches it instead.
	_, err = db.ExecContext(ctx, `UPDATE secrets SET integrity_hash = ? WHERE id = ?`,
		cryptox.IntegrityHash(corrupt), rec.ID)
	require.NoError(t, err)

	_, err = svc.Reveal(ctx, rec.ID)
	assert.ErrorIs(t, err, common.ErrAuth)
}

func TestSoftDelete(t *testing.T) {
	db := setupDB(t)
	s := newTestSession(t, db)
	svc := NewSecrets(db, s, testLogger())
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", []byte("alice password"))
	require.NoError(t, err)
	require.NoError(t, s.Unlock(ctx, "alice", []byte("alice password")))

	rec, err := svc.Add(ctx, "gmail", "alice", models.SecretFields{Password: "x"}, false)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, rec.ID))

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "tombstones are hidden")

	got, err := svc.repo().GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)
	assert.False(t, got.Synced, "tombstone awaits propagation")
	assert.Equal(t, int64(2), got.Version)
}

func TestAddWithoutGrant(t *testing.T) {
	db := setupDB(t)
	alice := newTestSession(t, db)
	ctx := context.Background()

	_, err := alice.Register(ctx, "alice", []byte("alice password"))
	require.NoError(t, err)
	// Bob is registered but never granted vault access.
	_, err = alice.Register(ctx, "bob", []byte("bob password!!"))
	require.NoError(t, err)

	bob := newTestSession(t, db)
	require.NoError(t, bob.Unlock(ctx, "bob", []byte("bob password!!")))
	bobSecrets := NewSecrets(db, bob, testLogger())

	// Shared records need a vault grant; private ones only the personal key.
	_, err = bobSecrets.Add(ctx, "wifi", "office", models.SecretFields{Password: "x"}, false)
	assert.ErrorIs(t, err, common.ErrPolicy)

	rec, err := bobSecrets.Add(ctx, "diary", "bob", models.SecretFields{Password: "y"}, true)
	require.NoError(t, err)

	fields, err := bobSecrets.Reveal(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "y", fields.Password)
}
