package secrets

import (
	"context"

	"github.com/akorchagin/passvault/internal/vault/models"
)

// Repository describes persistence for encrypted secret records.
// Implementations must never see plaintext: callers hand over sealed blobs.
type Repository interface {
	// Insert adds a record and returns its local id.
	Insert(ctx context.Context, s *models.Secret) (int64, error)

	// Update rewrites a record by local id.
	Update(ctx context.Context, s *models.Secret) error

	// GetByID returns a record by local id.
	GetByID(ctx context.Context, id int64) (*models.Secret, error)

	// GetByCloudID returns a record by its remote identity.
	GetByCloudID(ctx context.Context, cloudID string) (*models.Secret, error)

	// List returns records visible to owner: shared rows plus owner's own
	// private rows. Tombstones are excluded unless includeDeleted is set.
	// The privacy filter lives in the query, not in presentation code.
	List(ctx context.Context, owner string, includeDeleted bool) ([]models.Secret, error)

	// ListByVault returns all live records of one vault (key rotation).
	ListByVault(ctx context.Context, vaultID string) ([]models.Secret, error)

	// ListUnsynced returns records with local changes pending upload,
	// tombstones included.
	ListUnsynced(ctx context.Context) ([]models.Secret, error)

	// MarkSynced stores the remote identity after a successful push and
	// clears the dirty flag, but only while the row still carries the
	// version that was pushed. A concurrent edit keeps the row dirty.
	MarkSynced(ctx context.Context, id int64, cloudID string, version int64) error

	// SoftDelete turns a record into an unsynced tombstone.
	SoftDelete(ctx context.Context, id int64) error

	// Purge physically removes a row. Only legal once its remote tombstone
	// is acknowledged, or when the row violates the privacy boundary.
	Purge(ctx context.Context, id int64) error

	// PurgeForeignPrivate removes every private record not owned by owner
	// and returns how many were removed.
	PurgeForeignPrivate(ctx context.Context, owner string) (int64, error)

	// RemapOwner rewrites owner identity from a placeholder to the
	// canonical remote id.
	RemapOwner(ctx context.Context, oldID, newID string) error
}
