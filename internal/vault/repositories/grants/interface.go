package grants

import (
	"context"

	"github.com/akorchagin/passvault/internal/vault/models"
)

// Repository describes persistence for vault access grants. Grants are the
// authoritative location of wrapped vault master keys.
type Repository interface {
	// Get returns the grant for one (vault, user) pair.
	Get(ctx context.Context, vaultID, userID string) (*models.Grant, error)

	// ListByUser returns every grant held by a user.
	ListByUser(ctx context.Context, userID string) ([]models.Grant, error)

	// ListByVault returns every grant on a vault.
	ListByVault(ctx context.Context, vaultID string) ([]models.Grant, error)

	// Upsert inserts or replaces a grant row.
	Upsert(ctx context.Context, g *models.Grant) error

	// Delete removes a grant row.
	Delete(ctx context.Context, vaultID, userID string) error

	// CountAdmins returns the number of admin grants on a vault; callers
	// enforce the at-least-one-admin invariant with it.
	CountAdmins(ctx context.Context, vaultID string) (int, error)

	// RemapUser rewrites grant ownership from a placeholder identity to the
	// canonical remote one.
	RemapUser(ctx context.Context, oldID, newID string) error
}
