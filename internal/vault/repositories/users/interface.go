package users

import (
	"context"

	"github.com/akorchagin/passvault/internal/vault/models"
)

// Repository describes persistence for vault accounts.
type Repository interface {
	// GetByUsername returns a user by login name, common.ErrNotFound if absent.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// GetByID returns a user by identity.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// Create inserts a new account row.
	Create(ctx context.Context, u *models.User) error

	// Update rewrites the mutable fields (verifier, salt, KDF parameters,
	// personal key wrap, sync flag) of an existing account.
	Update(ctx context.Context, u *models.User) error

	// RemapID rewrites a placeholder identity to the canonical remote one.
	// Referencing rows in other tables are remapped by their own repositories
	// inside the same transaction.
	RemapID(ctx context.Context, oldID, newID string) error
}
