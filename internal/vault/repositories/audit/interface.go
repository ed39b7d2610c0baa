package audit

import (
	"context"

	"github.com/akorchagin/passvault/internal/vault/models"
)

// Repository persists the append-only security audit trail.
type Repository interface {
	// Append records one event. Events are never updated or deleted except
	// for identity remapping and the synced flag.
	Append(ctx context.Context, e *models.AuditEvent) error

	// List returns the most recent events, newest first.
	List(ctx context.Context, limit int) ([]models.AuditEvent, error)

	// ListPending returns events awaiting upload.
	ListPending(ctx context.Context) ([]models.AuditEvent, error)

	// MarkSynced flags uploaded events.
	MarkSynced(ctx context.Context, ids []int64) error

	// RemapUser rewrites event identity from a placeholder to the canonical
	// remote id. Events must never be uploaded under a placeholder.
	RemapUser(ctx context.Context, oldID, newID string) error
}
