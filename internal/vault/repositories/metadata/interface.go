package metadata

import "context"

// Keys used by the sync engine and session bookkeeping.
const (
	KeySyncWatermark = "sync_watermark"
	KeyDeviceID      = "device_id"
	KeyVaultID       = "vault_id"
)

// Repository is a small key/value store for local bookkeeping: the sync
// watermark, the device identity, and similar non-secret state.
type Repository interface {
	// Get returns the value for key, or nil when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set inserts or replaces a value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error

	// Clear wipes all bookkeeping (logout / local reset).
	Clear(ctx context.Context) error
}
