// Package remote talks to the central store: a REST table API with
// select/insert/update/delete semantics, equality and `in` filters, and
// JSON rows. The remote never sees plaintext; secret payloads travel as
// the same AEAD blobs kept locally.
package remote

import "context"

// SecretRow is the wire shape of one secrets-table row. Secret carries the
// base64 of the local ciphertext blob (nonce ‖ ciphertext ‖ tag).
type SecretRow struct {
	// ID is generated remotely; inserts must not serialize an empty one.
	ID            string `json:"id,omitempty"`
	VaultID       string `json:"vault_id"`
	Service       string `json:"service"`
	Username      string `json:"username"`
	Secret        string `json:"secret"`
	IntegrityHash string `json:"integrity_hash"`
	OwnerName     string `json:"owner_name"`
	OwnerID       string `json:"owner_id"`
	IsPrivate     bool   `json:"is_private"`
	Deleted       bool   `json:"deleted"`
	Version       int64  `json:"version"`
	UpdatedAt     int64  `json:"updated_at"`
}

// UserRow is the wire shape of one users-table row. Binary fields are hex.
type UserRow struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Role          string `json:"role"`
	Verifier      string `json:"verifier"`
	Salt          string `json:"salt"`
	KDFAlgorithm  uint8  `json:"kdf_algorithm"`
	KDFIterations uint32 `json:"kdf_iterations"`
}

// GrantRow is the wire shape of one vault_access row; the wrapped master
// key is the hex-encoded envelope.
type GrantRow struct {
	VaultID          string `json:"vault_id"`
	UserID           string `json:"user_id"`
	WrappedMasterKey string `json:"wrapped_master_key"`
	AccessLevel      string `json:"access_level"`
	UpdatedAt        int64  `json:"updated_at"`
}

// AuditRow is the wire shape of one security_audit row.
type AuditRow struct {
	Timestamp  int64  `json:"timestamp"`
	UserName   string `json:"user_name"`
	UserID     string `json:"user_id"`
	Action     string `json:"action"`
	Status     string `json:"status"`
	Details    string `json:"details"`
	DeviceInfo string `json:"device_info"`
}

// Identity stamps outbound requests with the active session so the remote
// can apply row policies.
type Identity struct {
	Username string
	UserID   string
	VaultID  string
	Role     string
}

// Client is the remote collaborator surface the sync engine depends on.
// Implementations map transport failures to common.ErrTransport (retried
// indefinitely by the caller) and unique-constraint violations to
// common.ErrConflict (resolved by re-fetching the canonical row).
type Client interface {
	// Ping probes remote liveness.
	Ping(ctx context.Context) error

	// SetIdentity updates the identity headers for subsequent calls.
	SetIdentity(id Identity)

	// ResolveUser returns the canonical remote account for a username,
	// common.ErrNotFound when the account does not exist remotely yet.
	ResolveUser(ctx context.Context, username string) (*UserRow, error)

	// UpsertUser pushes a locally provisioned account.
	UpsertUser(ctx context.Context, u *UserRow) error

	// ListGrants returns every vault_access row for a user.
	ListGrants(ctx context.Context, userID string) ([]GrantRow, error)

	// UpsertGrant pushes one vault_access row.
	UpsertGrant(ctx context.Context, g *GrantRow) error

	// ListSecrets returns rows visible to owner changed after since
	// (unix seconds; zero fetches everything). The privacy filter is part
	// of the query, not client-side post-processing.
	ListSecrets(ctx context.Context, owner string, since int64) ([]SecretRow, error)

	// FindSecret returns the canonical row for a unique
	// (service, username, owner) triple, used to resolve push conflicts.
	FindSecret(ctx context.Context, service, username, owner string) (*SecretRow, error)

	// InsertSecret creates a row and returns it as stored remotely.
	InsertSecret(ctx context.Context, s *SecretRow) (*SecretRow, error)

	// UpdateSecret rewrites a row by remote id.
	UpdateSecret(ctx context.Context, s *SecretRow) error

	// DeleteSecret removes a row by remote id (tombstone acknowledgement).
	DeleteSecret(ctx context.Context, id string) error

	// InsertAuditEvents appends audit rows. Every row must carry a
	// remote-resolved user id.
	InsertAuditEvents(ctx context.Context, events []AuditRow) error

	Close() error
}
