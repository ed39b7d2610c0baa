package models

import "time"

// KeyState marks whether a secret's ciphertext is currently decryptable
// with the keys available in this store.
type KeyState string

const (
	// KeyStateOK means the policy key (VMK or personal key) opens the record.
	KeyStateOK KeyState = "ok"
	// KeyStateLocked means the record arrived via sync before its vault key
	// was distributed here. It is kept encrypted and surfaced as
	// present-but-unreadable, never discarded.
	KeyStateLocked KeyState = "locked"
)

// Secret is one credential record. Ciphertext is a single AEAD blob
// (nonce ‖ ciphertext ‖ tag) encrypted under the vault master key, or under
// the owner's personal key when IsPrivate is set — the privacy boundary:
// a private record must never be decryptable by any other vault member.
type Secret struct {
	ID      int64
	VaultID string

	Service  string
	Username string

	Ciphertext []byte
	// IntegrityHash is hex SHA-256 of Ciphertext, independent of the AEAD
	// tag, detecting storage corruption before any crypto work.
	IntegrityHash string

	OwnerName string
	OwnerID   string
	IsPrivate bool

	// Deleted marks a tombstone. Rows are purged locally only after the
	// remote delete is acknowledged.
	Deleted bool
	Synced  bool

	KeyState KeyState

	// CloudID is the remote row identity; empty means pending creation.
	CloudID string

	UpdatedAt time.Time
	// Version is a whole-record monotonic counter; the higher version wins
	// a sync conflict, remote winning ties.
	Version int64
}

// SecretFields is the plaintext payload sealed into a Secret.
type SecretFields struct {
	Password string `json:"password"`
	Notes    string `json:"notes,omitempty"`
}
