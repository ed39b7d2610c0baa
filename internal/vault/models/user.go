// Package models defines the data model persisted in the local vault store
// and exchanged with the remote collaborator.
package models

import "time"

// Role is the coarse access level of a user or grant.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is a vault account. Exactly one active verifier exists per user at
// any time. The personal key envelope wraps the user's random 32-byte
// personal key under a KEK derived from their password; the envelope itself
// records the KDF algorithm and parameters it was wrapped with.
type User struct {
	// ID is the canonical identity. Accounts provisioned offline carry a
	// locally generated placeholder until the first successful remote
	// resolution rewrites it (see sync identity remapping).
	ID       string
	Username string
	Role     Role

	// Verifier is SHA-256 of the password-derived key; proves knowledge of
	// the password without storing derivable material.
	Verifier []byte
	// Salt and the KDF fields describe how Verifier was derived. Wrapped
	// blobs carry their own parameters inside the envelope.
	Salt          []byte
	KDFAlgorithm  uint8
	KDFIterations uint32

	// PersonalKeyWrap is the encoded envelope holding the personal key.
	PersonalKeyWrap []byte

	Active    bool
	Synced    bool
	UpdatedAt time.Time
}
