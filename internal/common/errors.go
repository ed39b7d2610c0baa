// Package common defines shared constants and sentinel errors used across
// passvault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Crypto-level errors.
	//
	// ErrAuthFailure is the only failure an unlock caller ever sees: it
	// deliberately does not distinguish a wrong password from a corrupt
	// wrapped blob. The distinction is logged internally.
	ErrAuthFailure = errors.New("authentication failed")
	ErrAuth        = errors.New("decryption failed: authentication tag mismatch")
	ErrIntegrity   = errors.New("integrity hash mismatch")
	ErrKDF         = errors.New("invalid key derivation parameters")

	// Policy / access errors.
	ErrPolicy    = errors.New("operation forbidden by access policy")
	ErrLastAdmin = errors.New("vault must keep at least one admin grant")

	// Record state errors. A record awaiting its vault key is present but
	// unreadable, never silently dropped.
	ErrAwaitingKey = errors.New("record is locked: vault key not available")

	// Sync errors.
	ErrConflict  = errors.New("remote unique constraint conflict")
	ErrTransport = errors.New("remote store unavailable")

	// Rate limiting.
	ErrRateLimited = errors.New("too many attempts")

	// Session state errors.
	ErrVaultLocked = errors.New("vault is locked")
)
