package models

import "time"

// Grant is one (vault, user) access row. The vault master key is wrapped
// independently for each grantee under that grantee's own KEK, so
// compromising one member's wrap never exposes another member's.
//
// Grants are the single authoritative location of VMK wraps; there is no
// per-user "current wrap" field anywhere else.
type Grant struct {
	VaultID string
	UserID  string

	// WrappedMasterKey is the encoded envelope holding the VMK.
	WrappedMasterKey []byte

	AccessLevel Role
	UpdatedAt   time.Time
	Synced      bool
}
