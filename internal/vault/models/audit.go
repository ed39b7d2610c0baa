package models

import "time"

// Audit actions recorded by the core. The trail is append-only and rides
// the same sync discipline as secrets.
const (
	AuditActionUnlock       = "UNLOCK"
	AuditActionUnlockFailed = "UNLOCK_FAILED"
	AuditActionPassword     = "PASSWORD_CHANGE"
	AuditActionGrant        = "GRANT_ACCESS"
	AuditActionRevoke       = "REVOKE_ACCESS"
	AuditActionRotate       = "ROTATE_VAULT_KEY"
	AuditActionSync         = "SYNC"
	AuditActionPurgeLeak    = "PURGE_LEAKED_SECRET"
	AuditActionBackup       = "BACKUP"
)

// AuditEvent is one security-relevant event. UserID must reference a
// remote-resolved identity before the event is uploaded; events created
// under a placeholder identity are remapped together with it.
type AuditEvent struct {
	ID         int64
	Timestamp  time.Time
	UserName   string
	UserID     string
	Action     string
	Status     string
	Details    string
	DeviceInfo string
	Synced     bool
}
