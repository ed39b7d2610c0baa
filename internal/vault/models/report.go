package models

// SyncReport summarizes one reconciliation cycle for the caller.
type SyncReport struct {
	Pushed      int
	Pulled      int
	Purged      int
	Conflicts   int
	AwaitingKey int
	Errors      int
}
