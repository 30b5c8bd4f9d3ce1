package model

import "time"

// EmailAccount is a connected mailbox scanned for subscription activity.
// Token issuance and user management live outside this core; the pipeline
// needs only enough to iterate accounts and track sync progress.
type EmailAccount struct {
	CreatedAt    time.Time
	LastSyncedAt *time.Time
	ID           string
	UserID       string
	Address      string
	Provider     string
}
