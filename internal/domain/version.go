package domain

import (
	"time"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncStatusUnsynced   SyncStatus = "unsynced"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusSyncFailed SyncStatus = "sync_failed"
)

// Version is an immutable snapshot of an automation's code, dependency
// list and referenced environment-variable names. Versions are append-only:
// a rollback creates a new version, it never renumbers or deletes history.
type Version struct {
	ID           uuid.UUID
	AutomationID uuid.UUID

	SemVer        string // MAJOR.MINOR.PATCH, strictly increasing per automation
	Code          CodePayload
	Dependencies  []string
	EnvVarNames   []string // names only, never values
	CommitMessage string

	SyncStatus SyncStatus
	CreatedAt  time.Time
}
