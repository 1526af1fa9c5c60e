package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
	ExecutionStatusStopped ExecutionStatus = "stopped"
	ExecutionStatusUnknown ExecutionStatus = "unknown"
)

// Terminal reports whether the status is final. A record transitions to a
// terminal status exactly once and is never mutated afterwards.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusStopped, ExecutionStatusUnknown:
		return true
	}
	return false
}

// TriggerType records run provenance: started by hand, by the scheduler,
// or through the external API.
type TriggerType string

const (
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeScheduled TriggerType = "scheduled"
	TriggerTypeAPI       TriggerType = "api"
)

// ExecutionRecord is one entry in the execution history ledger.
// At most one record per automation may be in the running state.
type ExecutionRecord struct {
	ID           uuid.UUID
	AutomationID uuid.UUID
	ScheduleID   *uuid.UUID // set for scheduled runs

	Status      ExecutionStatus
	TriggerType TriggerType

	StartedAt time.Time
	EndedAt   *time.Time // nil while running

	ExitCode     int
	ErrorMessage string

	// Denormalized fields for free-text history search.
	AutomationTitle string
	UserName        string
	UserEmail       string

	CreatedAt time.Time
}

// Duration is derived, zero while the record is open.
func (r ExecutionRecord) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}
