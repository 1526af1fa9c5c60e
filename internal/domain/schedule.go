package domain

import (
	"time"

	"github.com/google/uuid"
)

// NotificationPrefs controls email notification emission for scheduled
// runs. Each flag toggles independently; all default to enabled.
type NotificationPrefs struct {
	Enabled     bool
	OnCompleted bool
	OnFailed    bool
}

func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{Enabled: true, OnCompleted: true, OnFailed: true}
}

// Schedule is a cron-based trigger bound to one automation. Next and
// previous run times are never stored; they are pure functions of
// (cron expression, timezone, now).
type Schedule struct {
	ID           uuid.UUID
	AutomationID uuid.UUID

	CronExpression string
	Timezone       string // IANA timezone, defaults to UTC

	// RuntimeEnvironment overrides the automation default when non-empty.
	RuntimeEnvironment string
	Description        string

	Notifications NotificationPrefs

	CreatedAt time.Time
	UpdatedAt time.Time
}
