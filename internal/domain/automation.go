package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type AutomationStatus string

const (
	AutomationStatusDraft    AutomationStatus = "draft"
	AutomationStatusLive     AutomationStatus = "live"
	AutomationStatusNotInUse AutomationStatus = "not_in_use"
)

type TriggerMode string

const (
	TriggerModeManual    TriggerMode = "manual"
	TriggerModeTimeBased TriggerMode = "time_based"
)

// CodeFile is one named entry of a multi-file payload. Order is significant.
type CodeFile struct {
	Name    string
	Content string
}

// CodePayload is the automation's code in either of its two shapes:
// a single inline blob, or an ordered collection of named files.
// Files takes precedence when non-empty.
type CodePayload struct {
	Inline string
	Files  []CodeFile
}

func (p CodePayload) MultiFile() bool { return len(p.Files) > 0 }

// Empty reports whether the payload carries no code in either shape.
func (p CodePayload) Empty() bool {
	if len(p.Files) == 0 {
		return strings.TrimSpace(p.Inline) == ""
	}
	for _, f := range p.Files {
		if strings.TrimSpace(f.Content) != "" {
			return false
		}
	}
	return true
}

func (p CodePayload) Clone() CodePayload {
	out := CodePayload{Inline: p.Inline}
	if p.Files != nil {
		out.Files = make([]CodeFile, len(p.Files))
		copy(out.Files, p.Files)
	}
	return out
}

func (p CodePayload) Equal(o CodePayload) bool {
	if p.Inline != o.Inline || len(p.Files) != len(o.Files) {
		return false
	}
	for i := range p.Files {
		if p.Files[i] != o.Files[i] {
			return false
		}
	}
	return true
}

// Automation is the mutable root entity the engine, version store and
// scheduler cooperate on.
type Automation struct {
	ID uuid.UUID

	Title       string
	Description string
	Status      AutomationStatus

	TriggerMode    TriggerMode
	TriggerEnabled bool // global schedule kill-switch

	Code         CodePayload
	Dependencies []string

	// EnvVarNames lists referenced environment variables by name only.
	// Values are owned by the external secret store and never recorded here.
	EnvVarNames []string

	APIKey string

	// RuntimeEnvironment is the default execution environment; schedules
	// may override it per firing.
	RuntimeEnvironment string

	OwnerID  uuid.UUID
	AdminIDs []uuid.UUID

	// DocVersion is the optimistic-concurrency fence. Every accepted
	// mutation increments it; writes carrying a stale fence are rejected
	// with ErrConcurrentModification.
	DocVersion int64

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

func (a Automation) Deleted() bool { return a.DeletedAt != nil }
