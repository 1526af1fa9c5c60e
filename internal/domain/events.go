package domain

import "time"

// VersionCreated is emitted by the version store after a snapshot commits.
// The sync coordinator consumes it; emission failures never affect local
// versioning.
type VersionCreated struct {
	Version   Version
	CreatedAt time.Time
}

// RunClosed is emitted by the engine when an execution record reaches a
// terminal state. The notifier and analytics sinks consume it.
type RunClosed struct {
	Record   ExecutionRecord
	ClosedAt time.Time
}
