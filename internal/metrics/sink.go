package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable,
// implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(fired int, duration time.Duration)

	// Execution metrics
	RunStarted(trigger string)
	RunClosed(status string, duration time.Duration)
	EditsBuffered(count int)

	// Version store metrics
	VersionCreated(bump string)
	RollbackStaged()

	// Notification metrics
	NotificationOutcome(outcome string)

	// Sync metrics
	SyncOutcome(outcome string)

	// Reconciler metrics
	OrphanedRecordsClosed(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string) // reason: "shutdown", "conn_lost", "error"
}
