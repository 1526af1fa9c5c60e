package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                    {}
func (n *NoopSink) TickCompleted(fired int, duration time.Duration) {}
func (n *NoopSink) RunStarted(trigger string)                       {}
func (n *NoopSink) RunClosed(status string, d time.Duration)        {}
func (n *NoopSink) EditsBuffered(count int)                         {}
func (n *NoopSink) VersionCreated(bump string)                      {}
func (n *NoopSink) RollbackStaged()                                 {}
func (n *NoopSink) NotificationOutcome(outcome string)              {}
func (n *NoopSink) SyncOutcome(outcome string)                      {}
func (n *NoopSink) OrphanedRecordsClosed(count int)                 {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)               {}
func (n *NoopSink) LeaderAcquired()                                 {}
func (n *NoopSink) LeaderLost(reason string)                        {}
