package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal     prometheus.Counter
	runsFiredTotal prometheus.Counter
	tickDuration   prometheus.Histogram

	// Execution metrics
	runsStartedTotal  *prometheus.CounterVec
	runsClosedTotal   *prometheus.CounterVec
	runDuration       prometheus.Histogram
	editsBuffered     prometheus.Gauge

	// Version store metrics
	versionsCreatedTotal *prometheus.CounterVec
	rollbacksStagedTotal prometheus.Counter

	// Notification metrics
	notificationsTotal *prometheus.CounterVec

	// Sync metrics
	syncOutcomesTotal *prometheus.CounterVec

	// Reconciler metrics
	orphansClosedTotal prometheus.Counter

	// Leader election metrics
	leaderStatus        prometheus.Gauge
	leaderAcquiredTotal prometheus.Counter
	leaderLostTotal     *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initExecutionMetrics(reg)
	s.initVersionMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autoloop_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.runsFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autoloop_scheduler_runs_fired_total",
		Help: "Total number of scheduled runs fired.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoloop_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	s.register(reg, s.ticksTotal, "autoloop_scheduler_ticks_total")
	s.register(reg, s.runsFiredTotal, "autoloop_scheduler_runs_fired_total")
	s.register(reg, s.tickDuration, "autoloop_scheduler_tick_duration_seconds")
}

func (s *PrometheusSink) initExecutionMetrics(reg prometheus.Registerer) {
	s.runsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoloop_runs_started_total",
		Help: "Total number of execution records opened.",
	}, []string{"trigger"})
	s.runsClosedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoloop_runs_closed_total",
		Help: "Total number of execution records closed per terminal status.",
	}, []string{"status"})
	s.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autoloop_run_duration_seconds",
		Help:    "Wall-clock duration of closed runs in seconds.",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
	})
	s.editsBuffered = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autoloop_edits_buffered",
		Help: "Edits currently buffered behind an in-flight run.",
	})

	s.register(reg, s.runsStartedTotal, "autoloop_runs_started_total")
	s.register(reg, s.runsClosedTotal, "autoloop_runs_closed_total")
	s.register(reg, s.runDuration, "autoloop_run_duration_seconds")
	s.register(reg, s.editsBuffered, "autoloop_edits_buffered")
}

func (s *PrometheusSink) initVersionMetrics(reg prometheus.Registerer) {
	s.versionsCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoloop_versions_created_total",
		Help: "Total number of versions created per bump kind.",
	}, []string{"bump"})
	s.rollbacksStagedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autoloop_rollbacks_staged_total",
		Help: "Total number of rollbacks staged for acceptance.",
	})

	s.register(reg, s.versionsCreatedTotal, "autoloop_versions_created_total")
	s.register(reg, s.rollbacksStagedTotal, "autoloop_rollbacks_staged_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoloop_notifications_total",
		Help: "Total number of notification decisions per outcome.",
	}, []string{"outcome"})
	s.syncOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoloop_sync_outcomes_total",
		Help: "Total number of version mirror attempts per outcome.",
	}, []string{"outcome"})
	s.orphansClosedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autoloop_orphaned_records_closed_total",
		Help: "Total number of orphaned execution records closed by the reconciler.",
	})

	s.register(reg, s.notificationsTotal, "autoloop_notifications_total")
	s.register(reg, s.syncOutcomesTotal, "autoloop_sync_outcomes_total")
	s.register(reg, s.orphansClosedTotal, "autoloop_orphaned_records_closed_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "autoloop_leader_status",
		Help: "1 when this instance is the leader, 0 otherwise.",
	})
	s.leaderAcquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "autoloop_leader_acquired_total",
		Help: "Total number of times leadership was acquired.",
	})
	s.leaderLostTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autoloop_leader_lost_total",
		Help: "Total number of times leadership was lost, per reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "autoloop_leader_status")
	s.register(reg, s.leaderAcquiredTotal, "autoloop_leader_acquired_total")
	s.register(reg, s.leaderLostTotal, "autoloop_leader_lost_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(fired int, duration time.Duration) {
	s.runsFiredTotal.Add(float64(fired))
	s.tickDuration.Observe(duration.Seconds())
}

// Execution metrics implementation

func (s *PrometheusSink) RunStarted(trigger string) {
	s.runsStartedTotal.WithLabelValues(trigger).Inc()
}

func (s *PrometheusSink) RunClosed(status string, duration time.Duration) {
	s.runsClosedTotal.WithLabelValues(status).Inc()
	s.runDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) EditsBuffered(count int) {
	s.editsBuffered.Set(float64(count))
}

// Version store metrics implementation

func (s *PrometheusSink) VersionCreated(bump string) {
	s.versionsCreatedTotal.WithLabelValues(bump).Inc()
}

func (s *PrometheusSink) RollbackStaged() {
	s.rollbacksStagedTotal.Inc()
}

// Delivery metrics implementation

func (s *PrometheusSink) NotificationOutcome(outcome string) {
	s.notificationsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) SyncOutcome(outcome string) {
	s.syncOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) OrphanedRecordsClosed(count int) {
	s.orphansClosedTotal.Add(float64(count))
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
	} else {
		s.leaderStatus.Set(0)
	}
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquiredTotal.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLostTotal.WithLabelValues(reason).Inc()
}
