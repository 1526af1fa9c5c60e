package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var _ Sink = (*PrometheusSink)(nil)
var _ Sink = (*NoopSink)(nil)

func exercise(s Sink) {
	s.TickStarted()
	s.TickCompleted(2, 150*time.Millisecond)
	s.RunStarted("manual")
	s.RunClosed("success", 3*time.Second)
	s.EditsBuffered(1)
	s.VersionCreated("patch")
	s.RollbackStaged()
	s.NotificationOutcome("sent")
	s.SyncOutcome("synced")
	s.OrphanedRecordsClosed(2)
	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("conn_lost")
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil {
				total += c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				total += g.GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)

	exercise(sink)
	exercise(sink)

	cases := map[string]float64{
		"autoloop_scheduler_ticks_total":           2,
		"autoloop_scheduler_runs_fired_total":      4,
		"autoloop_runs_started_total":              2,
		"autoloop_runs_closed_total":               2,
		"autoloop_versions_created_total":          2,
		"autoloop_rollbacks_staged_total":          2,
		"autoloop_notifications_total":             2,
		"autoloop_sync_outcomes_total":             2,
		"autoloop_orphaned_records_closed_total":   4,
		"autoloop_leader_status":                   1,
		"autoloop_leader_acquired_total":           2,
		"autoloop_leader_lost_total":               2,
		"autoloop_edits_buffered":                  1,
	}
	for name, want := range cases {
		if got := gatherValue(t, reg, name); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

func TestPrometheusSink_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	// A second sink against the same registry logs registration failures
	// and stays functional.
	NewPrometheusSink(reg)
	sink := NewPrometheusSink(reg)
	exercise(sink)
}

func TestNoopSink(t *testing.T) {
	exercise(NewNoopSink())
}
