// Package reconciler closes orphaned execution records.
//
// A record is orphaned when it is still open but the engine no longer
// owns a run for its automation, typically after a crash between opening
// the record and sealing it. Orphans are closed with status unknown so
// history never reports a run as still going forever.
package reconciler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/ledger"
)

// Ledger is the slice of the history ledger the reconciler drives.
type Ledger interface {
	StaleRunning(ctx context.Context, cutoff time.Time) ([]domain.ExecutionRecord, error)
	Close(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, exitCode int, errorMessage string) (domain.ExecutionRecord, error)
}

// EngineState reports whether the engine still owns a run for the
// automation. Checkpointed runs count as owned and must not be reaped.
type EngineState interface {
	Active(automationID uuid.UUID) bool
}

// MetricsSink defines the reconciler's metrics hooks.
type MetricsSink interface {
	OrphanedRecordsClosed(count int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the age after which an open record with no owning run
	// is considered orphaned.
	// Default: 10 minutes.
	Threshold time.Duration
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
	}
}

// Reconciler detects orphaned execution records and closes them.
type Reconciler struct {
	config  Config
	ledger  Ledger
	engine  EngineState
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

// New creates a new Reconciler.
func New(config Config, led Ledger, engine EngineState) *Reconciler {
	return &Reconciler{
		config: config,
		ledger: led,
		engine: engine,
		clock:  time.Now,
	}
}

func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s)", r.config.Interval, r.config.Threshold)

	// Run immediately on startup, then on ticker
	r.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle.
func (r *Reconciler) runCycle(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	stale, err := r.ledger.StaleRunning(ctx, cutoff)
	if err != nil {
		// DB error: log and abort cycle. Will retry next interval.
		log.Printf("reconciler: failed to fetch stale records: %v", err)
		return
	}

	if len(stale) == 0 {
		return
	}

	closed := 0
	skipped := 0

	for _, rec := range stale {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d records", closed+skipped, len(stale))
			return
		}

		// The engine still owning the run means it is long-running or
		// checkpointed, not orphaned.
		if r.engine.Active(rec.AutomationID) {
			skipped++
			continue
		}

		_, err := r.ledger.Close(ctx, rec.ID, domain.ExecutionStatusUnknown, -1, "closed by reconciler: no owning run")
		if errors.Is(err, ledger.ErrAlreadyClosed) {
			// Lost the race with a late close; that outcome stands.
			continue
		}
		if err != nil {
			log.Printf("reconciler: failed to close execution=%s automation=%s: %v", rec.ID, rec.AutomationID, err)
			continue
		}

		log.Printf("reconciler: closed orphaned execution=%s automation=%s (age=%s)",
			rec.ID, rec.AutomationID, now.Sub(rec.StartedAt).Round(time.Second))
		closed++
	}

	if r.metrics != nil && closed > 0 {
		r.metrics.OrphanedRecordsClosed(closed)
	}
	log.Printf("reconciler: cycle complete, closed=%d, still_owned=%d", closed, skipped)
}
