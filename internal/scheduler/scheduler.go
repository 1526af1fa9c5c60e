package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

type Store interface {
	// GetTimeBasedAutomations returns live, time-triggered automations
	// together with their schedules.
	GetTimeBasedAutomations(ctx context.Context) ([]AutomationWithSchedules, error)
}

type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
	Prev(before time.Time) time.Time
}

// Runner starts scheduled executions. The engine backs this in
// production.
type Runner interface {
	RunScheduled(ctx context.Context, automationID, scheduleID uuid.UUID, runtimeEnv string) (domain.ExecutionRecord, error)
}

// MetricsSink defines the scheduler's metrics hooks.
type MetricsSink interface {
	TickStarted()
	TickCompleted(fired int, duration time.Duration)
}

type AutomationWithSchedules struct {
	Automation domain.Automation
	Schedules  []domain.Schedule
}

type Config struct {
	TickInterval time.Duration
}

// Scheduler fires time-triggered automations. Due-ness is evaluated at
// minute granularity: each tick covers the window since the previous
// tick, so a slow tick cannot silently skip a boundary.
type Scheduler struct {
	config   Config
	store    Store
	parser   CronParser
	runner   Runner
	metrics  MetricsSink // optional, nil = disabled
	clock    func() time.Time
	lastTick time.Time
}

func New(config Config, store Store, parser CronParser, runner Runner) *Scheduler {
	return &Scheduler{
		config: config,
		store:  store,
		parser: parser,
		runner: runner,
		clock:  time.Now,
	}
}

func (s *Scheduler) WithMetrics(m MetricsSink) *Scheduler {
	s.metrics = m
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	s.lastTick = s.clock().UTC().Truncate(time.Minute)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.processTick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

func (s *Scheduler) processTick(ctx context.Context) error {
	start := s.clock()
	now := start.UTC().Truncate(time.Minute)
	if !now.After(s.lastTick) {
		return nil
	}
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	automations, err := s.store.GetTimeBasedAutomations(ctx)
	if err != nil {
		return fmt.Errorf("get automations: %w", err)
	}

	fired := 0
	for _, aws := range automations {
		n, err := s.processAutomation(ctx, aws, s.lastTick, now)
		fired += n
		if err != nil {
			log.Printf("scheduler: automation %s error: %v", aws.Automation.ID, err)
		}
	}

	s.lastTick = now
	if s.metrics != nil {
		s.metrics.TickCompleted(fired, s.clock().Sub(start))
	}
	return nil
}

// processAutomation fires each schedule due in (lastTick, now]. Returns
// how many runs were started.
func (s *Scheduler) processAutomation(ctx context.Context, aws AutomationWithSchedules, lastTick, now time.Time) (int, error) {
	a := aws.Automation
	if a.Status != domain.AutomationStatusLive || a.TriggerMode != domain.TriggerModeTimeBased {
		return 0, nil
	}

	fired := 0
	for _, schedule := range aws.Schedules {
		due, err := s.dueInWindow(schedule, a.TriggerEnabled, lastTick, now)
		if err != nil {
			log.Printf("scheduler: schedule %s parse error: %v", schedule.ID, err)
			continue
		}
		if !due {
			continue
		}

		if err := s.fire(ctx, a, schedule); err != nil {
			log.Printf("scheduler: automation %s schedule %s error: %v", a.ID, schedule.ID, err)
			continue
		}
		fired++
		// A single run per automation per window, regardless of how many
		// of its schedules matched.
		break
	}
	return fired, nil
}

func (s *Scheduler) dueInWindow(schedule domain.Schedule, triggerEnabled bool, lastTick, now time.Time) (bool, error) {
	sched, err := s.parser.Parse(schedule.CronExpression, schedule.Timezone)
	if err != nil {
		return false, err
	}
	if now.Sub(lastTick) == time.Minute {
		return IsDue(sched, now, triggerEnabled), nil
	}
	// A slow tick can cover several minutes; any fire inside the window
	// counts.
	next := NextRun(sched, lastTick, triggerEnabled)
	return !next.IsZero() && !next.After(now), nil
}

func (s *Scheduler) fire(ctx context.Context, a domain.Automation, schedule domain.Schedule) error {
	// A schedule-level environment overrides the automation default.
	runtimeEnv := schedule.RuntimeEnvironment
	if runtimeEnv == "" {
		runtimeEnv = a.RuntimeEnvironment
	}

	rec, err := s.runner.RunScheduled(ctx, a.ID, schedule.ID, runtimeEnv)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		// The previous run is still going; this window's fire is skipped,
		// never queued.
		log.Printf("scheduler: automation %s still running, skipping schedule %s", a.ID, schedule.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("run scheduled: %w", err)
	}

	log.Printf("scheduler: fired automation=%s schedule=%s execution=%s env=%s", a.ID, schedule.ID, rec.ID, runtimeEnv)
	return nil
}
