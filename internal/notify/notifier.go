package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// ScheduleStore resolves the schedule a scheduled run originated from,
// for its notification preferences.
type ScheduleStore interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
}

// Sender delivers a rendered notification.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// AnalyticsSink records closed runs for trend counters, independent of
// notification outcome.
type AnalyticsSink interface {
	Record(ctx context.Context, event domain.RunClosed)
}

// MetricsSink defines the notifier's metrics hooks.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	NotificationOutcome(outcome string)
}

// Notification is one outbound run-outcome message.
type Notification struct {
	ExecutionID     uuid.UUID              `json:"execution_id"`
	AutomationID    uuid.UUID              `json:"automation_id"`
	AutomationTitle string                 `json:"automation_title"`
	Status          domain.ExecutionStatus `json:"status"`
	TriggerType     domain.TriggerType     `json:"trigger_type"`
	StartedAt       time.Time              `json:"started_at"`
	EndedAt         *time.Time             `json:"ended_at,omitempty"`
	ExitCode        int                    `json:"exit_code"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
}

// Notifier consumes RunClosed events and sends outcome notifications
// according to the originating schedule's preferences. Manual and API
// runs carry no preferences and emit nothing.
type Notifier struct {
	schedules ScheduleStore
	sender    Sender
	analytics AnalyticsSink // optional, nil = disabled
	metrics   MetricsSink   // optional, nil = disabled
}

func New(schedules ScheduleStore, sender Sender) *Notifier {
	return &Notifier{
		schedules: schedules,
		sender:    sender,
	}
}

func (n *Notifier) WithAnalytics(sink AnalyticsSink) *Notifier {
	n.analytics = sink
	return n
}

func (n *Notifier) WithMetrics(sink MetricsSink) *Notifier {
	n.metrics = sink
	return n
}

// Run processes events from the channel until the context is cancelled,
// then drains remaining buffered events with a timeout.
func (n *Notifier) Run(ctx context.Context, ch <-chan domain.RunClosed) {
	for {
		select {
		case <-ctx.Done():
			n.drain(ch)
			return
		case event := <-ch:
			if err := n.Notify(ctx, event); err != nil {
				log.Printf("notify: error: %v", err)
			}
		}
	}
}

// DrainTimeout bounds how long buffered events are processed during
// shutdown.
const DrainTimeout = 30 * time.Second

func (n *Notifier) drain(ch <-chan domain.RunClosed) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("notify: drain timeout, processed %d events", count)
			}
			return
		case event, ok := <-ch:
			if !ok {
				log.Printf("notify: drain complete, processed %d events", count)
				return
			}
			if err := n.Notify(drainCtx, event); err != nil {
				log.Printf("notify: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("notify: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Notify evaluates one closed run against its schedule's preferences and
// sends at most one notification.
func (n *Notifier) Notify(ctx context.Context, event domain.RunClosed) error {
	rec := event.Record

	// Analytics counts every closed run, whatever the preferences say.
	if n.analytics != nil {
		n.analytics.Record(ctx, event)
	}

	want, err := n.shouldNotify(ctx, rec)
	if err != nil {
		return err
	}
	if !want {
		n.outcome("skipped")
		return nil
	}

	msg := Notification{
		ExecutionID:     rec.ID,
		AutomationID:    rec.AutomationID,
		AutomationTitle: rec.AutomationTitle,
		Status:          rec.Status,
		TriggerType:     rec.TriggerType,
		StartedAt:       rec.StartedAt,
		EndedAt:         rec.EndedAt,
		ExitCode:        rec.ExitCode,
		ErrorMessage:    rec.ErrorMessage,
	}

	if err := n.sender.Send(ctx, msg); err != nil {
		n.outcome("failed")
		return fmt.Errorf("send notification for execution %s: %w", rec.ID, err)
	}

	n.outcome("sent")
	log.Printf("notify: sent execution=%s automation=%s status=%s", rec.ID, rec.AutomationID, rec.Status)
	return nil
}

func (n *Notifier) shouldNotify(ctx context.Context, rec domain.ExecutionRecord) (bool, error) {
	if rec.ScheduleID == nil {
		return false, nil
	}

	schedule, err := n.schedules.GetSchedule(ctx, *rec.ScheduleID)
	if errors.Is(err, domain.ErrNotFound) {
		// Schedule deleted after the run started; nothing to consult.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	prefs := schedule.Notifications
	if !prefs.Enabled {
		return false, nil
	}
	switch rec.Status {
	case domain.ExecutionStatusSuccess:
		return prefs.OnCompleted, nil
	case domain.ExecutionStatusFailed:
		return prefs.OnFailed, nil
	default:
		// Stopped and unknown outcomes are operator actions or cleanup,
		// not run results.
		return false, nil
	}
}

func (n *Notifier) outcome(o string) {
	if n.metrics != nil {
		n.metrics.NotificationOutcome(o)
	}
}
