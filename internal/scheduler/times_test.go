package scheduler

import (
	"testing"
	"time"
)

// hourlySchedule fires at the top of every hour.
type hourlySchedule struct{}

func (hourlySchedule) Next(after time.Time) time.Time {
	return after.Truncate(time.Hour).Add(time.Hour)
}

func (hourlySchedule) Prev(before time.Time) time.Time {
	prev := before.Truncate(time.Hour)
	if !prev.Before(before) {
		prev = prev.Add(-time.Hour)
	}
	return prev
}

func TestNextRun(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 30, 45, 0, time.UTC)
	got := NextRun(hourlySchedule{}, now, true)
	want := time.Date(2026, 2, 1, 11, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextRun = %s, want %s", got, want)
	}

	// A disabled trigger has no next run.
	if got := NextRun(hourlySchedule{}, now, false); !got.IsZero() {
		t.Errorf("NextRun with trigger off = %s, want zero", got)
	}
}

func TestPreviousRun(t *testing.T) {
	now := time.Date(2026, 2, 1, 10, 30, 45, 0, time.UTC)
	got := PreviousRun(hourlySchedule{}, now)
	want := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("PreviousRun = %s, want %s", got, want)
	}

	// At an exact fire minute the fire counts as the previous run.
	exact := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	got = PreviousRun(hourlySchedule{}, exact)
	if !got.Equal(exact) {
		t.Errorf("PreviousRun at fire minute = %s, want %s", got, exact)
	}
}

func TestIsDue(t *testing.T) {
	fire := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if !IsDue(hourlySchedule{}, fire, true) {
		t.Error("schedule must be due at its fire minute")
	}
	if IsDue(hourlySchedule{}, fire.Add(time.Minute), true) {
		t.Error("schedule must not be due a minute later")
	}
	// Seconds within the fire minute do not matter.
	if !IsDue(hourlySchedule{}, fire.Add(42*time.Second), true) {
		t.Error("due-ness must be minute granular")
	}
	if IsDue(hourlySchedule{}, fire, false) {
		t.Error("a disabled trigger must never be due")
	}
}
