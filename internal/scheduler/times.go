package scheduler

import "time"

// NextRun returns the schedule's next fire time after now, at minute
// granularity. A disabled trigger has no next run; the zero time means
// not applicable.
func NextRun(sched CronSchedule, now time.Time, triggerEnabled bool) time.Time {
	if !triggerEnabled {
		return time.Time{}
	}
	return sched.Next(now.UTC().Truncate(time.Minute))
}

// PreviousRun returns the schedule's most recent fire time at or before
// now, or the zero time when none is known.
func PreviousRun(sched CronSchedule, now time.Time) time.Time {
	return sched.Prev(now.UTC().Truncate(time.Minute).Add(time.Second))
}

// IsDue reports whether the schedule fires exactly at the given minute.
// A disabled trigger is never due.
func IsDue(sched CronSchedule, minute time.Time, triggerEnabled bool) bool {
	minute = minute.UTC().Truncate(time.Minute)
	next := NextRun(sched, minute.Add(-time.Minute), triggerEnabled)
	return !next.IsZero() && next.Equal(minute)
}
