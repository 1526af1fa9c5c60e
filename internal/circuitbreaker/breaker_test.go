package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure("acme/repo")
	cb.RecordFailure("acme/repo")
	if err := cb.Allow("acme/repo"); err != nil {
		t.Fatalf("below threshold: %v", err)
	}

	cb.RecordFailure("acme/repo")
	if err := cb.Allow("acme/repo"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("at threshold: expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_KeysAreIndependent(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure("acme/broken")
	if err := cb.Allow("acme/broken"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if err := cb.Allow("acme/healthy"); err != nil {
		t.Errorf("other key must stay closed: %v", err)
	}
}

func TestBreaker_CooldownAdmitsSingleProbe(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute).WithClock(func() time.Time { return now })

	cb.RecordFailure("k")
	if err := cb.Allow("k"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := cb.Allow("k"); err != nil {
		t.Fatalf("cooldown elapsed, probe must pass: %v", err)
	}
	// Only one probe at a time in half-open.
	if err := cb.Allow("k"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second concurrent probe: expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute).WithClock(func() time.Time { return now })

	cb.RecordFailure("k")
	now = now.Add(time.Minute)
	if err := cb.Allow("k"); err != nil {
		t.Fatal(err)
	}
	cb.RecordSuccess("k")

	if err := cb.Allow("k"); err != nil {
		t.Errorf("circuit must close after a successful probe: %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(2, time.Minute)

	cb.RecordFailure("k")
	cb.RecordSuccess("k")
	cb.RecordFailure("k")

	if err := cb.Allow("k"); err != nil {
		t.Errorf("failures interleaved with successes must not trip: %v", err)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	cb := New(1, time.Minute).WithClock(func() time.Time { return now })

	cb.RecordFailure("k")
	now = now.Add(time.Minute)
	if err := cb.Allow("k"); err != nil {
		t.Fatal(err)
	}
	cb.RecordFailure("k")

	if err := cb.Allow("k"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("failed probe must reopen the circuit, got %v", err)
	}
}

func TestBreaker_UnknownKeyAllowed(t *testing.T) {
	cb := New(1, time.Minute)
	if err := cb.Allow("never-seen"); err != nil {
		t.Errorf("unknown key must be allowed: %v", err)
	}
}
