package domain

import (
	"testing"
	"time"
)

func TestExecutionStatus_Terminal(t *testing.T) {
	terminal := []ExecutionStatus{
		ExecutionStatusSuccess,
		ExecutionStatusFailed,
		ExecutionStatusStopped,
		ExecutionStatusUnknown,
	}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	if ExecutionStatusRunning.Terminal() {
		t.Error("running must not be terminal")
	}
	if ExecutionStatus("bogus").Terminal() {
		t.Error("unrecognized status must not be terminal")
	}
}

func TestExecutionRecord_Duration(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	open := ExecutionRecord{StartedAt: started}
	if d := open.Duration(); d != 0 {
		t.Errorf("open record duration = %s, want 0", d)
	}

	ended := started.Add(90 * time.Second)
	closed := ExecutionRecord{StartedAt: started, EndedAt: &ended}
	if d := closed.Duration(); d != 90*time.Second {
		t.Errorf("closed record duration = %s, want 90s", d)
	}
}
