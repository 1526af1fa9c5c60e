package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// mockRepo enforces the single-running rule the way the database's
// partial unique index does.
type mockRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]domain.ExecutionRecord
	order   []uuid.UUID
}

func newMockRepo() *mockRepo {
	return &mockRepo{records: make(map[uuid.UUID]domain.ExecutionRecord)}
}

func (r *mockRepo) InsertRecord(ctx context.Context, rec domain.ExecutionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.records {
		if existing.AutomationID == rec.AutomationID && existing.Status == domain.ExecutionStatusRunning {
			return domain.ErrAlreadyRunning
		}
	}
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	return nil
}

func (r *mockRepo) RunningRecord(ctx context.Context, automationID uuid.UUID) (domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.AutomationID == automationID && rec.Status == domain.ExecutionStatusRunning {
			return rec, nil
		}
	}
	return domain.ExecutionRecord{}, domain.ErrNotFound
}

func (r *mockRepo) CloseRecord(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, endedAt time.Time, exitCode int, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status != domain.ExecutionStatusRunning {
		return false, nil
	}
	rec.Status = status
	rec.EndedAt = &endedAt
	rec.ExitCode = exitCode
	rec.ErrorMessage = errorMessage
	r.records[id] = rec
	return true, nil
}

func (r *mockRepo) GetRecord(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *mockRepo) QueryRecords(ctx context.Context, f Filter) ([]domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, id := range r.order {
		rec := r.records[id]
		if !matches(rec, f) {
			continue
		}
		out = append(out, rec)
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			out = nil
		} else {
			out = out[f.Offset:]
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *mockRepo) CountRecords(ctx context.Context, f Filter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if matches(rec, f) {
			n++
		}
	}
	return n, nil
}

func (r *mockRepo) StaleRunning(ctx context.Context, cutoff time.Time) ([]domain.ExecutionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ExecutionRecord
	for _, rec := range r.records {
		if rec.Status == domain.ExecutionStatusRunning && rec.StartedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func matches(rec domain.ExecutionRecord, f Filter) bool {
	if len(f.AutomationIDs) > 0 {
		found := false
		for _, id := range f.AutomationIDs {
			if rec.AutomationID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if rec.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestLedger_Append_SingleRunning(t *testing.T) {
	led := New(newMockRepo())
	automationID := uuid.New()
	ctx := context.Background()

	rec, err := led.Append(ctx, automationID, nil, domain.TriggerTypeManual, "My automation", "ada", "ada@example.com")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.Status != domain.ExecutionStatusRunning {
		t.Errorf("new record status = %s, want running", rec.Status)
	}
	if rec.AutomationTitle != "My automation" {
		t.Errorf("title not denormalized: %q", rec.AutomationTitle)
	}

	_, err = led.Append(ctx, automationID, nil, domain.TriggerTypeManual, "My automation", "", "")
	if !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Errorf("second append: expected ErrAlreadyRunning, got %v", err)
	}

	// A different automation is unaffected.
	if _, err := led.Append(ctx, uuid.New(), nil, domain.TriggerTypeManual, "Other", "", ""); err != nil {
		t.Errorf("other automation append: %v", err)
	}
}

func TestLedger_Close_ExactlyOnce(t *testing.T) {
	led := New(newMockRepo())
	ctx := context.Background()

	rec, err := led.Append(ctx, uuid.New(), nil, domain.TriggerTypeManual, "t", "", "")
	if err != nil {
		t.Fatal(err)
	}

	closed, err := led.Close(ctx, rec.ID, domain.ExecutionStatusSuccess, 0, "")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.ExecutionStatusSuccess || closed.EndedAt == nil {
		t.Errorf("closed record = %+v", closed)
	}

	_, err = led.Close(ctx, rec.ID, domain.ExecutionStatusFailed, 1, "late failure")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("second close: expected ErrAlreadyClosed, got %v", err)
	}

	// First outcome stands.
	got, _ := led.Get(ctx, rec.ID)
	if got.Status != domain.ExecutionStatusSuccess {
		t.Errorf("record status after double close = %s, want success", got.Status)
	}
}

func TestLedger_Close_RequiresTerminalStatus(t *testing.T) {
	led := New(newMockRepo())
	ctx := context.Background()

	rec, _ := led.Append(ctx, uuid.New(), nil, domain.TriggerTypeManual, "t", "", "")
	if _, err := led.Close(ctx, rec.ID, domain.ExecutionStatusRunning, 0, ""); err == nil {
		t.Error("closing with a non-terminal status must fail")
	}
}

func TestLedger_Query_HasMore(t *testing.T) {
	led := New(newMockRepo())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec, err := led.Append(ctx, uuid.New(), nil, domain.TriggerTypeManual, "t", "", "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := led.Close(ctx, rec.ID, domain.ExecutionStatusSuccess, 0, ""); err != nil {
			t.Fatal(err)
		}
	}

	page, err := led.Query(ctx, Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 2 || !page.HasMore {
		t.Errorf("page = %d records, hasMore=%v; want 2, true", len(page.Records), page.HasMore)
	}

	page, err = led.Query(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 1 || page.HasMore {
		t.Errorf("last page = %d records, hasMore=%v; want 1, false", len(page.Records), page.HasMore)
	}

	// A trailing exactly-full page still reports more; the next fetch
	// comes back empty.
	page, err = led.Query(ctx, Filter{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !page.HasMore {
		t.Error("exactly-full page must report HasMore")
	}
	page, err = led.Query(ctx, Filter{Limit: 5, Offset: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Records) != 0 || page.HasMore {
		t.Errorf("fetch past end = %d records, hasMore=%v; want 0, false", len(page.Records), page.HasMore)
	}
}

func TestLedger_TotalRuns_TerminalOnly(t *testing.T) {
	led := New(newMockRepo())
	automationID := uuid.New()
	ctx := context.Background()

	closedStatuses := []domain.ExecutionStatus{
		domain.ExecutionStatusSuccess,
		domain.ExecutionStatusFailed,
		domain.ExecutionStatusStopped,
		domain.ExecutionStatusUnknown,
	}
	for _, status := range closedStatuses {
		rec, err := led.Append(ctx, automationID, nil, domain.TriggerTypeManual, "t", "", "")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := led.Close(ctx, rec.ID, status, 0, ""); err != nil {
			t.Fatal(err)
		}
	}

	// One record left open; it must not count.
	if _, err := led.Append(ctx, automationID, nil, domain.TriggerTypeManual, "t", "", ""); err != nil {
		t.Fatal(err)
	}

	total, err := led.TotalRuns(ctx, automationID)
	if err != nil {
		t.Fatal(err)
	}
	if total != 4 {
		t.Errorf("TotalRuns = %d, want 4 (open record excluded)", total)
	}
}

func TestLedger_Count_IgnoresPagination(t *testing.T) {
	led := New(newMockRepo())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, _ := led.Append(ctx, uuid.New(), nil, domain.TriggerTypeManual, "t", "", "")
		if _, err := led.Close(ctx, rec.ID, domain.ExecutionStatusSuccess, 0, ""); err != nil {
			t.Fatal(err)
		}
	}

	n, err := led.Count(ctx, Filter{Limit: 1, Offset: 2})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3 regardless of pagination", n)
	}
}

func TestLedger_ScheduledRunCarriesScheduleID(t *testing.T) {
	led := New(newMockRepo())
	ctx := context.Background()
	scheduleID := uuid.New()

	rec, err := led.Append(ctx, uuid.New(), &scheduleID, domain.TriggerTypeScheduled, "t", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ScheduleID == nil || *rec.ScheduleID != scheduleID {
		t.Error("schedule id not carried on the record")
	}
	if rec.TriggerType != domain.TriggerTypeScheduled {
		t.Errorf("trigger type = %s, want scheduled", rec.TriggerType)
	}
}
