package version

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// mockRepo keeps versions in memory, newest first per automation.
type mockRepo struct {
	mu       sync.Mutex
	versions map[uuid.UUID][]domain.Version // newest first
	byID     map[uuid.UUID]domain.Version
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		versions: make(map[uuid.UUID][]domain.Version),
		byID:     make(map[uuid.UUID]domain.Version),
	}
}

func (r *mockRepo) InsertVersion(ctx context.Context, v domain.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[v.AutomationID] = append([]domain.Version{v}, r.versions[v.AutomationID]...)
	r.byID[v.ID] = v
	return nil
}

func (r *mockRepo) ListVersions(ctx context.Context, automationID uuid.UUID) ([]domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Version(nil), r.versions[automationID]...), nil
}

func (r *mockRepo) GetVersion(ctx context.Context, id uuid.UUID) (domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.byID[id]
	if !ok {
		return domain.Version{}, domain.ErrNotFound
	}
	return v, nil
}

func (r *mockRepo) LatestSemVer(ctx context.Context, automationID uuid.UUID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs := r.versions[automationID]
	if len(vs) == 0 {
		return "", nil
	}
	return vs[0].SemVer, nil
}

type mockVersionEmitter struct {
	mu     sync.Mutex
	events []domain.VersionCreated
}

func (e *mockVersionEmitter) Emit(ctx context.Context, event domain.VersionCreated) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *mockVersionEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events)
}

func payload(code string) domain.CodePayload {
	return domain.CodePayload{Inline: code}
}

func TestStore_CreateVersion_Sequence(t *testing.T) {
	store := New(newMockRepo())
	automationID := uuid.New()
	ctx := context.Background()

	v1, err := store.CreateVersion(ctx, automationID, payload("v1"), nil, nil, "first", BumpPatch)
	if err != nil {
		t.Fatalf("create first version: %v", err)
	}
	if v1.SemVer != "0.0.1" {
		t.Errorf("first version = %s, want 0.0.1", v1.SemVer)
	}
	if v1.SyncStatus != domain.SyncStatusUnsynced {
		t.Errorf("first version sync status = %s, want unsynced", v1.SyncStatus)
	}

	v2, err := store.CreateVersion(ctx, automationID, payload("v2"), nil, nil, "second", BumpPatch)
	if err != nil {
		t.Fatalf("create second version: %v", err)
	}
	if v2.SemVer != "0.0.2" {
		t.Errorf("second version = %s, want 0.0.2", v2.SemVer)
	}

	v3, err := store.CreateVersion(ctx, automationID, payload("v3"), nil, nil, "reshape", BumpMinor)
	if err != nil {
		t.Fatalf("create third version: %v", err)
	}
	if v3.SemVer != "0.1.0" {
		t.Errorf("minor bump = %s, want 0.1.0", v3.SemVer)
	}
}

func TestStore_CreateVersion_EmptyPayload(t *testing.T) {
	store := New(newMockRepo())

	_, err := store.CreateVersion(context.Background(), uuid.New(), payload("  \n"), nil, nil, "empty", BumpPatch)
	if !errors.Is(err, domain.ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestStore_CreateVersion_PerAutomationNumbering(t *testing.T) {
	store := New(newMockRepo())
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	if _, err := store.CreateVersion(ctx, a, payload("a1"), nil, nil, "", BumpPatch); err != nil {
		t.Fatal(err)
	}
	vb, err := store.CreateVersion(ctx, b, payload("b1"), nil, nil, "", BumpPatch)
	if err != nil {
		t.Fatal(err)
	}
	if vb.SemVer != "0.0.1" {
		t.Errorf("other automation's first version = %s, want 0.0.1", vb.SemVer)
	}
}

func TestStore_CreateVersion_EmitsEvent(t *testing.T) {
	emitter := &mockVersionEmitter{}
	store := New(newMockRepo()).WithEmitter(emitter)

	v, err := store.CreateVersion(context.Background(), uuid.New(), payload("code"), nil, nil, "", BumpPatch)
	if err != nil {
		t.Fatal(err)
	}
	if emitter.count() != 1 {
		t.Fatalf("expected 1 VersionCreated event, got %d", emitter.count())
	}
	if emitter.events[0].Version.ID != v.ID {
		t.Error("emitted event carries a different version")
	}
}

func TestStore_CreateVersion_SnapshotIsolation(t *testing.T) {
	repo := newMockRepo()
	store := New(repo)
	automationID := uuid.New()

	code := domain.CodePayload{Files: []domain.CodeFile{{Name: "main.py", Content: "original"}}}
	deps := []string{"requests"}
	v, err := store.CreateVersion(context.Background(), automationID, code, deps, nil, "", BumpPatch)
	if err != nil {
		t.Fatal(err)
	}

	// Mutating the caller's slices must not reach the stored snapshot.
	code.Files[0].Content = "mutated"
	deps[0] = "mutated"

	stored, err := repo.GetVersion(context.Background(), v.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Code.Files[0].Content != "original" {
		t.Error("stored snapshot shares the caller's code slice")
	}
	if stored.Dependencies[0] != "requests" {
		t.Error("stored snapshot shares the caller's dependency slice")
	}
}

func TestStore_Rollback_AutoAccept(t *testing.T) {
	store := New(newMockRepo())
	automationID := uuid.New()
	ctx := context.Background()

	v1, _ := store.CreateVersion(ctx, automationID, payload("v1"), nil, nil, "first", BumpPatch)
	if _, err := store.CreateVersion(ctx, automationID, payload("v2"), nil, nil, "second", BumpPatch); err != nil {
		t.Fatal(err)
	}

	plan, err := store.Rollback(ctx, automationID, v1.ID, true)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if plan.Pending {
		t.Error("auto-accepted rollback must not be pending")
	}
	if plan.Accepted == nil {
		t.Fatal("auto-accepted rollback returned no version")
	}
	if plan.Accepted.SemVer != "0.0.3" {
		t.Errorf("rollback version = %s, want 0.0.3 (history is append-only)", plan.Accepted.SemVer)
	}
	if plan.Accepted.CommitMessage != "Rolled back to 0.0.1" {
		t.Errorf("rollback message = %q", plan.Accepted.CommitMessage)
	}
	if plan.Accepted.Code.Inline != "v1" {
		t.Errorf("rollback content = %q, want v1", plan.Accepted.Code.Inline)
	}
}

func TestStore_Rollback_PendingAcceptFlow(t *testing.T) {
	store := New(newMockRepo())
	automationID := uuid.New()
	ctx := context.Background()

	v1, _ := store.CreateVersion(ctx, automationID, payload("v1"), nil, nil, "first", BumpPatch)
	v2, _ := store.CreateVersion(ctx, automationID, payload("v2"), nil, nil, "second", BumpPatch)

	plan, err := store.Rollback(ctx, automationID, v1.ID, false)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if !plan.Pending || plan.Accepted != nil {
		t.Error("rollback without auto-accept must stage, not commit")
	}

	// Versions are untouched while the rollback is staged.
	vs, _ := store.ListVersions(ctx, automationID)
	if len(vs) != 2 {
		t.Fatalf("expected 2 versions while staged, got %d", len(vs))
	}

	// A second rollback overwrites the first, never stacks.
	if _, err := store.Rollback(ctx, automationID, v2.ID, false); err != nil {
		t.Fatal(err)
	}
	if msg, ok := store.PendingMessage(automationID); !ok || msg != "Rolled back to 0.0.2" {
		t.Errorf("pending message = %q (ok=%v), want overwrite to 0.0.2", msg, ok)
	}

	v3, err := store.AcceptPending(ctx, automationID)
	if err != nil {
		t.Fatalf("accept pending: %v", err)
	}
	if v3.SemVer != "0.0.3" || v3.Code.Inline != "v2" {
		t.Errorf("accepted version = %s %q, want 0.0.3 with v2 content", v3.SemVer, v3.Code.Inline)
	}

	if _, ok := store.PendingMessage(automationID); ok {
		t.Error("pending state not cleared after accept")
	}
	if _, err := store.AcceptPending(ctx, automationID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second accept: expected ErrNotFound, got %v", err)
	}
}

func TestStore_Rollback_PendingIsolatedPerAutomation(t *testing.T) {
	store := New(newMockRepo())
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	va, _ := store.CreateVersion(ctx, a, payload("a1"), nil, nil, "", BumpPatch)
	if _, err := store.CreateVersion(ctx, b, payload("b1"), nil, nil, "", BumpPatch); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Rollback(ctx, a, va.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, ok := store.PendingMessage(b); ok {
		t.Error("automation b sees automation a's pending rollback")
	}
}

func TestStore_Rollback_WrongAutomation(t *testing.T) {
	store := New(newMockRepo())
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	va, _ := store.CreateVersion(ctx, a, payload("a1"), nil, nil, "", BumpPatch)

	if _, err := store.Rollback(ctx, b, va.ID, false); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("rollback to another automation's version: expected ErrNotFound, got %v", err)
	}
}

func TestStore_DiscardPending(t *testing.T) {
	store := New(newMockRepo())
	automationID := uuid.New()
	ctx := context.Background()

	v1, _ := store.CreateVersion(ctx, automationID, payload("v1"), nil, nil, "", BumpPatch)
	if _, err := store.Rollback(ctx, automationID, v1.ID, false); err != nil {
		t.Fatal(err)
	}

	store.DiscardPending(automationID)
	if _, ok := store.PendingMessage(automationID); ok {
		t.Error("pending rollback survived discard")
	}

	vs, _ := store.ListVersions(ctx, automationID)
	if len(vs) != 1 {
		t.Errorf("discard created a version: %d versions", len(vs))
	}
}

func TestStore_ClockInjection(t *testing.T) {
	store := New(newMockRepo())
	fixed := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return fixed }

	v, err := store.CreateVersion(context.Background(), uuid.New(), payload("x"), nil, nil, "", BumpPatch)
	if err != nil {
		t.Fatal(err)
	}
	if !v.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %s, want %s", v.CreatedAt, fixed)
	}
}
