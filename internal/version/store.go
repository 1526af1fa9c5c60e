package version

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// Repository is the persistence the store runs on.
type Repository interface {
	InsertVersion(ctx context.Context, v domain.Version) error
	// ListVersions returns an automation's versions newest first.
	ListVersions(ctx context.Context, automationID uuid.UUID) ([]domain.Version, error)
	GetVersion(ctx context.Context, id uuid.UUID) (domain.Version, error)
	// LatestSemVer returns the most recently created version string, or
	// "" when the automation has no versions yet.
	LatestSemVer(ctx context.Context, automationID uuid.UUID) (string, error)
}

// Emitter receives VersionCreated events. Emission is best-effort: local
// versioning is authoritative and never fails because of it.
type Emitter interface {
	Emit(ctx context.Context, event domain.VersionCreated) error
}

// MetricsSink defines the store's metrics hooks.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	VersionCreated(bump string)
	RollbackStaged()
}

type pendingRollback struct {
	targetVersionID uuid.UUID
	message         string
	code            domain.CodePayload
	dependencies    []string
	envVarNames     []string
}

// Store owns semantic versioning and snapshot/rollback of automation
// code. Versions are append-only and strictly increasing per automation.
type Store struct {
	repo    Repository
	emitter Emitter     // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	// createMu serializes version-number assignment. The automation
	// document has a single logical owner, so contention is incidental,
	// not structural.
	createMu sync.Mutex

	// pending holds at most one unaccepted rollback per automation,
	// overwritten (never appended) on repeated rollback-without-accept.
	mu      sync.Mutex
	pending map[uuid.UUID]pendingRollback
}

func New(repo Repository) *Store {
	return &Store{
		repo:    repo,
		clock:   time.Now,
		pending: make(map[uuid.UUID]pendingRollback),
	}
}

func (s *Store) WithEmitter(e Emitter) *Store {
	s.emitter = e
	return s
}

func (s *Store) WithMetrics(m MetricsSink) *Store {
	s.metrics = m
	return s
}

// CreateVersion snapshots the given content as the automation's next
// version. The first version of an automation is 0.0.1; later versions
// bump PATCH unless the caller flags a MINOR/MAJOR change. Only
// environment-variable names are recorded, never values.
func (s *Store) CreateVersion(ctx context.Context, automationID uuid.UUID, code domain.CodePayload, dependencies, envVarNames []string, message string, bump Bump) (domain.Version, error) {
	if code.Empty() {
		return domain.Version{}, domain.ErrInvalidPayload
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	current, err := s.repo.LatestSemVer(ctx, automationID)
	if err != nil {
		return domain.Version{}, fmt.Errorf("latest version: %w", err)
	}

	next := initialSemVer
	if current != "" {
		next, err = nextSemVer(current, bump)
		if err != nil {
			return domain.Version{}, err
		}
	}

	now := s.clock().UTC()
	v := domain.Version{
		ID:            uuid.New(),
		AutomationID:  automationID,
		SemVer:        next,
		Code:          code.Clone(),
		Dependencies:  cloneStrings(dependencies),
		EnvVarNames:   cloneStrings(envVarNames),
		CommitMessage: message,
		SyncStatus:    domain.SyncStatusUnsynced,
		CreatedAt:     now,
	}

	if err := s.repo.InsertVersion(ctx, v); err != nil {
		return domain.Version{}, fmt.Errorf("insert version: %w", err)
	}

	if s.metrics != nil {
		s.metrics.VersionCreated(bump.String())
	}
	s.emitCreated(ctx, v)

	return v, nil
}

func (s *Store) emitCreated(ctx context.Context, v domain.Version) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, domain.VersionCreated{Version: v, CreatedAt: v.CreatedAt}); err != nil {
		// Mirroring is best-effort; the version is already committed.
		log.Printf("version: emit VersionCreated for %s failed: %v", v.ID, err)
	}
}

func (s *Store) ListVersions(ctx context.Context, automationID uuid.UUID) ([]domain.Version, error) {
	return s.repo.ListVersions(ctx, automationID)
}

func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (domain.Version, error) {
	return s.repo.GetVersion(ctx, id)
}

// RollbackPlan stages a prior version's content. Accepted is set when the
// rollback was applied in auto-accept mode; Pending is set when the plan
// awaits an explicit accept.
type RollbackPlan struct {
	AutomationID    uuid.UUID
	TargetVersionID uuid.UUID
	TargetSemVer    string

	Code         domain.CodePayload
	Dependencies []string
	EnvVarNames  []string

	CommitMessage string

	Accepted *domain.Version
	Pending  bool
}

// Rollback stages the target version's content for re-commit. It never
// renumbers or deletes history. In auto-accept mode the new version is
// created immediately; otherwise the plan replaces any unaccepted
// rollback for the same automation (and only that automation) until
// AcceptPending is called.
//
// Environment handling: only variable names travel in the plan. Restoring
// configuration re-uses the current value of any name that still exists;
// reintroduced names start blank. Values never enter the store.
func (s *Store) Rollback(ctx context.Context, automationID, targetVersionID uuid.UUID, autoAccept bool) (RollbackPlan, error) {
	target, err := s.repo.GetVersion(ctx, targetVersionID)
	if err != nil {
		return RollbackPlan{}, err
	}
	if target.AutomationID != automationID {
		return RollbackPlan{}, domain.ErrNotFound
	}

	plan := RollbackPlan{
		AutomationID:    automationID,
		TargetVersionID: targetVersionID,
		TargetSemVer:    target.SemVer,
		Code:            target.Code.Clone(),
		Dependencies:    cloneStrings(target.Dependencies),
		EnvVarNames:     cloneStrings(target.EnvVarNames),
		CommitMessage:   fmt.Sprintf("Rolled back to %s", target.SemVer),
	}

	if autoAccept {
		v, err := s.CreateVersion(ctx, automationID, plan.Code, plan.Dependencies, plan.EnvVarNames, plan.CommitMessage, BumpPatch)
		if err != nil {
			return RollbackPlan{}, err
		}
		s.mu.Lock()
		delete(s.pending, automationID)
		s.mu.Unlock()
		plan.Accepted = &v
		return plan, nil
	}

	s.mu.Lock()
	s.pending[automationID] = pendingRollback{
		targetVersionID: targetVersionID,
		message:         plan.CommitMessage,
		code:            plan.Code,
		dependencies:    plan.Dependencies,
		envVarNames:     plan.EnvVarNames,
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RollbackStaged()
	}
	plan.Pending = true
	return plan, nil
}

// PendingMessage returns the staged rollback commit message, if any.
func (s *Store) PendingMessage(automationID uuid.UUID) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[automationID]
	return p.message, ok
}

// AcceptPending commits the staged rollback content as a new version and
// clears the pending state. Returns ErrNotFound when nothing is staged.
func (s *Store) AcceptPending(ctx context.Context, automationID uuid.UUID) (domain.Version, error) {
	s.mu.Lock()
	p, ok := s.pending[automationID]
	s.mu.Unlock()
	if !ok {
		return domain.Version{}, domain.ErrNotFound
	}

	v, err := s.CreateVersion(ctx, automationID, p.code, p.dependencies, p.envVarNames, p.message, BumpPatch)
	if err != nil {
		return domain.Version{}, err
	}

	s.mu.Lock()
	delete(s.pending, automationID)
	s.mu.Unlock()
	return v, nil
}

// DiscardPending drops an unaccepted rollback without committing it.
func (s *Store) DiscardPending(automationID uuid.UUID) {
	s.mu.Lock()
	delete(s.pending, automationID)
	s.mu.Unlock()
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
