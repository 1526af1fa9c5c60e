package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/ledger"
	"github.com/autoloop-io/autoloop/internal/version"
)

// State is an automation's position in the execution lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSaving     State = "saving"
	StateGenerating State = "generating"
	StateRunning    State = "running"
	StateResumable  State = "resumable"
	StateStopping   State = "stopping"
)

// ErrNotResumable marks a resume attempt on an automation that holds no
// checkpointed run.
var ErrNotResumable = errors.New("engine: no checkpointed run to resume")

// AutomationStore loads and updates automation documents. Updates carry
// the caller's observed DocVersion as a fence; a mismatched fence must
// fail with domain.ErrConcurrentModification.
type AutomationStore interface {
	GetAutomation(ctx context.Context, id uuid.UUID) (domain.Automation, error)
	UpdateAutomation(ctx context.Context, a domain.Automation, fence int64) (domain.Automation, error)
}

// Ledger is the slice of the execution history ledger the engine drives.
type Ledger interface {
	Append(ctx context.Context, automationID uuid.UUID, scheduleID *uuid.UUID, trigger domain.TriggerType, title, userName, userEmail string) (domain.ExecutionRecord, error)
	Close(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, exitCode int, errorMessage string) (domain.ExecutionRecord, error)
	Get(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error)
}

// OutcomeKind classifies how a runner invocation ended.
type OutcomeKind int

const (
	// OutcomeCompleted means the payload ran to the end successfully.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeFailed means the payload errored or exited non-zero.
	OutcomeFailed
	// OutcomeCheckpoint means the payload yielded mid-run and can be
	// resumed later from saved progress.
	OutcomeCheckpoint
)

type Outcome struct {
	Kind     OutcomeKind
	ExitCode int
	Err      error
}

// LogSink receives execution output lines as they are produced.
type LogSink interface {
	AppendLog(ctx context.Context, executionID uuid.UUID, line string) error
}

// RunSpec is everything a runner needs to execute one automation run.
type RunSpec struct {
	Automation  domain.Automation
	ExecutionID uuid.UUID
	// Resume is set when continuing a checkpointed run.
	Resume bool
	// RuntimeEnvironment is the resolved environment for this run, after
	// any schedule-level override has been applied.
	RuntimeEnvironment string
	Logs               LogSink
}

// Runner executes automation payloads. Run blocks until the payload
// finishes or the context is cancelled; cancellation is the cooperative
// stop signal.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) Outcome
}

// Emitter receives RunClosed events for fan-out to notifications and
// analytics.
type Emitter interface {
	Emit(ctx context.Context, event domain.RunClosed) error
}

// MetricsSink defines the engine's metrics hooks.
type MetricsSink interface {
	EditsBuffered(count int)
}

// Edit mutates an automation document. Edits submitted while a run is in
// flight are buffered and applied once the run leaves the running state.
type Edit func(*domain.Automation)

// Config tunes engine behavior.
type Config struct {
	// StopGracePeriod bounds how long a stop waits for the payload to
	// wind down before the record is force-closed as stopped.
	StopGracePeriod time.Duration
}

const defaultStopGracePeriod = 10 * time.Second

// controller tracks one automation's in-flight lifecycle. It exists only
// while the automation is away from idle.
type controller struct {
	state       State
	executionID uuid.UUID
	cancel      context.CancelFunc
	done        chan struct{}
	// forceClosed is set when a stop deadline expired and the record was
	// sealed before the runner returned.
	forceClosed  bool
	pendingEdits []Edit
	pendingSaves []SaveRequest
}

// Engine is the per-automation execution state machine. It owns state
// transitions, enforces the single-running-execution rule together with
// the ledger, and applies buffered edits when runs settle.
type Engine struct {
	automations AutomationStore
	versions    VersionStore
	ledger      Ledger
	runner      Runner
	logs        LogSink
	emitter     Emitter     // optional, nil = disabled
	metrics     MetricsSink // optional, nil = disabled
	clock       func() time.Time

	stopGrace time.Duration

	mu          sync.Mutex
	controllers map[uuid.UUID]*controller
}

// VersionStore is the slice of the version store the engine saves through.
type VersionStore interface {
	CreateVersion(ctx context.Context, automationID uuid.UUID, code domain.CodePayload, dependencies, envVarNames []string, message string, bump version.Bump) (domain.Version, error)
}

func New(automations AutomationStore, versions VersionStore, led Ledger, runner Runner, logs LogSink, cfg Config) *Engine {
	if cfg.StopGracePeriod <= 0 {
		cfg.StopGracePeriod = defaultStopGracePeriod
	}
	return &Engine{
		automations: automations,
		versions:    versions,
		ledger:      led,
		runner:      runner,
		logs:        logs,
		clock:       time.Now,
		stopGrace:   cfg.StopGracePeriod,
		controllers: make(map[uuid.UUID]*controller),
	}
}

func (e *Engine) WithEmitter(em Emitter) *Engine {
	e.emitter = em
	return e
}

func (e *Engine) WithMetrics(m MetricsSink) *Engine {
	e.metrics = m
	return e
}

// State reports the automation's current lifecycle state.
func (e *Engine) State(automationID uuid.UUID) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.controllers[automationID]; ok {
		return c.state
	}
	return StateIdle
}

// Active reports whether the automation holds an open run the engine
// still owns. Resumable counts as active: its record is open on purpose
// and must not be reaped as an orphan.
func (e *Engine) Active(automationID uuid.UUID) bool {
	switch e.State(automationID) {
	case StateRunning, StateStopping, StateResumable:
		return true
	}
	return false
}

// RunUser identifies who triggered a run, for the history record.
type RunUser struct {
	Name  string
	Email string
}

// Run starts a manual or API-triggered execution. At most one run per
// automation may be in flight; a second request fails fast with
// domain.ErrAlreadyRunning and is never queued. A run requested while a
// checkpoint is parked discards the checkpoint and starts fresh.
// Requests that land while the document is mid-save or mid-generation
// fail with domain.ErrConcurrentModification so the caller can retry on
// settled state.
func (e *Engine) Run(ctx context.Context, automationID uuid.UUID, trigger domain.TriggerType, user RunUser, runtimeEnv string) (domain.ExecutionRecord, error) {
	return e.start(ctx, automationID, nil, trigger, user, runtimeEnv)
}

// RunScheduled starts a run on behalf of the scheduler, tagging the
// record with the originating schedule.
func (e *Engine) RunScheduled(ctx context.Context, automationID, scheduleID uuid.UUID, runtimeEnv string) (domain.ExecutionRecord, error) {
	return e.start(ctx, automationID, &scheduleID, domain.TriggerTypeScheduled, RunUser{}, runtimeEnv)
}

func (e *Engine) start(ctx context.Context, automationID uuid.UUID, scheduleID *uuid.UUID, trigger domain.TriggerType, user RunUser, runtimeEnv string) (domain.ExecutionRecord, error) {
	e.mu.Lock()
	c, ok := e.controllers[automationID]
	if ok && c.state != StateResumable {
		state := c.state
		e.mu.Unlock()
		switch state {
		case StateSaving, StateGenerating:
			return domain.ExecutionRecord{}, domain.ErrConcurrentModification
		default:
			return domain.ExecutionRecord{}, domain.ErrAlreadyRunning
		}
	}
	var discard uuid.UUID
	if ok {
		// A fresh run supersedes the parked checkpoint: the old record
		// closes as stopped before the new one opens.
		discard = c.executionID
		c.state = StateRunning
		c.done = make(chan struct{})
	} else {
		// Reserve the slot before touching storage so a racing second
		// call fails fast instead of double-appending.
		c = &controller{state: StateRunning, done: make(chan struct{})}
		e.controllers[automationID] = c
	}
	e.mu.Unlock()

	if discard != uuid.Nil {
		if _, err := e.discardCheckpoint(ctx, discard); err != nil {
			e.release(automationID, c)
			return domain.ExecutionRecord{}, err
		}
	}

	rec, err := e.openAndLaunch(ctx, c, automationID, scheduleID, trigger, user, runtimeEnv, false, domain.ExecutionRecord{})
	if err != nil {
		e.release(automationID, c)
		return domain.ExecutionRecord{}, err
	}
	return rec, nil
}

// discardCheckpoint seals a parked record as stopped. Losing the race
// to a concurrent close is fine, the earlier outcome stands.
func (e *Engine) discardCheckpoint(ctx context.Context, executionID uuid.UUID) (domain.ExecutionRecord, error) {
	rec, err := e.ledger.Close(ctx, executionID, domain.ExecutionStatusStopped, 0, "checkpoint discarded")
	switch {
	case errors.Is(err, ledger.ErrAlreadyClosed):
		return e.ledger.Get(ctx, executionID)
	case err != nil:
		return domain.ExecutionRecord{}, err
	}
	log.Printf("engine: execution %s checkpoint discarded", executionID)
	e.emitClosed(ctx, rec)
	return rec, nil
}

func (e *Engine) openAndLaunch(ctx context.Context, c *controller, automationID uuid.UUID, scheduleID *uuid.UUID, trigger domain.TriggerType, user RunUser, runtimeEnv string, resume bool, existing domain.ExecutionRecord) (domain.ExecutionRecord, error) {
	a, err := e.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	if a.Deleted() {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}

	rec := existing
	if !resume {
		rec, err = e.ledger.Append(ctx, automationID, scheduleID, trigger, a.Title, user.Name, user.Email)
		if err != nil {
			return domain.ExecutionRecord{}, err
		}
	}

	if runtimeEnv == "" {
		runtimeEnv = a.RuntimeEnvironment
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	c.executionID = rec.ID
	c.cancel = cancel
	c.state = StateRunning
	e.mu.Unlock()

	spec := RunSpec{
		Automation:         a,
		ExecutionID:        rec.ID,
		Resume:             resume,
		RuntimeEnvironment: runtimeEnv,
		Logs:               e.logs,
	}

	go e.drive(runCtx, cancel, c, automationID, spec)

	log.Printf("engine: automation %s execution %s started (trigger=%s resume=%v)", automationID, rec.ID, trigger, resume)
	return rec, nil
}

// drive runs the payload and settles the controller on return.
func (e *Engine) drive(ctx context.Context, cancel context.CancelFunc, c *controller, automationID uuid.UUID, spec RunSpec) {
	defer cancel()
	defer close(c.done)

	outcome := e.runner.Run(ctx, spec)

	e.mu.Lock()
	stopping := c.state == StateStopping
	forceClosed := c.forceClosed
	e.mu.Unlock()

	bg := context.Background()
	switch {
	case forceClosed:
		// The stop deadline already sealed the record; nothing left to
		// write. Drop the late outcome.
		log.Printf("engine: automation %s execution %s finished after force-close, outcome discarded", automationID, spec.ExecutionID)
		e.settle(bg, automationID, c, true)
	case stopping:
		e.closeRun(bg, automationID, c, spec.ExecutionID, domain.ExecutionStatusStopped, outcome.ExitCode, "stopped by user")
	case outcome.Kind == OutcomeCheckpoint:
		e.mu.Lock()
		c.state = StateResumable
		edits := c.pendingEdits
		saves := c.pendingSaves
		c.pendingEdits, c.pendingSaves = nil, nil
		e.mu.Unlock()
		e.applyEdits(bg, automationID, edits)
		e.flushSaves(bg, automationID, saves)
		log.Printf("engine: automation %s execution %s checkpointed, awaiting resume", automationID, spec.ExecutionID)
	case outcome.Kind == OutcomeCompleted:
		e.closeRun(bg, automationID, c, spec.ExecutionID, domain.ExecutionStatusSuccess, outcome.ExitCode, "")
	default:
		msg := "execution failed"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		e.closeRun(bg, automationID, c, spec.ExecutionID, domain.ExecutionStatusFailed, outcome.ExitCode, msg)
	}
}

func (e *Engine) closeRun(ctx context.Context, automationID uuid.UUID, c *controller, executionID uuid.UUID, status domain.ExecutionStatus, exitCode int, errorMessage string) {
	rec, err := e.ledger.Close(ctx, executionID, status, exitCode, errorMessage)
	switch {
	case errors.Is(err, ledger.ErrAlreadyClosed):
		// Lost the race with a force-close; the first outcome stands.
	case err != nil:
		log.Printf("engine: close execution %s as %s: %v", executionID, status, err)
	default:
		log.Printf("engine: automation %s execution %s closed (%s)", automationID, executionID, status)
		e.emitClosed(ctx, rec)
	}
	e.settle(ctx, automationID, c, true)
}

// settle releases the controller and applies any buffered edits and
// queued saves.
func (e *Engine) settle(ctx context.Context, automationID uuid.UUID, c *controller, release bool) {
	e.mu.Lock()
	edits := c.pendingEdits
	saves := c.pendingSaves
	c.pendingEdits, c.pendingSaves = nil, nil
	if release {
		if e.controllers[automationID] == c {
			delete(e.controllers, automationID)
		}
	}
	e.mu.Unlock()

	e.applyEdits(ctx, automationID, edits)
	e.flushSaves(ctx, automationID, saves)
}

func (e *Engine) release(automationID uuid.UUID, c *controller) {
	e.mu.Lock()
	if e.controllers[automationID] == c {
		delete(e.controllers, automationID)
	}
	e.mu.Unlock()
}

// applyEdits replays buffered edits against the live document in
// submission order, re-reading on fence conflicts.
func (e *Engine) applyEdits(ctx context.Context, automationID uuid.UUID, edits []Edit) {
	if len(edits) == 0 {
		return
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		a, err := e.automations.GetAutomation(ctx, automationID)
		if err != nil {
			log.Printf("engine: load automation %s to apply %d buffered edits: %v", automationID, len(edits), err)
			return
		}
		fence := a.DocVersion
		for _, edit := range edits {
			edit(&a)
		}
		if _, err := e.automations.UpdateAutomation(ctx, a, fence); err != nil {
			if errors.Is(err, domain.ErrConcurrentModification) {
				continue
			}
			log.Printf("engine: apply %d buffered edits to automation %s: %v", len(edits), automationID, err)
			return
		}
		log.Printf("engine: applied %d buffered edits to automation %s", len(edits), automationID)
		return
	}
	log.Printf("engine: gave up applying %d buffered edits to automation %s after %d fence conflicts", len(edits), automationID, attempts)
}

// SubmitEdit applies the edit immediately when the automation is idle,
// or buffers it for replay when a run is in flight. Buffered edits never
// touch the snapshot of the run already executing.
func (e *Engine) SubmitEdit(ctx context.Context, automationID uuid.UUID, edit Edit) error {
	e.mu.Lock()
	if c, ok := e.controllers[automationID]; ok {
		switch c.state {
		case StateRunning, StateStopping:
			c.pendingEdits = append(c.pendingEdits, edit)
			buffered := len(c.pendingEdits)
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.EditsBuffered(buffered)
			}
			log.Printf("engine: buffered edit for automation %s (%d pending)", automationID, buffered)
			return nil
		case StateSaving, StateGenerating:
			e.mu.Unlock()
			return domain.ErrConcurrentModification
		}
	}
	e.mu.Unlock()

	a, err := e.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return err
	}
	fence := a.DocVersion
	edit(&a)
	_, err = e.automations.UpdateAutomation(ctx, a, fence)
	return err
}

// Stop requests a cooperative shutdown of the in-flight run. The payload
// gets the grace period to wind down; past the deadline the record is
// force-closed as stopped so history never dangles on a hung process.
func (e *Engine) Stop(ctx context.Context, automationID uuid.UUID) error {
	e.mu.Lock()
	c, ok := e.controllers[automationID]
	if !ok || (c.state != StateRunning && c.state != StateStopping) {
		e.mu.Unlock()
		return domain.ErrNotFound
	}
	if c.state == StateStopping {
		e.mu.Unlock()
		return nil
	}
	c.state = StateStopping
	executionID := c.executionID
	cancel := c.cancel
	done := c.done
	e.mu.Unlock()

	log.Printf("engine: stopping automation %s execution %s", automationID, executionID)
	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(e.stopGrace):
	case <-ctx.Done():
		return ctx.Err()
	}

	// Grace expired. Seal the record now; the runner's eventual return
	// finds it closed and drops its outcome.
	e.mu.Lock()
	c.forceClosed = true
	e.mu.Unlock()

	rec, err := e.ledger.Close(context.Background(), executionID, domain.ExecutionStatusStopped, -1, "stopped: grace period expired")
	if errors.Is(err, ledger.ErrAlreadyClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("force-close execution %s: %w", executionID, err)
	}
	log.Printf("engine: automation %s execution %s force-closed after %s grace", automationID, executionID, e.stopGrace)
	e.emitClosed(context.Background(), rec)
	return nil
}

// Resume settles a checkpointed run. With resume true the same record
// continues from the checkpoint; with resume false the record closes as
// stopped and a fresh run opens in its place.
func (e *Engine) Resume(ctx context.Context, automationID uuid.UUID, resume bool) (domain.ExecutionRecord, error) {
	e.mu.Lock()
	c, ok := e.controllers[automationID]
	if !ok || c.state != StateResumable {
		e.mu.Unlock()
		return domain.ExecutionRecord{}, ErrNotResumable
	}
	executionID := c.executionID
	if !resume {
		c.state = StateRunning
		c.done = make(chan struct{})
		e.mu.Unlock()

		old, err := e.discardCheckpoint(ctx, executionID)
		if err != nil {
			e.release(automationID, c)
			return domain.ExecutionRecord{}, err
		}
		rec, err := e.openAndLaunch(ctx, c, automationID, old.ScheduleID, old.TriggerType, RunUser{Name: old.UserName, Email: old.UserEmail}, "", false, domain.ExecutionRecord{})
		if err != nil {
			e.release(automationID, c)
			return domain.ExecutionRecord{}, err
		}
		return rec, nil
	}

	c.done = make(chan struct{})
	e.mu.Unlock()

	rec, err := e.ledger.Get(ctx, executionID)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}

	_, err = e.openAndLaunch(ctx, c, automationID, rec.ScheduleID, rec.TriggerType, RunUser{Name: rec.UserName, Email: rec.UserEmail}, "", true, rec)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	return rec, nil
}

func (e *Engine) emitClosed(ctx context.Context, rec domain.ExecutionRecord) {
	if e.emitter == nil {
		return
	}
	if err := e.emitter.Emit(ctx, domain.RunClosed{Record: rec, ClosedAt: e.clock().UTC()}); err != nil {
		log.Printf("engine: emit RunClosed for %s failed: %v", rec.ID, err)
	}
}
