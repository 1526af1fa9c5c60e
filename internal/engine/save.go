package engine

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/version"
)

// SaveRequest carries one save of automation content. Fence is the
// DocVersion the caller last observed; stale fences fail with
// domain.ErrConcurrentModification instead of clobbering newer edits.
type SaveRequest struct {
	Code         domain.CodePayload
	Dependencies []string
	EnvVarNames  []string
	Message      string
	Bump         version.Bump
	Fence        int64
}

// SaveResult reports how a save landed. Queued means a run was in
// flight and the content is parked until the run settles; Version is
// only populated for saves applied immediately.
type SaveResult struct {
	Version domain.Version
	Queued  bool
}

// Save persists new automation content and snapshots it as the next
// version. A save arriving while a run is in flight is queued, never
// dropped: it is applied once the run reaches a terminal or resumable
// state. A checkpointed run does not block saves, its snapshot is
// already fixed.
func (e *Engine) Save(ctx context.Context, automationID uuid.UUID, req SaveRequest) (SaveResult, error) {
	if req.Code.Empty() {
		return SaveResult{}, domain.ErrInvalidPayload
	}

	release, queued, err := e.admitSave(automationID, req)
	if err != nil {
		return SaveResult{}, err
	}
	if queued {
		return SaveResult{Queued: true}, nil
	}
	defer release()

	v, err := e.saveNow(ctx, automationID, req)
	if err != nil {
		return SaveResult{}, err
	}
	return SaveResult{Version: v}, nil
}

// admitSave decides in one critical section whether the save runs now,
// queues behind an in-flight run, or conflicts with other document
// work.
func (e *Engine) admitSave(automationID uuid.UUID, req SaveRequest) (release func(), queued bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.controllers[automationID]; ok {
		switch c.state {
		case StateRunning, StateStopping:
			c.pendingSaves = append(c.pendingSaves, req)
			log.Printf("engine: automation %s has a run in flight, save queued (%d pending)", automationID, len(c.pendingSaves))
			return nil, true, nil
		case StateResumable:
			// The parked run keeps its snapshot; the document is free.
			return func() {}, false, nil
		default:
			return nil, false, domain.ErrConcurrentModification
		}
	}
	c := &controller{state: StateSaving, done: make(chan struct{})}
	e.controllers[automationID] = c
	return func() { e.release(automationID, c) }, false, nil
}

func (e *Engine) saveNow(ctx context.Context, automationID uuid.UUID, req SaveRequest) (domain.Version, error) {
	a, err := e.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return domain.Version{}, err
	}
	if a.DocVersion != req.Fence {
		return domain.Version{}, domain.ErrConcurrentModification
	}

	a.Code = req.Code.Clone()
	a.Dependencies = append([]string(nil), req.Dependencies...)
	a.EnvVarNames = append([]string(nil), req.EnvVarNames...)
	if _, err := e.automations.UpdateAutomation(ctx, a, req.Fence); err != nil {
		return domain.Version{}, err
	}

	v, err := e.versions.CreateVersion(ctx, automationID, req.Code, req.Dependencies, req.EnvVarNames, req.Message, req.Bump)
	if err != nil {
		return domain.Version{}, err
	}

	log.Printf("engine: automation %s saved as version %s", automationID, v.SemVer)
	return v, nil
}

// flushSaves replays queued saves against the live document in
// submission order. The original fences are gone by now, the in-flight
// run and any buffered edits have moved the document on, so each save
// lands on the current state with a fresh fence, retrying on conflicts.
func (e *Engine) flushSaves(ctx context.Context, automationID uuid.UUID, saves []SaveRequest) {
	const attempts = 3
	for _, req := range saves {
		applied := false
		for i := 0; i < attempts && !applied; i++ {
			a, err := e.automations.GetAutomation(ctx, automationID)
			if err != nil {
				log.Printf("engine: load automation %s to flush queued save: %v", automationID, err)
				return
			}
			fence := a.DocVersion
			a.Code = req.Code.Clone()
			a.Dependencies = append([]string(nil), req.Dependencies...)
			a.EnvVarNames = append([]string(nil), req.EnvVarNames...)
			if _, err := e.automations.UpdateAutomation(ctx, a, fence); err != nil {
				if errors.Is(err, domain.ErrConcurrentModification) {
					continue
				}
				log.Printf("engine: flush queued save for automation %s: %v", automationID, err)
				return
			}
			applied = true
		}
		if !applied {
			log.Printf("engine: gave up flushing queued save for automation %s after %d fence conflicts", automationID, attempts)
			return
		}
		v, err := e.versions.CreateVersion(ctx, automationID, req.Code, req.Dependencies, req.EnvVarNames, req.Message, req.Bump)
		if err != nil {
			log.Printf("engine: snapshot queued save for automation %s: %v", automationID, err)
			return
		}
		log.Printf("engine: automation %s queued save flushed as version %s", automationID, v.SemVer)
	}
}

// Generator produces a new code payload from a prompt and the current
// content, typically by calling a code-generation backend.
type Generator interface {
	Generate(ctx context.Context, prompt string, current domain.CodePayload) (domain.CodePayload, error)
}

// Generate runs the generator against the automation's current content.
// The automation passes through the generating state; the result is
// returned to the caller for review, not committed.
func (e *Engine) Generate(ctx context.Context, automationID uuid.UUID, gen Generator, prompt string) (domain.CodePayload, error) {
	release, err := e.beginDocWork(automationID, StateGenerating)
	if err != nil {
		return domain.CodePayload{}, err
	}
	defer release()

	a, err := e.automations.GetAutomation(ctx, automationID)
	if err != nil {
		return domain.CodePayload{}, err
	}

	out, err := gen.Generate(ctx, prompt, a.Code)
	if err != nil {
		return domain.CodePayload{}, err
	}
	if out.Empty() {
		return domain.CodePayload{}, domain.ErrInvalidPayload
	}
	return out, nil
}

// beginDocWork claims the controller slot for a transient document
// state. A checkpointed run does not block document work: its snapshot
// is fixed, so the slot is left alone and the returned release is a
// no-op.
func (e *Engine) beginDocWork(automationID uuid.UUID, state State) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.controllers[automationID]; ok {
		switch c.state {
		case StateResumable:
			return func() {}, nil
		case StateSaving, StateGenerating:
			return nil, domain.ErrConcurrentModification
		default:
			return nil, domain.ErrAlreadyRunning
		}
	}
	c := &controller{state: state, done: make(chan struct{})}
	e.controllers[automationID] = c
	return func() { e.release(automationID, c) }, nil
}
