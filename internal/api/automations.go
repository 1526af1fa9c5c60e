package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/engine"
	"github.com/autoloop-io/autoloop/internal/version"
)

func (h *Handler) createAutomation(w http.ResponseWriter, r *http.Request) {
	var req CreateAutomationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreateAutomation(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner_id")
		return
	}

	triggerMode := domain.TriggerMode(req.TriggerMode)
	if req.TriggerMode == "" {
		triggerMode = domain.TriggerModeManual
	}

	now := h.clock().UTC()
	a := domain.Automation{
		ID:                 uuid.New(),
		Title:              req.Title,
		Description:        req.Description,
		Status:             domain.AutomationStatusDraft,
		TriggerMode:        triggerMode,
		Code:               req.Code.toDomain(),
		Dependencies:       req.Dependencies,
		EnvVarNames:        req.EnvVarNames,
		APIKey:             newAPIKey(),
		RuntimeEnvironment: req.RuntimeEnvironment,
		OwnerID:            ownerID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.store.InsertAutomation(r.Context(), a); err != nil {
		log.Printf("api: create automation: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// The initial content becomes version 0.0.1 right away.
	if _, err := h.engine.Save(r.Context(), a.ID, engine.SaveRequest{
		Code:         a.Code,
		Dependencies: a.Dependencies,
		EnvVarNames:  a.EnvVarNames,
		Message:      "Initial version",
		Bump:         version.BumpPatch,
		Fence:        a.DocVersion,
	}); err != nil {
		log.Printf("api: initial version for automation %s: %v", a.ID, err)
	}

	created, err := h.store.GetAutomation(r.Context(), a.ID)
	if err != nil {
		created = a
	}

	writeJSON(w, http.StatusCreated, CreateAutomationResponse{
		Automation: automationResponse(created, string(h.engine.State(a.ID))),
		APIKey:     a.APIKey,
	})
}

func (h *Handler) listAutomations(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	automations, err := h.store.ListAutomations(r.Context(), limit, offset)
	if err != nil {
		log.Printf("api: list automations: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := ListAutomationsResponse{Automations: []AutomationResponse{}}
	for _, a := range automations {
		resp.Automations = append(resp.Automations, automationResponse(a, string(h.engine.State(a.ID))))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := h.store.GetAutomation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get automation")
		return
	}
	if a.Deleted() {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, automationResponse(a, string(h.engine.State(a.ID))))
}

// updateAutomation changes metadata fields. Submitted through the
// engine so edits arriving during a run are buffered, not lost and not
// applied to the running snapshot.
func (h *Handler) updateAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateAutomationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status != nil {
		if err := validateStatus(*req.Status); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.TriggerMode != nil {
		if err := validateTriggerMode(*req.TriggerMode); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	edit := func(a *domain.Automation) {
		if req.Title != nil {
			a.Title = *req.Title
		}
		if req.Description != nil {
			a.Description = *req.Description
		}
		if req.Status != nil {
			a.Status = domain.AutomationStatus(*req.Status)
		}
		if req.TriggerMode != nil {
			a.TriggerMode = domain.TriggerMode(*req.TriggerMode)
		}
		if req.TriggerEnabled != nil {
			a.TriggerEnabled = *req.TriggerEnabled
		}
		if req.RuntimeEnvironment != nil {
			a.RuntimeEnvironment = *req.RuntimeEnvironment
		}
	}

	if err := h.engine.SubmitEdit(r.Context(), id, edit); err != nil {
		writeDomainError(w, err, "update automation")
		return
	}

	a, err := h.store.GetAutomation(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "reload automation")
		return
	}
	writeJSON(w, http.StatusOK, automationResponse(a, string(h.engine.State(id))))
}

func (h *Handler) deleteAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAutomation(r.Context(), id); err != nil {
		writeDomainError(w, err, "delete automation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) saveAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req SaveAutomationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateEnvVarNames(req.EnvVarNames); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bump := version.BumpPatch
	switch req.Bump {
	case "", "patch":
	case "minor":
		bump = version.BumpMinor
	case "major":
		bump = version.BumpMajor
	default:
		writeError(w, http.StatusBadRequest, "bump must be patch, minor or major")
		return
	}

	res, err := h.engine.Save(r.Context(), id, engine.SaveRequest{
		Code:         req.Code.toDomain(),
		Dependencies: req.Dependencies,
		EnvVarNames:  req.EnvVarNames,
		Message:      req.Message,
		Bump:         bump,
		Fence:        req.DocVersion,
	})
	if err != nil {
		writeDomainError(w, err, "save automation")
		return
	}
	if res.Queued {
		// A run is in flight; the content is parked and will be applied
		// and versioned once the run settles.
		writeJSON(w, http.StatusAccepted, SaveQueuedResponse{Queued: true})
		return
	}
	writeJSON(w, http.StatusCreated, versionResponse(res.Version))
}

func (h *Handler) runAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RunAutomationRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	var (
		rec domain.ExecutionRecord
		err error
	)
	if req.Resume {
		rec, err = h.engine.Resume(r.Context(), id, true)
	} else {
		rec, err = h.engine.Run(r.Context(), id, domain.TriggerTypeManual,
			engine.RunUser{Name: req.UserName, Email: req.UserEmail}, req.RuntimeEnvironment)
	}
	if err != nil {
		writeDomainError(w, err, "run automation")
		return
	}
	writeJSON(w, http.StatusAccepted, executionResponse(rec))
}

func (h *Handler) stopAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Stop(r.Context(), id); err != nil {
		writeDomainError(w, err, "stop automation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resumeAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ResumeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rec, err := h.engine.Resume(r.Context(), id, req.Resume)
	if err != nil {
		writeDomainError(w, err, "resume automation")
		return
	}
	writeJSON(w, http.StatusAccepted, executionResponse(rec))
}

// regenerateAPIKey replaces the automation's key. The new key is
// returned exactly once.
func (h *Handler) regenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	key := newAPIKey()
	edit := func(a *domain.Automation) {
		a.APIKey = key
	}
	if err := h.engine.SubmitEdit(r.Context(), id, edit); err != nil {
		writeDomainError(w, err, "regenerate api key")
		return
	}
	writeJSON(w, http.StatusOK, APIKeyResponse{APIKey: key})
}

func newAPIKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read only fails when the platform entropy source is broken.
		panic(err)
	}
	return "al_" + hex.EncodeToString(buf)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "automation already has a running execution")
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "document changed concurrently, reload and retry")
	case errors.Is(err, domain.ErrInvalidPayload):
		writeError(w, http.StatusUnprocessableEntity, "code payload is empty")
	case errors.Is(err, domain.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, engine.ErrNotResumable):
		writeError(w, http.StatusConflict, "no checkpointed run to resume")
	default:
		log.Printf("api: %s: %v", op, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := parsePositiveInt(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := parsePositiveInt(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func parsePositiveInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
