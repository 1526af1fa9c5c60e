package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/version"
)

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	versions, err := h.versions.ListVersions(r.Context(), automationID)
	if err != nil {
		writeDomainError(w, err, "list versions")
		return
	}

	resp := ListVersionsResponse{Versions: []VersionResponse{}}
	for _, v := range versions {
		resp.Versions = append(resp.Versions, versionResponse(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get version")
		return
	}
	writeJSON(w, http.StatusOK, versionResponse(v))
}

// diffVersion compares the version in the path against the one named by
// the ?against query parameter.
func (h *Handler) diffVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	againstRaw := r.URL.Query().Get("against")
	if againstRaw == "" {
		writeError(w, http.StatusBadRequest, "against query parameter is required")
		return
	}
	againstID, err := uuid.Parse(againstRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid against id")
		return
	}

	to, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get version")
		return
	}
	from, err := h.versions.GetVersion(r.Context(), againstID)
	if err != nil {
		writeDomainError(w, err, "get version")
		return
	}
	if from.AutomationID != to.AutomationID {
		writeError(w, http.StatusBadRequest, "versions belong to different automations")
		return
	}

	writeJSON(w, http.StatusOK, diffResponse(from, to, version.Diff(from, to)))
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RollbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	targetID, err := uuid.Parse(req.VersionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version_id")
		return
	}

	plan, err := h.versions.Rollback(r.Context(), automationID, targetID, req.AutoAccept)
	if err != nil {
		writeDomainError(w, err, "rollback")
		return
	}

	resp := RollbackResponse{
		TargetSemVer:  plan.TargetSemVer,
		CommitMessage: plan.CommitMessage,
		Pending:       plan.Pending,
	}
	if plan.Accepted != nil {
		vr := versionResponse(*plan.Accepted)
		resp.Accepted = &vr
	}
	writeJSON(w, http.StatusOK, resp)
}

// pendingRollback reports whether a rollback awaits acceptance for the
// automation.
func (h *Handler) pendingRollback(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	msg, pending := h.versions.PendingMessage(automationID)
	writeJSON(w, http.StatusOK, PendingRollbackResponse{Pending: pending, CommitMessage: msg})
}

func (h *Handler) acceptRollback(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	v, err := h.versions.AcceptPending(r.Context(), automationID)
	if err != nil {
		writeDomainError(w, err, "accept rollback")
		return
	}
	writeJSON(w, http.StatusCreated, versionResponse(v))
}

func (h *Handler) discardRollback(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	h.versions.DiscardPending(automationID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) retrySync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusNotImplemented, "repository sync is not configured")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.syncer.Retry(r.Context(), id); err != nil {
		writeDomainError(w, err, "retry sync")
		return
	}
	v, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get version")
		return
	}
	writeJSON(w, http.StatusOK, versionResponse(v))
}
