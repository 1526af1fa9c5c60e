package api

import (
	"errors"
	"net/http"

	"github.com/autoloop-io/autoloop/internal/domain"
	syncpkg "github.com/autoloop-io/autoloop/internal/sync"
	"github.com/autoloop-io/autoloop/internal/vcs"
)

var errVCSDisabled = errors.New("version control integration is not configured")

func (h *Handler) requireVCS(w http.ResponseWriter) bool {
	if h.vcs == nil {
		writeError(w, http.StatusNotImplemented, errVCSDisabled.Error())
		return false
	}
	return true
}

func (h *Handler) vcsConnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireVCS(w) {
		return
	}
	var req ConnectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	account, err := h.vcs.Connect(r.Context(), req.Code)
	if err != nil {
		writeDomainError(w, err, "vcs connect")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"provider": account.Provider,
		"login":    account.Login,
		"state":    string(vcs.StateAccountConnected),
	})
}

// vcsDisconnect severs the account. Remote repositories and local
// versions are left untouched.
func (h *Handler) vcsDisconnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireVCS(w) {
		return
	}
	if err := h.vcs.Disconnect(r.Context()); err != nil {
		writeDomainError(w, err, "vcs disconnect")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) vcsListRepositories(w http.ResponseWriter, r *http.Request) {
	if !h.requireVCS(w) {
		return
	}
	repos, err := h.vcs.ListRepositories(r.Context())
	if err != nil {
		writeDomainError(w, err, "vcs list repositories")
		return
	}

	out := make([]LinkRepositoryRequest, 0, len(repos))
	for _, repo := range repos {
		out = append(out, LinkRepositoryRequest{Owner: repo.Owner, Name: repo.Name, Branch: repo.Branch})
	}
	writeJSON(w, http.StatusOK, map[string]any{"repositories": out})
}

func (h *Handler) vcsCreateRepository(w http.ResponseWriter, r *http.Request) {
	if !h.requireVCS(w) {
		return
	}
	var req CreateRepositoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	repo, err := h.vcs.CreateRepository(r.Context(), req.Name, req.Private)
	if err != nil {
		writeDomainError(w, err, "vcs create repository")
		return
	}
	writeJSON(w, http.StatusCreated, LinkRepositoryRequest{Owner: repo.Owner, Name: repo.Name, Branch: repo.Branch})
}

func (h *Handler) linkRepository(w http.ResponseWriter, r *http.Request) {
	if !h.requireVCS(w) {
		return
	}
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req LinkRepositoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Owner == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "owner and name are required")
		return
	}
	if _, err := h.store.GetAutomation(r.Context(), automationID); err != nil {
		writeDomainError(w, err, "get automation for link")
		return
	}

	repo := vcs.RepoRef{Owner: req.Owner, Name: req.Name, Branch: req.Branch}
	if err := h.vcs.LinkRepository(r.Context(), automationID, repo); err != nil {
		writeDomainError(w, err, "vcs link repository")
		return
	}
	if err := h.store.SetLink(r.Context(), syncpkg.Link{
		AutomationID: automationID,
		State:        vcs.StateRepositoryLinked,
		Repo:         repo,
	}); err != nil {
		writeDomainError(w, err, "persist link")
		return
	}

	writeJSON(w, http.StatusOK, LinkResponse{
		State:  string(vcs.StateRepositoryLinked),
		Owner:  repo.Owner,
		Name:   repo.Name,
		Branch: repo.Branch,
	})
}

// unlinkRepository removes the binding only. The remote repository and
// all local versions stay.
func (h *Handler) unlinkRepository(w http.ResponseWriter, r *http.Request) {
	if !h.requireVCS(w) {
		return
	}
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.vcs.UnlinkRepository(r.Context(), automationID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		writeDomainError(w, err, "vcs unlink repository")
		return
	}
	if err := h.store.DeleteLink(r.Context(), automationID); err != nil {
		writeDomainError(w, err, "delete link")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
