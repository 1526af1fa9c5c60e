package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/engine"
	"github.com/autoloop-io/autoloop/internal/ledger"
	syncpkg "github.com/autoloop-io/autoloop/internal/sync"
	"github.com/autoloop-io/autoloop/internal/vcs"
	"github.com/autoloop-io/autoloop/internal/version"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store is the persistence surface the API handlers depend on.
type Store interface {
	InsertAutomation(ctx context.Context, a domain.Automation) error
	GetAutomation(ctx context.Context, id uuid.UUID) (domain.Automation, error)
	ListAutomations(ctx context.Context, limit, offset int) ([]domain.Automation, error)
	DeleteAutomation(ctx context.Context, id uuid.UUID) error

	InsertSchedule(ctx context.Context, sc domain.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error)
	ListSchedules(ctx context.Context, automationID uuid.UUID) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, sc domain.Schedule) error
	DeleteSchedule(ctx context.Context, id uuid.UUID) error

	GetLogs(ctx context.Context, executionID uuid.UUID) ([]string, error)

	SetLink(ctx context.Context, link syncpkg.Link) error
	GetLink(ctx context.Context, automationID uuid.UUID) (syncpkg.Link, error)
	DeleteLink(ctx context.Context, automationID uuid.UUID) error
}

// Engine is the execution surface the API handlers depend on.
type Engine interface {
	Run(ctx context.Context, automationID uuid.UUID, trigger domain.TriggerType, user engine.RunUser, runtimeEnv string) (domain.ExecutionRecord, error)
	Stop(ctx context.Context, automationID uuid.UUID) error
	Resume(ctx context.Context, automationID uuid.UUID, resume bool) (domain.ExecutionRecord, error)
	SubmitEdit(ctx context.Context, automationID uuid.UUID, edit engine.Edit) error
	Save(ctx context.Context, automationID uuid.UUID, req engine.SaveRequest) (engine.SaveResult, error)
	Watch(ctx context.Context, executionID uuid.UUID, interval time.Duration) (<-chan domain.ExecutionRecord, error)
	State(automationID uuid.UUID) engine.State
}

// Versions is the version-store surface the API handlers depend on.
type Versions interface {
	ListVersions(ctx context.Context, automationID uuid.UUID) ([]domain.Version, error)
	GetVersion(ctx context.Context, id uuid.UUID) (domain.Version, error)
	Rollback(ctx context.Context, automationID, targetVersionID uuid.UUID, autoAccept bool) (version.RollbackPlan, error)
	AcceptPending(ctx context.Context, automationID uuid.UUID) (domain.Version, error)
	DiscardPending(automationID uuid.UUID)
	PendingMessage(automationID uuid.UUID) (string, bool)
}

// History is the ledger surface the API handlers depend on.
type History interface {
	Get(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error)
	Query(ctx context.Context, f ledger.Filter) (ledger.Page, error)
	Count(ctx context.Context, f ledger.Filter) (int, error)
	TotalRuns(ctx context.Context, automationID uuid.UUID) (int, error)
}

// Syncer retries version mirroring on user request.
type Syncer interface {
	Retry(ctx context.Context, versionID uuid.UUID) error
}

// CronParser validates and evaluates schedule expressions.
type CronParser interface {
	Parse(expression string, timezone string) (CronSchedule, error)
}

type CronSchedule interface {
	Next(after time.Time) time.Time
	Prev(before time.Time) time.Time
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	store    Store
	engine   Engine
	versions Versions
	history  History
	parser   CronParser
	syncer   Syncer     // optional, nil = sync disabled
	vcs      vcs.Client // optional, nil = vcs disabled
	db       HealthChecker
	clock    func() time.Time
}

func NewHandler(store Store, eng Engine, versions Versions, history History, parser CronParser) *Handler {
	return &Handler{
		store:    store,
		engine:   eng,
		versions: versions,
		history:  history,
		parser:   parser,
		clock:    time.Now,
	}
}

func (h *Handler) WithSyncer(s Syncer) *Handler {
	h.syncer = s
	return h
}

func (h *Handler) WithVCS(client vcs.Client) *Handler {
	h.vcs = client
	return h
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

// Router builds the HTTP router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", h.health)

	r.Route("/automations", func(r chi.Router) {
		r.Post("/", h.createAutomation)
		r.Get("/", h.listAutomations)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getAutomation)
			r.Put("/", h.updateAutomation)
			r.Delete("/", h.deleteAutomation)

			r.Post("/save", h.saveAutomation)
			r.Post("/run", h.runAutomation)
			r.Post("/stop", h.stopAutomation)
			r.Post("/resume", h.resumeAutomation)
			r.Post("/api-key", h.regenerateAPIKey)

			r.Get("/versions", h.listVersions)
			r.Post("/rollback", h.rollback)
			r.Get("/rollback", h.pendingRollback)
			r.Post("/rollback/accept", h.acceptRollback)
			r.Delete("/rollback", h.discardRollback)

			r.Post("/schedules", h.createSchedule)
			r.Get("/schedules", h.listSchedules)

			r.Post("/link", h.linkRepository)
			r.Delete("/link", h.unlinkRepository)
		})
	})

	r.Route("/schedules/{id}", func(r chi.Router) {
		r.Get("/", h.getSchedule)
		r.Put("/", h.updateSchedule)
		r.Delete("/", h.deleteSchedule)
	})

	r.Route("/executions", func(r chi.Router) {
		r.Get("/", h.queryExecutions)
		r.Get("/count", h.countExecutions)
		r.Get("/{id}", h.getExecution)
		r.Get("/{id}/logs", h.getExecutionLogs)
		r.Get("/{id}/watch", h.watchExecution)
	})

	r.Route("/versions/{id}", func(r chi.Router) {
		r.Get("/", h.getVersion)
		r.Get("/diff", h.diffVersion)
		r.Post("/sync", h.retrySync)
	})

	r.Route("/vcs", func(r chi.Router) {
		r.Post("/connect", h.vcsConnect)
		r.Post("/disconnect", h.vcsDisconnect)
		r.Get("/repositories", h.vcsListRepositories)
		r.Post("/repositories", h.vcsCreateRepository)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
