package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/ledger"
)

func (h *Handler) getExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.history.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get execution")
		return
	}
	writeJSON(w, http.StatusOK, executionResponse(rec))
}

func (h *Handler) getExecutionLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.history.Get(r.Context(), id); err != nil {
		writeDomainError(w, err, "get execution")
		return
	}
	lines, err := h.store.GetLogs(r.Context(), id)
	if err != nil {
		log.Printf("api: get logs: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, ExecutionLogsResponse{Lines: lines})
}

func (h *Handler) queryExecutions(w http.ResponseWriter, r *http.Request) {
	f, err := executionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.history.Query(r.Context(), f)
	if err != nil {
		log.Printf("api: query executions: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := QueryExecutionsResponse{Executions: []ExecutionResponse{}, HasMore: page.HasMore}
	for _, rec := range page.Records {
		resp.Executions = append(resp.Executions, executionResponse(rec))
	}
	if page.HasMore {
		resp.NextCursor = strconv.Itoa(f.Offset + len(page.Records))
	}
	writeJSON(w, http.StatusOK, resp)
}

// countExecutions accepts the same filter shape as the query endpoint,
// minus pagination.
func (h *Handler) countExecutions(w http.ResponseWriter, r *http.Request) {
	f, err := executionFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count, err := h.history.Count(r.Context(), f)
	if err != nil {
		log.Printf("api: count executions: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, CountExecutionsResponse{Count: count})
}

// watchExecution streams status changes as newline-delimited JSON until
// the record turns terminal or the client goes away.
func (h *Handler) watchExecution(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	interval := time.Second
	if v := r.URL.Query().Get("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			interval = d
		}
	}

	ch, err := h.engine.Watch(r.Context(), id, interval)
	if err != nil {
		writeDomainError(w, err, "watch execution")
		return
	}

	flusher, canFlush := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for rec := range ch {
		if err := enc.Encode(executionResponse(rec)); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

func executionFilter(r *http.Request) (ledger.Filter, error) {
	q := r.URL.Query()
	var f ledger.Filter

	for _, raw := range q["automation_id"] {
		id, err := uuid.Parse(raw)
		if err != nil {
			return ledger.Filter{}, errInvalidFilter("automation_id", raw)
		}
		f.AutomationIDs = append(f.AutomationIDs, id)
	}
	for _, raw := range q["status"] {
		switch st := domain.ExecutionStatus(raw); st {
		case domain.ExecutionStatusRunning, domain.ExecutionStatusSuccess,
			domain.ExecutionStatusFailed, domain.ExecutionStatusStopped,
			domain.ExecutionStatusUnknown:
			f.Statuses = append(f.Statuses, st)
		default:
			return ledger.Filter{}, errInvalidFilter("status", raw)
		}
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ledger.Filter{}, errInvalidFilter("from", raw)
		}
		f.From = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return ledger.Filter{}, errInvalidFilter("to", raw)
		}
		f.To = t
	}
	f.Search = q.Get("search")
	f.Limit, f.Offset = pagination(r)
	return f, nil
}

type filterError struct {
	field, value string
}

func (e filterError) Error() string {
	return "invalid " + e.field + ": " + e.value
}

func errInvalidFilter(field, value string) error {
	return filterError{field: field, value: value}
}
