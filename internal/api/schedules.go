package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/scheduler"
)

func (h *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req CreateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateCreateSchedule(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.store.GetAutomation(r.Context(), automationID)
	if err != nil {
		writeDomainError(w, err, "get automation for schedule")
		return
	}

	prefs := domain.DefaultNotificationPrefs()
	if req.Notifications != nil {
		prefs = domain.NotificationPrefs{
			Enabled:     req.Notifications.Enabled,
			OnCompleted: req.Notifications.OnCompleted,
			OnFailed:    req.Notifications.OnFailed,
		}
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}

	now := h.clock().UTC()
	sc := domain.Schedule{
		ID:                 uuid.New(),
		AutomationID:       automationID,
		CronExpression:     req.CronExpression,
		Timezone:           tz,
		RuntimeEnvironment: req.RuntimeEnvironment,
		Description:        req.Description,
		Notifications:      prefs,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.store.InsertSchedule(r.Context(), sc); err != nil {
		log.Printf("api: create schedule: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, h.scheduleWithTimes(sc, a.TriggerEnabled))
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r)
	if !ok {
		return
	}
	schedules, err := h.store.ListSchedules(r.Context(), automationID)
	if err != nil {
		log.Printf("api: list schedules: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	enabled := h.triggerEnabled(r, automationID)
	resp := ListSchedulesResponse{Schedules: []ScheduleResponse{}}
	for _, sc := range schedules {
		resp.Schedules = append(resp.Schedules, h.scheduleWithTimes(sc, enabled))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sc, err := h.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get schedule")
		return
	}
	writeJSON(w, http.StatusOK, h.scheduleWithTimes(sc, h.triggerEnabled(r, sc.AutomationID)))
}

// updateSchedule applies a partial update; fields absent from the body
// keep their current values.
func (h *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateScheduleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := validateUpdateSchedule(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sc, err := h.store.GetSchedule(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "get schedule")
		return
	}

	if req.CronExpression != nil {
		sc.CronExpression = *req.CronExpression
	}
	if req.Timezone != nil {
		sc.Timezone = *req.Timezone
		if sc.Timezone == "" {
			sc.Timezone = "UTC"
		}
	}
	if req.RuntimeEnvironment != nil {
		sc.RuntimeEnvironment = *req.RuntimeEnvironment
	}
	if req.Description != nil {
		sc.Description = *req.Description
	}
	if req.Notifications != nil {
		sc.Notifications = domain.NotificationPrefs{
			Enabled:     req.Notifications.Enabled,
			OnCompleted: req.Notifications.OnCompleted,
			OnFailed:    req.Notifications.OnFailed,
		}
	}

	if err := h.store.UpdateSchedule(r.Context(), sc); err != nil {
		writeDomainError(w, err, "update schedule")
		return
	}
	writeJSON(w, http.StatusOK, h.scheduleWithTimes(sc, h.triggerEnabled(r, sc.AutomationID)))
}

func (h *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteSchedule(r.Context(), id); err != nil {
		writeDomainError(w, err, "delete schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// scheduleWithTimes decorates the schedule with its computed fire
// times. With the trigger off next_run is omitted; next_cron_match
// still reports when the expression would fire.
func (h *Handler) scheduleWithTimes(sc domain.Schedule, triggerEnabled bool) ScheduleResponse {
	var next, prev, match time.Time
	if sched, err := h.parser.Parse(sc.CronExpression, sc.Timezone); err == nil {
		now := h.clock().UTC()
		next = scheduler.NextRun(sched, now, triggerEnabled)
		match = scheduler.NextRun(sched, now, true)
		prev = scheduler.PreviousRun(sched, now)
	}
	return scheduleResponse(sc, next, prev, match)
}

// triggerEnabled looks up the owning automation's trigger switch. A
// lookup failure reads as enabled.
func (h *Handler) triggerEnabled(r *http.Request, automationID uuid.UUID) bool {
	a, err := h.store.GetAutomation(r.Context(), automationID)
	if err != nil {
		return true
	}
	return a.TriggerEnabled
}
