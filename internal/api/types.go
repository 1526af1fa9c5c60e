package api

import (
	"time"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/version"
)

type CodeFilePayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CodePayloadBody carries either an inline blob or a file set.
type CodePayloadBody struct {
	Inline string            `json:"inline,omitempty"`
	Files  []CodeFilePayload `json:"files,omitempty"`
}

func (b CodePayloadBody) toDomain() domain.CodePayload {
	out := domain.CodePayload{Inline: b.Inline}
	for _, f := range b.Files {
		out.Files = append(out.Files, domain.CodeFile{Name: f.Name, Content: f.Content})
	}
	return out
}

func codePayloadBody(p domain.CodePayload) CodePayloadBody {
	out := CodePayloadBody{Inline: p.Inline}
	for _, f := range p.Files {
		out.Files = append(out.Files, CodeFilePayload{Name: f.Name, Content: f.Content})
	}
	return out
}

type CreateAutomationRequest struct {
	Title              string          `json:"title"`
	Description        string          `json:"description,omitempty"`
	TriggerMode        string          `json:"trigger_mode,omitempty"`
	RuntimeEnvironment string          `json:"runtime_environment,omitempty"`
	OwnerID            string          `json:"owner_id"`
	Code               CodePayloadBody `json:"code"`
	Dependencies       []string        `json:"dependencies,omitempty"`
	EnvVarNames        []string        `json:"env_var_names,omitempty"`
}

type UpdateAutomationRequest struct {
	Title              *string `json:"title,omitempty"`
	Description        *string `json:"description,omitempty"`
	Status             *string `json:"status,omitempty"`
	TriggerMode        *string `json:"trigger_mode,omitempty"`
	TriggerEnabled     *bool   `json:"trigger_enabled,omitempty"`
	RuntimeEnvironment *string `json:"runtime_environment,omitempty"`
}

type SaveAutomationRequest struct {
	Code         CodePayloadBody `json:"code"`
	Dependencies []string        `json:"dependencies,omitempty"`
	EnvVarNames  []string        `json:"env_var_names,omitempty"`
	Message      string          `json:"message,omitempty"`
	Bump         string          `json:"bump,omitempty"` // patch (default), minor, major
	DocVersion   int64           `json:"doc_version"`
}

type RunAutomationRequest struct {
	UserName           string `json:"user_name,omitempty"`
	UserEmail          string `json:"user_email,omitempty"`
	RuntimeEnvironment string `json:"runtime_environment,omitempty"`
	Resume             bool   `json:"resume,omitempty"`
}

type ResumeRequest struct {
	Resume bool `json:"resume"`
}

type RollbackRequest struct {
	VersionID  string `json:"version_id"`
	AutoAccept bool   `json:"auto_accept,omitempty"`
}

type CreateScheduleRequest struct {
	CronExpression     string                    `json:"cron_expression"`
	Timezone           string                    `json:"timezone,omitempty"`
	RuntimeEnvironment string                    `json:"runtime_environment,omitempty"`
	Description        string                    `json:"description,omitempty"`
	Notifications      *NotificationPrefsPayload `json:"notifications,omitempty"`
}

// UpdateScheduleRequest carries a partial update; nil fields keep their
// current values.
type UpdateScheduleRequest struct {
	CronExpression     *string                   `json:"cron_expression,omitempty"`
	Timezone           *string                   `json:"timezone,omitempty"`
	RuntimeEnvironment *string                   `json:"runtime_environment,omitempty"`
	Description        *string                   `json:"description,omitempty"`
	Notifications      *NotificationPrefsPayload `json:"notifications,omitempty"`
}

type NotificationPrefsPayload struct {
	Enabled     bool `json:"enabled"`
	OnCompleted bool `json:"on_completed"`
	OnFailed    bool `json:"on_failed"`
}

type ConnectRequest struct {
	Code string `json:"code"`
}

type CreateRepositoryRequest struct {
	Name    string `json:"name"`
	Private bool   `json:"private"`
}

type LinkRepositoryRequest struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Branch string `json:"branch,omitempty"`
}

type AutomationResponse struct {
	ID                 string          `json:"id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Status             string          `json:"status"`
	TriggerMode        string          `json:"trigger_mode"`
	TriggerEnabled     bool            `json:"trigger_enabled"`
	Code               CodePayloadBody `json:"code"`
	Dependencies       []string        `json:"dependencies,omitempty"`
	EnvVarNames        []string        `json:"env_var_names,omitempty"`
	RuntimeEnvironment string          `json:"runtime_environment,omitempty"`
	OwnerID            string          `json:"owner_id"`
	DocVersion         int64           `json:"doc_version"`
	EngineState        string          `json:"engine_state"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
}

type CreateAutomationResponse struct {
	Automation AutomationResponse `json:"automation"`
	APIKey     string             `json:"api_key"`
}

type ListAutomationsResponse struct {
	Automations []AutomationResponse `json:"automations"`
}

type APIKeyResponse struct {
	APIKey string `json:"api_key"`
}

type VersionResponse struct {
	ID            string          `json:"id"`
	AutomationID  string          `json:"automation_id"`
	SemVer        string          `json:"semver"`
	Code          CodePayloadBody `json:"code"`
	Dependencies  []string        `json:"dependencies,omitempty"`
	EnvVarNames   []string        `json:"env_var_names,omitempty"`
	CommitMessage string          `json:"commit_message"`
	SyncStatus    string          `json:"sync_status"`
	CreatedAt     string          `json:"created_at"`
}

type ListVersionsResponse struct {
	Versions []VersionResponse `json:"versions"`
}

// SaveQueuedResponse acknowledges a save parked behind a running
// execution.
type SaveQueuedResponse struct {
	Queued bool `json:"queued"`
}

type PendingRollbackResponse struct {
	Pending       bool   `json:"pending"`
	CommitMessage string `json:"commit_message,omitempty"`
}

type RollbackResponse struct {
	TargetSemVer  string           `json:"target_semver"`
	CommitMessage string           `json:"commit_message"`
	Pending       bool             `json:"pending"`
	Accepted      *VersionResponse `json:"accepted,omitempty"`
}

type DiffLinePayload struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

type FileDiffPayload struct {
	Name    string            `json:"name"`
	Changed bool              `json:"changed"`
	Lines   []DiffLinePayload `json:"lines"`
}

type DiffResponse struct {
	From  string            `json:"from"`
	To    string            `json:"to"`
	Files []FileDiffPayload `json:"files"`
}

type ScheduleResponse struct {
	ID                 string                   `json:"id"`
	AutomationID       string                   `json:"automation_id"`
	CronExpression     string                   `json:"cron_expression"`
	Timezone           string                   `json:"timezone"`
	RuntimeEnvironment string                   `json:"runtime_environment,omitempty"`
	Description        string                   `json:"description,omitempty"`
	Notifications      NotificationPrefsPayload `json:"notifications"`
	NextRun            string                   `json:"next_run,omitempty"`
	NextCronMatch      string                   `json:"next_cron_match,omitempty"`
	PreviousRun        string                   `json:"previous_run,omitempty"`
	CreatedAt          string                   `json:"created_at"`
	UpdatedAt          string                   `json:"updated_at"`
}

type ListSchedulesResponse struct {
	Schedules []ScheduleResponse `json:"schedules"`
}

type ExecutionResponse struct {
	ID              string `json:"id"`
	AutomationID    string `json:"automation_id"`
	ScheduleID      string `json:"schedule_id,omitempty"`
	Status          string `json:"status"`
	TriggerType     string `json:"trigger_type"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at,omitempty"`
	DurationSeconds int64  `json:"duration_seconds"`
	ExitCode        int    `json:"exit_code"`
	ErrorMessage    string `json:"error_message,omitempty"`
	AutomationTitle string `json:"automation_title"`
	UserName        string `json:"user_name,omitempty"`
	UserEmail       string `json:"user_email,omitempty"`
}

type QueryExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
	HasMore    bool                `json:"has_more"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type CountExecutionsResponse struct {
	Count int `json:"count"`
}

type ExecutionLogsResponse struct {
	Lines []string `json:"lines"`
}

type LinkResponse struct {
	State  string `json:"state"`
	Owner  string `json:"owner,omitempty"`
	Name   string `json:"name,omitempty"`
	Branch string `json:"branch,omitempty"`
}

type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func automationResponse(a domain.Automation, state string) AutomationResponse {
	return AutomationResponse{
		ID:                 a.ID.String(),
		Title:              a.Title,
		Description:        a.Description,
		Status:             string(a.Status),
		TriggerMode:        string(a.TriggerMode),
		TriggerEnabled:     a.TriggerEnabled,
		Code:               codePayloadBody(a.Code),
		Dependencies:       a.Dependencies,
		EnvVarNames:        a.EnvVarNames,
		RuntimeEnvironment: a.RuntimeEnvironment,
		OwnerID:            a.OwnerID.String(),
		DocVersion:         a.DocVersion,
		EngineState:        state,
		CreatedAt:          formatTime(a.CreatedAt),
		UpdatedAt:          formatTime(a.UpdatedAt),
	}
}

func versionResponse(v domain.Version) VersionResponse {
	return VersionResponse{
		ID:            v.ID.String(),
		AutomationID:  v.AutomationID.String(),
		SemVer:        v.SemVer,
		Code:          codePayloadBody(v.Code),
		Dependencies:  v.Dependencies,
		EnvVarNames:   v.EnvVarNames,
		CommitMessage: v.CommitMessage,
		SyncStatus:    string(v.SyncStatus),
		CreatedAt:     formatTime(v.CreatedAt),
	}
}

func executionResponse(rec domain.ExecutionRecord) ExecutionResponse {
	out := ExecutionResponse{
		ID:              rec.ID.String(),
		AutomationID:    rec.AutomationID.String(),
		Status:          string(rec.Status),
		TriggerType:     string(rec.TriggerType),
		StartedAt:       formatTime(rec.StartedAt),
		DurationSeconds: int64(rec.Duration().Seconds()),
		ExitCode:        rec.ExitCode,
		ErrorMessage:    rec.ErrorMessage,
		AutomationTitle: rec.AutomationTitle,
		UserName:        rec.UserName,
		UserEmail:       rec.UserEmail,
	}
	if rec.ScheduleID != nil {
		out.ScheduleID = rec.ScheduleID.String()
	}
	if rec.EndedAt != nil {
		out.EndedAt = formatTime(*rec.EndedAt)
	}
	return out
}

// scheduleResponse renders a schedule. next is empty when the trigger
// is off; match always carries the raw cron match so clients can tell
// "paused" from "never fires".
func scheduleResponse(sc domain.Schedule, next, prev, match time.Time) ScheduleResponse {
	out := ScheduleResponse{
		ID:                 sc.ID.String(),
		AutomationID:       sc.AutomationID.String(),
		CronExpression:     sc.CronExpression,
		Timezone:           sc.Timezone,
		RuntimeEnvironment: sc.RuntimeEnvironment,
		Description:        sc.Description,
		Notifications: NotificationPrefsPayload{
			Enabled:     sc.Notifications.Enabled,
			OnCompleted: sc.Notifications.OnCompleted,
			OnFailed:    sc.Notifications.OnFailed,
		},
		CreatedAt: formatTime(sc.CreatedAt),
		UpdatedAt: formatTime(sc.UpdatedAt),
	}
	if !next.IsZero() {
		out.NextRun = formatTime(next)
	}
	if !match.IsZero() {
		out.NextCronMatch = formatTime(match)
	}
	if !prev.IsZero() {
		out.PreviousRun = formatTime(prev)
	}
	return out
}

func diffResponse(from, to domain.Version, files []version.FileDiff) DiffResponse {
	out := DiffResponse{From: from.SemVer, To: to.SemVer}
	for _, f := range files {
		fd := FileDiffPayload{Name: f.Name, Changed: f.Changed()}
		for _, l := range f.Lines {
			fd.Lines = append(fd.Lines, DiffLinePayload{Op: string(l.Op), Text: l.Text})
		}
		out.Files = append(out.Files, fd)
	}
	return out
}
