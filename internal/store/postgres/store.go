package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/engine"
	"github.com/autoloop-io/autoloop/internal/ledger"
	"github.com/autoloop-io/autoloop/internal/notify"
	"github.com/autoloop-io/autoloop/internal/scheduler"
	syncpkg "github.com/autoloop-io/autoloop/internal/sync"
	"github.com/autoloop-io/autoloop/internal/vcs"
	"github.com/autoloop-io/autoloop/internal/version"
)

// Store implements the persistence interfaces of the engine, version
// store, ledger, scheduler, notifier and sync coordinator on PostgreSQL.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, clock: time.Now}
}

var (
	_ engine.AutomationStore = (*Store)(nil)
	_ engine.LogSink         = (*Store)(nil)
	_ version.Repository     = (*Store)(nil)
	_ ledger.Repository      = (*Store)(nil)
	_ scheduler.Store        = (*Store)(nil)
	_ notify.ScheduleStore   = (*Store)(nil)
	_ syncpkg.Store          = (*Store)(nil)
)

// InsertAutomation persists a new automation document.
func (s *Store) InsertAutomation(ctx context.Context, a domain.Automation) error {
	code, err := json.Marshal(a.Code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	adminIDs := make([]string, len(a.AdminIDs))
	for i, id := range a.AdminIDs {
		adminIDs[i] = id.String()
	}

	_, err = s.db.ExecContext(ctx, queryInsertAutomation,
		a.ID, a.Title, a.Description, string(a.Status), string(a.TriggerMode), a.TriggerEnabled,
		code, pq.Array(a.Dependencies), pq.Array(a.EnvVarNames), a.APIKey, a.RuntimeEnvironment,
		a.OwnerID, pq.Array(adminIDs), a.DocVersion, a.CreatedAt, a.UpdatedAt,
	)
	return err
}

// GetAutomation returns an automation by ID, soft-deleted ones included.
func (s *Store) GetAutomation(ctx context.Context, id uuid.UUID) (domain.Automation, error) {
	row := s.db.QueryRowContext(ctx, queryGetAutomation, id)
	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return domain.Automation{}, domain.ErrNotFound
	}
	return a, err
}

// ListAutomations returns non-deleted automations, newest first.
func (s *Store) ListAutomations(ctx context.Context, limit, offset int) ([]domain.Automation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, queryListAutomations, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAutomation writes the document guarded by the caller's observed
// DocVersion. A stale fence means someone else committed in between; the
// write is rejected with domain.ErrConcurrentModification and nothing
// changes.
func (s *Store) UpdateAutomation(ctx context.Context, a domain.Automation, fence int64) (domain.Automation, error) {
	code, err := json.Marshal(a.Code)
	if err != nil {
		return domain.Automation{}, fmt.Errorf("marshal code: %w", err)
	}
	adminIDs := make([]string, len(a.AdminIDs))
	for i, id := range a.AdminIDs {
		adminIDs[i] = id.String()
	}

	res, err := s.db.ExecContext(ctx, queryUpdateAutomation,
		a.ID, a.Title, a.Description, string(a.Status), string(a.TriggerMode), a.TriggerEnabled,
		code, pq.Array(a.Dependencies), pq.Array(a.EnvVarNames), a.APIKey, a.RuntimeEnvironment,
		pq.Array(adminIDs), s.clock().UTC(), fence,
	)
	if err != nil {
		return domain.Automation{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Automation{}, err
	}
	if n == 0 {
		// Either the row is gone or the fence is stale; distinguish so
		// callers get the right error.
		if _, getErr := s.GetAutomation(ctx, a.ID); getErr != nil {
			return domain.Automation{}, getErr
		}
		return domain.Automation{}, domain.ErrConcurrentModification
	}
	return s.GetAutomation(ctx, a.ID)
}

// DeleteAutomation soft-deletes the automation. History and versions
// stay in place.
func (s *Store) DeleteAutomation(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, querySoftDeleteAutomation, id, s.clock().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetTimeBasedAutomations returns live, time-triggered automations with
// their schedules.
func (s *Store) GetTimeBasedAutomations(ctx context.Context) ([]scheduler.AutomationWithSchedules, error) {
	rows, err := s.db.QueryContext(ctx, queryGetTimeBasedAutomations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []scheduler.AutomationWithSchedules
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, scheduler.AutomationWithSchedules{Automation: a})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		schedules, err := s.ListSchedules(ctx, out[i].Automation.ID)
		if err != nil {
			return nil, err
		}
		out[i].Schedules = schedules
	}
	return out, nil
}

// InsertSchedule persists a new schedule.
func (s *Store) InsertSchedule(ctx context.Context, sc domain.Schedule) error {
	_, err := s.db.ExecContext(ctx, queryInsertSchedule,
		sc.ID, sc.AutomationID, sc.CronExpression, sc.Timezone, sc.RuntimeEnvironment,
		sc.Description, sc.Notifications.Enabled, sc.Notifications.OnCompleted,
		sc.Notifications.OnFailed, sc.CreatedAt, sc.UpdatedAt,
	)
	return err
}

// GetSchedule returns a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, id uuid.UUID) (domain.Schedule, error) {
	row := s.db.QueryRowContext(ctx, queryGetSchedule, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return domain.Schedule{}, domain.ErrNotFound
	}
	return sc, err
}

// ListSchedules returns an automation's schedules, oldest first.
func (s *Store) ListSchedules(ctx context.Context, automationID uuid.UUID) ([]domain.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, queryListSchedules, automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// UpdateSchedule rewrites a schedule in place.
func (s *Store) UpdateSchedule(ctx context.Context, sc domain.Schedule) error {
	res, err := s.db.ExecContext(ctx, queryUpdateSchedule,
		sc.ID, sc.CronExpression, sc.Timezone, sc.RuntimeEnvironment, sc.Description,
		sc.Notifications.Enabled, sc.Notifications.OnCompleted, sc.Notifications.OnFailed,
		s.clock().UTC(),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule. Past executions keep their
// schedule_id reference.
func (s *Store) DeleteSchedule(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, queryDeleteSchedule, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendLog stores one output line of an execution.
func (s *Store) AppendLog(ctx context.Context, executionID uuid.UUID, line string) error {
	_, err := s.db.ExecContext(ctx, queryInsertLog, executionID, line, s.clock().UTC())
	return err
}

// GetLogs returns an execution's output lines in order.
func (s *Store) GetLogs(ctx context.Context, executionID uuid.UUID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryGetLogs, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

// SetLink upserts an automation's repository link.
func (s *Store) SetLink(ctx context.Context, link syncpkg.Link) error {
	_, err := s.db.ExecContext(ctx, queryUpsertLink,
		link.AutomationID, string(link.State), link.Repo.Owner, link.Repo.Name,
		link.Repo.Branch, s.clock().UTC(),
	)
	return err
}

// GetLink returns an automation's repository link.
func (s *Store) GetLink(ctx context.Context, automationID uuid.UUID) (syncpkg.Link, error) {
	var link syncpkg.Link
	var state string
	err := s.db.QueryRowContext(ctx, queryGetLink, automationID).Scan(
		&link.AutomationID, &state, &link.Repo.Owner, &link.Repo.Name, &link.Repo.Branch,
	)
	if err == sql.ErrNoRows {
		return syncpkg.Link{}, domain.ErrNotFound
	}
	if err != nil {
		return syncpkg.Link{}, err
	}
	link.State = vcs.ConnectionState(state)
	return link, nil
}

// DeleteLink removes an automation's repository link.
func (s *Store) DeleteLink(ctx context.Context, automationID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, queryDeleteLink, automationID)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row scanner) (domain.Automation, error) {
	var a domain.Automation
	var status, triggerMode string
	var code []byte
	var adminIDs []string

	err := row.Scan(
		&a.ID, &a.Title, &a.Description, &status, &triggerMode, &a.TriggerEnabled,
		&code, pq.Array(&a.Dependencies), pq.Array(&a.EnvVarNames), &a.APIKey,
		&a.RuntimeEnvironment, &a.OwnerID, pq.Array(&adminIDs), &a.DocVersion,
		&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt,
	)
	if err != nil {
		return domain.Automation{}, err
	}

	a.Status = domain.AutomationStatus(status)
	a.TriggerMode = domain.TriggerMode(triggerMode)
	if err := json.Unmarshal(code, &a.Code); err != nil {
		return domain.Automation{}, fmt.Errorf("unmarshal code: %w", err)
	}
	for _, raw := range adminIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return domain.Automation{}, fmt.Errorf("parse admin id %q: %w", raw, err)
		}
		a.AdminIDs = append(a.AdminIDs, id)
	}
	return a, nil
}

func scanSchedule(row scanner) (domain.Schedule, error) {
	var sc domain.Schedule
	err := row.Scan(
		&sc.ID, &sc.AutomationID, &sc.CronExpression, &sc.Timezone, &sc.RuntimeEnvironment,
		&sc.Description, &sc.Notifications.Enabled, &sc.Notifications.OnCompleted,
		&sc.Notifications.OnFailed, &sc.CreatedAt, &sc.UpdatedAt,
	)
	return sc, err
}

// isDuplicateKeyError checks if the error is a PostgreSQL unique violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	// PostgreSQL unique violation error code is 23505
	errStr := err.Error()
	return strings.Contains(errStr, "23505") ||
		strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "duplicate key")
}
