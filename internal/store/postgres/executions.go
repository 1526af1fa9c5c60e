package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/autoloop-io/autoloop/internal/domain"
	"github.com/autoloop-io/autoloop/internal/ledger"
)

// InsertRecord appends an open execution record. The partial unique
// index on (automation_id) WHERE status = 'running' turns a concurrent
// second start into domain.ErrAlreadyRunning.
func (s *Store) InsertRecord(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertExecution,
		rec.ID, rec.AutomationID, rec.ScheduleID, string(rec.Status), string(rec.TriggerType),
		rec.StartedAt, rec.EndedAt, rec.ExitCode, rec.ErrorMessage, rec.AutomationTitle,
		rec.UserName, rec.UserEmail, rec.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrAlreadyRunning
		}
		return err
	}
	return nil
}

// RunningRecord returns the automation's open record, if any.
func (s *Store) RunningRecord(ctx context.Context, automationID uuid.UUID) (domain.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, queryRunningExecution, automationID)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return rec, err
}

// CloseRecord seals an open record with a terminal status. The guard in
// the WHERE clause makes close exactly-once: a record already terminal
// affects zero rows and the first outcome stands.
func (s *Store) CloseRecord(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, endedAt time.Time, exitCode int, errorMessage string) (bool, error) {
	res, err := s.db.ExecContext(ctx, queryCloseExecution,
		id, string(status), endedAt, exitCode, errorMessage,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetRecord returns an execution record by ID.
func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, queryGetExecution, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return domain.ExecutionRecord{}, domain.ErrNotFound
	}
	return rec, err
}

// QueryRecords returns one filtered page ordered by start time
// descending.
func (s *Store) QueryRecords(ctx context.Context, f ledger.Filter) ([]domain.ExecutionRecord, error) {
	where, args := buildExecutionFilter(f)

	q := `
SELECT id, automation_id, schedule_id, status, trigger_type, started_at,
       ended_at, exit_code, error_message, automation_title, user_name,
       user_email, created_at
FROM executions` + where + `
ORDER BY started_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountRecords counts records matching the filter, ignoring pagination.
func (s *Store) CountRecords(ctx context.Context, f ledger.Filter) (int, error) {
	where, args := buildExecutionFilter(f)
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM executions"+where, args...).Scan(&count)
	return count, err
}

// StaleRunning returns open records started before the cutoff.
func (s *Store) StaleRunning(ctx context.Context, cutoff time.Time) ([]domain.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryStaleRunning, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// buildExecutionFilter renders the filter as a WHERE clause with
// positional args.
func buildExecutionFilter(f ledger.Filter) (string, []any) {
	var conds []string
	var args []any

	if len(f.AutomationIDs) > 0 {
		ids := make([]string, len(f.AutomationIDs))
		for i, id := range f.AutomationIDs {
			ids[i] = id.String()
		}
		args = append(args, pq.Array(ids))
		conds = append(conds, fmt.Sprintf("automation_id = ANY($%d)", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !f.From.IsZero() {
		args = append(args, f.From)
		conds = append(conds, fmt.Sprintf("started_at >= $%d", len(args)))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		conds = append(conds, fmt.Sprintf("started_at < $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(automation_title ILIKE $%d OR user_name ILIKE $%d OR user_email ILIKE $%d)", n, n, n))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanExecution(row scanner) (domain.ExecutionRecord, error) {
	var rec domain.ExecutionRecord
	var status, trigger string

	err := row.Scan(
		&rec.ID, &rec.AutomationID, &rec.ScheduleID, &status, &trigger,
		&rec.StartedAt, &rec.EndedAt, &rec.ExitCode, &rec.ErrorMessage,
		&rec.AutomationTitle, &rec.UserName, &rec.UserEmail, &rec.CreatedAt,
	)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	rec.Status = domain.ExecutionStatus(status)
	rec.TriggerType = domain.TriggerType(trigger)
	return rec, nil
}
