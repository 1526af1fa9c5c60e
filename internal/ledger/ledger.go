package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// ErrAlreadyClosed marks an attempt to close an execution record that
// already has a terminal status. Close is exactly-once.
var ErrAlreadyClosed = errors.New("ledger: execution record already closed")

// Filter narrows a history query. Zero values mean "no constraint".
type Filter struct {
	AutomationIDs []uuid.UUID
	Statuses      []domain.ExecutionStatus
	From          time.Time
	To            time.Time
	// Search matches against automation title and user name/email.
	Search string

	Limit  int
	Offset int
}

// Page is one window of history results. HasMore is a hint: it reports
// whether the page came back full, so a trailing exactly-full page still
// sets it and the next fetch returns empty.
type Page struct {
	Records []domain.ExecutionRecord
	HasMore bool
}

// Repository is the persistence the ledger runs on.
type Repository interface {
	// InsertRecord appends an open record. Implementations must reject a
	// second running record for the same automation with
	// domain.ErrAlreadyRunning.
	InsertRecord(ctx context.Context, rec domain.ExecutionRecord) error
	// RunningRecord returns the open record for the automation, or
	// domain.ErrNotFound when none is open.
	RunningRecord(ctx context.Context, automationID uuid.UUID) (domain.ExecutionRecord, error)
	// CloseRecord sets the terminal fields of an open record and reports
	// whether a row was actually transitioned.
	CloseRecord(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, endedAt time.Time, exitCode int, errorMessage string) (bool, error)
	GetRecord(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error)
	QueryRecords(ctx context.Context, f Filter) ([]domain.ExecutionRecord, error)
	CountRecords(ctx context.Context, f Filter) (int, error)
	// StaleRunning returns open records whose StartedAt is older than the
	// cutoff, for orphan reconciliation.
	StaleRunning(ctx context.Context, cutoff time.Time) ([]domain.ExecutionRecord, error)
}

// MetricsSink defines the ledger's metrics hooks.
type MetricsSink interface {
	RunStarted(trigger string)
	RunClosed(status string, duration time.Duration)
}

// Ledger is the append-only record of automation executions. Records
// open exactly once, close exactly once, and are never deleted.
type Ledger struct {
	repo    Repository
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time
}

func New(repo Repository) *Ledger {
	return &Ledger{
		repo:  repo,
		clock: time.Now,
	}
}

func (l *Ledger) WithMetrics(m MetricsSink) *Ledger {
	l.metrics = m
	return l
}

// Append opens a new running record for the automation. At most one
// record per automation may be open; a second attempt returns
// domain.ErrAlreadyRunning without queueing.
func (l *Ledger) Append(ctx context.Context, automationID uuid.UUID, scheduleID *uuid.UUID, trigger domain.TriggerType, title, userName, userEmail string) (domain.ExecutionRecord, error) {
	now := l.clock().UTC()
	rec := domain.ExecutionRecord{
		ID:              uuid.New(),
		AutomationID:    automationID,
		ScheduleID:      scheduleID,
		Status:          domain.ExecutionStatusRunning,
		TriggerType:     trigger,
		StartedAt:       now,
		AutomationTitle: title,
		UserName:        userName,
		UserEmail:       userEmail,
		CreatedAt:       now,
	}

	if err := l.repo.InsertRecord(ctx, rec); err != nil {
		return domain.ExecutionRecord{}, err
	}

	if l.metrics != nil {
		l.metrics.RunStarted(string(trigger))
	}
	return rec, nil
}

// Close seals an open record with a terminal status. A record closes at
// most once; later attempts return ErrAlreadyClosed and leave the first
// outcome untouched.
func (l *Ledger) Close(ctx context.Context, id uuid.UUID, status domain.ExecutionStatus, exitCode int, errorMessage string) (domain.ExecutionRecord, error) {
	if !status.Terminal() {
		return domain.ExecutionRecord{}, errors.New("ledger: close requires a terminal status")
	}

	endedAt := l.clock().UTC()
	closed, err := l.repo.CloseRecord(ctx, id, status, endedAt, exitCode, errorMessage)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}
	if !closed {
		return domain.ExecutionRecord{}, ErrAlreadyClosed
	}

	rec, err := l.repo.GetRecord(ctx, id)
	if err != nil {
		return domain.ExecutionRecord{}, err
	}

	if l.metrics != nil {
		l.metrics.RunClosed(string(status), rec.Duration())
	}
	return rec, nil
}

// Running returns the open record for the automation, if any.
func (l *Ledger) Running(ctx context.Context, automationID uuid.UUID) (domain.ExecutionRecord, error) {
	return l.repo.RunningRecord(ctx, automationID)
}

func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error) {
	return l.repo.GetRecord(ctx, id)
}

// defaultPageSize applies when a query names no limit.
const defaultPageSize = 50

// Query returns one filtered page ordered by start time descending.
func (l *Ledger) Query(ctx context.Context, f Filter) (Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}

	recs, err := l.repo.QueryRecords(ctx, f)
	if err != nil {
		return Page{}, err
	}

	return Page{
		Records: recs,
		HasMore: len(recs) == f.Limit,
	}, nil
}

// Count returns the total matching the same filter shape Query accepts,
// ignoring pagination.
func (l *Ledger) Count(ctx context.Context, f Filter) (int, error) {
	f.Limit = 0
	f.Offset = 0
	return l.repo.CountRecords(ctx, f)
}

// TotalRuns counts an automation's finished executions. Open records are
// excluded until they close.
func (l *Ledger) TotalRuns(ctx context.Context, automationID uuid.UUID) (int, error) {
	return l.repo.CountRecords(ctx, Filter{
		AutomationIDs: []uuid.UUID{automationID},
		Statuses: []domain.ExecutionStatus{
			domain.ExecutionStatusSuccess,
			domain.ExecutionStatusFailed,
			domain.ExecutionStatusStopped,
			domain.ExecutionStatusUnknown,
		},
	})
}

// StaleRunning lists open records started before the cutoff.
func (l *Ledger) StaleRunning(ctx context.Context, cutoff time.Time) ([]domain.ExecutionRecord, error) {
	return l.repo.StaleRunning(ctx, cutoff)
}
