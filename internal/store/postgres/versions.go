package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// InsertVersion appends one version snapshot. Versions are append-only;
// there is no update path besides sync status.
func (s *Store) InsertVersion(ctx context.Context, v domain.Version) error {
	code, err := json.Marshal(v.Code)
	if err != nil {
		return fmt.Errorf("marshal code: %w", err)
	}
	_, err = s.db.ExecContext(ctx, queryInsertVersion,
		v.ID, v.AutomationID, v.SemVer, code, pq.Array(v.Dependencies),
		pq.Array(v.EnvVarNames), v.CommitMessage, string(v.SyncStatus), v.CreatedAt,
	)
	return err
}

// ListVersions returns an automation's versions newest first.
func (s *Store) ListVersions(ctx context.Context, automationID uuid.UUID) ([]domain.Version, error) {
	rows, err := s.db.QueryContext(ctx, queryListVersions, automationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// GetVersion returns a version by ID.
func (s *Store) GetVersion(ctx context.Context, id uuid.UUID) (domain.Version, error) {
	row := s.db.QueryRowContext(ctx, queryGetVersion, id)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return domain.Version{}, domain.ErrNotFound
	}
	return v, err
}

// LatestSemVer returns the most recently created version string, or ""
// when the automation has no versions yet. Ordering follows the insert
// sequence, not the string.
func (s *Store) LatestSemVer(ctx context.Context, automationID uuid.UUID) (string, error) {
	var semver string
	err := s.db.QueryRowContext(ctx, queryLatestSemVer, automationID).Scan(&semver)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return semver, err
}

// SetSyncStatus records the outcome of mirroring one version.
func (s *Store) SetSyncStatus(ctx context.Context, versionID uuid.UUID, status domain.SyncStatus) error {
	res, err := s.db.ExecContext(ctx, queryUpdateSyncStatus, versionID, string(status))
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

func scanVersion(row scanner) (domain.Version, error) {
	var v domain.Version
	var code []byte
	var syncStatus string

	err := row.Scan(
		&v.ID, &v.AutomationID, &v.SemVer, &code, pq.Array(&v.Dependencies),
		pq.Array(&v.EnvVarNames), &v.CommitMessage, &syncStatus, &v.CreatedAt,
	)
	if err != nil {
		return domain.Version{}, err
	}
	if err := json.Unmarshal(code, &v.Code); err != nil {
		return domain.Version{}, fmt.Errorf("unmarshal code: %w", err)
	}
	v.SyncStatus = domain.SyncStatus(syncStatus)
	return v, nil
}
