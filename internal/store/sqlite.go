// Package store owns the shared task_records table. It is the only
// coordination medium between worker processes: exclusivity is a
// conditional update on the run ticket, not an in-process lock.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskbeat/internal/domain"
)

var (
	// ErrNotClaimable means the task is not yet due, another worker
	// holds the ticket, or no record exists.
	ErrNotClaimable = errors.New("task not claimable")
	// ErrClaimLost means a sibling worker claimed the task between our
	// read and our claim attempt.
	ErrClaimLost = errors.New("claim lost to another worker")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS task_records (
  id TEXT PRIMARY KEY,
  settings_json BLOB NOT NULL,
  next_run_start_at DATETIME NOT NULL,
  current_run_ticket TEXT,
  claimed_at DATETIME,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_task_records_due ON task_records(next_run_start_at) WHERE current_run_ticket IS NULL;
`
	_, err := db.Exec(schema)
	return err
}

type Store interface {
	// UpsertSettings inserts a record with the computed first run and a
	// null ticket, or merges into an existing one touching only
	// settings_json. Schedule and ticket survive a redefinition.
	UpsertSettings(ctx context.Context, id string, settings []byte, initialNextRun time.Time) error

	// FindClaimable returns the record for id if it is due and
	// unclaimed, else ErrNotClaimable.
	FindClaimable(ctx context.Context, id string, now time.Time) (domain.TaskRecord, error)

	// Claim sets the ticket only if the record is still due and
	// unclaimed; ErrClaimLost when the conditional update matches no row.
	Claim(ctx context.Context, id, ticket string, now time.Time) error

	// Release clears the ticket and schedules the next run in one update.
	Release(ctx context.Context, id string, nextRunAt time.Time) error

	// ReleaseStale clears tickets claimed before cutoff, returning the
	// number of records freed. For recovery after a crashed holder.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)

	Get(ctx context.Context, id string) (domain.TaskRecord, error)
	List(ctx context.Context, limit int) ([]domain.TaskRecord, error)
}

type sqliteStore struct{ db *sql.DB }

func NewSQLite(db *sql.DB) Store { return &sqliteStore{db: db} }

func (s *sqliteStore) UpsertSettings(ctx context.Context, id string, settings []byte, initialNextRun time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_records (id, settings_json, next_run_start_at, current_run_ticket, created_at, updated_at)
VALUES (?, ?, ?, NULL, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET settings_json=excluded.settings_json, updated_at=CURRENT_TIMESTAMP
`, id, settings, initialNextRun.UTC())
	return err
}

const recordColumns = `id, settings_json, next_run_start_at, current_run_ticket, claimed_at, created_at, updated_at`

func (s *sqliteStore) FindClaimable(ctx context.Context, id string, now time.Time) (domain.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+`
FROM task_records
WHERE id=? AND next_run_start_at < ? AND current_run_ticket IS NULL
`, id, now.UTC())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskRecord{}, ErrNotClaimable
	}
	return rec, err
}

func (s *sqliteStore) Claim(ctx context.Context, id, ticket string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE task_records
SET current_run_ticket=?, claimed_at=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND next_run_start_at < ? AND current_run_ticket IS NULL
`, ticket, now.UTC(), id, now.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

func (s *sqliteStore) Release(ctx context.Context, id string, nextRunAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE task_records
SET current_run_ticket=NULL, claimed_at=NULL, next_run_start_at=?, updated_at=CURRENT_TIMESTAMP
WHERE id=?
`, nextRunAt.UTC(), id)
	return err
}

func (s *sqliteStore) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE task_records
SET current_run_ticket=NULL, claimed_at=NULL, updated_at=CURRENT_TIMESTAMP
WHERE current_run_ticket IS NOT NULL AND claimed_at < ?
`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+recordColumns+` FROM task_records WHERE id=?`, id)
	return scanRecord(row)
}

func (s *sqliteStore) List(ctx context.Context, limit int) ([]domain.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+recordColumns+` FROM task_records ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []domain.TaskRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (domain.TaskRecord, error) {
	var rec domain.TaskRecord
	var ticket sql.NullString
	var claimedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.SettingsJSON, &rec.NextRunStartAt, &ticket, &claimedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.TaskRecord{}, err
	}
	if ticket.Valid {
		t := ticket.String
		rec.CurrentRunTicket = &t
	}
	if claimedAt.Valid {
		c := claimedAt.Time
		rec.ClaimedAt = &c
	}
	return rec, nil
}
