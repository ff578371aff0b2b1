package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/avreports/dbopen"
)

const runColumns = `id, kind, started_at, ended_at, seen, new, updated, skipped,
	fetched, parsed, partial, failed, status, error_summary`

// InsertRunIfIdle inserts run as running unless another run of the same kind
// is still open and started at or after staleBefore. The check and the insert
// are one statement. Reports whether the row was inserted.
func (s *Store) InsertRunIfIdle(ctx context.Context, run *Run, staleBefore int64) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`INSERT INTO runs (id, kind, started_at, status)
		SELECT ?, ?, ?, 'running'
		WHERE NOT EXISTS (
			SELECT 1 FROM runs WHERE kind = ? AND ended_at IS NULL AND started_at >= ?
		)`, run.ID, run.Kind, run.StartedAt, run.Kind, staleBefore)
	if err != nil {
		return false, fmt.Errorf("store: insert run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FinishRun writes the final counters and status of a run. Only an open run
// is updated; reports whether this call closed it.
func (s *Store) FinishRun(ctx context.Context, id string, c Counts, status, summary string, endedAt int64) (bool, error) {
	res, err := dbopen.Exec(ctx, s.DB,
		`UPDATE runs SET ended_at=?, seen=?, new=?, updated=?, skipped=?, fetched=?,
		parsed=?, partial=?, failed=?, status=?, error_summary=?
		WHERE id=? AND ended_at IS NULL`,
		endedAt, c.Seen, c.New, c.Updated, c.Skipped, c.Fetched,
		c.Parsed, c.Partial, c.Failed, status, summary, id,
	)
	if err != nil {
		return false, fmt.Errorf("store: finish run %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetRun returns one run, or nil.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// ListRuns returns the newest runs first. openOnly restricts to runs without
// ended_at.
func (s *Store) ListRuns(ctx context.Context, limit int, openOnly bool) ([]*Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs`
	if openOnly {
		q += ` WHERE ended_at IS NULL`
	}
	q += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	rows, err := s.DB.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

// OpenRunsBefore returns open runs that started before the given time.
func (s *Store) OpenRunsBefore(ctx context.Context, before int64) ([]*Run, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs
		WHERE ended_at IS NULL AND started_at < ?
		ORDER BY started_at ASC`, before)
	if err != nil {
		return nil, err
	}
	return collectRuns(rows)
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.Kind, &r.StartedAt, &r.EndedAt, &r.Seen, &r.New, &r.Updated, &r.Skipped,
		&r.Fetched, &r.Parsed, &r.Partial, &r.Failed, &r.Status, &r.ErrorSummary,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}

func collectRuns(rows *sql.Rows) ([]*Run, error) {
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
