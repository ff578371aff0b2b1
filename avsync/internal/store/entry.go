package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/hazyhaar/avreports/dbopen"
)

const entryColumns = `entry_key, manufacturer, report_year, source_id, source_url,
	display_text, sequence_num, incident_date, first_seen_at, last_seen_at,
	status, fingerprint, attempts, last_error, updated_at`

// UpsertIndexEntry inserts e as a pending entry, or refreshes last_seen_at and
// the descriptive fields of an existing one. Status, fingerprint, attempts and
// first_seen_at of an existing entry are never touched. Reports whether the
// entry was new.
func (s *Store) UpsertIndexEntry(ctx context.Context, e *IndexEntry, now int64) (bool, error) {
	if e.SequenceNum == 0 {
		e.SequenceNum = 1
	}
	var inserted bool
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO index_entries (entry_key, manufacturer, report_year, source_id,
			source_url, display_text, sequence_num, incident_date, first_seen_at,
			last_seen_at, status, attempts, last_error, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, '', ?)
			ON CONFLICT(entry_key) DO NOTHING`,
			e.EntryKey, e.Manufacturer, e.ReportYear, e.SourceID, e.SourceURL,
			e.DisplayText, e.SequenceNum, e.IncidentDate, now, now, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			inserted = true
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE index_entries SET manufacturer=?, source_url=?, display_text=?,
			sequence_num=?, incident_date=COALESCE(?, incident_date), last_seen_at=?, updated_at=?
			WHERE entry_key=?`,
			e.Manufacturer, e.SourceURL, e.DisplayText, e.SequenceNum, e.IncidentDate,
			now, now, e.EntryKey,
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: upsert entry %s: %w", e.EntryKey, err)
	}
	return inserted, nil
}

// GetEntry returns the entry with the given key, or nil if absent.
func (s *Store) GetEntry(ctx context.Context, key string) (*IndexEntry, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM index_entries WHERE entry_key = ?`, key)
	return scanEntry(row)
}

// PendingEntries returns at most limit pending entries, oldest first.
func (s *Store) PendingEntries(ctx context.Context, limit int) ([]*IndexEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM index_entries
		WHERE status = 'pending'
		ORDER BY first_seen_at ASC, entry_key ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// FinishEntry records the outcome of one processing attempt: status,
// last_error and an incremented attempt counter.
func (s *Store) FinishEntry(ctx context.Context, key, status, lastError string, now int64) error {
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE index_entries SET status=?, last_error=?, attempts=attempts+1, updated_at=?
		WHERE entry_key=?`, status, lastError, now, key)
	if err != nil {
		return fmt.Errorf("store: finish entry %s: %w", key, err)
	}
	return nil
}

// Requeue resets entries to pending. Named keys are reset whatever their
// status; allFailed also resets every failed entry. Returns the number of
// entries changed.
func (s *Store) Requeue(ctx context.Context, keys []string, allFailed bool, now int64) (int, error) {
	var total int64
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		total = 0
		if len(keys) > 0 {
			args := make([]any, 0, len(keys)+1)
			args = append(args, now)
			for _, k := range keys {
				args = append(args, k)
			}
			res, err := tx.ExecContext(ctx,
				`UPDATE index_entries SET status='pending', last_error='', updated_at=?
				WHERE status != 'pending' AND entry_key IN (`+placeholders(len(keys))+`)`, args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		if allFailed {
			res, err := tx.ExecContext(ctx,
				`UPDATE index_entries SET status='pending', last_error='', updated_at=?
				WHERE status = 'failed'`, now)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: requeue: %w", err)
	}
	return int(total), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*IndexEntry, error) {
	var e IndexEntry
	err := row.Scan(
		&e.EntryKey, &e.Manufacturer, &e.ReportYear, &e.SourceID, &e.SourceURL,
		&e.DisplayText, &e.SequenceNum, &e.IncidentDate, &e.FirstSeenAt, &e.LastSeenAt,
		&e.Status, &e.Fingerprint, &e.Attempts, &e.LastError, &e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	return &e, nil
}

func collectEntries(rows *sql.Rows) ([]*IndexEntry, error) {
	defer rows.Close()
	var out []*IndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
