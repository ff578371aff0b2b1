package store

import (
	"context"
	"fmt"
)

// Summary returns entry counts per status plus accident and document totals.
func (s *Store) Summary(ctx context.Context) (*Summary, error) {
	var sum Summary
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM index_entries GROUP BY status`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		switch status {
		case StatusPending:
			sum.Entries.Pending = n
		case StatusFetched:
			sum.Entries.Fetched = n
		case StatusParsed:
			sum.Entries.Parsed = n
		case StatusFailed:
			sum.Entries.Failed = n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM accident_records`).Scan(&sum.Accidents); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&sum.Documents); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Latest returns the most recently discovered entries with their accident
// records.
func (s *Store) Latest(ctx context.Context, limit int) ([]*LatestItem, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM index_entries
		ORDER BY first_seen_at DESC, entry_key DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	entries, err := collectEntries(rows)
	if err != nil {
		return nil, err
	}

	items := make([]*LatestItem, 0, len(entries))
	for _, e := range entries {
		a, err := s.GetAccident(ctx, e.EntryKey)
		if err != nil {
			return nil, err
		}
		items = append(items, &LatestItem{Entry: e, Accident: a})
	}
	return items, nil
}
