package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hazyhaar/avreports/dbopen"
)

// LinkDocument records doc (once per fingerprint) and points entryKey at it in
// one transaction. The entry status is left alone: RecordOutcome moves it, so
// an entry interrupted before its outcome is written stays pending. Reports
// whether the documents row was created by this call.
func (s *Store) LinkDocument(ctx context.Context, entryKey string, doc *Document, now int64) (bool, error) {
	var created bool
	err := dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (fingerprint, size_bytes, storage_path, content_type,
			page_count, downloaded_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(fingerprint) DO NOTHING`,
			doc.Fingerprint, doc.SizeBytes, doc.StoragePath, doc.ContentType,
			doc.PageCount, doc.DownloadedAt,
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n == 1

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO document_links (entry_key, fingerprint) VALUES (?, ?)
			ON CONFLICT(entry_key) DO UPDATE SET fingerprint = excluded.fingerprint`,
			entryKey, doc.Fingerprint); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE index_entries SET fingerprint=?, updated_at=? WHERE entry_key=?`,
			doc.Fingerprint, now, entryKey)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("store: link document %s: %w", entryKey, err)
	}
	return created, nil
}

// SetExtraction fills page_count and quality_json on a document where they
// are still NULL. Zero pages or an empty quality leave the column as is.
func (s *Store) SetExtraction(ctx context.Context, fingerprint string, pages int, quality string) error {
	var pc, q any
	if pages > 0 {
		pc = pages
	}
	if quality != "" {
		q = quality
	}
	_, err := dbopen.Exec(ctx, s.DB,
		`UPDATE documents SET page_count=COALESCE(page_count, ?), quality_json=COALESCE(quality_json, ?)
		WHERE fingerprint=?`, pc, q, fingerprint)
	if err != nil {
		return fmt.Errorf("store: set extraction %s: %w", fingerprint, err)
	}
	return nil
}

// GetDocument returns the document with the given fingerprint, or nil.
func (s *Store) GetDocument(ctx context.Context, fingerprint string) (*Document, error) {
	var d Document
	err := s.DB.QueryRowContext(ctx,
		`SELECT fingerprint, size_bytes, storage_path, content_type, page_count, quality_json, downloaded_at
		FROM documents WHERE fingerprint = ?`, fingerprint).Scan(
		&d.Fingerprint, &d.SizeBytes, &d.StoragePath, &d.ContentType, &d.PageCount, &d.QualityJSON, &d.DownloadedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &d, nil
}
