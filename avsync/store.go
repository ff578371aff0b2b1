package avsync

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/hazyhaar/avreports/avsync/internal/store"
	"github.com/hazyhaar/avreports/avsync/internal/tracker"
	"github.com/hazyhaar/avreports/migrate"
)

// Store is the persistence the service needs. NewStore returns the SQLite
// implementation.
type Store interface {
	UpsertIndexEntry(ctx context.Context, e *store.IndexEntry, now int64) (bool, error)
	PendingEntries(ctx context.Context, limit int) ([]*store.IndexEntry, error)
	FinishEntry(ctx context.Context, key, status, lastError string, now int64) error
	Requeue(ctx context.Context, keys []string, allFailed bool, now int64) (int, error)

	LinkDocument(ctx context.Context, entryKey string, doc *store.Document, now int64) (bool, error)
	SetExtraction(ctx context.Context, fingerprint string, pages int, quality string) error
	RecordOutcome(ctx context.Context, a *store.Accident, status, lastError string, now int64) error

	ListRuns(ctx context.Context, limit int, openOnly bool) ([]*store.Run, error)
	Summary(ctx context.Context) (*store.Summary, error)
	Latest(ctx context.Context, limit int) ([]*store.LatestItem, error)

	tracker.Store
}

// NewStore wraps an open database. Run Migrate first.
func NewStore(db *sql.DB) Store {
	return store.NewStore(db)
}

// Migrate applies every pending schema migration.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) (migrate.Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return store.NewStore(db).Migrate(ctx, migrate.WithLogger(logger))
}

// MigrationStatus lists every known migration with its applied state.
func MigrationStatus(ctx context.Context, db *sql.DB) ([]migrate.StepStatus, error) {
	return migrate.Status(ctx, db, store.Migrations)
}
