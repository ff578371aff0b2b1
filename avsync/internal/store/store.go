// Package store is the SQLite data access layer for the ingestion pipeline:
// index entries, stored documents, accident records and runs.
//
// The store receives an already-opened *sql.DB (see dbopen). Every write that
// touches more than one row runs in a single dbopen.RunTx transaction.
// Timestamps are Unix milliseconds supplied by the caller so the service clock
// stays injectable.
package store

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/avreports/migrate"
)

// Store wraps the ingestion database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

// Migrate applies the schema migrations to the store's database.
func (s *Store) Migrate(ctx context.Context, opts ...migrate.Option) (migrate.Report, error) {
	return migrate.Apply(ctx, s.DB, Migrations, opts...)
}
