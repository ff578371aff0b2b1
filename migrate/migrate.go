// Package migrate applies ordered, idempotent schema migrations to an SQLite
// database and records each applied step in a schema_migrations ledger.
//
// Each step runs in its own transaction together with its ledger row, so a
// crash or a failing step leaves the database at a known prefix of the list.
// Running Apply again resumes at the first step that is not in the ledger.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/avreports/dbopen"
)

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    id          TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    applied_at  INTEGER NOT NULL
)`

// ErrInvalidMigrations is returned when the migration list is malformed.
var ErrInvalidMigrations = errors.New("migrate: invalid migration list")

// Migration is one schema step. IDs sort lexically, so use zero-padded
// prefixes such as "0001_index_entries".
type Migration struct {
	ID          string
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// SQL builds a Migration that executes stmts in order.
func SQL(id, description string, stmts ...string) Migration {
	return Migration{
		ID:          id,
		Description: description,
		Up: func(ctx context.Context, tx *sql.Tx) error {
			for _, s := range stmts {
				if _, err := tx.ExecContext(ctx, s); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// StepError reports the migration that failed. Steps before it stay applied.
type StepError struct {
	ID  string
	Err error
}

func (e *StepError) Error() string { return fmt.Sprintf("migrate: step %s: %v", e.ID, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Report summarizes one Apply call.
type Report struct {
	Applied []string // applied by this call, in order
	Skipped int      // already in the ledger
}

// StepStatus is one row of Status.
type StepStatus struct {
	ID          string
	Description string
	Applied     bool
	AppliedAt   time.Time
}

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures Apply.
type Option func(*options)

// WithLogger sets the logger used to report applied steps.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithClock overrides the clock used for applied_at.
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// Apply brings db up to date with migrations.
func Apply(ctx context.Context, db *sql.DB, migrations []Migration, opts ...Option) (Report, error) {
	o := options{logger: slog.Default(), now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}

	var rep Report
	steps, err := sorted(migrations)
	if err != nil {
		return rep, err
	}
	if _, err := dbopen.Exec(ctx, db, ledgerDDL); err != nil {
		return rep, fmt.Errorf("migrate: create ledger: %w", err)
	}
	applied, err := appliedSet(ctx, db)
	if err != nil {
		return rep, err
	}

	for _, m := range steps {
		if _, ok := applied[m.ID]; ok {
			rep.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		start := o.now()
		err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
			// Another process may have applied it since the ledger was read.
			var n int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM schema_migrations WHERE id = ?`, m.ID).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return errAlreadyApplied
			}
			if err := m.Up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (id, description, applied_at) VALUES (?, ?, ?)`,
				m.ID, m.Description, start.UnixMilli())
			return err
		})
		if errors.Is(err, errAlreadyApplied) {
			rep.Skipped++
			continue
		}
		if err != nil {
			o.logger.Error("migrate: step failed", "id", m.ID, "error", err)
			return rep, &StepError{ID: m.ID, Err: err}
		}
		rep.Applied = append(rep.Applied, m.ID)
		o.logger.Info("migrate: applied", "id", m.ID, "description", m.Description,
			"duration_ms", o.now().Sub(start).Milliseconds())
	}
	return rep, nil
}

var errAlreadyApplied = errors.New("migrate: already applied")

// Status lists every migration with whether it has been applied. Ledger rows
// that match no known migration are ignored.
func Status(ctx context.Context, db *sql.DB, migrations []Migration) ([]StepStatus, error) {
	steps, err := sorted(migrations)
	if err != nil {
		return nil, err
	}
	if _, err := dbopen.Exec(ctx, db, ledgerDDL); err != nil {
		return nil, fmt.Errorf("migrate: create ledger: %w", err)
	}
	applied, err := appliedSet(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]StepStatus, 0, len(steps))
	for _, m := range steps {
		st := StepStatus{ID: m.ID, Description: m.Description}
		if at, ok := applied[m.ID]; ok {
			st.Applied = true
			st.AppliedAt = time.UnixMilli(at)
		}
		out = append(out, st)
	}
	return out, nil
}

func appliedSet(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrate: read ledger: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("migrate: scan ledger: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

func sorted(migrations []Migration) ([]Migration, error) {
	seen := make(map[string]struct{}, len(migrations))
	for i, m := range migrations {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("%w: migration %d has empty id", ErrInvalidMigrations, i)
		}
		if m.Up == nil {
			return nil, fmt.Errorf("%w: migration %s has no Up", ErrInvalidMigrations, m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrInvalidMigrations, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	out := append([]Migration(nil), migrations...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
