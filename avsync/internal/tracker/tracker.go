// Package tracker brackets every sync invocation with a row in the runs
// table: one open run per kind, closed exactly once, with a bounded sample
// of the item errors seen while it ran.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/avreports/avsync/internal/store"
	"github.com/hazyhaar/avreports/idgen"
)

const (
	// MaxSamples is the number of item errors kept per run.
	MaxSamples = 5
	// MaxSummary bounds the persisted error summary, in bytes.
	MaxSummary = 1024

	maxSampleLen = 300
)

var (
	// ErrRunInProgress is returned by Begin when a run of the same kind is open.
	ErrRunInProgress = errors.New("run in progress")
	// ErrAlreadyFinished is returned by Finish for a run that was already closed.
	ErrAlreadyFinished = errors.New("run already finished")
)

// Store persists runs.
type Store interface {
	InsertRunIfIdle(ctx context.Context, run *store.Run, staleBefore int64) (bool, error)
	FinishRun(ctx context.Context, id string, c store.Counts, status, summary string, endedAt int64) (bool, error)
	OpenRunsBefore(ctx context.Context, before int64) ([]*store.Run, error)
}

// Tracker opens and closes runs.
type Tracker struct {
	store      Store
	staleAfter time.Duration
	now        func() time.Time
	newID      idgen.Generator
	logger     *slog.Logger
	onFinish   func(kind, status string, d time.Duration)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStaleAfter sets the age past which an open run no longer blocks a new
// one. Default 6h.
func WithStaleAfter(d time.Duration) Option { return func(t *Tracker) { t.staleAfter = d } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

// WithIDGenerator overrides the run id generator.
func WithIDGenerator(g idgen.Generator) Option { return func(t *Tracker) { t.newID = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(t *Tracker) { t.logger = l } }

// WithFinishHook registers a callback invoked after a run is closed.
func WithFinishHook(fn func(kind, status string, d time.Duration)) Option {
	return func(t *Tracker) { t.onFinish = fn }
}

// New creates a Tracker.
func New(s Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:      s,
		staleAfter: 6 * time.Hour,
		now:        time.Now,
		newID:      idgen.RunID,
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// Run is an open run. Note is safe for concurrent use.
type Run struct {
	ID        string
	Kind      string
	StartedAt time.Time

	mu      sync.Mutex
	samples []string
	noted   int
}

// Note records an item error. Only the first MaxSamples are kept.
func (r *Run) Note(err error) {
	if err == nil {
		return
	}
	msg := truncate(err.Error(), maxSampleLen)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noted++
	if len(r.samples) < MaxSamples {
		r.samples = append(r.samples, msg)
	}
}

// Noted returns the number of errors recorded, sampled or not.
func (r *Run) Noted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.noted
}

// Summary renders the error sample, at most MaxSummary bytes.
func (r *Run) Summary() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.noted == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s)", r.noted)
	if r.noted > len(r.samples) {
		fmt.Fprintf(&b, ", first %d", len(r.samples))
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(r.samples, "; "))
	return truncate(b.String(), MaxSummary)
}

// Begin opens a run of kind. Open runs of the same kind older than the stale
// window are logged as abandoned and left open; a younger open run makes
// Begin fail with ErrRunInProgress.
func (t *Tracker) Begin(ctx context.Context, kind string) (*Run, error) {
	now := t.now()
	staleBefore := now.Add(-t.staleAfter).UnixMilli()

	abandoned, err := t.store.OpenRunsBefore(ctx, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("tracker: list abandoned runs: %w", err)
	}
	for _, a := range abandoned {
		if a.Kind != kind {
			continue
		}
		t.logger.Warn("tracker: abandoned run",
			"run_id", a.ID, "kind", a.Kind,
			"started_at", time.UnixMilli(a.StartedAt).UTC().Format(time.RFC3339))
	}

	run := &Run{ID: t.newID(), Kind: kind, StartedAt: now}
	ok, err := t.store.InsertRunIfIdle(ctx, &store.Run{
		ID:        run.ID,
		Kind:      kind,
		StartedAt: now.UnixMilli(),
	}, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("tracker: begin %s: %w", kind, err)
	}
	if !ok {
		return nil, fmt.Errorf("tracker: %s: %w", kind, ErrRunInProgress)
	}
	t.logger.Info("tracker: run started", "run_id", run.ID, "kind", kind)
	return run, nil
}

// Finish closes run with its final counters and status. The write ignores
// cancellation of ctx so a cancelled sync still records its outcome.
func (t *Tracker) Finish(ctx context.Context, run *Run, c store.Counts, status string) error {
	ctx = context.WithoutCancel(ctx)
	end := t.now()
	closed, err := t.store.FinishRun(ctx, run.ID, c, status, run.Summary(), end.UnixMilli())
	if err != nil {
		return fmt.Errorf("tracker: finish %s: %w", run.ID, err)
	}
	if !closed {
		return fmt.Errorf("tracker: %s: %w", run.ID, ErrAlreadyFinished)
	}
	d := end.Sub(run.StartedAt)
	t.logger.Info("tracker: run finished",
		"run_id", run.ID, "kind", run.Kind, "status", status,
		"duration_ms", d.Milliseconds(), "errors", run.Noted())
	if t.onFinish != nil {
		t.onFinish(run.Kind, status, d)
	}
	return nil
}

// Abandoned lists open runs older than the stale window.
func (t *Tracker) Abandoned(ctx context.Context) ([]*store.Run, error) {
	runs, err := t.store.OpenRunsBefore(ctx, t.now().Add(-t.staleAfter).UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("tracker: abandoned: %w", err)
	}
	return runs, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
