package avsync

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/avreports/avsync/internal/blob"
	"github.com/hazyhaar/avreports/avsync/internal/fetch"
	"github.com/hazyhaar/avreports/avsync/internal/metrics"
	"github.com/hazyhaar/avreports/avsync/internal/scheduler"
	"github.com/hazyhaar/avreports/avsync/internal/tracker"
	"github.com/hazyhaar/avreports/reportparse"
)

// Parser turns document bytes into a tagged parse result. It must not panic.
type Parser interface {
	Parse(ctx context.Context, data []byte) reportparse.Result
}

// Service is the ingestion orchestrator.
type Service struct {
	store   Store
	blobs   *blob.Store
	fetcher *fetch.Fetcher
	parser  Parser
	tracker *tracker.Tracker
	metrics *metrics.Metrics
	config  *Config
	logger  *slog.Logger
	now     func() time.Time

	transport http.RoundTripper
	registry  *prometheus.Registry
	fetchOpts []fetch.Option
}

// Option configures a Service during creation.
type Option func(*Service)

// WithClock overrides time.Now for timestamps and run bookkeeping.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithParser replaces the PDF report parser.
func WithParser(p Parser) Option { return func(s *Service) { s.parser = p } }

// WithHTTPTransport replaces the HTTP transport of the fetcher.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(s *Service) { s.transport = rt }
}

// WithMetricsRegistry registers the pipeline metrics on reg instead of a
// private registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(s *Service) { s.registry = reg }
}

// WithFetchSleep replaces the wait between fetch retries.
func WithFetchSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.fetchOpts = append(s.fetchOpts, fetch.WithSleep(fn)) }
}

// New creates a Service over st. Documents are written under
// cfg.Storage.DataDir.
func New(st Store, cfg *Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:  st,
		blobs:  blob.New(cfg.Storage.DataDir),
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}

	m, err := metrics.New(s.registry)
	if err != nil {
		return nil, fmt.Errorf("avsync: metrics: %w", err)
	}
	s.metrics = m

	if s.parser == nil {
		s.parser = reportparse.New(
			reportparse.WithLocation(cfg.Location()),
			reportparse.WithMinPrintableRatio(cfg.Parse.MinPrintableRatio),
		)
	}

	fopts := []fetch.Option{
		fetch.WithLogger(logger),
		fetch.WithObserver(func(a fetch.Attempt) {
			class := string(a.Class)
			if a.Class == fetch.ClassNone {
				class = "ok"
			}
			s.metrics.RecordFetch(class, a.Duration)
		}),
	}
	if s.transport != nil {
		fopts = append(fopts, fetch.WithTransport(s.transport))
	}
	s.fetcher = fetch.New(cfg.Fetch, append(fopts, s.fetchOpts...)...)

	s.tracker = tracker.New(st,
		tracker.WithStaleAfter(cfg.Run.StaleAfter),
		tracker.WithClock(func() time.Time { return s.now() }),
		tracker.WithLogger(logger),
		tracker.WithFinishHook(s.metrics.RecordRun),
	)
	return s, nil
}

// Start launches the daily scheduler when it is enabled. Non-blocking; the
// scheduler stops with ctx.
func (s *Service) Start(ctx context.Context) error {
	if !s.config.Scheduler.Enabled {
		return nil
	}
	sched, err := scheduler.New(s.config.Scheduler,
		func(ctx context.Context) error {
			_, err := s.SyncIndex(ctx)
			return err
		},
		func(ctx context.Context, limit int) error {
			_, err := s.SyncPDFs(ctx, limit)
			return err
		},
		s.logger,
	)
	if err != nil {
		return err
	}
	go sched.Run(ctx)
	s.logger.Info("avsync: scheduler started", "sync_index_at", s.config.Scheduler.SyncIndexAt)
	return nil
}

// Close releases nothing today; the caller owns the database.
func (s *Service) Close() error {
	s.logger.Info("avsync: closed")
	return nil
}

// MetricsHandler serves the pipeline metrics.
func (s *Service) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// Requeue resets entries to pending. Named keys are reset whatever their
// status; allFailed also resets every failed entry.
func (s *Service) Requeue(ctx context.Context, keys []string, allFailed bool) (int, error) {
	clean := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			return 0, fmt.Errorf("%w: empty entry key", ErrInvalidInput)
		}
		clean = append(clean, k)
	}
	if len(clean) == 0 && !allFailed {
		return 0, fmt.Errorf("%w: no entry keys and all_failed not set", ErrInvalidInput)
	}
	n, err := s.store.Requeue(ctx, clean, allFailed, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("avsync: requeue: %w", err)
	}
	s.logger.Info("avsync: requeued", "entries", n, "keys", len(clean), "all_failed", allFailed)
	return n, nil
}

// Runs returns the newest runs first. openOnly lists runs without ended_at,
// including abandoned ones.
func (s *Service) Runs(ctx context.Context, limit int, openOnly bool) ([]*Run, error) {
	return s.store.ListRuns(ctx, clampLimit(limit, 20, 200), openOnly)
}

// Abandoned lists open runs older than run.stale_after.
func (s *Service) Abandoned(ctx context.Context) ([]*Run, error) {
	return s.tracker.Abandoned(ctx)
}

// Summary returns entry counts per status and table totals.
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	return s.store.Summary(ctx)
}

// Latest returns the most recently discovered entries with their accident
// records.
func (s *Service) Latest(ctx context.Context, limit int) ([]*LatestItem, error) {
	return s.store.Latest(ctx, clampLimit(limit, 20, 200))
}

func clampLimit(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
