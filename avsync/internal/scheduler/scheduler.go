// Package scheduler triggers the daily sync: index at a fixed local time,
// then a PDF batch after a short delay.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Config configures the daily trigger.
type Config struct {
	Enabled bool `yaml:"enabled"`
	// SyncIndexAt is the local "HH:MM" of the index sync. Default "06:00".
	SyncIndexAt string `yaml:"sync_index_at"`
	// PDFDelay separates the index sync from the PDF sync. Default 10m.
	PDFDelay time.Duration `yaml:"pdf_delay"`
	// PDFLimit is the batch size of the scheduled PDF sync. Default 25.
	PDFLimit int `yaml:"pdf_limit"`
}

func (c *Config) defaults() {
	if c.SyncIndexAt == "" {
		c.SyncIndexAt = "06:00"
	}
	if c.PDFDelay <= 0 {
		c.PDFDelay = 10 * time.Minute
	}
	if c.PDFLimit <= 0 {
		c.PDFLimit = 25
	}
}

// IndexFunc runs one index sync.
type IndexFunc func(ctx context.Context) error

// PDFFunc runs one PDF sync of at most limit entries.
type PDFFunc func(ctx context.Context, limit int) error

// Scheduler calls the two sync operations once a day.
type Scheduler struct {
	config    Config
	hour, min int
	syncIndex IndexFunc
	syncPDFs  PDFFunc
	logger    *slog.Logger
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithTimer overrides time.After.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) { s.after = after }
}

// New creates a Scheduler. It fails on a malformed SyncIndexAt.
func New(cfg Config, syncIndex IndexFunc, syncPDFs PDFFunc, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	cfg.defaults()
	h, m, err := ParseClock(cfg.SyncIndexAt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		config:    cfg,
		hour:      h,
		min:       m,
		syncIndex: syncIndex,
		syncPDFs:  syncPDFs,
		logger:    logger,
		now:       time.Now,
		after:     time.After,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// ParseClock parses "HH:MM" (24h).
func ParseClock(v string) (hour, minute int, err error) {
	hs, ms, ok := strings.Cut(strings.TrimSpace(v), ":")
	if ok {
		hour, err = strconv.Atoi(hs)
		if err == nil {
			minute, err = strconv.Atoi(ms)
		}
	}
	if !ok || err != nil || len(ms) != 2 || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("scheduler: invalid time of day %q (want HH:MM)", v)
	}
	return hour, minute, nil
}

// Next returns the first occurrence of the configured time strictly after now,
// in now's location.
func (s *Scheduler) Next(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.min, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Run blocks until ctx is cancelled, running one cycle per day.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.Next(s.now())
		s.logger.Info("scheduler: next index sync", "at", next.Format(time.RFC3339))
		if !s.wait(ctx, next.Sub(s.now())) {
			return
		}
		s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
	}
}

// cycle runs the index sync, waits PDFDelay, then runs the PDF sync. Errors
// are logged; the next cycle runs regardless.
func (s *Scheduler) cycle(ctx context.Context) {
	start := s.now()
	if err := s.syncIndex(ctx); err != nil {
		s.logger.Warn("scheduler: index sync", "error", err)
	}
	if !s.wait(ctx, s.config.PDFDelay-s.now().Sub(start)) {
		return
	}
	if err := s.syncPDFs(ctx, s.config.PDFLimit); err != nil {
		s.logger.Warn("scheduler: pdf sync", "limit", s.config.PDFLimit, "error", err)
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.after(d):
		return true
	}
}
