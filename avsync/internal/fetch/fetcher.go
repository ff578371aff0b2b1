// Package fetch retrieves listing pages and report documents over HTTP with a
// per-attempt timeout, bounded bodies, SSRF checks on every hop, and
// exponential-backoff retries for temporary failures.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/avreports/horosafe"
)

var errInvalidURL = errors.New("fetch: invalid URL")

// Config configures the fetcher.
type Config struct {
	Timeout      time.Duration `yaml:"timeout"`       // per attempt. Default: 30s.
	MaxBytes     int64         `yaml:"max_bytes"`     // body cap. Default: 32MB.
	MaxRetries   int           `yaml:"max_retries"`   // retries after the first attempt; -1 disables. Default: 3.
	Backoff      time.Duration `yaml:"backoff"`       // first wait, doubled per retry. Default: 1s.
	MaxBackoff   time.Duration `yaml:"max_backoff"`   // Default: 30s.
	UserAgent    string        `yaml:"user_agent"`    // Default: "avreports/1.0".
	AllowPrivate bool          `yaml:"allow_private"` // accept loopback/private targets.
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 32 << 20
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "avreports/1.0"
	}
}

// Result contains the outcome of a successful fetch.
type Result struct {
	URL         string
	Body        []byte
	StatusCode  int
	ContentType string
	Attempts    int
}

// Attempt describes one HTTP attempt, reported to the observer.
type Attempt struct {
	URL      string
	Number   int
	Duration time.Duration
	Class    ErrorClass // ClassNone on success
}

// Fetcher performs GET requests with retries.
type Fetcher struct {
	client  *http.Client
	config  Config
	policy  horosafe.URLPolicy
	logger  *slog.Logger
	observe func(Attempt)
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option { return func(f *Fetcher) { f.logger = l } }

// WithObserver registers a callback invoked after every attempt.
func WithObserver(fn func(Attempt)) Option { return func(f *Fetcher) { f.observe = fn } }

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.client.Transport = rt }
}

// WithSleep replaces the backoff wait (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = fn }
}

// New creates a Fetcher. Redirects are re-validated against the URL policy.
func New(cfg Config, opts ...Option) *Fetcher {
	cfg.defaults()
	f := &Fetcher{
		config: cfg,
		policy: horosafe.URLPolicy{AllowPrivate: cfg.AllowPrivate},
		logger: slog.Default(),
		sleep:  sleepCtx,
	}
	f.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (%d)", len(via))
			}
			if err := f.policy.ValidateURL(req.URL.String()); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		},
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch retrieves url. Temporary failures are retried with exponential backoff
// up to MaxRetries times; permanent failures return immediately. The returned
// error can be passed to Classify.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Result, error) {
	if err := f.policy.ValidateURL(url); err != nil {
		if !errors.Is(err, horosafe.ErrSSRF) && !errors.Is(err, horosafe.ErrUnsafeScheme) {
			err = fmt.Errorf("%w: %v", errInvalidURL, err)
		}
		return nil, fmt.Errorf("fetch: %s blocked: %w", url, err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.config.MaxRetries+1; attempt++ {
		start := time.Now()
		res, err := f.once(ctx, url)
		class := Classify(ctx, err)
		if f.observe != nil {
			f.observe(Attempt{URL: url, Number: attempt, Duration: time.Since(start), Class: class})
		}
		if err == nil {
			res.Attempts = attempt
			return res, nil
		}
		lastErr = err
		if !class.Retryable() || attempt > f.config.MaxRetries {
			break
		}

		wait := f.backoff(attempt)
		f.logger.WarnContext(ctx, "fetch: retrying",
			"url", url,
			"attempt", attempt,
			"max_retries", f.config.MaxRetries,
			"backoff_ms", wait.Milliseconds(),
			"class", string(class),
			"error", err)
		if serr := f.sleep(ctx, wait); serr != nil {
			return nil, fmt.Errorf("fetch: %s: %w", url, serr)
		}
	}
	return nil, lastErr
}

func (f *Fetcher) once(ctx context.Context, url string) (*Result, error) {
	actx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: %v", errInvalidURL, err)
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", url, err)
	}
	return &Result{
		URL:         url,
		Body:        body,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	wait := f.config.Backoff << uint(attempt-1)
	if wait <= 0 || wait > f.config.MaxBackoff {
		wait = f.config.MaxBackoff
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
