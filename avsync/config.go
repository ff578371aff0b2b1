package avsync

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	fetchpkg "github.com/hazyhaar/avreports/avsync/internal/fetch"
	"github.com/hazyhaar/avreports/avsync/internal/scheduler"
)

// DefaultListingURL is the DMV collision report index.
const DefaultListingURL = "https://www.dmv.ca.gov/portal/vehicle-industry-services/autonomous-vehicles/autonomous-vehicle-collision-reports/"

// Config configures the service. Load it with LoadConfig; zero values are
// filled by defaults.
type Config struct {
	LogLevel  string           `yaml:"log_level"`
	Storage   StorageConfig    `yaml:"storage"`
	Fetch     fetchpkg.Config  `yaml:"fetch"`
	Listing   ListingConfig    `yaml:"listing"`
	Sync      SyncConfig       `yaml:"sync"`
	Run       RunConfig        `yaml:"run"`
	Parse     ParseConfig      `yaml:"parse"`
	API       APIConfig        `yaml:"api"`
	Scheduler scheduler.Config `yaml:"scheduler"`
}

// StorageConfig locates the database and the document directory.
type StorageConfig struct {
	DBPath  string `yaml:"db_path"`  // Default: data/avsync.db
	DataDir string `yaml:"data_dir"` // Default: data
}

// ListingConfig locates the report index.
type ListingConfig struct {
	URL         string `yaml:"url"`
	BlockPrefix string `yaml:"block_prefix"` // id prefix of per-year blocks. Default: "acc-"
}

// SyncConfig bounds the PDF batch.
type SyncConfig struct {
	Workers      int `yaml:"workers"`       // parallel downloads. Default: 4
	DefaultLimit int `yaml:"default_limit"` // batch size when none is given. Default: 25
	MaxLimit     int `yaml:"max_limit"`     // hard cap on batch size. Default: 200
}

// RunConfig tunes run bookkeeping.
type RunConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"` // Default: 6h
}

// ParseConfig tunes the report parser.
type ParseConfig struct {
	Timezone          string  `yaml:"timezone"`            // IANA zone of report dates. Default: America/Los_Angeles
	MinPrintableRatio float64 `yaml:"min_printable_ratio"` // Default: 0.85
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Listen       string `yaml:"listen"`         // Default: :8085
	TokenHash    string `yaml:"token_hash"`     // bcrypt hash of the bearer token; empty disables auth
	MaxBodyBytes int64  `yaml:"max_body_bytes"` // Default: 1MB
	SyncPerMin   int    `yaml:"sync_per_min"`   // sync triggers per client per minute; -1 disables. Default: 6
}

func (c *Config) defaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Storage.DBPath == "" {
		c.Storage.DBPath = "data/avsync.db"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Listing.URL == "" {
		c.Listing.URL = DefaultListingURL
	}
	if c.Listing.BlockPrefix == "" {
		c.Listing.BlockPrefix = "acc-"
	}
	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 4
	}
	if c.Sync.DefaultLimit <= 0 {
		c.Sync.DefaultLimit = 25
	}
	if c.Sync.MaxLimit <= 0 {
		c.Sync.MaxLimit = 200
	}
	if c.Run.StaleAfter <= 0 {
		c.Run.StaleAfter = 6 * time.Hour
	}
	if c.Parse.Timezone == "" {
		c.Parse.Timezone = "America/Los_Angeles"
	}
	if c.Parse.MinPrintableRatio <= 0 {
		c.Parse.MinPrintableRatio = 0.85
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8085"
	}
	if c.API.MaxBodyBytes <= 0 {
		c.API.MaxBodyBytes = 1 << 20
	}
	if c.API.SyncPerMin == 0 {
		c.API.SyncPerMin = 6
	}
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	c := &Config{
		Fetch: fetchpkg.Config{
			Timeout:    30 * time.Second,
			MaxBytes:   32 << 20,
			MaxRetries: 3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
			UserAgent:  "avreports/1.0",
		},
		Scheduler: scheduler.Config{
			SyncIndexAt: "06:00",
			PDFDelay:    10 * time.Minute,
			PDFLimit:    25,
		},
	}
	c.defaults()
	return c
}

// LoadConfig reads a YAML file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("avsync: open config: %w", err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("avsync: parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Storage.DBPath = env("AVSYNC_DB", c.Storage.DBPath)
	c.Storage.DataDir = env("AVSYNC_DATA_DIR", c.Storage.DataDir)
	c.API.Listen = env("AVSYNC_LISTEN", c.API.Listen)
	c.API.TokenHash = env("AVSYNC_TOKEN_HASH", c.API.TokenHash)
	c.LogLevel = env("LOG_LEVEL", c.LogLevel)
	c.Listing.URL = env("AVSYNC_LISTING_URL", c.Listing.URL)
}

// Validate reports the first invalid setting, wrapped in ErrInvalidInput.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Listing.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: listing.url %q must be an absolute http(s) URL", ErrInvalidInput, c.Listing.URL)
	}
	if c.Sync.Workers > 64 {
		return fmt.Errorf("%w: sync.workers %d exceeds 64", ErrInvalidInput, c.Sync.Workers)
	}
	if c.Sync.DefaultLimit > c.Sync.MaxLimit {
		return fmt.Errorf("%w: sync.default_limit %d exceeds sync.max_limit %d",
			ErrInvalidInput, c.Sync.DefaultLimit, c.Sync.MaxLimit)
	}
	if _, err := time.LoadLocation(c.Parse.Timezone); err != nil {
		return fmt.Errorf("%w: parse.timezone: %v", ErrInvalidInput, err)
	}
	if c.Parse.MinPrintableRatio > 1 {
		return fmt.Errorf("%w: parse.min_printable_ratio %.2f above 1", ErrInvalidInput, c.Parse.MinPrintableRatio)
	}
	if _, _, err := scheduler.ParseClock(orDefault(c.Scheduler.SyncIndexAt, "06:00")); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Location returns the time zone of report dates.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Parse.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseLogLevel maps debug|info|warn|error to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidInput, s)
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
