package avsync

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "avsync.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listing.URL != DefaultListingURL || cfg.Sync.Workers != 4 || cfg.Sync.DefaultLimit != 25 {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Run.StaleAfter != 6*time.Hour || cfg.Fetch.MaxRetries != 3 {
		t.Fatalf("stale_after = %v max_retries = %d", cfg.Run.StaleAfter, cfg.Fetch.MaxRetries)
	}
	if cfg.Location().String() != "America/Los_Angeles" {
		t.Fatalf("location = %s", cfg.Location())
	}
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	// WHAT: File values override defaults and environment overrides the file.
	// WHY: Deployments keep one file and vary paths and secrets per host.
	path := writeConfig(t, `
log_level: debug
storage:
  db_path: /var/lib/avsync/a.db
sync:
  workers: 8
  default_limit: 10
run:
  stale_after: 2h
fetch:
  backoff: 500ms
scheduler:
  enabled: true
  sync_index_at: "05:30"
`)
	t.Setenv("AVSYNC_DB", "/tmp/override.db")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.DBPath != "/tmp/override.db" {
		t.Errorf("db_path = %q, want env override", cfg.Storage.DBPath)
	}
	if cfg.Sync.Workers != 8 || cfg.Sync.DefaultLimit != 10 || cfg.Sync.MaxLimit != 200 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Run.StaleAfter != 2*time.Hour || cfg.Fetch.Backoff != 500*time.Millisecond {
		t.Errorf("durations = %v / %v", cfg.Run.StaleAfter, cfg.Fetch.Backoff)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.SyncIndexAt != "05:30" {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	path := writeConfig(t, "sync:\n  wokers: 8\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadConfig_Empty(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "")); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"relative url", func(c *Config) { c.Listing.URL = "/reports" }},
		{"ftp url", func(c *Config) { c.Listing.URL = "ftp://dmv.ca.gov/" }},
		{"too many workers", func(c *Config) { c.Sync.Workers = 65 }},
		{"default above max", func(c *Config) { c.Sync.DefaultLimit = 300 }},
		{"bad timezone", func(c *Config) { c.Parse.Timezone = "Mars/Olympus" }},
		{"ratio above one", func(c *Config) { c.Parse.MinPrintableRatio = 1.5 }},
		{"bad clock", func(c *Config) { c.Scheduler.SyncIndexAt = "25:00" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, s := range []string{"debug", "INFO", "warn", "warning", "error", ""} {
		if _, err := ParseLogLevel(s); err != nil {
			t.Errorf("ParseLogLevel(%q): %v", s, err)
		}
	}
}
