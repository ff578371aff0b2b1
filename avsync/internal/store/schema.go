package store

import "github.com/hazyhaar/avreports/migrate"

// Migrations is the ordered schema of the ingestion database.
var Migrations = []migrate.Migration{
	migrate.SQL("0001_index_entries", "index entries discovered on the listing page", `
CREATE TABLE IF NOT EXISTS index_entries (
    entry_key     TEXT PRIMARY KEY,
    manufacturer  TEXT NOT NULL,
    report_year   INTEGER NOT NULL,
    source_id     TEXT NOT NULL,
    source_url    TEXT NOT NULL,
    display_text  TEXT NOT NULL DEFAULT '',
    sequence_num  INTEGER NOT NULL DEFAULT 1,
    incident_date TEXT,
    first_seen_at INTEGER NOT NULL,
    last_seen_at  INTEGER NOT NULL,
    status        TEXT NOT NULL DEFAULT 'pending'
                  CHECK (status IN ('pending','fetched','parsed','failed')),
    fingerprint   TEXT,
    attempts      INTEGER NOT NULL DEFAULT 0,
    last_error    TEXT NOT NULL DEFAULT '',
    updated_at    INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_index_entries_pending ON index_entries(status, first_seen_at, entry_key)`,
		`CREATE INDEX IF NOT EXISTS idx_index_entries_first_seen ON index_entries(first_seen_at DESC)`,
	),
	migrate.SQL("0002_documents", "content-addressed documents and entry links", `
CREATE TABLE IF NOT EXISTS documents (
    fingerprint   TEXT PRIMARY KEY,
    size_bytes    INTEGER NOT NULL,
    storage_path  TEXT NOT NULL,
    content_type  TEXT NOT NULL DEFAULT '',
    page_count    INTEGER,
    quality_json  TEXT,
    downloaded_at INTEGER NOT NULL
)`, `
CREATE TABLE IF NOT EXISTS document_links (
    entry_key   TEXT PRIMARY KEY REFERENCES index_entries(entry_key),
    fingerprint TEXT NOT NULL REFERENCES documents(fingerprint)
)`,
		`CREATE INDEX IF NOT EXISTS idx_document_links_fp ON document_links(fingerprint)`,
	),
	migrate.SQL("0003_accident_records", "structured accident records", `
CREATE TABLE IF NOT EXISTS accident_records (
    entry_key          TEXT PRIMARY KEY REFERENCES index_entries(entry_key),
    fingerprint        TEXT NOT NULL,
    manufacturer       TEXT NOT NULL DEFAULT '',
    vehicle_year       INTEGER,
    vehicle_make       TEXT NOT NULL DEFAULT '',
    vehicle_model      TEXT NOT NULL DEFAULT '',
    incident_at        INTEGER,
    location_address   TEXT NOT NULL DEFAULT '',
    city               TEXT NOT NULL DEFAULT '',
    county             TEXT NOT NULL DEFAULT '',
    intersection_type  TEXT NOT NULL DEFAULT '',
    damage_severity    TEXT NOT NULL DEFAULT '',
    damage_areas       TEXT NOT NULL DEFAULT '[]',
    casualties         INTEGER,
    av_mode            TEXT NOT NULL DEFAULT '',
    weather            TEXT NOT NULL DEFAULT '',
    narrative          TEXT NOT NULL DEFAULT '',
    raw_text           TEXT NOT NULL DEFAULT '',
    sections_json      TEXT,
    completeness       TEXT NOT NULL CHECK (completeness IN ('complete','partial')),
    failure_class      TEXT,
    parse_error        TEXT NOT NULL DEFAULT '',
    vocabulary_version TEXT NOT NULL DEFAULT '',
    parsed_at          INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_accident_records_fp ON accident_records(fingerprint)`,
	),
	migrate.SQL("0004_runs", "ingestion run audit trail", `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    kind          TEXT NOT NULL CHECK (kind IN ('index-sync','pdf-sync')),
    started_at    INTEGER NOT NULL,
    ended_at      INTEGER,
    seen          INTEGER NOT NULL DEFAULT 0,
    new           INTEGER NOT NULL DEFAULT 0,
    updated       INTEGER NOT NULL DEFAULT 0,
    skipped       INTEGER NOT NULL DEFAULT 0,
    fetched       INTEGER NOT NULL DEFAULT 0,
    parsed        INTEGER NOT NULL DEFAULT 0,
    partial       INTEGER NOT NULL DEFAULT 0,
    failed        INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'running'
                  CHECK (status IN ('running','success','partial','failed')),
    error_summary TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_open ON runs(kind, ended_at)`,
	),
}
