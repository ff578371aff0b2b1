package store

// Index entry statuses.
const (
	StatusPending = "pending"
	StatusFetched = "fetched"
	StatusParsed  = "parsed"
	StatusFailed  = "failed"
)

// Run kinds and statuses.
const (
	KindIndexSync = "index-sync"
	KindPDFSync   = "pdf-sync"

	RunRunning = "running"
	RunSuccess = "success"
	RunPartial = "partial"
	RunFailed  = "failed"
)

// IndexEntry is one report discovered on the listing page.
type IndexEntry struct {
	EntryKey     string  `json:"entry_key"`
	Manufacturer string  `json:"manufacturer"`
	ReportYear   int     `json:"report_year"`
	SourceID     string  `json:"source_id"`
	SourceURL    string  `json:"source_url"`
	DisplayText  string  `json:"display_text"`
	SequenceNum  int     `json:"sequence_num"`
	IncidentDate *string `json:"incident_date,omitempty"` // YYYY-MM-DD
	FirstSeenAt  int64   `json:"first_seen_at"`
	LastSeenAt   int64   `json:"last_seen_at"`
	Status       string  `json:"status"`
	Fingerprint  *string `json:"fingerprint,omitempty"`
	Attempts     int     `json:"attempts"`
	LastError    string  `json:"last_error"`
	UpdatedAt    int64   `json:"updated_at"`
}

// Document is one stored report file, keyed by the SHA-256 of its bytes.
type Document struct {
	Fingerprint  string  `json:"fingerprint"`
	SizeBytes    int64   `json:"size_bytes"`
	StoragePath  string  `json:"storage_path"`
	ContentType  string  `json:"content_type"`
	PageCount    *int    `json:"page_count,omitempty"`
	QualityJSON  *string `json:"quality_json,omitempty"` // extraction metrics, see reportparse.Quality
	DownloadedAt int64   `json:"downloaded_at"`
}

// Accident is the structured record derived from one entry's document.
type Accident struct {
	EntryKey          string   `json:"entry_key"`
	Fingerprint       string   `json:"fingerprint"`
	Manufacturer      string   `json:"manufacturer"`
	VehicleYear       *int     `json:"vehicle_year,omitempty"`
	VehicleMake       string   `json:"vehicle_make"`
	VehicleModel      string   `json:"vehicle_model"`
	IncidentAt        *int64   `json:"incident_at,omitempty"`
	LocationAddress   string   `json:"location_address"`
	City              string   `json:"city"`
	County            string   `json:"county"`
	IntersectionType  string   `json:"intersection_type"`
	DamageSeverity    string   `json:"damage_severity"`
	DamageAreas       []string `json:"damage_areas"`
	Casualties        *int     `json:"casualties,omitempty"`
	AVMode            string   `json:"av_mode"`
	Weather           string   `json:"weather"`
	Narrative         string   `json:"narrative"`
	RawText           string   `json:"raw_text,omitempty"`
	SectionsJSON      *string  `json:"sections_json,omitempty"`
	Completeness      string   `json:"completeness"`
	FailureClass      *string  `json:"failure_class,omitempty"`
	ParseError        string   `json:"parse_error"`
	VocabularyVersion string   `json:"vocabulary_version"`
	ParsedAt          int64    `json:"parsed_at"`
}

// Counts are the per-run counters.
type Counts struct {
	Seen    int `json:"seen"`
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Fetched int `json:"fetched"`
	Parsed  int `json:"parsed"`
	Partial int `json:"partial"`
	Failed  int `json:"failed"`
}

// Run is one row of the runs audit trail.
type Run struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	StartedAt int64  `json:"started_at"`
	EndedAt   *int64 `json:"ended_at,omitempty"`
	Counts
	Status       string `json:"status"`
	ErrorSummary string `json:"error_summary"`
}

// EntryCounts holds index entry counts per status.
type EntryCounts struct {
	Pending int `json:"pending"`
	Fetched int `json:"fetched"`
	Parsed  int `json:"parsed"`
	Failed  int `json:"failed"`
}

// Summary holds aggregate counters for the whole database.
type Summary struct {
	Entries   EntryCounts `json:"entries"`
	Accidents int         `json:"accidents"`
	Documents int         `json:"documents"`
}

// LatestItem pairs an entry with its accident record, if any.
type LatestItem struct {
	Entry    *IndexEntry `json:"entry"`
	Accident *Accident   `json:"accident,omitempty"`
}
