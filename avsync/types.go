// Package avsync ingests autonomous-vehicle collision reports published by
// the California DMV.
//
// SyncIndex scrapes the listing page into index entries; SyncPDFs downloads
// pending reports, stores them by content fingerprint and parses them into
// accident records. Both are bracketed by a row in the runs table. State
// lives in one SQLite database plus a content-addressed document directory.
package avsync

import (
	"github.com/hazyhaar/avreports/avsync/internal/store"
)

// Re-export store types for the public API.
type (
	IndexEntry  = store.IndexEntry
	Document    = store.Document
	Accident    = store.Accident
	Run         = store.Run
	Counts      = store.Counts
	Summary     = store.Summary
	EntryCounts = store.EntryCounts
	LatestItem  = store.LatestItem
)

// Entry statuses, run kinds and run statuses.
const (
	StatusPending = store.StatusPending
	StatusFetched = store.StatusFetched
	StatusParsed  = store.StatusParsed
	StatusFailed  = store.StatusFailed

	KindIndexSync = store.KindIndexSync
	KindPDFSync   = store.KindPDFSync

	RunRunning = store.RunRunning
	RunSuccess = store.RunSuccess
	RunPartial = store.RunPartial
	RunFailed  = store.RunFailed
)

// IndexResult is the outcome of SyncIndex.
type IndexResult struct {
	RunID   string `json:"run_id"`
	Seen    int    `json:"seen"`
	New     int    `json:"new"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Status  string `json:"status"`
}

// PDFResult is the outcome of SyncPDFs. Attempted = Parsed + Partial + Failed.
type PDFResult struct {
	RunID     string `json:"run_id"`
	Attempted int    `json:"attempted"`
	Fetched   int    `json:"fetched"`
	Parsed    int    `json:"parsed"`
	Partial   int    `json:"partial"`
	Failed    int    `json:"failed"`
	Status    string `json:"status"`
}
