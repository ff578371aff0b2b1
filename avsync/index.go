package avsync

import (
	"bytes"
	"context"
	"fmt"

	"github.com/hazyhaar/avreports/avsync/internal/listing"
	"github.com/hazyhaar/avreports/avsync/internal/store"
	"github.com/hazyhaar/avreports/avsync/internal/tracker"
)

// SyncIndex fetches the listing page and upserts every report link as an
// index entry. New entries start pending; known entries only get last_seen_at
// and their descriptive fields refreshed. Malformed links and per-entry
// storage errors are skipped and make the run partial. An unreachable or
// unrecognizable listing fails the run with *SourceUnavailableError.
func (s *Service) SyncIndex(ctx context.Context) (*IndexResult, error) {
	run, err := s.tracker.Begin(ctx, store.KindIndexSync)
	if err != nil {
		return nil, err
	}
	res := &IndexResult{RunID: run.ID}
	var c store.Counts
	log := s.logger.With("run_id", run.ID)

	src := s.config.Listing.URL
	page, err := s.fetcher.Fetch(ctx, src)
	if err == nil {
		var parsed *listing.Result
		parsed, err = listing.Parse(bytes.NewReader(page.Body), src, s.config.Listing.BlockPrefix)
		if err == nil {
			s.applyListing(ctx, run, parsed, &c)
		}
	}
	if err != nil {
		run.Note(err)
		res.Status = store.RunFailed
		if ferr := s.tracker.Finish(ctx, run, c, res.Status); ferr != nil {
			log.Error("avsync: finish index run", "error", ferr)
		}
		log.Warn("avsync: listing unavailable", "url", src, "error", err)
		return res, &SourceUnavailableError{URL: src, RunID: run.ID, Err: err}
	}

	res.Seen, res.New, res.Updated, res.Skipped = c.Seen, c.New, c.Updated, c.Skipped
	res.Status = store.RunSuccess
	if c.Skipped > 0 {
		res.Status = store.RunPartial
	}
	if ctx.Err() != nil {
		run.Note(ctx.Err())
		res.Status = store.RunFailed
	}
	if err := s.tracker.Finish(ctx, run, c, res.Status); err != nil {
		return res, err
	}
	s.metrics.AddItems(store.KindIndexSync, "new", c.New)
	s.metrics.AddItems(store.KindIndexSync, "updated", c.Updated)
	s.metrics.AddItems(store.KindIndexSync, "skipped", c.Skipped)
	return res, nil
}

// applyListing upserts parsed entries and counts row errors as skipped.
func (s *Service) applyListing(ctx context.Context, run *tracker.Run, parsed *listing.Result, c *store.Counts) {
	for _, re := range parsed.Errors {
		run.Note(re)
		c.Skipped++
	}
	c.Seen = len(parsed.Entries)

	for i := range parsed.Entries {
		if ctx.Err() != nil {
			c.Skipped += len(parsed.Entries) - i
			return
		}
		e := &parsed.Entries[i]
		entry := &store.IndexEntry{
			EntryKey:     e.Key,
			Manufacturer: e.Manufacturer,
			ReportYear:   e.Year,
			SourceID:     e.SourceID,
			SourceURL:    e.URL,
			DisplayText:  e.DisplayText,
			SequenceNum:  e.Sequence,
		}
		if e.IncidentDate != "" {
			d := e.IncidentDate
			entry.IncidentDate = &d
		}
		isNew, err := s.store.UpsertIndexEntry(ctx, entry, s.now().UnixMilli())
		if err != nil {
			run.Note(fmt.Errorf("%s: %w", e.Key, err))
			c.Skipped++
			continue
		}
		if isNew {
			c.New++
		} else {
			c.Updated++
		}
	}
	s.logger.Info("avsync: listing applied",
		"run_id", run.ID,
		"years", len(parsed.Years),
		"seen", c.Seen, "new", c.New, "updated", c.Updated,
		"skipped", c.Skipped, "duplicates", parsed.Duplicates)
}
