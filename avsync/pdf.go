package avsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/avreports/avsync/internal/blob"
	"github.com/hazyhaar/avreports/avsync/internal/fetch"
	"github.com/hazyhaar/avreports/avsync/internal/store"
	"github.com/hazyhaar/avreports/avsync/internal/tracker"
	"github.com/hazyhaar/avreports/reportparse"
)

type outcome int

const (
	outcomeParsed outcome = iota
	outcomePartial
	outcomeFailed
)

// itemResult is what one worker reports for one entry.
type itemResult struct {
	outcome outcome
	fetched bool
}

// SyncPDFs processes up to limit pending entries, oldest first. Each entry is
// fetched, stored by fingerprint, parsed and recorded as an accident; its
// status ends parsed, fetched (partial parse, kept for review) or failed
// (fetch error, or a document with no usable text). An entry leaves pending
// only together with its outcome.
// Item errors never abort the batch. Cancellation stops dispatch; entries not
// started stay pending and the item in flight completes.
func (s *Service) SyncPDFs(ctx context.Context, limit int) (*PDFResult, error) {
	limit = clampLimit(limit, s.config.Sync.DefaultLimit, s.config.Sync.MaxLimit)

	run, err := s.tracker.Begin(ctx, store.KindPDFSync)
	if err != nil {
		return nil, err
	}
	res := &PDFResult{RunID: run.ID}
	log := s.logger.With("run_id", run.ID)

	entries, err := s.store.PendingEntries(ctx, limit)
	if err != nil {
		run.Note(err)
		res.Status = store.RunFailed
		if ferr := s.tracker.Finish(ctx, run, store.Counts{}, res.Status); ferr != nil {
			log.Error("avsync: finish pdf run", "error", ferr)
		}
		return res, fmt.Errorf("avsync: select pending: %w", err)
	}
	log.Info("avsync: pdf batch", "pending", len(entries), "limit", limit, "workers", s.config.Sync.Workers)

	var (
		mu sync.Mutex
		c  store.Counts
	)
	var g errgroup.Group
	g.SetLimit(s.config.Sync.Workers)
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			r := s.processEntry(context.WithoutCancel(ctx), run, e)
			mu.Lock()
			defer mu.Unlock()
			if r.fetched {
				c.Fetched++
			}
			switch r.outcome {
			case outcomeParsed:
				c.Parsed++
			case outcomePartial:
				c.Partial++
			default:
				c.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Attempted = c.Parsed + c.Partial + c.Failed
	res.Fetched, res.Parsed, res.Partial, res.Failed = c.Fetched, c.Parsed, c.Partial, c.Failed
	c.Seen = res.Attempted
	switch {
	case ctx.Err() != nil:
		run.Note(fmt.Errorf("cancelled after %d of %d entries: %w", res.Attempted, len(entries), ctx.Err()))
		res.Status = store.RunFailed
	case c.Failed+c.Partial == 0:
		res.Status = store.RunSuccess
	default:
		res.Status = store.RunPartial
	}
	if err := s.tracker.Finish(ctx, run, c, res.Status); err != nil {
		return res, err
	}
	s.metrics.AddItems(store.KindPDFSync, "parsed", c.Parsed)
	s.metrics.AddItems(store.KindPDFSync, "partial", c.Partial)
	s.metrics.AddItems(store.KindPDFSync, "failed", c.Failed)
	return res, nil
}

// processEntry runs one entry end to end. It never returns an error: every
// failure is noted on the run and written to the entry.
func (s *Service) processEntry(ctx context.Context, run *tracker.Run, e *store.IndexEntry) itemResult {
	start := s.now()
	log := s.logger.With("run_id", run.ID, "entry_key", e.EntryKey)

	fail := func(stage string, err error) itemResult {
		msg := fmt.Sprintf("%s: %s: %v", e.EntryKey, stage, err)
		run.Note(fmt.Errorf("%s", msg))
		if ferr := s.store.FinishEntry(ctx, e.EntryKey, store.StatusFailed, msg, s.now().UnixMilli()); ferr != nil {
			log.Error("avsync: mark entry failed", "error", ferr)
		}
		log.Warn("avsync: entry failed", "stage", stage, "error", err)
		return itemResult{outcome: outcomeFailed}
	}

	page, err := s.fetcher.Fetch(ctx, e.SourceURL)
	if err != nil {
		return fail("fetch ("+string(fetch.Classify(ctx, err))+")", err)
	}

	now := s.now()
	stored, err := s.blobs.Put(ctx, page.Body, blob.Metadata{
		ContentType:  page.ContentType,
		SourceURL:    e.SourceURL,
		EntryKey:     e.EntryKey,
		DownloadedAt: now,
	})
	if err != nil {
		return fail("store document", err)
	}
	created, err := s.store.LinkDocument(ctx, e.EntryKey, &store.Document{
		Fingerprint:  stored.Fingerprint,
		SizeBytes:    stored.SizeBytes,
		StoragePath:  stored.Path,
		ContentType:  page.ContentType,
		DownloadedAt: now.UnixMilli(),
	}, now.UnixMilli())
	if err != nil {
		return fail("link document", err)
	}
	s.metrics.RecordDocument(created)

	pr := s.parser.Parse(ctx, page.Body)
	if err := s.store.SetExtraction(ctx, stored.Fingerprint, pr.PageCount, qualityJSON(pr.Quality)); err != nil {
		log.Warn("avsync: set extraction", "fingerprint", stored.Fingerprint, "error", err)
	}
	acc, err := s.accidentFrom(e, stored.Fingerprint, &pr)
	if err != nil {
		r := fail("map accident", err)
		r.fetched = true
		return r
	}

	status, out, lastErr := store.StatusParsed, outcomeParsed, ""
	if pr.Completeness != reportparse.Complete {
		status, out = store.StatusFetched, outcomePartial
		if pr.Unusable() {
			status, out = store.StatusFailed, outcomeFailed
		}
		lastErr = fmt.Sprintf("parse %s: %s: %v", pr.Completeness, pr.FailureClass, pr.Err)
		run.Note(fmt.Errorf("%s: %s", e.EntryKey, lastErr))
	}
	if err := s.store.RecordOutcome(ctx, acc, status, lastErr, s.now().UnixMilli()); err != nil {
		r := fail("record outcome", err)
		r.fetched = true
		return r
	}

	log.Info("avsync: entry processed",
		"fingerprint", stored.Fingerprint,
		"created", created,
		"completeness", string(pr.Completeness),
		"failure_class", string(pr.FailureClass),
		"pages", pr.PageCount,
		"attempts", page.Attempts,
		"duration_ms", s.now().Sub(start).Milliseconds())
	return itemResult{outcome: out, fetched: true}
}

// accidentFrom maps a parse result onto the accident record of entry e.
// Partial parses keep the raw text and the failure tag.
func (s *Service) accidentFrom(e *store.IndexEntry, fingerprint string, pr *reportparse.Result) (*store.Accident, error) {
	a := &store.Accident{
		EntryKey:          e.EntryKey,
		Fingerprint:       fingerprint,
		Manufacturer:      e.Manufacturer,
		RawText:           pr.RawText,
		Completeness:      string(pr.Completeness),
		VocabularyVersion: reportparse.VocabularyVersion,
		ParsedAt:          s.now().UnixMilli(),
	}
	if pr.FailureClass != reportparse.FailNone {
		fc := string(pr.FailureClass)
		a.FailureClass = &fc
	}
	if pr.Err != nil {
		a.ParseError = pr.Err.Error()
	}

	if f := pr.Fields; f != nil {
		a.VehicleYear = f.VehicleYear
		a.VehicleMake = f.VehicleMake
		a.VehicleModel = f.VehicleModel
		a.LocationAddress = f.Address
		a.City = f.City
		a.County = f.County
		a.IntersectionType = f.Intersection
		a.DamageSeverity = f.Severity
		a.DamageAreas = f.DamageAreas
		a.Casualties = f.Casualties
		a.AVMode = f.AVMode
		a.Weather = f.Weather
		a.Narrative = f.Narrative
		if f.IncidentAt != nil {
			ms := f.IncidentAt.UnixMilli()
			a.IncidentAt = &ms
		}
	}
	if a.IncidentAt == nil && e.IncidentDate != nil {
		if d, err := time.ParseInLocation("2006-01-02", *e.IncidentDate, s.config.Location()); err == nil {
			ms := d.UnixMilli()
			a.IncidentAt = &ms
		}
	}
	if pr.Completeness == reportparse.Complete && pr.Sections != nil {
		raw, err := json.Marshal(pr.Sections)
		if err != nil {
			return nil, fmt.Errorf("marshal sections: %w", err)
		}
		sj := string(raw)
		a.SectionsJSON = &sj
	}
	return a, nil
}

func qualityJSON(q *reportparse.Quality) string {
	if q == nil {
		return ""
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(raw)
}
