// Package reportparse turns an autonomous-vehicle collision report (DMV form
// OL 316, PDF) into structured fields.
//
// Parse never returns an error and never panics: every failure is a Result
// with Completeness "partial", a FailureClass, and whatever raw text could be
// recovered. Callers persist the Result as is and use Unusable to tell an
// incomplete report from a document that yielded no report text at all.
package reportparse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Completeness of a parse.
type Completeness string

const (
	Complete Completeness = "complete"
	Partial  Completeness = "partial"
)

// FailureClass explains a partial parse.
type FailureClass string

const (
	FailNone            FailureClass = ""
	FailUnreadable      FailureClass = "unreadable"
	FailEmptyText       FailureClass = "empty_text"
	FailScanned         FailureClass = "scanned"
	FailMissingSections FailureClass = "missing_sections"
	FailGarbled         FailureClass = "garbled"
)

// Required sections: 2 (accident information) and 5 (description).
var requiredSections = []int{2, 5}

// Result is the outcome of one parse.
type Result struct {
	Completeness Completeness
	FailureClass FailureClass
	Err          error
	RawText      string
	PageCount    int
	Fields       *Fields        // nil unless Completeness is Complete
	Sections     map[int]string // section number → body
	Quality      *Quality
}

// Unusable reports whether the document produced no report text worth
// reviewing: it could not be read, had no text layer, or is an image scan.
func (r *Result) Unusable() bool {
	switch r.FailureClass {
	case FailUnreadable, FailEmptyText, FailScanned:
		return true
	}
	return false
}

// Parser holds parse settings. The zero value is usable.
type Parser struct {
	// MinPrintableRatio below which text is considered garbled. Default 0.85.
	MinPrintableRatio float64
	// Location for incident timestamps. Default UTC.
	Location *time.Location
}

// Option configures a Parser.
type Option func(*Parser)

// WithLocation sets the time zone of report dates and times.
func WithLocation(loc *time.Location) Option { return func(p *Parser) { p.Location = loc } }

// WithMinPrintableRatio sets the garbled-text threshold.
func WithMinPrintableRatio(r float64) Option { return func(p *Parser) { p.MinPrintableRatio = r } }

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{}
	for _, o := range opts {
		o(p)
	}
	p.defaults()
	return p
}

func (p *Parser) defaults() {
	if p.MinPrintableRatio <= 0 {
		p.MinPrintableRatio = 0.85
	}
	if p.Location == nil {
		p.Location = time.UTC
	}
}

// Parse extracts and maps a PDF document.
func (p *Parser) Parse(ctx context.Context, data []byte) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = partial(FailUnreadable, fmt.Errorf("reportparse: panic: %v", r), "")
		}
	}()
	if err := ctx.Err(); err != nil {
		return partial(FailUnreadable, err, "")
	}
	if !hasPDFMagic(data) {
		return partial(FailUnreadable, errors.New("reportparse: not a PDF (missing %PDF- header)"), "")
	}

	ext, err := extractPDF(data)
	if err != nil {
		return partial(FailUnreadable, err, "")
	}
	text := ext.Text()
	q := newQuality(text, ext.PageCount, ext.HasImages)
	var r Result
	switch {
	case q.HasImageStreams && q.NeedsOCR():
		r = partial(FailScanned, fmt.Errorf("reportparse: image scan, %.0f chars per page", q.CharsPerPage), text)
	case strings.TrimSpace(text) == "":
		r = partial(FailEmptyText, errors.New("reportparse: no text content"), "")
	case q.PrintableRatio < p.MinPrintableRatio:
		r = partial(FailGarbled, fmt.Errorf("reportparse: printable ratio %.2f below %.2f", q.PrintableRatio, p.MinPrintableRatio), text)
	case q.WordlikeRatio < minWordlikeRatio:
		r = partial(FailGarbled, fmt.Errorf("reportparse: wordlike ratio %.2f below %.2f", q.WordlikeRatio, minWordlikeRatio), text)
	}
	if r.Completeness != "" {
		r.PageCount = ext.PageCount
		r.Quality = q
		return r
	}

	r = p.ParseText(text)
	r.PageCount = ext.PageCount
	r.Quality = q
	return r
}

// ParseText maps already-extracted report text.
func (p *Parser) ParseText(text string) Result {
	p.defaults()
	text = norm.NFKC.String(strings.ReplaceAll(text, "\r\n", "\n"))
	if strings.TrimSpace(text) == "" {
		return partial(FailEmptyText, errors.New("reportparse: no text content"), text)
	}

	sections := splitSections(text)
	var missing []string
	for _, n := range requiredSections {
		if strings.TrimSpace(sections[n]) == "" {
			missing = append(missing, fmt.Sprint(n))
		}
	}
	if len(missing) > 0 {
		return Result{
			Completeness: Partial,
			FailureClass: FailMissingSections,
			Err:          fmt.Errorf("reportparse: missing sections %s", strings.Join(missing, ", ")),
			RawText:      text,
			Sections:     sections,
		}
	}

	return Result{
		Completeness: Complete,
		RawText:      text,
		Sections:     sections,
		Fields:       mapFields(sections, p.Location),
	}
}

// Parse runs a default Parser.
func Parse(ctx context.Context, data []byte) Result {
	return New().Parse(ctx, data)
}

// ParseText runs a default Parser on extracted text.
func ParseText(text string) Result {
	return New().ParseText(text)
}

func partial(class FailureClass, err error, raw string) Result {
	return Result{Completeness: Partial, FailureClass: class, Err: err, RawText: raw}
}

// hasPDFMagic looks for the %PDF- header within the first KiB, as readers do.
func hasPDFMagic(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}
