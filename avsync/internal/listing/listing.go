// Package listing parses the public collision-report listing page into index
// entries.
//
// The page groups report links into one block per reporting year,
// <div id="acc-2025">, <div id="acc-2024">, and so on. Blocks are discovered
// by id prefix, so a new year needs no code change. Each link becomes an
// Entry or, when it lacks the fields that make up the natural key, a RowError.
// Links whose text carries no report date are accepted only when they point
// at a file download; anything else in a block is a RowError.
package listing

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// DefaultBlockPrefix is the id prefix of per-year blocks.
const DefaultBlockPrefix = "acc-"

// ErrNoBlocks is returned when the page contains no year block at all,
// which means the page layout changed.
var ErrNoBlocks = errors.New("listing: no report blocks found")

// Entry is one report link.
type Entry struct {
	Key          string
	Manufacturer string
	Year         int
	SourceID     string
	URL          string
	DisplayText  string
	Sequence     int
	IncidentDate string // YYYY-MM-DD or ""
}

// RowError describes a link that could not become an Entry.
type RowError struct {
	Year   int
	Text   string
	Href   string
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("listing: %d %q (%s): %s", e.Year, e.Text, e.Href, e.Reason)
}

// Result is the outcome of Parse.
type Result struct {
	Entries    []Entry
	Errors     []*RowError
	Years      []int
	Duplicates int
}

// Parse reads the listing HTML. Relative links resolve against base.
// blockPrefix defaults to DefaultBlockPrefix. Entries are de-duplicated by
// natural key, first occurrence wins.
func Parse(r io.Reader, base, blockPrefix string) (*Result, error) {
	if blockPrefix == "" {
		blockPrefix = DefaultBlockPrefix
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("listing: base url: %w", err)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("listing: parse html: %w", err)
	}

	res := &Result{}
	seen := make(map[string]struct{})
	walk(doc, func(n *html.Node) bool {
		year, ok := blockYear(n, blockPrefix)
		if !ok {
			return true
		}
		res.Years = append(res.Years, year)
		walk(n, func(a *html.Node) bool {
			if a.Type != html.ElementNode || a.Data != "a" {
				return true
			}
			e, rerr := entryFromAnchor(a, year, baseURL)
			if rerr != nil {
				res.Errors = append(res.Errors, rerr)
				return false
			}
			if _, dup := seen[e.Key]; dup {
				res.Duplicates++
				return false
			}
			seen[e.Key] = struct{}{}
			res.Entries = append(res.Entries, *e)
			return false
		})
		return false
	})
	if len(res.Years) == 0 {
		return nil, ErrNoBlocks
	}
	return res, nil
}

func entryFromAnchor(a *html.Node, year int, base *url.URL) (*Entry, *RowError) {
	text := textOf(a)
	href, hasHref := attr(a, "href")
	href = strings.TrimSpace(href)
	anchor := ParseAnchor(text)
	rowErr := func(reason string) *RowError {
		return &RowError{Year: year, Text: anchor.Display, Href: href, Reason: reason}
	}

	if !hasHref || href == "" || strings.HasPrefix(href, "#") {
		return nil, rowErr("missing href")
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, rowErr("invalid href")
	}
	abs := base.ResolveReference(ref)
	abs.Fragment = ""
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, rowErr("not an http link")
	}
	sourceID := lastSegment(abs.Path)
	if sourceID == "" {
		return nil, rowErr("no source id in url")
	}

	mfg := anchor.Manufacturer
	if mfg == "" {
		// Undated text is only trusted on a document link.
		if !isDocumentURL(abs) {
			return nil, rowErr("not a report link")
		}
		mfg = ManufacturerFromSourceID(sourceID)
	}
	if mfg == "" {
		return nil, rowErr("no manufacturer")
	}

	e := &Entry{
		Key:          Key(mfg, year, sourceID),
		Manufacturer: mfg,
		Year:         year,
		SourceID:     sourceID,
		URL:          abs.String(),
		DisplayText:  anchor.Display,
		Sequence:     anchor.Sequence,
	}
	if anchor.Date != nil {
		e.IncidentDate = anchor.Date.Format("2006-01-02")
	}
	return e, nil
}

// blockYear reports whether n is a year block and returns its year.
func blockYear(n *html.Node, prefix string) (int, bool) {
	if n.Type != html.ElementNode || n.Data != "div" {
		return 0, false
	}
	id, ok := attr(n, "id")
	if !ok || !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	suffix := id[len(prefix):]
	if len(suffix) != 4 {
		return 0, false
	}
	year, err := strconv.Atoi(suffix)
	if err != nil || year < 1990 || year > 2999 {
		return 0, false
	}
	return year, true
}

// isDocumentURL reports whether u points at a file download rather than a
// portal page.
func isDocumentURL(u *url.URL) bool {
	p := strings.ToLower(u.Path)
	return strings.Contains(p, "/file/") || strings.HasSuffix(p, ".pdf")
}

func lastSegment(p string) string {
	parts := strings.Split(p, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(parts[i]); s != "" {
			if u, err := url.PathUnescape(s); err == nil {
				return u
			}
			return s
		}
	}
	return ""
}

// walk visits n and its descendants depth first; visit returns false to skip
// a node's children.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return b.String()
}
