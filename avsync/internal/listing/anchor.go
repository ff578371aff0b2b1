package listing

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Anchor is the information carried by one listing link text, e.g.
// "Waymo August 21, 2025 (2) (PDF)".
type Anchor struct {
	Display      string // NFKC-normalized, whitespace collapsed
	Manufacturer string // empty when the text has no recognizable date
	Date         *time.Time
	Sequence     int
}

var (
	reSuffixPDF = regexp.MustCompile(`(?i)\s*\(\s*pdf\s*\)\s*$`)
	reSuffixSeq = regexp.MustCompile(`\s*\(\s*(\d+)\s*\)\s*$`)
	reDated     = regexp.MustCompile(`^(?P<mfg>.+?)\s+(?P<month>[A-Za-z]+)\.?\s+(?P<day>\d{1,2}),?\s+(?P<yr>\d{4})$`)
	reCorpTail  = regexp.MustCompile(`(?i)[,\s]+(corp\.?|corporation|inc\.?|llc|ltd\.?)$`)
)

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// Normalize applies NFKC (folding non-breaking spaces and full-width forms)
// and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
}

// ParseAnchor extracts manufacturer, incident date and sequence number from
// link text. The "(PDF)" and "(n)" suffixes are stripped before matching
// "<Manufacturer> <Month> <D>[,] <YYYY>".
func ParseAnchor(text string) Anchor {
	a := Anchor{Display: Normalize(text), Sequence: 1}

	clean := reSuffixPDF.ReplaceAllString(a.Display, "")
	if m := reSuffixSeq.FindStringSubmatch(clean); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			a.Sequence = n
		}
		clean = clean[:len(clean)-len(m[0])]
	}
	clean = reSuffixPDF.ReplaceAllString(clean, "")

	m := reDated.FindStringSubmatch(clean)
	if m == nil {
		return a
	}
	month, ok := months[strings.ToLower(m[reDated.SubexpIndex("month")])]
	if !ok {
		return a
	}
	a.Manufacturer = CanonicalManufacturer(m[reDated.SubexpIndex("mfg")])

	day, _ := strconv.Atoi(m[reDated.SubexpIndex("day")])
	yr, _ := strconv.Atoi(m[reDated.SubexpIndex("yr")])
	d := time.Date(yr, month, day, 0, 0, 0, 0, time.UTC)
	if d.Day() == day && d.Month() == month {
		a.Date = &d
	}
	return a
}

// CanonicalManufacturer trims punctuation and corporate suffixes
// ("WeRide Corp" → "WeRide").
func CanonicalManufacturer(s string) string {
	s = strings.TrimFunc(Normalize(s), func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == '-' || r == ':'
	})
	for {
		t := reCorpTail.ReplaceAllString(s, "")
		if t == s || t == "" {
			return s
		}
		s = t
	}
}

// ManufacturerFromSourceID derives a manufacturer from the leading letters of
// a URL source id ("waymo_09032025-pdf" → "Waymo"). Returns "" when the id
// does not start with a letter.
func ManufacturerFromSourceID(id string) string {
	end := strings.IndexFunc(id, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(id)
	}
	if end == 0 {
		return ""
	}
	return cases.Title(language.English).String(strings.ToLower(id[:end]))
}

// Slug lower-cases s and joins its alphanumeric runs with '-'.
func Slug(s string) string {
	s = cases.Fold().String(Normalize(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
			continue
		}
		dash = true
	}
	return b.String()
}

// Key builds the natural key of an index entry.
func Key(manufacturer string, year int, sourceID string) string {
	return Slug(manufacturer) + "|" + strconv.Itoa(year) + "|" + sourceID
}
