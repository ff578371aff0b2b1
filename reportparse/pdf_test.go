package reportparse

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestTextFromContentStream(t *testing.T) {
	// WHAT: Text operators decode into lines the field mapper can split on.
	// WHY: Labels and values are often placed by separate moves or blocks.
	tests := []struct {
		name   string
		stream string
		want   string
	}{
		{"single Tj", "BT /F1 12 Tf 72 720 Td (Hello) Tj ET", "Hello"},
		{
			"Td moves",
			"BT 72 720 Td (Date of Accident:) Tj 150 0 Td (03/14/2024) Tj 0 -14 Td (City:) Tj ET",
			"Date of Accident: 03/14/2024\nCity:",
		},
		{
			"Tm blocks on one baseline",
			"BT 1 0 0 1 72 700 Tm (Weather:) Tj ET BT 1 0 0 1 200 700 Tm (Clear) Tj ET BT 1 0 0 1 72 680 Tm (Next) Tj ET",
			"Weather: Clear\nNext",
		},
		{"TJ kerning", "BT [(Hel) -20 (lo) -400 (World)] TJ ET", "Hello World"},
		{"escapes", `BT (a \(b\) c\\d \101) Tj ET`, `a (b) c\d A`},
		{"nested parens", "BT (x (y) z) Tj ET", "x (y) z"},
		{"hex string", "BT <48656C6C6F> Tj ET", "Hello"},
		{"utf16 hex", "BT <FEFF00E9> Tj ET", "é"},
		{"T* and quote", "BT (one) Tj T* (two) Tj (three) ' ET", "one\ntwo\nthree"},
		{"comment", "% header\nBT (x) Tj ET", "x"},
		{"inline image", "BI /W 1 /H 1 ID \x00\xff(junk EI BT (after) Tj ET", "after"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := textFromContentStream([]byte(tt.stream)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_NotPDF(t *testing.T) {
	// WHAT: Bytes without a %PDF- header are unreadable, not a panic.
	// WHY: Servers return HTML error pages with a 200 status.
	res := Parse(context.Background(), []byte("<html>Service Unavailable</html>"))
	if res.Completeness != Partial || res.FailureClass != FailUnreadable {
		t.Fatalf("got %s/%s, want partial/unreadable", res.Completeness, res.FailureClass)
	}
	if !res.Unusable() {
		t.Fatal("unreadable document must be unusable")
	}
	if res.Err == nil {
		t.Fatal("expected Err")
	}
}

func TestParse_CorruptPDF(t *testing.T) {
	// WHAT: A PDF header followed by junk is unreadable.
	// WHY: Truncated downloads must become a partial record tagged unreadable, not an error.
	res := Parse(context.Background(), []byte("%PDF-1.4\nthis is not a pdf body\n%%EOF\n"))
	if res.Completeness != Partial || res.FailureClass != FailUnreadable {
		t.Fatalf("got %s/%s, want partial/unreadable", res.Completeness, res.FailureClass)
	}
}

func TestParse_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := Parse(ctx, buildReportPDF([]string{"SECTION 2", "City: Mountain View"}))
	if res.Completeness != Partial || res.FailureClass != FailUnreadable {
		t.Fatalf("got %s/%s, want partial/unreadable", res.Completeness, res.FailureClass)
	}
}

func TestParse_RealPDF(t *testing.T) {
	// WHAT: A hand-built OL 316 style PDF maps to a complete record.
	// WHY: End-to-end check of pdfcpu extraction plus field mapping.
	raw := buildReportPDF([]string{
		"SECTION 2 - ACCIDENT INFORMATION",
		"Date of Accident: 03/14/2024",
		"City: Mountain View",
		"SECTION 5 - DESCRIPTION",
		"The AV was rear-ended while stopped.",
	})
	res := Parse(context.Background(), raw)
	if res.FailureClass == FailUnreadable {
		t.Logf("err: %v", res.Err)
		t.Skip("pdfcpu could not read the minimal PDF")
	}
	if res.PageCount != 1 {
		t.Errorf("page count = %d, want 1", res.PageCount)
	}
	if res.Quality == nil || res.Quality.HasImageStreams || res.Quality.WordlikeRatio < 0.5 {
		t.Fatalf("quality = %+v", res.Quality)
	}
	if res.Completeness != Complete {
		t.Fatalf("completeness = %s (%s), raw %q", res.Completeness, res.FailureClass, res.RawText)
	}
	if res.Fields.City != "Mountain View" || res.Fields.IncidentDate != "2024-03-14" {
		t.Errorf("fields = %+v", res.Fields)
	}
}

func TestParse_GarbledPDF(t *testing.T) {
	// WHAT: Text made of control bytes is kept but tagged garbled.
	// WHY: Custom font encodings produce unreadable glyph soup.
	junk := strings.Repeat(`\001\002\003\004`, 40)
	res := Parse(context.Background(), buildReportPDF([]string{junk}))
	if res.FailureClass == FailUnreadable {
		t.Skip("pdfcpu could not read the minimal PDF")
	}
	if res.Completeness != Partial || res.FailureClass != FailGarbled {
		t.Fatalf("got %s/%s, want partial/garbled", res.Completeness, res.FailureClass)
	}
	if res.RawText == "" {
		t.Fatal("raw text must be kept")
	}
}

func TestParse_LetterSoup(t *testing.T) {
	// WHAT: Text that is all one-letter tokens is tagged garbled.
	// WHY: Glyph-by-glyph placement yields printable text no field rule can match.
	res := Parse(context.Background(), buildReportPDF(strings.Split("SECTIONTWODATEOFACCIDENT", "")))
	if res.FailureClass == FailUnreadable {
		t.Skip("pdfcpu could not read the minimal PDF")
	}
	if res.Completeness != Partial || res.FailureClass != FailGarbled || res.Unusable() {
		t.Fatalf("got %s/%s, want partial/garbled", res.Completeness, res.FailureClass)
	}
}

func TestParse_ImageScan(t *testing.T) {
	// WHAT: A page that only paints an image is tagged scanned and unusable.
	// WHY: Scans need OCR; they must not sit in review as a partial text parse.
	res := Parse(context.Background(), buildScannedPDF())
	if res.FailureClass == FailUnreadable {
		t.Logf("err: %v", res.Err)
		t.Skip("pdfcpu could not read the minimal PDF")
	}
	if res.Completeness != Partial || res.FailureClass != FailScanned {
		t.Fatalf("got %s/%s, want partial/scanned", res.Completeness, res.FailureClass)
	}
	if !res.Unusable() || res.Quality == nil || !res.Quality.NeedsOCR() || res.PageCount != 1 {
		t.Fatalf("result = %+v quality = %+v", res, res.Quality)
	}
}

func TestQuality_NeedsOCR(t *testing.T) {
	tests := []struct {
		name string
		q    Quality
		want bool
	}{
		{"text layer", Quality{CharsPerPage: 900, PrintableRatio: 1, HasImageStreams: true}, false},
		{"thin text over image", Quality{CharsPerPage: 12, PrintableRatio: 1, HasImageStreams: true}, true},
		{"thin text no image", Quality{CharsPerPage: 12, PrintableRatio: 1}, false},
		{"garbage glyphs", Quality{CharsPerPage: 900, PrintableRatio: 0.4}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.NeedsOCR(); got != tt.want {
				t.Errorf("NeedsOCR = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWordlikeRatio(t *testing.T) {
	if r := wordlikeRatio("Date of Accident"); r != 1.0 {
		t.Errorf("ratio = %v, want 1", r)
	}
	if r := wordlikeRatio("a b c d"); r != 0 {
		t.Errorf("soup ratio = %v, want 0", r)
	}
}

func TestPrintableRatio(t *testing.T) {
	if r := printableRatio("ab\uFFFD\uFFFD"); r != 0.5 {
		t.Errorf("ratio = %v, want 0.5", r)
	}
	if r := printableRatio(""); r != 1.0 {
		t.Errorf("empty ratio = %v, want 1", r)
	}
	if r := printableRatio("line one\nline two\t!"); r != 1.0 {
		t.Errorf("whitespace ratio = %v, want 1", r)
	}
}

// --- PDF test helpers ---

// buildScannedPDF builds a one-page PDF whose content only paints a 1x1
// grayscale image XObject.
func buildScannedPDF() []byte {
	content := "q 612 0 0 792 0 0 cm /Im1 Do Q"
	return assemblePDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /XObject << /Im1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		"<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8 /Length 1 >>\nstream\n\x80\nendstream",
	})
}

// buildReportPDF builds a one-page PDF with one text line per entry and a
// correct xref table. Lines may contain content-stream escapes.
func buildReportPDF(lines []string) []byte {
	var stream strings.Builder
	stream.WriteString("BT\n/F1 10 Tf\n72 740 Td\n14 TL\n")
	for i, l := range lines {
		if i > 0 {
			stream.WriteString("T*\n")
		}
		stream.WriteString("(" + l + ") Tj\n")
	}
	stream.WriteString("ET")

	return assemblePDF([]string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", stream.Len(), stream.String()),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	})
}

// assemblePDF numbers objects from 1 and writes a correct xref table.
func assemblePDF(objects []string) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return []byte(b.String())
}
