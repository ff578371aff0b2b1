package reportparse

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

var disableConfigDir sync.Once

// extraction is the text layer of a document, one string per page.
type extraction struct {
	Pages     []string
	PageCount int
	HasImages bool
}

// Text joins the pages with blank lines.
func (e *extraction) Text() string {
	var b strings.Builder
	for _, p := range e.Pages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p)
	}
	return b.String()
}

// extractPDF reads the document with pdfcpu and decodes the text operators
// of every page content stream.
func extractPDF(data []byte) (*extraction, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("reportparse: pdfcpu read: %w", err)
	}

	ext := &extraction{PageCount: ctx.PageCount}
	for i := 1; i <= ctx.PageCount; i++ {
		ext.Pages = append(ext.Pages, extractPageText(ctx, i))
	}
	ext.HasImages = detectImageStreams(ctx)
	return ext, nil
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return ""
	}
	return textFromContentStream(content)
}

func detectImageStreams(ctx *model.Context) bool {
	for _, obj := range ctx.XRefTable.Table {
		if obj == nil || obj.Object == nil {
			continue
		}
		sd, ok := obj.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if subtype, found := sd.Find("Subtype"); found {
			if name, ok := subtype.(types.Name); ok && name.Value() == "Image" {
				return true
			}
		}
	}
	return false
}

// operand is one value on the content stream operand stack.
type operand struct {
	str   string
	num   float64
	isStr bool
	isNum bool
	array []operand
	isArr bool
}

// textFromContentStream walks a decoded content stream and emits the shown
// strings. Text shown on a new baseline starts a new line; text shown after a
// horizontal move on the same baseline is separated by a space.
func textFromContentStream(content []byte) string {
	var (
		out      bytes.Buffer
		operands []operand
		stack    [][]operand // open arrays
		lineY    float64
		emitY    float64
		emitted  bool
		moved    bool
	)

	tail := func() byte {
		if out.Len() == 0 {
			return '\n'
		}
		return out.Bytes()[out.Len()-1]
	}
	show := func(s string) {
		if s == "" {
			return
		}
		if emitted {
			switch t := tail(); {
			case lineY != emitY && t != '\n':
				out.WriteByte('\n')
			case lineY == emitY && moved && t != '\n' && t != ' ':
				out.WriteByte(' ')
			}
		}
		out.WriteString(s)
		emitY, emitted, moved = lineY, true, false
	}
	push := func(o operand) {
		if n := len(stack); n > 0 {
			stack[n-1] = append(stack[n-1], o)
			return
		}
		operands = append(operands, o)
	}
	lastString := func() string {
		for i := len(operands) - 1; i >= 0; i-- {
			if operands[i].isStr {
				return operands[i].str
			}
		}
		return ""
	}
	num := func(fromEnd int) (float64, bool) {
		i := len(operands) - fromEnd
		if i < 0 || !operands[i].isNum {
			return 0, false
		}
		return operands[i].num, true
	}

	p := &lexer{data: content}
	for {
		tok, kind := p.next()
		if kind == tokEOF {
			break
		}
		switch kind {
		case tokString:
			push(operand{str: tok, isStr: true})
		case tokNumber:
			f, _ := strconv.ParseFloat(tok, 64)
			push(operand{num: f, isNum: true})
		case tokArrayOpen:
			stack = append(stack, nil)
		case tokArrayClose:
			if n := len(stack); n > 0 {
				arr := stack[n-1]
				stack = stack[:n-1]
				push(operand{array: arr, isArr: true})
			}
		case tokName, tokDict:
			// operands we do not interpret
		case tokOperator:
			switch tok {
			case "Tj":
				show(lastString())
			case "TJ":
				if n := len(operands); n > 0 && operands[n-1].isArr {
					for _, el := range operands[n-1].array {
						switch {
						case el.isStr:
							show(el.str)
						case el.isNum && el.num < -250:
							moved = true
						}
					}
				}
			case "'", "\"":
				lineY--
				moved = true
				show(lastString())
			case "T*":
				lineY--
				moved = true
			case "Td", "TD":
				if ty, ok := num(1); ok {
					lineY += ty
				}
				moved = true
			case "Tm":
				if f, ok := num(1); ok {
					lineY = f
				}
				moved = true
			case "BT":
				lineY = 0
				moved = true
			case "ID":
				p.skipInlineImage()
			}
			operands = operands[:0]
			stack = stack[:0]
		}
	}
	return cleanText(out.String())
}

// cleanText collapses runs of spaces within lines and drops blank lines.
func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		l = strings.Join(strings.Fields(l), " ")
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokString
	tokNumber
	tokName
	tokDict
	tokArrayOpen
	tokArrayClose
	tokOperator
)

// lexer tokenizes a PDF content stream.
type lexer struct {
	data []byte
	pos  int
}

func isPDFSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '\f' || c == 0
}

func isPDFDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (l *lexer) next() (string, tokKind) {
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		switch {
		case isPDFSpace(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.data) && l.data[l.pos] != '\n' && l.data[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return l.literal(), tokString
		case c == '<':
			if l.pos+1 < len(l.data) && l.data[l.pos+1] == '<' {
				l.pos += 2
				return "<<", tokDict
			}
			l.pos++
			return l.hex(), tokString
		case c == '>':
			l.pos++
			if l.pos < len(l.data) && l.data[l.pos] == '>' {
				l.pos++
			}
			return ">>", tokDict
		case c == '[':
			l.pos++
			return "[", tokArrayOpen
		case c == ']':
			l.pos++
			return "]", tokArrayClose
		case c == '/':
			l.pos++
			return l.regular(), tokName
		case c == '{' || c == '}' || c == ')':
			l.pos++
		default:
			tok := l.regular()
			if looksNumeric(tok) {
				return tok, tokNumber
			}
			return tok, tokOperator
		}
	}
	return "", tokEOF
}

func (l *lexer) regular() string {
	start := l.pos
	for l.pos < len(l.data) && !isPDFSpace(l.data[l.pos]) && !isPDFDelim(l.data[l.pos]) {
		l.pos++
	}
	if l.pos == start && l.pos < len(l.data) {
		l.pos++
	}
	return string(l.data[start:l.pos])
}

func looksNumeric(tok string) bool {
	if tok == "" {
		return false
	}
	digits := false
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' || ((c == '-' || c == '+') && i == 0):
		default:
			return false
		}
	}
	return digits
}

// literal reads a (string) body after the opening parenthesis, honoring
// nesting and backslash escapes.
func (l *lexer) literal() string {
	var b strings.Builder
	depth := 1
	for l.pos < len(l.data) {
		c := l.data[l.pos]
		l.pos++
		switch c {
		case '(':
			depth++
			b.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return decodePDFBytes(b.String())
			}
			b.WriteByte(c)
		case '\\':
			if l.pos >= len(l.data) {
				continue
			}
			e := l.data[l.pos]
			l.pos++
			switch e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
			case '\r':
				if l.pos < len(l.data) && l.data[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && l.pos < len(l.data) && l.data[l.pos] >= '0' && l.data[l.pos] <= '7'; k++ {
						v = v*8 + int(l.data[l.pos]-'0')
						l.pos++
					}
					b.WriteByte(byte(v))
				} else {
					b.WriteByte(e)
				}
			}
		default:
			b.WriteByte(c)
		}
	}
	return decodePDFBytes(b.String())
}

func (l *lexer) hex() string {
	var digits []byte
	for l.pos < len(l.data) && l.data[l.pos] != '>' {
		if c := l.data[l.pos]; !isPDFSpace(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // '>'
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	raw := make([]byte, 0, len(digits)/2)
	for i := 0; i+1 < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		raw = append(raw, byte(v))
	}
	return decodePDFBytes(string(raw))
}

// skipInlineImage advances past the binary data of a BI … ID … EI image.
func (l *lexer) skipInlineImage() {
	for l.pos+2 < len(l.data) {
		if isPDFSpace(l.data[l.pos]) && l.data[l.pos+1] == 'E' && l.data[l.pos+2] == 'I' &&
			(l.pos+3 == len(l.data) || isPDFSpace(l.data[l.pos+3])) {
			l.pos += 3
			return
		}
		l.pos++
	}
	l.pos = len(l.data)
}

// decodePDFBytes maps a raw string operand to UTF-8. UTF-16BE strings carry
// a BOM; everything else is treated as PDFDocEncoding, approximated by Latin-1.
func decodePDFBytes(s string) string {
	if len(s) >= 2 && s[0] == 0xFE && s[1] == 0xFF {
		var b strings.Builder
		for i := 2; i+1 < len(s); i += 2 {
			b.WriteRune(rune(uint16(s[i])<<8 | uint16(s[i+1])))
		}
		return b.String()
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		b.WriteRune(rune(s[i]))
	}
	return b.String()
}
