package parser

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// textRun is one shown string with its user-space origin and effective size.
type textRun struct {
	text string
	x, y float64
	size float64
}

type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m x n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

type operandKind int

const (
	opNumber operandKind = iota
	opString
	opName
	opArray
	opOther
)

type operand struct {
	kind operandKind
	num  float64
	str  []byte
	arr  []operand
}

// contentScanner interprets the text operators of a page content stream.
// Graphics, colour and path operators are ignored.
type contentScanner struct {
	data []byte
	pos  int

	ctm      matrix
	ctmStack []matrix
	tm, tlm  matrix
	fontSize float64
	leading  float64

	runs []textRun
}

func scanTextRuns(content []byte) []textRun {
	s := &contentScanner{data: content, ctm: identity, tm: identity, tlm: identity}
	s.run()
	return s.runs
}

func (s *contentScanner) run() {
	var stack []operand
	for {
		tok, ok := s.next()
		if !ok {
			return
		}
		if tok.kind != opOther {
			stack = append(stack, tok)
			continue
		}
		s.apply(string(tok.str), stack)
		stack = stack[:0]
	}
}

func (s *contentScanner) apply(op string, args []operand) {
	num := func(i int) float64 {
		if i < len(args) && args[i].kind == opNumber {
			return args[i].num
		}
		return 0
	}
	last := func() operand {
		if len(args) == 0 {
			return operand{}
		}
		return args[len(args)-1]
	}

	switch op {
	case "q":
		s.ctmStack = append(s.ctmStack, s.ctm)
	case "Q":
		if n := len(s.ctmStack); n > 0 {
			s.ctm = s.ctmStack[n-1]
			s.ctmStack = s.ctmStack[:n-1]
		}
	case "cm":
		if len(args) >= 6 {
			s.ctm = matrix{num(0), num(1), num(2), num(3), num(4), num(5)}.mul(s.ctm)
		}
	case "BT":
		s.tm, s.tlm = identity, identity
	case "Tf":
		if len(args) >= 2 {
			s.fontSize = num(1)
		}
	case "TL":
		s.leading = num(0)
	case "Td":
		s.moveLine(num(0), num(1))
	case "TD":
		s.leading = -num(1)
		s.moveLine(num(0), num(1))
	case "Tm":
		if len(args) >= 6 {
			s.tm = matrix{num(0), num(1), num(2), num(3), num(4), num(5)}
			s.tlm = s.tm
		}
	case "T*":
		s.moveLine(0, -s.leading)
	case "Tj":
		s.show(last().str)
	case "'":
		s.moveLine(0, -s.leading)
		s.show(last().str)
	case "\"":
		s.moveLine(0, -s.leading)
		s.show(last().str)
	case "TJ":
		arr := last()
		var b []byte
		var parts []string
		for _, el := range arr.arr {
			switch el.kind {
			case opString:
				b = append(b, el.str...)
			case opNumber:
				// Large negative adjustments are inter-word gaps.
				if el.num < -180 && len(b) > 0 {
					parts = append(parts, decodePDFString(b))
					b = b[:0]
				}
			}
		}
		if len(b) > 0 {
			parts = append(parts, decodePDFString(b))
		}
		s.emit(strings.Join(parts, " "))
	}
}

func (s *contentScanner) moveLine(tx, ty float64) {
	s.tlm = matrix{1, 0, 0, 1, tx, ty}.mul(s.tlm)
	s.tm = s.tlm
}

func (s *contentScanner) show(str []byte) {
	if len(str) == 0 {
		return
	}
	s.emit(decodePDFString(str))
}

func (s *contentScanner) emit(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	trm := s.tm.mul(s.ctm)
	size := math.Abs(s.fontSize) * math.Hypot(trm[2], trm[3])
	if size == 0 {
		size = math.Abs(s.fontSize)
	}
	s.runs = append(s.runs, textRun{text: text, x: trm[4], y: trm[5], size: size})

	// Approximate the advance so the next run on this line lands after it.
	adv := float64(utf8.RuneCountInString(text)) * 0.5 * math.Abs(s.fontSize)
	s.tm = matrix{1, 0, 0, 1, adv, 0}.mul(s.tm)
}

func isPDFSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0:
		return true
	}
	return false
}

func isPDFDelim(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// next returns the next operand or operator token.
func (s *contentScanner) next() (operand, bool) {
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		switch {
		case isPDFSpace(c):
			s.pos++
		case c == '%':
			for s.pos < len(s.data) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
				s.pos++
			}
		case c == '(':
			s.pos++
			return operand{kind: opString, str: s.literal()}, true
		case c == '<':
			if s.pos+1 < len(s.data) && s.data[s.pos+1] == '<' {
				s.pos += 2
				s.skipDict()
				return operand{kind: opName}, true
			}
			s.pos++
			return operand{kind: opString, str: s.hex()}, true
		case c == '[':
			s.pos++
			return operand{kind: opArray, arr: s.array()}, true
		case c == ']' || c == '>' || c == ')' || c == '{' || c == '}':
			s.pos++
		case c == '/':
			start := s.pos
			s.pos++
			for s.pos < len(s.data) && !isPDFSpace(s.data[s.pos]) && !isPDFDelim(s.data[s.pos]) {
				s.pos++
			}
			return operand{kind: opName, str: s.data[start+1 : s.pos]}, true
		default:
			start := s.pos
			for s.pos < len(s.data) && !isPDFSpace(s.data[s.pos]) && !isPDFDelim(s.data[s.pos]) {
				s.pos++
			}
			word := s.data[start:s.pos]
			if f, err := strconv.ParseFloat(string(word), 64); err == nil {
				return operand{kind: opNumber, num: f}, true
			}
			if string(word) == "BI" {
				s.skipInlineImage()
				continue
			}
			return operand{kind: opOther, str: word}, true
		}
	}
	return operand{}, false
}

func (s *contentScanner) literal() []byte {
	var out []byte
	depth := 1
	for s.pos < len(s.data) {
		c := s.data[s.pos]
		s.pos++
		switch c {
		case '\\':
			if s.pos >= len(s.data) {
				return out
			}
			e := s.data[s.pos]
			s.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\r':
				if s.pos < len(s.data) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '7'; i++ {
						v = v*8 + int(s.data[s.pos]-'0')
						s.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		case '(':
			depth++
			out = append(out, c)
		case ')':
			depth--
			if depth == 0 {
				return out
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out
}

func (s *contentScanner) hex() []byte {
	var digits []byte
	for s.pos < len(s.data) && s.data[s.pos] != '>' {
		c := s.data[s.pos]
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			digits = append(digits, c)
		}
		s.pos++
	}
	s.pos++ // '>'
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	for i := range out {
		v, _ := strconv.ParseUint(string(digits[2*i:2*i+2]), 16, 8)
		out[i] = byte(v)
	}
	return out
}

func (s *contentScanner) array() []operand {
	var out []operand
	for {
		for s.pos < len(s.data) && isPDFSpace(s.data[s.pos]) {
			s.pos++
		}
		if s.pos >= len(s.data) {
			return out
		}
		if s.data[s.pos] == ']' {
			s.pos++
			return out
		}
		tok, ok := s.next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

func (s *contentScanner) skipDict() {
	depth := 1
	for s.pos+1 < len(s.data) && depth > 0 {
		switch {
		case s.data[s.pos] == '<' && s.data[s.pos+1] == '<':
			depth++
			s.pos += 2
		case s.data[s.pos] == '>' && s.data[s.pos+1] == '>':
			depth--
			s.pos += 2
		default:
			s.pos++
		}
	}
}

// skipInlineImage jumps past "ID <binary> EI".
func (s *contentScanner) skipInlineImage() {
	idx := bytes.Index(s.data[s.pos:], []byte("ID"))
	if idx < 0 {
		s.pos = len(s.data)
		return
	}
	s.pos += idx + 2
	for s.pos+2 <= len(s.data) {
		if s.data[s.pos] == 'E' && s.data[s.pos+1] == 'I' &&
			(s.pos == 0 || isPDFSpace(s.data[s.pos-1])) &&
			(s.pos+2 == len(s.data) || isPDFSpace(s.data[s.pos+2])) {
			s.pos += 2
			return
		}
		s.pos++
	}
	s.pos = len(s.data)
}

// winAnsiHigh maps the 0x80-0x9F range of WinAnsiEncoding.
var winAnsiHigh = map[byte]rune{
	0x80: '€', 0x82: '‚', 0x83: 'ƒ', 0x84: '„', 0x85: '…', 0x86: '†', 0x87: '‡',
	0x88: 'ˆ', 0x89: '‰', 0x8A: 'Š', 0x8B: '‹', 0x8C: 'Œ', 0x8E: 'Ž',
	0x91: '‘', 0x92: '’', 0x93: '“', 0x94: '”', 0x95: '•', 0x96: '–', 0x97: '—',
	0x98: '˜', 0x99: '™', 0x9A: 'š', 0x9B: '›', 0x9C: 'œ', 0x9E: 'ž', 0x9F: 'Ÿ',
}

// decodePDFString decodes UTF-16BE strings (BOM or zero high bytes) and
// treats everything else as WinAnsi. Fonts with custom CMaps are not mapped.
func decodePDFString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		return decodeUTF16BE(b[2:])
	}
	if len(b) >= 2 && len(b)%2 == 0 {
		zeroHigh := true
		for i := 0; i < len(b); i += 2 {
			if b[i] != 0 {
				zeroHigh = false
				break
			}
		}
		if zeroHigh {
			return decodeUTF16BE(b)
		}
	}

	var sb strings.Builder
	for _, c := range b {
		switch {
		case c >= 0x80 && c <= 0x9F:
			if r, ok := winAnsiHigh[c]; ok {
				sb.WriteRune(r)
			}
		case c < 0x20 && c != '\t' && c != '\n':
			// control bytes carry no text
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

func decodeUTF16BE(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
	}
	return string(utf16.Decode(u))
}

type pdfLine struct {
	text string
	y    float64
	size float64
}

// assembleLines merges runs sharing a baseline into lines, in stream order.
func assembleLines(runs []textRun) []pdfLine {
	var lines []pdfLine
	var cur *pdfLine
	var lastEnd float64

	for _, r := range runs {
		tol := math.Max(r.size*0.5, 1)
		if cur != nil && math.Abs(r.y-cur.y) <= tol {
			// Same baseline: add a space only when the run starts past the
			// estimated end of the previous one.
			if r.x > lastEnd+r.size*0.1 && !strings.HasSuffix(cur.text, " ") && !strings.HasPrefix(r.text, " ") {
				cur.text += " "
			}
			cur.text += r.text
			cur.size = math.Max(cur.size, r.size)
		} else {
			if cur != nil {
				lines = append(lines, *cur)
			}
			cur = &pdfLine{text: r.text, y: r.y, size: r.size}
		}
		lastEnd = r.x + float64(utf8.RuneCountInString(r.text))*0.5*r.size
	}
	if cur != nil {
		lines = append(lines, *cur)
	}

	for i := range lines {
		lines[i].text = collapseSpace(lines[i].text)
	}
	return lines
}

type pdfBlock struct {
	lines []string
	size  float64
}

// groupLines starts a new block on a font size change, on a vertical gap
// wider than 1.6 line heights, or when the text moves back up the page.
func groupLines(lines []pdfLine) []pdfBlock {
	var blocks []pdfBlock
	var prev *pdfLine

	for i := range lines {
		l := lines[i]
		if l.text == "" {
			continue
		}
		newBlock := prev == nil ||
			math.Abs(l.size-prev.size) > 0.5 ||
			prev.y-l.y > 1.6*math.Max(l.size, prev.size) ||
			l.y > prev.y+0.5
		if newBlock {
			blocks = append(blocks, pdfBlock{size: l.size})
		}
		b := &blocks[len(blocks)-1]
		b.lines = append(b.lines, l.text)
		prev = &lines[i]
	}
	return blocks
}

// joinLines joins wrapped lines and undoes end-of-line hyphenation.
func joinLines(lines []string) string {
	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			prev := sb.String()
			first, _ := utf8.DecodeRuneInString(l)
			if strings.HasSuffix(prev, "-") && first >= 'a' && first <= 'z' {
				s := strings.TrimSuffix(prev, "-")
				sb.Reset()
				sb.WriteString(s)
			} else {
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(l)
	}
	return sb.String()
}
