package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// abbreviations never end a sentence. Ordinary words that double as
// abbreviations ("no", "co", month names) are left out so they can.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"rev": {}, "capt": {}, "lt": {}, "sgt": {}, "col": {},
	"st": {}, "vs": {}, "etc": {}, "e.g": {}, "i.e": {},
}

// normalize applies NFC and collapses every whitespace run to one space.
func normalize(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// splitSentences splits normalized text into sentences. Terminal punctuation
// stays with its sentence.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for i, r := range text {
		if !isTerminal(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		if r == '.' && skipPeriod(text, i) {
			continue
		}
		// Runs like "?!" or "..." end at their last mark.
		if next, _ := utf8.DecodeRuneInString(text[end:]); isTerminal(next) {
			continue
		}
		end, ok := sentenceEnd(text, end)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

// sentenceEnd skips closing quotes and brackets after terminal punctuation
// at i and reports whether a sentence ends there.
func sentenceEnd(text string, i int) (int, bool) {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !isClosing(r) {
			break
		}
		i += size
	}
	if i >= len(text) {
		return i, true
	}
	if text[i] != ' ' {
		return i, false
	}
	return i, likelySentenceStart(text[i+1:])
}

func likelySentenceStart(s string) bool {
	for _, r := range s {
		if isOpening(r) {
			continue
		}
		return unicode.IsUpper(r) || unicode.IsDigit(r) || !unicode.IsLetter(r)
	}
	return true
}

func skipPeriod(text string, i int) bool {
	// Decimal numbers.
	if i > 0 && i+1 < len(text) && isDigit(text[i-1]) && isDigit(text[i+1]) {
		return true
	}

	token := tokenBefore(text, i)
	if token == "" {
		return false
	}
	// Initials such as "J. R. R."
	if utf8.RuneCountInString(token) == 1 {
		r, _ := utf8.DecodeRuneInString(token)
		return unicode.IsLetter(r)
	}
	_, ok := abbreviations[strings.ToLower(token)]
	return ok
}

func tokenBefore(text string, i int) string {
	j := i
	for j > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:j])
		if r == ' ' || isOpening(r) || isClosing(r) {
			break
		}
		j -= size
	}
	return text[j:i]
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '”', '’', '»':
		return true
	}
	return false
}

func isOpening(r rune) bool {
	switch r {
	case '"', '\'', '(', '[', '{', '“', '‘', '«':
		return true
	}
	return false
}

func isClauseBoundary(r rune) bool {
	switch r {
	case ';', ':', ',', '—', '–':
		return true
	}
	return false
}

// splitLong breaks s into pieces of at most max bytes: at the last clause
// mark in the second half of the window, else the last space, else at a rune
// boundary.
func splitLong(s string, max int) []string {
	var out []string
	for len(s) > max {
		cut := clauseCut(s, max)
		if cut <= 0 {
			cut = strings.LastIndexByte(s[:max+1], ' ')
		}
		if cut <= 0 {
			cut = max
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
			if cut == 0 {
				// max is smaller than one rune; emit it whole.
				_, cut = utf8.DecodeRuneInString(s)
			}
		}
		if part := strings.TrimSpace(s[:cut]); part != "" {
			out = append(out, part)
		}
		s = strings.TrimSpace(s[cut:])
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// clauseCut returns the byte offset just after the last clause mark that
// fits within max, searching only the second half of the window.
func clauseCut(s string, max int) int {
	window := s[:max]
	for j := len(window); j > max/2; {
		r, size := utf8.DecodeLastRuneInString(window[:j])
		if isClauseBoundary(r) {
			return j
		}
		j -= size
	}
	return -1
}
