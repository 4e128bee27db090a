package chapters

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// Signal confidences.
const (
	confTOC         = 0.95
	confH1          = 0.9
	confH2          = 0.8
	confH3          = 0.6
	confMinorH      = 0.4
	confPattern     = 0.85
	confStrongFont  = 0.75
	confFont        = 0.6
	confAllCaps     = 0.45
	confTitleCase   = 0.35
	signalBonus     = 0.1
	layoutMaxRunes  = 60
	bodySizeQuantum = 0.5
)

const numberWords = `one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen`

const chapterLabel = `(?i:chapter|chap\.?|part|book|section|volume|vol\.)`

// A label's number must end the line or be followed by a separator or a
// capitalised title, so "Book I read..." stays body text.
const labelTail = `(?:$|\s*[:.\-–—]|\s+[^\s\p{Ll}])`

var chapterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^` + chapterLabel + `\s+(?:\d+|[IVXLCDM]+|(?i:(?:twenty|thirty|forty|fifty)(?:[\s-](?:` + numberWords + `))?|` + numberWords + `))` + labelTail),
	regexp.MustCompile(`^` + chapterLabel + `\s+[ivxlcdm]+\.?$`),
	regexp.MustCompile(`(?i)^(?:prologue|epilogue|introduction|preface|foreword|afterword|appendix|interlude|conclusion)(?:$|[\s:.,\-–—])`),
	regexp.MustCompile(`^[IVXLCDM]{1,7}\.?$`),
}

// MatchesChapterPattern reports whether text reads like a chapter label
// such as "Chapter 12", "PART TWO", "Book III" or "Epilogue".
func MatchesChapterPattern(text string) bool {
	text = strings.TrimSpace(text)
	for _, re := range chapterPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ScoreContext carries document-wide facts needed to score one block.
type ScoreContext struct {
	BodyFontSize float64
}

// Score returns the heading confidence of b and the detection type of the
// strongest signal. A zero confidence means b is not a heading candidate.
func (d *Detector) Score(b types.Block, sc ScoreContext) (float64, string) {
	text := strings.TrimSpace(b.Text)
	if text == "" {
		return 0, ""
	}

	pattern := MatchesChapterPattern(text)
	runes := utf8.RuneCountInString(text)

	if b.TOCTitle == "" {
		if runes > d.opts.HeadingMaxChars {
			return 0, ""
		}
		if endsWithSentencePunct(text) && !pattern {
			return 0, ""
		}
	}

	var best float64
	var bestType string
	consider := func(conf float64, typ string) {
		if conf > best {
			best, bestType = conf, typ
		}
	}

	if b.TOCTitle != "" {
		consider(confTOC, types.DetectionTOC)
	}

	switch {
	case b.Level == 1:
		consider(confH1, types.DetectionHeading)
	case b.Level == 2:
		consider(confH2, types.DetectionHeading)
	case b.Level == 3:
		consider(confH3, types.DetectionHeading)
	case b.Level >= 4 && b.Level <= 6:
		consider(confMinorH, types.DetectionHeading)
	}

	if pattern {
		consider(confPattern, types.DetectionPattern)
	}

	fontSignal := false
	if sc.BodyFontSize > 0 && b.FontSize > 0 {
		ratio := b.FontSize / sc.BodyFontSize
		switch {
		case ratio >= d.opts.StrongFontSizeRatio:
			consider(confStrongFont, types.DetectionFontSize)
			fontSignal = true
		case ratio >= d.opts.FontSizeRatio:
			consider(confFont, types.DetectionFontSize)
			fontSignal = true
		}
	}

	if runes <= layoutMaxRunes {
		switch {
		case isAllCaps(text):
			consider(confAllCaps, types.DetectionLayout)
		case isTitleCase(text):
			consider(confTitleCase, types.DetectionLayout)
		}
	}

	if best == 0 {
		return 0, ""
	}

	// Each independent supporting signal adds a bonus, except the one that
	// already supplied the base confidence.
	if pattern && bestType != types.DetectionPattern {
		best += signalBonus
	}
	if fontSignal && bestType != types.DetectionFontSize {
		best += signalBonus
	}
	if b.Bold {
		best += signalBonus
	}

	return math.Min(1, math.Round(best*100)/100), bestType
}

// BodyFontSize returns the length-weighted mode of the block font sizes,
// rounded to half points. Blocks with unknown size are ignored; zero means
// no block carried a size.
func BodyFontSize(blocks []types.Block) float64 {
	weights := make(map[float64]int)
	for _, b := range blocks {
		if b.FontSize <= 0 {
			continue
		}
		size := math.Round(b.FontSize/bodySizeQuantum) * bodySizeQuantum
		weights[size] += utf8.RuneCountInString(b.Text)
	}

	var body float64
	best := -1
	for size, w := range weights {
		// Ties go to the smaller size, body text being the smaller of equals.
		if w > best || (w == best && size < body) {
			body, best = size, w
		}
	}
	return body
}

func endsWithSentencePunct(s string) bool {
	s = strings.TrimRight(s, "\"'”’)]» ")
	if s == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	switch r {
	case '.', '!', '?', '…', ';', ',':
		return true
	}
	return false
}

// isAllCaps reports whether s has at least two letters and none in lower case.
func isAllCaps(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			letters++
		}
	}
	return letters >= 2
}

var minorWords = map[string]bool{
	"a": true, "an": true, "and": true, "as": true, "at": true, "but": true, "by": true,
	"for": true, "in": true, "nor": true, "of": true, "on": true, "or": true, "the": true,
	"to": true, "with": true, "from": true, "into": true,
}

// isTitleCase reports whether most significant words start with a capital.
// The first word must be capitalised.
func isTitleCase(s string) bool {
	words := strings.Fields(s)
	if len(words) == 0 {
		return false
	}

	significant, capitalised := 0, 0
	for i, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if !unicode.IsLetter(r) {
			continue
		}
		if i > 0 && minorWords[strings.ToLower(w)] {
			continue
		}
		significant++
		if unicode.IsUpper(r) {
			capitalised++
		} else if i == 0 {
			return false
		}
	}
	if significant == 0 {
		return false
	}
	return float64(capitalised)/float64(significant) > 0.7
}
