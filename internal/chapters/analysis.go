package chapters

import (
	"regexp"
	"strings"

	"github.com/unalkalkan/bookcast/pkg/types"
)

var genericPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^chapter\s+\d+$`),
	regexp.MustCompile(`(?i)^chapter\s+(` + numberWords + `|twenty)$`),
	regexp.MustCompile(`(?i)^track\s+\d+$`),
	regexp.MustCompile(`(?i)^part\s+\d+$`),
	regexp.MustCompile(`(?i)^part\s+(` + numberWords + `|twenty)$`),
	regexp.MustCompile(`(?i)^section\s+\d+$`),
	regexp.MustCompile(`^\d+$`),
	regexp.MustCompile(`^\d+\.\s*$`),
	regexp.MustCompile(`^\d+\s*-\s*$`),
	regexp.MustCompile(`^[IVXLCDM]+\.?$`),
	regexp.MustCompile(`^(` + frontMatterTitle + `|` + fallbackTitle + `)$`),
}

// IsGenericName reports whether a chapter title is a placeholder that says
// nothing about the content, such as "Chapter 3", "12" or an empty string.
func IsGenericName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	for _, p := range genericPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// AnalysisResult summarises detection quality for a document.
type AnalysisResult struct {
	Total          int     `json:"total"`
	GenericCount   int     `json:"generic_count"`
	GenericPercent float64 `json:"generic_percent"`
	MeanConfidence float64 `json:"mean_confidence"`
	LowConfidence  int     `json:"low_confidence"`
	NeedsReview    bool    `json:"needs_review"`
}

// lowConfidence marks chapters a reviewer should double check.
const lowConfidence = 0.6

// Analyze returns statistics over detected chapters. NeedsReview is set when
// most titles are generic or the detector fell back to a single chapter.
func Analyze(chapters []*types.Chapter) AnalysisResult {
	if len(chapters) == 0 {
		return AnalysisResult{}
	}

	var res AnalysisResult
	var sum float64
	fallback := false
	for _, ch := range chapters {
		res.Total++
		if IsGenericName(ch.Title) {
			res.GenericCount++
		}
		sum += ch.Confidence
		if ch.Confidence < lowConfidence {
			res.LowConfidence++
		}
		if ch.DetectionType == types.DetectionFallback {
			fallback = true
		}
	}

	res.GenericPercent = float64(res.GenericCount) / float64(res.Total)
	res.MeanConfidence = sum / float64(res.Total)
	res.NeedsReview = res.GenericPercent > 0.5 || fallback
	return res
}
