// Package chapters finds chapter boundaries in a parsed document.
//
// Every block is scored from independent signals (table of contents,
// heading level, chapter-like wording, font size relative to the body,
// capitalisation). Blocks scoring at or above MinConfidence open a chapter.
// Runs of headings collapse into one boundary, very short chapters merge
// into their predecessor, and a document with no boundaries becomes a single
// fallback chapter.
package chapters

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	frontMatterTitle = "Front Matter"
	fallbackTitle    = "Full Text"
)

// Options tunes the detector. Zero values take the defaults.
type Options struct {
	MinConfidence       float64
	MinChapterChars     int
	HeadingMaxChars     int
	FontSizeRatio       float64
	StrongFontSizeRatio float64
}

// DefaultOptions returns the detector defaults.
func DefaultOptions() Options {
	return Options{
		MinConfidence:       0.5,
		MinChapterChars:     200,
		HeadingMaxChars:     120,
		FontSizeRatio:       1.25,
		StrongFontSizeRatio: 1.5,
	}
}

// OptionsFromConfig maps the chapters config section onto Options.
func OptionsFromConfig(cfg types.ChaptersConfig) Options {
	return Options{
		MinConfidence:       cfg.MinConfidence,
		MinChapterChars:     cfg.MinChapterChars,
		HeadingMaxChars:     cfg.HeadingMaxChars,
		FontSizeRatio:       cfg.FontSizeRatio,
		StrongFontSizeRatio: cfg.StrongFontSizeRatio,
	}
}

// Detector splits documents into chapters. It holds no per-document state
// and is safe for concurrent use.
type Detector struct {
	opts Options
}

func NewDetector(opts Options) *Detector {
	def := DefaultOptions()
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = def.MinConfidence
	}
	if opts.MinChapterChars <= 0 {
		opts.MinChapterChars = def.MinChapterChars
	}
	if opts.HeadingMaxChars <= 0 {
		opts.HeadingMaxChars = def.HeadingMaxChars
	}
	if opts.FontSizeRatio <= 0 {
		opts.FontSizeRatio = def.FontSizeRatio
	}
	if opts.StrongFontSizeRatio <= 0 {
		opts.StrongFontSizeRatio = def.StrongFontSizeRatio
	}
	return &Detector{opts: opts}
}

// Options returns the effective options.
func (d *Detector) Options() Options { return d.opts }

type draft struct {
	title      string
	tocPath    []string
	confidence float64
	detection  string
	paragraphs []string
	startBlock int
}

func (c *draft) chars() int {
	n := 0
	for _, p := range c.paragraphs {
		n += utf8.RuneCountInString(p)
	}
	return n
}

// Detect returns the chapters of doc in reading order, numbered from 1.
func (d *Detector) Detect(doc *types.Document) []*types.Chapter {
	sc := ScoreContext{BodyFontSize: BodyFontSize(doc.Blocks)}

	var front []string
	var drafts []*draft
	var cur *draft
	bodySinceBoundary := false

	for i, b := range doc.Blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}

		conf, typ := d.Score(b, sc)
		if conf < d.opts.MinConfidence {
			if cur == nil {
				front = append(front, text)
			} else {
				cur.paragraphs = append(cur.paragraphs, text)
			}
			bodySinceBoundary = true
			continue
		}

		title := text
		var carry string
		if b.TOCTitle != "" && utf8.RuneCountInString(text) > d.opts.HeadingMaxChars {
			// A TOC target that is itself body text: the entry names it.
			title, carry = b.TOCTitle, text
		}

		if cur != nil && !bodySinceBoundary {
			cur.tocPath = append(cur.tocPath, title)
			cur.title = title
			if conf > cur.confidence {
				cur.confidence, cur.detection = conf, typ
			}
		} else {
			cur = &draft{
				title:      title,
				tocPath:    []string{title},
				confidence: conf,
				detection:  typ,
				startBlock: i,
			}
			drafts = append(drafts, cur)
		}

		bodySinceBoundary = false
		if carry != "" {
			cur.paragraphs = append(cur.paragraphs, carry)
			bodySinceBoundary = true
		}
	}

	if len(drafts) == 0 {
		title := strings.TrimSpace(doc.Title)
		if title == "" {
			title = fallbackTitle
		}
		return d.finalize(doc, []*draft{{
			title:      title,
			tocPath:    []string{title},
			detection:  types.DetectionFallback,
			paragraphs: front,
		}})
	}

	drafts = d.mergeShort(drafts)

	if len(front) > 0 {
		fm := &draft{paragraphs: front}
		if fm.chars() >= d.opts.MinChapterChars {
			fm.title = frontMatterTitle
			fm.tocPath = []string{frontMatterTitle}
			fm.confidence = 1
			fm.detection = types.DetectionFrontMatter
			drafts = append([]*draft{fm}, drafts...)
		} else {
			drafts[0].paragraphs = append(front, drafts[0].paragraphs...)
			drafts[0].startBlock = 0
		}
	}

	return d.finalize(doc, drafts)
}

// mergeShort folds chapters with less than MinChapterChars of body text into
// the previous chapter. The first chapter is never merged away.
func (d *Detector) mergeShort(drafts []*draft) []*draft {
	out := drafts[:1]
	for _, c := range drafts[1:] {
		if c.chars() >= d.opts.MinChapterChars {
			out = append(out, c)
			continue
		}
		prev := out[len(out)-1]
		prev.paragraphs = append(prev.paragraphs, c.tocPath...)
		prev.paragraphs = append(prev.paragraphs, c.paragraphs...)
	}
	return out
}

func (d *Detector) finalize(doc *types.Document, drafts []*draft) []*types.Chapter {
	out := make([]*types.Chapter, 0, len(drafts))
	for i, c := range drafts {
		paragraphs := c.paragraphs
		if paragraphs == nil {
			paragraphs = []string{}
		}
		out = append(out, &types.Chapter{
			ID:            ChapterID(i + 1),
			DocumentID:    doc.ID,
			Number:        i + 1,
			Title:         c.title,
			TOCPath:       c.tocPath,
			Paragraphs:    paragraphs,
			Confidence:    c.confidence,
			DetectionType: c.detection,
			CharCount:     c.chars(),
			StartBlock:    c.startBlock,
		})
	}
	return out
}

// ChapterID formats the stable identifier of the n-th chapter.
func ChapterID(n int) string {
	return fmt.Sprintf("chapter_%03d", n)
}
