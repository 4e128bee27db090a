// Package chunker splits chapter text into pieces a TTS API accepts in one
// request, cutting at sentence boundaries wherever possible.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// DefaultMaxChars is the Google Cloud TTS request limit, the tightest of the
// supported providers when measured in bytes.
const DefaultMaxChars = 4500

// Chunker packs sentences into chunks of at most maxChars bytes of UTF-8.
type Chunker struct {
	maxChars int
}

// New creates a chunker. maxChars <= 0 selects DefaultMaxChars.
func New(maxChars int) *Chunker {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &Chunker{maxChars: maxChars}
}

// MaxChars returns the chunk size limit in bytes.
func (c *Chunker) MaxChars() int { return c.maxChars }

// SplitText normalizes text and packs its sentences greedily into chunks.
// No chunk is empty and none exceeds MaxChars bytes.
func (c *Chunker) SplitText(text string) []string {
	return c.pack(splitSentences(normalize(text)))
}

// ChunkChapters chunks every chapter in order. Each chapter title is spoken
// as its own leading sentence. Chunk indices run across all chapters, and
// StartOffset is the rune offset of the chunk in the document text formed by
// joining all chunk texts with single spaces.
func (c *Chunker) ChunkChapters(chapters []*types.Chapter) []types.Chunk {
	var out []types.Chunk
	offset := 0
	for ci, ch := range chapters {
		var sentences []string
		if title := normalize(ch.Title); title != "" {
			sentences = append(sentences, title)
		}
		sentences = append(sentences, splitSentences(normalize(strings.Join(ch.Paragraphs, " ")))...)

		for _, text := range c.pack(sentences) {
			n := utf8.RuneCountInString(text)
			out = append(out, types.Chunk{
				Index:        len(out),
				ChapterIndex: ci,
				ChapterID:    ch.ID,
				Text:         text,
				CharCount:    n,
				StartOffset:  offset,
			})
			offset += n + 1
		}
	}
	return out
}

func (c *Chunker) pack(sentences []string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}

	for _, s := range sentences {
		for _, piece := range splitLong(s, c.maxChars) {
			if cur.Len() > 0 && cur.Len()+1+len(piece) > c.maxChars {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(piece)
		}
	}
	flush()
	return out
}
