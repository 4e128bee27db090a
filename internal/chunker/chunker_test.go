package chunker

import (
	"strings"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/bookcast/pkg/types"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "basic",
			in:   "First sentence. Second sentence! Third sentence? Fourth.",
			want: []string{"First sentence.", "Second sentence!", "Third sentence?", "Fourth."},
		},
		{
			name: "abbreviations and decimals",
			in:   "Mr. Smith measured 3.14 meters. Dr. Jones agreed, e.g. by nodding.",
			want: []string{"Mr. Smith measured 3.14 meters.", "Dr. Jones agreed, e.g. by nodding."},
		},
		{
			name: "common words ending a sentence",
			in:   "The answer was no. Then he left. They met in Dec. Nobody came.",
			want: []string{"The answer was no.", "Then he left.", "They met in Dec.", "Nobody came."},
		},
		{
			name: "titles",
			in:   "Capt. Hook and Prof. Moriarty met St. Clair vs. Rev. Green.",
			want: []string{"Capt. Hook and Prof. Moriarty met St. Clair vs. Rev. Green."},
		},
		{
			name: "initials",
			in:   "J. R. R. Tolkien wrote it. Then he rested.",
			want: []string{"J. R. R. Tolkien wrote it.", "Then he rested."},
		},
		{
			name: "ellipsis and lowercase continuation",
			in:   "Wait... really? Yes… It was.",
			want: []string{"Wait... really?", "Yes…", "It was."},
		},
		{
			name: "closing quotes",
			in:   `"Run!" she said. "Now?!" He ran.`,
			want: []string{`"Run!" she said.`, `"Now?!"`, "He ran."},
		},
		{
			name: "no terminal punctuation",
			in:   "Chapter One",
			want: []string{"Chapter One"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(normalize(tt.in)))
		})
	}

	assert.Nil(t, splitSentences(normalize("   \n\t ")))
}

func TestSplitText_PacksGreedily(t *testing.T) {
	c := New(40)
	got := c.SplitText("One two three. Four five six. Seven eight nine. Ten.")

	assert.Equal(t, []string{"One two three. Four five six.", "Seven eight nine. Ten."}, got)
	for _, chunk := range got {
		assert.LessOrEqual(t, len(chunk), 40)
	}
}

func TestSplitText_NormalizesWhitespaceAndNFC(t *testing.T) {
	got := New(0).SplitText("Café \n\n  au\tlait.")
	assert.Equal(t, []string{"Café au lait."}, got)
}

func TestSplitText_OversizedSentence(t *testing.T) {
	parts := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		parts = append(parts, "clause")
	}
	text := strings.Join(parts, ", ") + "."

	c := New(100)
	got := c.SplitText(text)
	require.Greater(t, len(got), 1)
	for _, chunk := range got {
		assert.LessOrEqual(t, len(chunk), 100)
		assert.NotEmpty(t, chunk)
	}
	assert.Equal(t, nonSpace(text), nonSpace(strings.Join(got, " ")))
}

func TestSplitText_HardSplit(t *testing.T) {
	word := strings.Repeat("é", 30) // 60 bytes, no spaces
	got := New(25).SplitText(word)

	require.Len(t, got, 3)
	assert.Equal(t, strings.Repeat("é", 12), got[0])
	assert.Equal(t, word, strings.Join(got, ""))
}

func TestSplitText_WordBoundary(t *testing.T) {
	got := New(20).SplitText("alpha beta gamma delta epsilon zeta eta theta")
	for _, chunk := range got {
		assert.LessOrEqual(t, len(chunk), 20)
		assert.Equal(t, chunk, strings.TrimSpace(chunk))
	}
	assert.Equal(t, "alpha beta gamma delta epsilon zeta eta theta", strings.Join(got, " "))
}

func TestChunkChapters(t *testing.T) {
	chapters := []*types.Chapter{
		{ID: "chapter_001", Title: "Chapter One", Paragraphs: []string{"It began.", "Then it went on."}},
		{ID: "chapter_002", Title: "", Paragraphs: nil},
		{ID: "chapter_003", Title: "Chapter Two", Paragraphs: []string{"It ended."}},
	}

	chunks := New(30).ChunkChapters(chapters)
	require.Len(t, chunks, 3)

	assert.Equal(t, types.Chunk{
		Index: 0, ChapterIndex: 0, ChapterID: "chapter_001",
		Text: "Chapter One It began.", CharCount: 21, StartOffset: 0,
	}, chunks[0])
	assert.Equal(t, types.Chunk{
		Index: 1, ChapterIndex: 0, ChapterID: "chapter_001",
		Text: "Then it went on.", CharCount: 16, StartOffset: 22,
	}, chunks[1])
	assert.Equal(t, types.Chunk{
		Index: 2, ChapterIndex: 2, ChapterID: "chapter_003",
		Text: "Chapter Two It ended.", CharCount: 21, StartOffset: 39,
	}, chunks[2])
}

func TestNew_Default(t *testing.T) {
	assert.Equal(t, DefaultMaxChars, New(0).MaxChars())
	assert.Equal(t, 10, New(10).MaxChars())
}

func nonSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
