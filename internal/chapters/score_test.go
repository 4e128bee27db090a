package chapters

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unalkalkan/bookcast/pkg/types"
)

func TestScore(t *testing.T) {
	d := NewDetector(Options{})
	sc := ScoreContext{BodyFontSize: 12}

	tests := []struct {
		name     string
		block    types.Block
		wantConf float64
		wantType string
	}{
		{
			name:     "h1 with chapter wording",
			block:    types.Block{Text: "Chapter One", Kind: types.BlockHeading, Level: 1},
			wantConf: 1.0,
			wantType: types.DetectionHeading,
		},
		{
			name:     "sentence",
			block:    types.Block{Text: "It was a dark and stormy night.", Kind: types.BlockParagraph},
			wantConf: 0,
		},
		{
			name:     "toc target keeps long text",
			block:    types.Block{Text: strings.Repeat("Long opening text. ", 10), TOCTitle: "Opening"},
			wantConf: 0.95,
			wantType: types.DetectionTOC,
		},
		{
			name:     "large font",
			block:    types.Block{Text: "A Loud Interlude", FontSize: 18},
			wantConf: 0.75,
			wantType: types.DetectionFontSize,
		},
		{
			name:     "all caps",
			block:    types.Block{Text: "THE END OF THINGS"},
			wantConf: 0.45,
			wantType: types.DetectionLayout,
		},
		{
			name:     "pattern only",
			block:    types.Block{Text: "Chapter 12"},
			wantConf: 0.85,
			wantType: types.DetectionPattern,
		},
		{
			name:     "pattern with font and bold is capped",
			block:    types.Block{Text: "Chapter 12", FontSize: 16, Bold: true},
			wantConf: 1.0,
			wantType: types.DetectionPattern,
		},
		{
			name:     "sentence opening with a label word",
			block:    types.Block{Text: "Book I read every night was a mystery, she said."},
			wantConf: 0,
		},
		{
			name:     "page number",
			block:    types.Block{Text: "14", FontSize: 10},
			wantConf: 0,
		},
		{
			name:     "too long without toc",
			block:    types.Block{Text: strings.Repeat("word ", 40), Level: 1},
			wantConf: 0,
		},
		{
			name:     "empty",
			block:    types.Block{Text: "   "},
			wantConf: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf, typ := d.Score(tt.block, sc)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
			assert.Equal(t, tt.wantType, typ)
		})
	}
}

func TestMatchesChapterPattern(t *testing.T) {
	for _, s := range []string{
		"Chapter 3", "CHAPTER TWENTY-ONE", "Chapter Seventeen", "Part II", "Book IV: The Sea",
		"part iv", "Chapter 12. The Storm", "Part Two The Return", "Epilogue", "XII",
	} {
		assert.True(t, MatchesChapterPattern(s), s)
	}
	for _, s := range []string{
		"Chapterhouse", "The Prologue Ends", "1984 was a year", "",
		"7", "12.", "Book I read every night was a mystery, she said.",
		"Chapter 3 was the longest", "Part one of the plan failed.", "Book iv was lost",
	} {
		assert.False(t, MatchesChapterPattern(s), s)
	}
}

func TestBodyFontSize(t *testing.T) {
	blocks := []types.Block{
		{Text: strings.Repeat("body ", 100), FontSize: 12.1},
		{Text: "Heading", FontSize: 24},
		{Text: "no size"},
	}
	assert.Equal(t, 12.0, BodyFontSize(blocks))

	tie := []types.Block{
		{Text: "abcde", FontSize: 12},
		{Text: "vwxyz", FontSize: 10},
	}
	assert.Equal(t, 10.0, BodyFontSize(tie))

	assert.Equal(t, 0.0, BodyFontSize(nil))
}

func TestIsTitleCase(t *testing.T) {
	assert.True(t, isTitleCase("The Lord of the Rings"))
	assert.True(t, isTitleCase("A Loud Interlude"))
	assert.False(t, isTitleCase("the Lord of the Rings"))
	assert.False(t, isTitleCase("a quiet afternoon walk"))
	assert.False(t, isTitleCase("1984"))
}
