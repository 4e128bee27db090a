package parser

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// maxTXTHeadingChars bounds a single-line paragraph that is offered to the
// detector as a heading candidate.
const maxTXTHeadingChars = 80

// TXTParser parses plain text files. Paragraphs are separated by blank
// lines; a paragraph made of one short line is emitted as a heading block.
type TXTParser struct{}

// NewTXTParser creates a new TXT parser
func NewTXTParser() *TXTParser {
	return &TXTParser{}
}

func (p *TXTParser) Parse(ctx context.Context, data []byte) (*types.Document, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	doc := &types.Document{Format: "txt"}
	var lines []string

	flush := func() {
		if len(lines) == 0 {
			return
		}
		text := strings.Join(lines, " ")
		kind := types.BlockParagraph
		if len(lines) == 1 && utf8.RuneCountInString(text) <= maxTXTHeadingChars && !endsSentence(text) {
			kind = types.BlockHeading
		}
		doc.Blocks = append(doc.Blocks, types.Block{Text: text, Kind: kind})
		lines = lines[:0]
	}

	for scanner.Scan() {
		if len(doc.Blocks)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading text: %w", err)
	}
	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("no content found in text file")
	}

	return doc, nil
}

// SupportedFormats returns the formats this parser supports
func (p *TXTParser) SupportedFormats() []string {
	return []string{"txt", "text"}
}

// endsSentence reports whether s ends with terminal punctuation, ignoring
// trailing quotes and brackets.
func endsSentence(s string) bool {
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

// collapseSpace joins all whitespace runs into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
