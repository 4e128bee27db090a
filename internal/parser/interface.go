// Package parser turns uploaded documents into an ordered list of text
// blocks with the layout hints the chapter detector scores: heading levels,
// font sizes, bold runs and table-of-contents titles.
package parser

import (
	"context"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// Parser extracts blocks from one document format.
type Parser interface {
	// Parse returns a document whose Blocks are in reading order.
	Parse(ctx context.Context, data []byte) (*types.Document, error)

	// SupportedFormats returns the file formats this parser supports
	SupportedFormats() []string
}

// Factory creates parsers for different formats
type Factory interface {
	// GetParser returns a parser for the given format
	GetParser(format string) (Parser, error)

	// Formats lists every registered format.
	Formats() []string
}
