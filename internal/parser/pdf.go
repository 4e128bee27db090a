package parser

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// maxPDFHeadingChars bounds a one-line block offered as a heading candidate.
const maxPDFHeadingChars = 120

// PDFParser extracts positioned text from PDF page content streams.
// Scanned PDFs without a text layer are rejected.
type PDFParser struct{}

// NewPDFParser creates a new PDF parser
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

func (p *PDFParser) SupportedFormats() []string {
	return []string{"pdf"}
}

func (p *PDFParser) Parse(ctx context.Context, data []byte) (*types.Document, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf: %w", err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("invalid pdf: %w", err)
	}
	if err := pdfCtx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("failed to count pdf pages: %w", err)
	}

	doc := &types.Document{
		Format:    "pdf",
		Title:     collapseSpace(pdfCtx.Title),
		Author:    collapseSpace(pdfCtx.Author),
		PageCount: pdfCtx.PageCount,
	}

	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to extract page %d: %w", page, err)
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d content: %w", page, err)
		}

		doc.Blocks = append(doc.Blocks, pageBlocks(content, page)...)
	}

	if len(doc.Blocks) == 0 {
		return nil, fmt.Errorf("no extractable text in pdf (scanned documents are not supported)")
	}

	return doc, nil
}

// pageBlocks converts one decoded content stream into blocks.
func pageBlocks(content []byte, page int) []types.Block {
	var out []types.Block
	for _, b := range groupLines(assembleLines(scanTextRuns(content))) {
		text := joinLines(b.lines)
		if text == "" {
			continue
		}
		kind := types.BlockParagraph
		if len(b.lines) <= 2 && utf8.RuneCountInString(text) <= maxPDFHeadingChars && !endsSentence(text) {
			kind = types.BlockHeading
		}
		out = append(out, types.Block{
			Text:     text,
			Kind:     kind,
			FontSize: b.size,
			Page:     page,
		})
	}
	return out
}
