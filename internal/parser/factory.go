package parser

import (
	"sort"
	"strings"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
)

// DefaultFactory creates parsers for supported formats
type DefaultFactory struct {
	parsers map[string]Parser
}

// NewFactory returns a factory with the TXT, PDF and EPUB parsers registered.
func NewFactory() *DefaultFactory {
	f := &DefaultFactory{
		parsers: make(map[string]Parser),
	}

	f.Register(NewTXTParser())
	f.Register(NewPDFParser())
	f.Register(NewEPUBParser())

	return f
}

// Register adds p under each of its formats, replacing earlier registrations.
func (f *DefaultFactory) Register(p Parser) {
	for _, format := range p.SupportedFormats() {
		f.parsers[strings.ToLower(format)] = p
	}
}

// GetParser returns a parser for the given format
func (f *DefaultFactory) GetParser(format string) (Parser, error) {
	format = strings.ToLower(strings.TrimPrefix(format, "."))
	p, ok := f.parsers[format]
	if !ok {
		return nil, domainerrors.Unsupportedf("unsupported format: %s", format)
	}
	return p, nil
}

func (f *DefaultFactory) Formats() []string {
	out := make([]string, 0, len(f.parsers))
	for k := range f.parsers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
