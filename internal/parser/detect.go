package parser

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
)

// DetectFormat sniffs data and falls back to the filename extension when the
// content is not conclusive. The result is one of "pdf", "epub" or "txt".
func DetectFormat(filename string, data []byte) (string, error) {
	if len(data) > 0 {
		m := mimetype.Detect(data)
		for ; m != nil; m = m.Parent() {
			switch {
			case m.Is("application/pdf"):
				return "pdf", nil
			case m.Is("application/epub+zip"):
				return "epub", nil
			case m.Is("text/plain"):
				return "txt", nil
			}
		}
	}

	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext {
	case "pdf", "epub", "txt":
		return ext, nil
	case "text":
		return "txt", nil
	}

	return "", domainerrors.Unsupportedf("unsupported document type: %s", filename)
}
