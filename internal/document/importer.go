package document

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/unalkalkan/bookcast/internal/chapters"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/id"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/internal/parser"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// Metadata overrides what the parser extracts. Empty fields are ignored.
type Metadata struct {
	Title    string
	Author   string
	Language string
}

// Extraction is a parsed document with its detected chapters.
type Extraction struct {
	Document *types.Document
	Chapters []*types.Chapter
}

// Importer turns uploaded files into stored documents and chapters.
type Importer struct {
	repo     Repository
	parsers  parser.Factory
	detector *chapters.Detector
	logger   *slog.Logger
	now      func() time.Time
}

// NewImporter creates an importer. A nil detector uses the default options.
func NewImporter(repo Repository, parsers parser.Factory, detector *chapters.Detector, log *slog.Logger) *Importer {
	if detector == nil {
		detector = chapters.NewDetector(chapters.DefaultOptions())
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Importer{
		repo:     repo,
		parsers:  parsers,
		detector: detector,
		logger:   logger.Component(log, "import"),
		now:      time.Now,
	}
}

// Extract parses data and detects its chapters without storing anything.
func (im *Importer) Extract(ctx context.Context, filename string, data []byte, meta Metadata) (*Extraction, error) {
	if len(data) == 0 {
		return nil, domainerrors.Validationf("file %q is empty", filename)
	}

	format, err := parser.DetectFormat(filename, data)
	if err != nil {
		return nil, err
	}
	p, err := im.parsers.GetParser(format)
	if err != nil {
		return nil, err
	}

	doc, err := p.Parse(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", format, err)
	}
	doc.Format = format
	applyMetadata(doc, filename, meta)

	sum := sha256.Sum256(data)
	doc.SHA256 = hex.EncodeToString(sum[:])

	found := im.detector.Detect(doc)
	doc.TotalChapters = len(found)
	doc.TotalChars = 0
	for _, ch := range found {
		doc.TotalChars += ch.CharCount
	}
	return &Extraction{Document: doc, Chapters: found}, nil
}

// Import stores the raw file, extracts it and persists the document and its
// chapters. A document that fails to parse is still stored with the error
// status so it shows up in listings.
func (im *Importer) Import(ctx context.Context, filename string, data []byte, meta Metadata) (*Extraction, error) {
	docID, err := id.Generate(id.PrefixDocument)
	if err != nil {
		return nil, err
	}
	log := im.logger.With("document_id", docID, "filename", filename)

	ex, err := im.Extract(ctx, filename, data, meta)
	if err != nil {
		if domainerrors.CodeOf(err) != domainerrors.CodeInternal {
			return nil, err
		}
		log.Warn("document extraction failed", "error", err)
		failed := &types.Document{
			ID:         docID,
			Title:      titleFromFilename(filename),
			UploadedAt: im.now().UTC(),
			Status:     types.DocumentError,
			Error:      err.Error(),
		}
		if saveErr := im.repo.SaveDocument(ctx, failed); saveErr != nil {
			log.Error("failed to record extraction error", "error", saveErr)
		}
		return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "document could not be read")
	}

	doc := ex.Document
	doc.ID = docID
	doc.UploadedAt = im.now().UTC()
	doc.Status = types.DocumentExtracting
	for _, ch := range ex.Chapters {
		ch.DocumentID = docID
	}

	if err := im.repo.SaveRawFile(ctx, docID, data, doc.Format); err != nil {
		return nil, err
	}
	if err := im.repo.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	for _, ch := range ex.Chapters {
		if err := im.repo.SaveChapter(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to save chapter %s: %w", ch.ID, err)
		}
	}

	doc.Status = types.DocumentReady
	if err := im.repo.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	log.Info("document imported",
		"format", doc.Format,
		"chapters", doc.TotalChapters,
		"chars", doc.TotalChars,
	)
	return ex, nil
}

func applyMetadata(doc *types.Document, filename string, meta Metadata) {
	if meta.Title != "" {
		doc.Title = meta.Title
	}
	if meta.Author != "" {
		doc.Author = meta.Author
	}
	if meta.Language != "" {
		doc.Language = meta.Language
	}
	if strings.TrimSpace(doc.Title) == "" {
		doc.Title = titleFromFilename(filename)
	}
	if doc.Language == "" {
		doc.Language = "en"
	}
}

func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.NewReplacer("_", " ", "-", " ").Replace(title)
	if title = strings.TrimSpace(title); title == "" || title == "." {
		return "Untitled"
	}
	return title
}
