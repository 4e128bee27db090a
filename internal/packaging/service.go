// Package packaging bundles a finished conversion into a single ZIP archive.
package packaging

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/unalkalkan/bookcast/internal/audio"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const formatVersion = "1.0"

// Service handles conversion packaging into ZIP archives
type Service struct {
	storage storage.Adapter
}

// NewService creates a new packaging service
func NewService(storageAdapter storage.Adapter) *Service {
	return &Service{
		storage: storageAdapter,
	}
}

// Manifest represents the top-level archive manifest
type Manifest struct {
	JobID         string    `json:"job_id"`
	DocumentID    string    `json:"document_id"`
	Title         string    `json:"title"`
	Author        string    `json:"author,omitempty"`
	Language      string    `json:"language,omitempty"`
	Provider      string    `json:"provider"`
	Voice         string    `json:"voice"`
	ChapterCount  int       `json:"chapter_count"`
	TotalChars    int       `json:"total_chars"`
	TotalDuration float64   `json:"total_duration_seconds"`
	CreatedAt     time.Time `json:"created_at"`
	Version       string    `json:"version"`
}

// TOC represents the table of contents
type TOC struct {
	Chapters []TOCChapter `json:"chapters"`
}

// TOCChapter represents a chapter in the TOC
type TOCChapter struct {
	ID            string  `json:"id"`
	Number        int     `json:"number"`
	Title         string  `json:"title"`
	Confidence    float64 `json:"confidence"`
	DetectionType string  `json:"detection_type"`
	File          string  `json:"file,omitempty"`
	StartTime     float64 `json:"start_time_seconds"`
	Duration      float64 `json:"duration_seconds"`
}

// PackageConversion creates a ZIP archive for a completed conversion
func (s *Service) PackageConversion(ctx context.Context, jobID string) (io.Reader, error) {
	var manifest types.ConversionManifest
	if err := storage.GetJSON(ctx, s.storage, util.ConversionManifestKey(jobID), &manifest); err != nil {
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFoundf("conversion not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	full, err := storage.GetBytes(ctx, s.storage, util.FullAudioKey(jobID))
	if err != nil {
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.Conflictf("conversion %s has no audio yet", jobID)
		}
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	buf := new(bytes.Buffer)
	zipWriter := zip.NewWriter(buf)

	toc := &TOC{Chapters: make([]TOCChapter, 0, len(manifest.Chapters))}
	start := 0.0
	for _, chapter := range manifest.Chapters {
		entry := TOCChapter{
			ID:            chapter.ID,
			Number:        chapter.Number,
			Title:         chapter.Title,
			Confidence:    chapter.Confidence,
			DetectionType: chapter.DetectionType,
			StartTime:     start,
		}

		if chapter.AudioKey != "" {
			data, err := storage.GetBytes(ctx, s.storage, chapter.AudioKey)
			switch {
			case err == nil:
				entry.File = chapterFileName(chapter)
				entry.Duration = audio.Duration(data).Seconds()
				if err := addFile(zipWriter, entry.File, data); err != nil {
					return nil, fmt.Errorf("failed to add chapter %s: %w", chapter.ID, err)
				}
			case !domainerrors.Is(err, domainerrors.ErrNotFound):
				return nil, fmt.Errorf("failed to read chapter %s: %w", chapter.ID, err)
			}
		}

		toc.Chapters = append(toc.Chapters, entry)
		start += entry.Duration
	}

	if err := addJSONFile(zipWriter, "manifest.json", &Manifest{
		JobID:         manifest.JobID,
		DocumentID:    manifest.DocumentID,
		Title:         manifest.Title,
		Author:        manifest.Author,
		Language:      manifest.Language,
		Provider:      manifest.Provider,
		Voice:         manifest.VoiceID,
		ChapterCount:  len(manifest.Chapters),
		TotalChars:    manifest.TotalChars,
		TotalDuration: audio.Duration(full).Seconds(),
		CreatedAt:     manifest.CreatedAt,
		Version:       formatVersion,
	}); err != nil {
		return nil, fmt.Errorf("failed to add manifest: %w", err)
	}

	if err := addJSONFile(zipWriter, "toc.json", toc); err != nil {
		return nil, fmt.Errorf("failed to add toc: %w", err)
	}

	if err := addFile(zipWriter, "full.mp3", full); err != nil {
		return nil, fmt.Errorf("failed to add full audio: %w", err)
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip: %w", err)
	}

	return bytes.NewReader(buf.Bytes()), nil
}

// chapterFileName returns "chapters/NNN-slug.mp3".
func chapterFileName(ch types.ManifestChapter) string {
	name := fmt.Sprintf("chapters/%03d", ch.Number)
	if slug := slugify(ch.Title); slug != "" {
		name += "-" + slug
	}
	return name + ".mp3"
}

// slugify lowercases title and keeps ASCII letters and digits, folding
// accents and collapsing everything else into single dashes.
func slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(title) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if len(slug) > 48 {
		slug = strings.TrimSuffix(slug[:48], "-")
	}
	return slug
}

func addJSONFile(zipWriter *zip.Writer, path string, data any) error {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return addFile(zipWriter, path, jsonData)
}

func addFile(zipWriter *zip.Writer, path string, data []byte) error {
	writer, err := zipWriter.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}
