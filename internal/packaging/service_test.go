package packaging

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/unalkalkan/bookcast/internal/audio"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

func TestService_PackageConversion(t *testing.T) {
	ctx := context.Background()

	storageAdapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage adapter: %v", err)
	}
	defer storageAdapter.Close()

	const jobID = "job-pkg-001"
	chapterOne := audio.SyntheticMP3([]byte("one"), 10)
	chapterTwo := audio.SyntheticMP3([]byte("two"), 5)
	full := audio.Concat([][]byte{chapterOne, chapterTwo})

	manifest := types.ConversionManifest{
		JobID:      jobID,
		DocumentID: "doc-1",
		Title:      "Test Package Book",
		Author:     "Test Author",
		Language:   "en",
		Provider:   "stub",
		VoiceID:    "stub-voice-1",
		TotalChars: 1234,
		CreatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Chapters: []types.ManifestChapter{
			{
				ID: "chapter_001", Number: 1, Title: "Chapter One: The Début",
				Confidence: 0.9, DetectionType: "heading",
				AudioKey: util.ChapterAudioKey(jobID, "chapter_001"),
			},
			{
				ID: "chapter_002", Number: 2, Title: "Chapter Two",
				Confidence: 0.6, DetectionType: "pattern",
				AudioKey: util.ChapterAudioKey(jobID, "chapter_002"),
			},
			{ID: "chapter_003", Number: 3, Title: "Missing Audio", DetectionType: "fallback"},
		},
	}
	if err := storage.PutJSON(ctx, storageAdapter, util.ConversionManifestKey(jobID), manifest); err != nil {
		t.Fatalf("Failed to save manifest: %v", err)
	}
	for key, data := range map[string][]byte{
		util.ChapterAudioKey(jobID, "chapter_001"): chapterOne,
		util.ChapterAudioKey(jobID, "chapter_002"): chapterTwo,
		util.FullAudioKey(jobID):                   full,
	} {
		if err := storage.PutBytes(ctx, storageAdapter, key, data); err != nil {
			t.Fatalf("Failed to save %s: %v", key, err)
		}
	}

	service := NewService(storageAdapter)

	reader, err := service.PackageConversion(ctx, jobID)
	if err != nil {
		t.Fatalf("Failed to package conversion: %v", err)
	}

	zipData, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("Failed to read zip data: %v", err)
	}
	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		t.Fatalf("Failed to open zip: %v", err)
	}

	files := make(map[string][]byte)
	for _, f := range zipReader.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Failed to read %s: %v", f.Name, err)
		}
		files[f.Name] = data
	}

	for _, name := range []string{
		"manifest.json",
		"toc.json",
		"full.mp3",
		"chapters/001-chapter-one-the-debut.mp3",
		"chapters/002-chapter-two.mp3",
	} {
		if _, ok := files[name]; !ok {
			t.Errorf("Expected %s in archive", name)
		}
	}
	if len(files) != 5 {
		t.Errorf("Expected 5 files, got %d", len(files))
	}
	if !bytes.Equal(files["full.mp3"], full) {
		t.Error("full.mp3 does not match stored audio")
	}

	var gotManifest Manifest
	if err := json.Unmarshal(files["manifest.json"], &gotManifest); err != nil {
		t.Fatalf("Failed to parse manifest: %v", err)
	}
	if gotManifest.Title != "Test Package Book" || gotManifest.Voice != "stub-voice-1" {
		t.Errorf("Unexpected manifest: %+v", gotManifest)
	}
	if gotManifest.ChapterCount != 3 {
		t.Errorf("Expected 3 chapters, got %d", gotManifest.ChapterCount)
	}
	if gotManifest.TotalChars != 1234 {
		t.Errorf("Expected 1234 chars, got %d", gotManifest.TotalChars)
	}
	wantTotal := (15 * audio.FrameDuration).Seconds()
	if math.Abs(gotManifest.TotalDuration-wantTotal) > 0.001 {
		t.Errorf("Expected duration %.3f, got %.3f", wantTotal, gotManifest.TotalDuration)
	}

	var toc TOC
	if err := json.Unmarshal(files["toc.json"], &toc); err != nil {
		t.Fatalf("Failed to parse toc: %v", err)
	}
	if len(toc.Chapters) != 3 {
		t.Fatalf("Expected 3 TOC chapters, got %d", len(toc.Chapters))
	}
	first, second, third := toc.Chapters[0], toc.Chapters[1], toc.Chapters[2]
	if first.StartTime != 0 || first.Confidence != 0.9 || first.DetectionType != "heading" {
		t.Errorf("Unexpected first chapter: %+v", first)
	}
	if math.Abs(second.StartTime-first.Duration) > 0.001 {
		t.Errorf("Second chapter should start at %.3f, got %.3f", first.Duration, second.StartTime)
	}
	if third.File != "" || third.Duration != 0 {
		t.Errorf("Chapter without audio should have no file: %+v", third)
	}
}

func TestService_PackageConversionErrors(t *testing.T) {
	ctx := context.Background()

	storageAdapter, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create storage adapter: %v", err)
	}
	defer storageAdapter.Close()

	service := NewService(storageAdapter)

	if _, err := service.PackageConversion(ctx, "job-missing"); !errors.Is(err, domainerrors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}

	manifest := types.ConversionManifest{JobID: "job-running", Title: "Unfinished"}
	if err := storage.PutJSON(ctx, storageAdapter, util.ConversionManifestKey("job-running"), manifest); err != nil {
		t.Fatalf("Failed to save manifest: %v", err)
	}
	if _, err := service.PackageConversion(ctx, "job-running"); !errors.Is(err, domainerrors.ErrConflict) {
		t.Errorf("Expected conflict, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Chapter One", "chapter-one"},
		{"  Part II: The Return!  ", "part-ii-the-return"},
		{"Café Crème", "cafe-creme"},
		{"第一章", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := slugify(tt.title); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestChapterFileName(t *testing.T) {
	if got := chapterFileName(types.ManifestChapter{Number: 7, Title: "The End"}); got != "chapters/007-the-end.mp3" {
		t.Errorf("Unexpected file name %q", got)
	}
	if got := chapterFileName(types.ManifestChapter{Number: 12}); got != "chapters/012.mp3" {
		t.Errorf("Unexpected file name %q", got)
	}
}
