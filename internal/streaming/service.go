// Package streaming exposes a conversion's finished chunks while the rest
// are still being synthesized, so clients can start playback early.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// Service lists synthesized chunks from object storage
type Service struct {
	storage storage.Adapter
}

// NewService creates a new streaming service
func NewService(storageAdapter storage.Adapter) *Service {
	return &Service{
		storage: storageAdapter,
	}
}

// StreamItem represents a single item in the NDJSON stream
type StreamItem struct {
	Index     int    `json:"index"`
	ChapterID string `json:"chapter_id"`
	Text      string `json:"text"`
	AudioURL  string `json:"audio_url"`
}

// StreamChunks returns the chunks of jobID whose audio is stored, in index
// order, skipping indexes up to and including after. Pass -1 for all.
func (s *Service) StreamChunks(ctx context.Context, jobID string, after int) ([]StreamItem, error) {
	manifest, err := s.manifest(ctx, jobID)
	if err != nil {
		return nil, err
	}

	keys, err := s.storage.List(ctx, path.Dir(util.ChunkAudioKey(jobID, 0))+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list chunk audio: %w", err)
	}
	stored := make(map[int]bool, len(keys))
	for _, key := range keys {
		if i, ok := chunkIndex(key); ok {
			stored[i] = true
		}
	}

	items := make([]StreamItem, 0, len(stored))
	for _, chunk := range manifest.Chunks {
		if chunk.Index <= after || !stored[chunk.Index] {
			continue
		}
		items = append(items, StreamItem{
			Index:     chunk.Index,
			ChapterID: chunk.ChapterID,
			Text:      chunk.Text,
			AudioURL:  audioURL(jobID, chunk.Index),
		})
	}
	return items, nil
}

// ChunkAudio returns the stored MP3 for one chunk
func (s *Service) ChunkAudio(ctx context.Context, jobID string, index int) ([]byte, error) {
	if index < 0 {
		return nil, domainerrors.Validationf("chunk index must not be negative")
	}
	return storage.GetBytes(ctx, s.storage, util.ChunkAudioKey(jobID, index))
}

func (s *Service) manifest(ctx context.Context, jobID string) (*types.ConversionManifest, error) {
	var m types.ConversionManifest
	if err := storage.GetJSON(ctx, s.storage, util.ConversionManifestKey(jobID), &m); err != nil {
		if domainerrors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFoundf("no chunks for conversion %s", jobID)
		}
		return nil, err
	}
	return &m, nil
}

// chunkIndex parses ".../chunks/00012.mp3".
func chunkIndex(key string) (int, bool) {
	name := strings.TrimSuffix(path.Base(key), ".mp3")
	i, err := strconv.Atoi(name)
	return i, err == nil
}

func audioURL(jobID string, index int) string {
	return fmt.Sprintf("/api/v1/conversions/%s/chunks/%d/audio", jobID, index)
}

// EncodeNDJSON writes one JSON object per line
func EncodeNDJSON(w io.Writer, items []StreamItem) error {
	enc := json.NewEncoder(w)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to encode item: %w", err)
		}
	}
	return nil
}
