package conversion

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/bookcast/internal/cache"
	"github.com/unalkalkan/bookcast/internal/document"
	"github.com/unalkalkan/bookcast/internal/events"
	"github.com/unalkalkan/bookcast/internal/history"
	"github.com/unalkalkan/bookcast/internal/provider"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// recorder keeps every emitted event.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Emit(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(jobID string, t events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.JobID == jobID && e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *storage.LocalAdapter
	docs     *document.StorageRepository
	registry *provider.Registry
	stub     *provider.StubTTSProvider
	cache    *cache.Cache
	history  *history.Store
	events   *recorder
	orch     *Orchestrator
	doc      *types.Document
	chapters []*types.Chapter
}

func testPipelineConfig() types.PipelineConfig {
	return types.PipelineConfig{
		WorkerPoolSize:   2,
		ChunkConcurrency: 3,
		MaxRetries:       2,
		RetryBackoffMs:   1,
		ProgressTickMs:   10,
	}
}

func newFixture(t *testing.T, stubOptions map[string]string) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	audioCache, err := cache.New(store, types.CacheConfig{Enabled: true}, nil)
	require.NoError(t, err)

	hist, err := history.Open(ctx, ":memory:", nil)
	require.NoError(t, err)

	cfg := types.TTSProviderConfig{
		Name:          "stub",
		Type:          provider.StubTTSType,
		Enabled:       true,
		DefaultVoice:  "stub-voice-1",
		MaxChunkChars: 200,
		Options:       stubOptions,
	}
	stub := provider.NewStubTTSProvider(cfg)
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(stub, cfg))

	f := &fixture{
		store:    store,
		docs:     document.NewRepository(store),
		registry: registry,
		stub:     stub,
		cache:    audioCache,
		history:  hist,
		events:   &recorder{},
	}
	f.orch = NewOrchestrator(Dependencies{
		Registry: registry,
		Storage:  store,
		Cache:    audioCache,
		History:  hist,
		Emitter:  f.events,
	}, testPipelineConfig(), nil)

	f.doc, f.chapters = f.seedDocument(t, "doc-1", "The Test Book", 2)

	t.Cleanup(func() {
		f.orch.Close()
		_ = hist.Close()
		_ = audioCache.Close()
		_ = store.Close()
	})
	return f
}

// seedDocument stores a ready document whose chapters each produce several
// chunks at 200 characters.
func (f *fixture) seedDocument(t *testing.T, docID, title string, chapterCount int) (*types.Document, []*types.Chapter) {
	t.Helper()
	ctx := context.Background()

	doc := &types.Document{
		ID:            docID,
		Title:         title,
		Author:        "A. Writer",
		Language:      "en",
		Format:        "txt",
		UploadedAt:    time.Now(),
		Status:        types.DocumentReady,
		TotalChapters: chapterCount,
	}

	chapters := make([]*types.Chapter, chapterCount)
	for c := range chapters {
		var paragraphs []string
		for p := 0; p < 3; p++ {
			var sentences []string
			for s := 0; s < 4; s++ {
				sentences = append(sentences, fmt.Sprintf("Sentence %d of paragraph %d in chapter %d is here.", s+1, p+1, c+1))
			}
			paragraphs = append(paragraphs, strings.Join(sentences, " "))
		}
		chars := 0
		for _, p := range paragraphs {
			chars += len(p)
		}
		chapters[c] = &types.Chapter{
			ID:            fmt.Sprintf("chapter_%03d", c+1),
			DocumentID:    docID,
			Number:        c + 1,
			Title:         fmt.Sprintf("Chapter %d", c+1),
			Paragraphs:    paragraphs,
			Confidence:    0.9,
			DetectionType: types.DetectionPattern,
			CharCount:     chars,
		}
		doc.TotalChars += chars
		require.NoError(t, f.docs.SaveChapter(ctx, chapters[c]))
	}
	require.NoError(t, f.docs.SaveDocument(ctx, doc))
	return doc, chapters
}

func (f *fixture) request() types.ConversionRequest {
	return types.ConversionRequest{DocumentID: f.doc.ID, Provider: "stub"}
}

func (f *fixture) newManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(f.orch, f.docs, testPipelineConfig(), nil)
	return m
}
