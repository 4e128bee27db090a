package api

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unalkalkan/bookcast/internal/cache"
	"github.com/unalkalkan/bookcast/internal/conversion"
	"github.com/unalkalkan/bookcast/internal/document"
	"github.com/unalkalkan/bookcast/internal/events"
	"github.com/unalkalkan/bookcast/internal/health"
	"github.com/unalkalkan/bookcast/internal/history"
	"github.com/unalkalkan/bookcast/internal/parser"
	"github.com/unalkalkan/bookcast/internal/provider"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/streaming"
	"github.com/unalkalkan/bookcast/pkg/types"
)

type testServer struct {
	srv     *Server
	manager *conversion.Manager
	history *history.Store
}

func newTestServer(t *testing.T, cfg *types.Config) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	store, err := storage.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)

	audioCache, err := cache.New(store, types.CacheConfig{Enabled: true}, nil)
	require.NoError(t, err)

	hist, err := history.Open(ctx, ":memory:", nil)
	require.NoError(t, err)

	stubCfg := types.TTSProviderConfig{
		Name:          "stub-tts",
		Type:          provider.StubTTSType,
		Enabled:       true,
		DefaultVoice:  "stub-voice-1",
		MaxChunkChars: 200,
	}
	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(provider.NewStubTTSProvider(stubCfg), stubCfg))

	eventManager := events.NewManager(nil, time.Minute)
	go eventManager.Start(ctx)

	docs := document.NewRepository(store)
	pipeline := types.PipelineConfig{WorkerPoolSize: 1, ChunkConcurrency: 2, MaxRetries: 1, RetryBackoffMs: 1, ProgressTickMs: 10}
	orch := conversion.NewOrchestrator(conversion.Dependencies{
		Registry: registry,
		Storage:  store,
		Cache:    audioCache,
		History:  hist,
		Emitter:  eventManager,
	}, pipeline, nil)
	manager := conversion.NewManager(orch, docs, pipeline, nil)
	manager.Start(ctx)

	healthHandler := health.NewHandler("test")
	healthHandler.Register("storage", health.StorageCheck(store))
	healthHandler.Register("history", health.PingCheck(hist.Ping))

	if cfg == nil {
		cfg = &types.Config{}
	}
	srv := NewServer(Dependencies{
		Config:      cfg,
		Version:     "test",
		Storage:     store,
		Documents:   docs,
		Importer:    document.NewImporter(docs, parser.NewFactory(), nil, nil),
		Conversions: manager,
		History:     hist,
		Registry:    registry,
		Cache:       audioCache,
		Events:      eventManager,
		Health:      healthHandler,
	}, nil)

	t.Cleanup(func() {
		manager.Stop()
		srv.Close()
		_ = eventManager.Shutdown(context.Background())
		cancel()
		_ = hist.Close()
		_ = audioCache.Close()
		_ = store.Close()
	})
	return &testServer{srv: srv, manager: manager, history: hist}
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	ts.srv.ServeHTTP(w, req)
	return w
}

func (ts *testServer) upload(t *testing.T, filename, content string, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return ts.do(t, http.MethodPost, "/api/v1/documents", &buf, mw.FormDataContentType())
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error ErrorBody `json:"error"`
	}
	decodeBody(t, w, &env)
	return string(env.Error.Code)
}

func bookText() string {
	para := strings.Repeat("The lighthouse keeper climbed the stairs again before dawn. ", 5)
	return "Chapter One\n\n" + para + "\n\nChapter Two\n\n" + para + "\n"
}

func uploadBook(t *testing.T, ts *testServer) DocumentResponse {
	t.Helper()
	w := ts.upload(t, "lighthouse.txt", bookText(), map[string]string{"title": "The Lighthouse"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp DocumentResponse
	decodeBody(t, w, &resp)
	return resp
}

func TestDocumentsAPI(t *testing.T) {
	ts := newTestServer(t, nil)

	created := uploadBook(t, ts)
	docID := created.Document.ID
	assert.Equal(t, "The Lighthouse", created.Document.Title)
	assert.Equal(t, types.DocumentReady, created.Document.Status)
	require.Len(t, created.Chapters, 2)
	assert.Equal(t, "Chapter One", created.Chapters[0].Title)

	t.Run("List", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/documents", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Documents []types.Document `json:"documents"`
			Count     int              `json:"count"`
		}
		decodeBody(t, w, &resp)
		assert.Equal(t, 1, resp.Count)
		assert.Equal(t, docID, resp.Documents[0].ID)
	})

	t.Run("Get", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/documents/"+docID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp DocumentResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, docID, resp.Document.ID)
		assert.Len(t, resp.Chapters, 2)
	})

	t.Run("Chapters", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/documents/"+docID+"/chapters", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Chapters []types.Chapter `json:"chapters"`
		}
		decodeBody(t, w, &resp)
		require.Len(t, resp.Chapters, 2)
		assert.NotEmpty(t, resp.Chapters[0].Paragraphs)
	})

	t.Run("NotFound", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/documents/doc-missing", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NOT_FOUND", errorCode(t, w))
	})

	t.Run("Delete", func(t *testing.T) {
		w := ts.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil, "")
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = ts.do(t, http.MethodGet, "/api/v1/documents/"+docID, nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUploadErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.upload(t, "", "", map[string]string{"title": "No File"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, w))

	w = ts.upload(t, "cover.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\x00", nil)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, "UNSUPPORTED", errorCode(t, w))
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServer(t, &types.Config{Server: types.ServerConfig{MaxUploadMB: 1}})

	w := ts.upload(t, "huge.txt", strings.Repeat("a", 2<<20), nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "TOO_LARGE", errorCode(t, w))
}

func TestUploadRateLimit(t *testing.T) {
	ts := newTestServer(t, &types.Config{RateLimit: types.RateLimitConfig{UploadRPS: 0.001, UploadBurst: 1}})

	w := ts.upload(t, "one.txt", bookText(), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.upload(t, "two.txt", bookText(), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	// Reads are not limited.
	w = ts.do(t, http.MethodGet, "/api/v1/documents", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestConversionsAPI(t *testing.T) {
	ts := newTestServer(t, nil)
	doc := uploadBook(t, ts)

	body := `{"document_id":"` + doc.Document.ID + `","provider":"stub-tts"}`
	w := ts.do(t, http.MethodPost, "/api/v1/conversions", strings.NewReader(body), "application/json")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var job conversion.JobView
	decodeBody(t, w, &job)
	assert.Equal(t, "/api/v1/conversions/"+job.ID, w.Header().Get("Location"))
	assert.Equal(t, "stub-voice-1", job.Request.VoiceID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	view, err := ts.manager.Wait(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, view.Status, view.Error)

	t.Run("Get", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID, nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ConversionResponse
		decodeBody(t, w, &resp)
		assert.Equal(t, types.JobCompleted, resp.Status)
		require.NotNil(t, resp.Live)
		assert.Equal(t, 100.0, resp.Live.Progress.Percent)
		assert.NotNil(t, resp.History)
	})

	t.Run("Audio", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID+"/audio", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("ID3")))

		w = ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID+"/audio?chapter="+doc.Chapters[1].ID, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)

		w = ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID+"/audio?chapter=chapter_999", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Chunks", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID+"/chunks", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

		var items []streaming.StreamItem
		scanner := bufio.NewScanner(w.Body)
		for scanner.Scan() {
			var item streaming.StreamItem
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &item))
			items = append(items, item)
		}
		require.Len(t, items, view.TotalChunks)

		w = ts.do(t, http.MethodGet, items[0].AudioURL, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "audio/mpeg", w.Header().Get("Content-Type"))

		w = ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID+"/chunks/abc/audio", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Package", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/conversions/"+job.ID+"/package", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))

		zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
		require.NoError(t, err)
		names := make(map[string]bool)
		for _, f := range zr.File {
			names[f.Name] = true
		}
		assert.True(t, names["manifest.json"])
		assert.True(t, names["toc.json"])
		assert.True(t, names["full.mp3"])
		assert.True(t, names["chapters/001-chapter-one.mp3"])
	})

	t.Run("CancelFinished", func(t *testing.T) {
		w := ts.do(t, http.MethodDelete, "/api/v1/conversions/"+job.ID, nil, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("List", func(t *testing.T) {
		require.Eventually(t, func() bool {
			rec, err := ts.history.Get(context.Background(), job.ID)
			return err == nil && rec.Status == types.JobCompleted
		}, 5*time.Second, 10*time.Millisecond)

		w := ts.do(t, http.MethodGet, "/api/v1/conversions?status=completed&provider=stub-tts", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Conversions []types.ConversionRecord `json:"conversions"`
			Total       int                      `json:"total"`
		}
		decodeBody(t, w, &resp)
		assert.Equal(t, 1, resp.Total)

		w = ts.do(t, http.MethodGet, "/api/v1/conversions?status=failed", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		decodeBody(t, w, &resp)
		assert.Equal(t, 0, resp.Total)

		w = ts.do(t, http.MethodGet, "/api/v1/conversions?q=lighthouse", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		decodeBody(t, w, &resp)
		require.Len(t, resp.Conversions, 1)
		assert.Equal(t, job.ID, resp.Conversions[0].ID)

		w = ts.do(t, http.MethodGet, "/api/v1/conversions?limit=abc", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Stats", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/api/v1/stats", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]json.RawMessage
		decodeBody(t, w, &resp)
		assert.Contains(t, resp, "jobs")
		assert.Contains(t, resp, "history")
		assert.Contains(t, resp, "cache")
	})
}

func TestCreateConversionErrors(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"empty body", ``, http.StatusBadRequest},
		{"malformed", `{"document_id":`, http.StatusBadRequest},
		{"unknown field", `{"document_id":"doc-1","provider":"stub-tts","speed":2}`, http.StatusBadRequest},
		{"missing provider", `{"document_id":"doc-1"}`, http.StatusBadRequest},
		{"unknown provider", `{"document_id":"doc-1","provider":"nope"}`, http.StatusBadRequest},
		{"unknown document", `{"document_id":"doc-missing","provider":"stub-tts"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/conversions", strings.NewReader(tt.body), "application/json")
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}

	w := ts.do(t, http.MethodGet, "/api/v1/conversions/job-missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/conversions/job-missing/package", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestProvidersAndVoices(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/providers", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var providers struct {
		Providers []ProviderResponse `json:"providers"`
	}
	decodeBody(t, w, &providers)
	require.Len(t, providers.Providers, 1)
	assert.Equal(t, "stub-tts", providers.Providers[0].Name)
	assert.Equal(t, 200, providers.Providers[0].MaxChunkChars)
	assert.NotContains(t, w.Body.String(), "api_key")

	for _, target := range []string{"/api/v1/voices", "/api/v1/voices?provider=stub-tts"} {
		w := ts.do(t, http.MethodGet, target, nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Voices []VoiceResponse `json:"voices"`
			Count  int             `json:"count"`
		}
		decodeBody(t, w, &resp)
		require.NotEmpty(t, resp.Voices)
		assert.Equal(t, len(resp.Voices), resp.Count)
		assert.Equal(t, "stub-tts", resp.Voices[0].Provider)
		assert.NotEmpty(t, resp.Voices[0].ID)
		assert.NotEmpty(t, resp.Voices[0].Languages)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/voices?provider=missing", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutingAndHealth(t *testing.T) {
	ts := newTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/api/v1/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
	assert.NotEmpty(t, w.Header().Get("Content-Type"))

	w = ts.do(t, http.MethodPut, "/api/v1/documents/doc-1", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/info", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]any
	decodeBody(t, w, &info)
	assert.Equal(t, "test", info["version"])

	for _, target := range []string{"/health", "/health/live", "/health/ready"} {
		w := ts.do(t, http.MethodGet, target, nil, "")
		assert.Equal(t, http.StatusOK, w.Code, target)
	}
}
