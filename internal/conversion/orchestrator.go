// Package conversion runs documents through chunking, speech synthesis and
// audio assembly, and schedules those runs on a pool of workers.
package conversion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/unalkalkan/bookcast/internal/audio"
	"github.com/unalkalkan/bookcast/internal/cache"
	"github.com/unalkalkan/bookcast/internal/chunker"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/events"
	"github.com/unalkalkan/bookcast/internal/history"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/internal/progress"
	"github.com/unalkalkan/bookcast/internal/provider"
	"github.com/unalkalkan/bookcast/internal/ratelimit"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	defaultChunkConcurrency = 3
	maxRetryDelay           = 30 * time.Second
	textSeparator           = "\x1e"
)

// Dependencies are the collaborators of an Orchestrator. Cache and History
// may be nil; Emitter defaults to a no-op.
type Dependencies struct {
	Registry *provider.Registry
	Storage  storage.Adapter
	Cache    *cache.Cache
	History  *history.Store
	Emitter  events.Emitter
}

// Orchestrator converts one job at a time per call to Run. It is safe to
// run several jobs concurrently.
type Orchestrator struct {
	registry *provider.Registry
	store    storage.Adapter
	cache    *cache.Cache
	history  *history.Store
	emitter  events.Emitter
	limiter  *ratelimit.KeyedLimiter
	config   types.PipelineConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewOrchestrator creates an orchestrator. Outbound calls are paced per
// provider by its rate_limit_qps setting.
func NewOrchestrator(deps Dependencies, cfg types.PipelineConfig, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = logger.Discard()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NoopEmitter{}
	}

	limiter := ratelimit.New(0, max(1, cfg.ChunkConcurrency))
	for _, name := range deps.Registry.List() {
		if pc, ok := deps.Registry.Config(name); ok && pc.RateLimitQPS > 0 {
			limiter.SetLimit(name, pc.RateLimitQPS)
		}
	}

	return &Orchestrator{
		registry: deps.Registry,
		store:    deps.Storage,
		cache:    deps.Cache,
		history:  deps.History,
		emitter:  deps.Emitter,
		limiter:  limiter,
		config:   cfg,
		logger:   logger.Component(log, "orchestrator"),
		now:      time.Now,
	}
}

// Close releases the rate limiter.
func (o *Orchestrator) Close() {
	o.limiter.Stop()
}

// Run converts the selected chapters of doc and moves job to a terminal
// status. The returned error is the reason a job failed or was cancelled.
func (o *Orchestrator) Run(ctx context.Context, job *Job, doc *types.Document, chapters []*types.Chapter) error {
	log := o.logger.With("job_id", job.ID, "document_id", doc.ID, "provider", job.Request.Provider)
	started := o.now()

	err := o.run(ctx, log, job, doc, chapters)
	o.finish(ctx, log, job, err)

	if err == nil {
		log.Info("conversion completed", "chunks", job.View().TotalChunks, "duration", o.now().Sub(started))
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, job *Job, doc *types.Document, chapters []*types.Chapter) error {
	tts, err := o.registry.Get(job.Request.Provider)
	if err != nil {
		return err
	}

	selected, err := selectChapters(chapters, job.Request.ChapterIDs)
	if err != nil {
		return err
	}
	job.setTitle(doc.Title)

	job.estimator.SetStage(progress.StageChunking)
	o.emitProgress(job)

	chunks := chunker.New(tts.MaxChunkChars()).ChunkChapters(selected)
	if len(chunks) == 0 {
		return domainerrors.Validationf("document %s has no text to convert", doc.ID)
	}

	totalChars := 0
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		totalChars += c.CharCount
		texts[i] = c.Text
	}
	job.setWorkload(len(chunks), totalChars)

	settings := o.settings(tts, job.Request)
	wholeKey := settings.hash(strings.Join(texts, textSeparator))
	job.setCacheKey(wholeKey)

	manifest := buildManifest(job, doc, selected, chunks, settings.voice, totalChars)
	if err := o.saveManifest(ctx, manifest); err != nil {
		return err
	}
	o.saveHistory(ctx, log, job)

	log.Info("conversion started",
		"chapters", len(selected),
		"chunks", len(chunks),
		"chars", totalChars,
		"max_chunk_chars", tts.MaxChunkChars())

	if full, ok := o.cacheGet(ctx, log, wholeKey); ok {
		log.Info("whole output served from cache", "cache_key", wholeKey)
		return o.completeFromCache(ctx, log, job, manifest, settings, full)
	}

	job.estimator.Begin(len(chunks), totalChars)
	o.emitProgress(job)

	parts, err := o.synthesizeAll(ctx, log, job, tts, settings, chunks)
	if err != nil {
		return err
	}

	job.estimator.SetStage(progress.StageFinalizing)
	o.emitProgress(job)

	full := audio.Concat(parts)
	if err := o.writeOutputs(ctx, job, manifest, parts, full); err != nil {
		return err
	}
	o.cachePut(ctx, log, wholeKey, full)
	return nil
}

// completeFromCache writes the cached whole output. Chunk and chapter files
// are restored from the chunk cache where every piece is still present.
func (o *Orchestrator) completeFromCache(ctx context.Context, log *slog.Logger, job *Job, manifest *types.ConversionManifest, settings synthSettings, full []byte) error {
	job.estimator.SetStage(progress.StageFinalizing)
	o.emitProgress(job)

	parts := make([][]byte, len(manifest.Chunks))
	for i, c := range manifest.Chunks {
		if data, ok := o.cacheGet(ctx, log, settings.hash(c.Text)); ok {
			parts[i] = data
			if err := storage.PutBytes(ctx, o.store, util.ChunkAudioKey(job.ID, c.Index), data); err != nil {
				return fmt.Errorf("failed to store chunk audio: %w", err)
			}
		}
	}
	return o.writeOutputs(ctx, job, manifest, parts, full)
}

// synthesizeAll returns audio for every chunk in index order.
func (o *Orchestrator) synthesizeAll(ctx context.Context, log *slog.Logger, job *Job, tts provider.TTSProvider, settings synthSettings, chunks []types.Chunk) ([][]byte, error) {
	results := make([][]byte, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency(tts.Name()))

	for _, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			start := o.now()
			data, cached, err := o.synthesizeChunk(gctx, log, tts, settings, chunk)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunk.Index, err)
			}
			if err := storage.PutBytes(gctx, o.store, util.ChunkAudioKey(job.ID, chunk.Index), data); err != nil {
				return fmt.Errorf("failed to store chunk %d audio: %w", chunk.Index, err)
			}
			results[chunk.Index] = data

			// Cache hits carry no synthesis time and must not feed the
			// throughput average.
			took := o.now().Sub(start)
			if cached {
				took = 0
			}
			job.chunkDone()
			job.estimator.ChunkCompleted(chunk.CharCount, took)
			o.emitter.Emit(events.New(events.EventConversionChunk, job.ID, events.ChunkData{
				Index:     chunk.Index,
				ChapterID: chunk.ChapterID,
				Cached:    cached,
				Bytes:     len(data),
			}))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	// The loop stops early on cancellation without any goroutine failing.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// synthesizeChunk returns audio for one chunk and whether it came from the
// cache.
func (o *Orchestrator) synthesizeChunk(ctx context.Context, log *slog.Logger, tts provider.TTSProvider, settings synthSettings, chunk types.Chunk) ([]byte, bool, error) {
	key := settings.hash(chunk.Text)
	if data, ok := o.cacheGet(ctx, log, key); ok {
		return data, true, nil
	}

	req := provider.TTSRequest{
		Text:         chunk.Text,
		VoiceID:      settings.voice,
		Language:     settings.language,
		SpeakingRate: settings.rate,
		Format:       "mp3",
	}

	var data []byte
	err := retry.Do(
		func() error {
			if err := o.limiter.Wait(ctx, tts.Name()); err != nil {
				return err
			}
			resp, err := tts.Synthesize(ctx, req)
			if err != nil {
				return err
			}
			if len(resp.AudioData) == 0 {
				return fmt.Errorf("%s returned no audio", tts.Name())
			}
			data = resp.AudioData
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(max(0, o.config.MaxRetries))+1),
		retry.Delay(o.retryBackoff()),
		retry.MaxDelay(maxRetryDelay),
		retry.DelayType(retryDelay),
		retry.RetryIf(shouldRetry),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying chunk", "chunk", chunk.Index, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return nil, false, err
	}

	o.cachePut(ctx, log, key, data)
	return data, false, nil
}

// retryDelay honours a server's Retry-After and backs off exponentially
// otherwise.
func retryDelay(n uint, err error, config *retry.Config) time.Duration {
	if rle, ok := provider.IsRateLimitError(err); ok && rle.RetryAfter > 0 {
		return rle.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

func shouldRetry(err error) bool {
	return !provider.IsPermanent(err) && !errors.Is(err, context.Canceled)
}

// writeOutputs stores per-chapter audio for every chapter whose chunks are
// all present, the combined file and the final manifest.
func (o *Orchestrator) writeOutputs(ctx context.Context, job *Job, manifest *types.ConversionManifest, parts [][]byte, full []byte) error {
	chapterKeys := make(map[string]string, len(manifest.Chapters))

	for i := range manifest.Chapters {
		ch := &manifest.Chapters[i]
		if ch.ChunkCount == 0 {
			continue
		}
		segment := parts[ch.FirstChunk : ch.FirstChunk+ch.ChunkCount]
		if !complete(segment) {
			continue
		}

		key := util.ChapterAudioKey(job.ID, ch.ID)
		if err := storage.PutBytes(ctx, o.store, key, audio.Concat(segment)); err != nil {
			return fmt.Errorf("failed to store chapter audio: %w", err)
		}
		ch.AudioKey = key
		chapterKeys[ch.ID] = key
	}

	fullKey := util.FullAudioKey(job.ID)
	if err := storage.PutBytes(ctx, o.store, fullKey, full); err != nil {
		return fmt.Errorf("failed to store audio: %w", err)
	}
	if err := o.saveManifest(ctx, manifest); err != nil {
		return err
	}

	job.setOutputs(fullKey, chapterKeys)
	return nil
}

func complete(parts [][]byte) bool {
	for _, p := range parts {
		if p == nil {
			return false
		}
	}
	return true
}

// finish records the terminal status, emits the closing event and persists
// the history row.
func (o *Orchestrator) finish(ctx context.Context, log *slog.Logger, job *Job, err error) {
	status, msg := types.JobCompleted, ""
	switch {
	case err == nil:
	case job.cancelRequested() || errors.Is(err, context.Canceled):
		status, msg = types.JobCancelled, "conversion cancelled"
	default:
		status, msg = types.JobFailed, err.Error()
	}

	if !job.finish(status, msg, o.now()) {
		return
	}

	var eventType events.EventType
	switch status {
	case types.JobCompleted:
		eventType = events.EventConversionCompleted
	case types.JobCancelled:
		eventType = events.EventConversionCancelled
		log.Info("conversion cancelled")
	default:
		eventType = events.EventConversionFailed
		log.Error("conversion failed", "error", err)
	}

	o.emitter.Emit(events.New(eventType, job.ID, job.View()))
	o.saveHistory(context.WithoutCancel(ctx), log, job)
}

func (o *Orchestrator) emitProgress(job *Job) {
	o.emitter.Emit(events.New(events.EventConversionProgress, job.ID, job.Progress()))
}

// saveHistory upserts the job's history row. History is best effort: a
// conversion never fails because its row could not be written.
func (o *Orchestrator) saveHistory(ctx context.Context, log *slog.Logger, job *Job) {
	if o.history == nil {
		return
	}
	job.historyMu.Lock()
	defer job.historyMu.Unlock()

	rec := job.Record(o.now())
	err := o.history.Update(ctx, rec)
	if errors.Is(err, domainerrors.ErrNotFound) {
		err = o.history.Insert(ctx, rec)
	}
	if err != nil {
		log.Warn("failed to save history", "error", err)
	}
}

func (o *Orchestrator) saveManifest(ctx context.Context, manifest *types.ConversionManifest) error {
	if err := storage.PutJSON(ctx, o.store, util.ConversionManifestKey(manifest.JobID), manifest); err != nil {
		return fmt.Errorf("failed to store manifest: %w", err)
	}
	return nil
}

func (o *Orchestrator) cacheGet(ctx context.Context, log *slog.Logger, key string) ([]byte, bool) {
	if o.cache == nil {
		return nil, false
	}
	data, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		log.Warn("cache lookup failed", "cache_key", key, "error", err)
		return nil, false
	}
	return data, ok
}

func (o *Orchestrator) cachePut(ctx context.Context, log *slog.Logger, key string, data []byte) {
	if o.cache == nil {
		return
	}
	if err := o.cache.Put(ctx, key, data); err != nil {
		log.Warn("cache store failed", "cache_key", key, "error", err)
	}
}

func (o *Orchestrator) concurrency(providerName string) int {
	if pc, ok := o.registry.Config(providerName); ok && pc.Concurrency > 0 {
		return pc.Concurrency
	}
	if o.config.ChunkConcurrency > 0 {
		return o.config.ChunkConcurrency
	}
	return defaultChunkConcurrency
}

func (o *Orchestrator) retryBackoff() time.Duration {
	if o.config.RetryBackoffMs > 0 {
		return time.Duration(o.config.RetryBackoffMs) * time.Millisecond
	}
	return time.Second
}

// synthSettings are the request parameters that change the audio and so
// take part in cache keys.
type synthSettings struct {
	provider string
	voice    string
	language string
	rate     float64
}

func (o *Orchestrator) settings(tts provider.TTSProvider, req types.ConversionRequest) synthSettings {
	return synthSettings{
		provider: tts.Name(),
		voice:    resolveVoice(o.registry, req),
		language: req.Language,
		rate:     req.SpeakingRate,
	}
}

func (s synthSettings) hash(text string) string {
	voice := s.voice
	if s.language != "" {
		voice += "@" + s.language
	}
	return cache.ContentHash(s.provider, voice, "mp3", s.rate, text)
}

// resolveVoice returns the requested voice or the provider's default.
func resolveVoice(reg *provider.Registry, req types.ConversionRequest) string {
	if req.VoiceID != "" {
		return req.VoiceID
	}
	if pc, ok := reg.Config(req.Provider); ok {
		return pc.DefaultVoice
	}
	return ""
}

// selectChapters keeps the requested chapters in document order. An empty
// selection means every chapter.
func selectChapters(chapters []*types.Chapter, ids []string) ([]*types.Chapter, error) {
	if len(ids) == 0 {
		return chapters, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	selected := make([]*types.Chapter, 0, len(ids))
	for _, ch := range chapters {
		if wanted[ch.ID] {
			selected = append(selected, ch)
			delete(wanted, ch.ID)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for _, id := range ids {
			if wanted[id] {
				missing = append(missing, id)
			}
		}
		return nil, domainerrors.NotFoundf("chapters not found: %s", strings.Join(missing, ", "))
	}
	return selected, nil
}

func buildManifest(job *Job, doc *types.Document, chapters []*types.Chapter, chunks []types.Chunk, voice string, totalChars int) *types.ConversionManifest {
	m := &types.ConversionManifest{
		JobID:      job.ID,
		DocumentID: doc.ID,
		Title:      doc.Title,
		Author:     doc.Author,
		Language:   doc.Language,
		Provider:   job.Request.Provider,
		VoiceID:    voice,
		TotalChars: totalChars,
		CreatedAt:  job.CreatedAt,
		Chapters:   make([]types.ManifestChapter, len(chapters)),
		Chunks:     chunks,
	}
	for i, ch := range chapters {
		m.Chapters[i] = types.ManifestChapter{
			ID:            ch.ID,
			Number:        ch.Number,
			Title:         ch.Title,
			Confidence:    ch.Confidence,
			DetectionType: ch.DetectionType,
			CharCount:     ch.CharCount,
			FirstChunk:    -1,
		}
	}
	for _, c := range chunks {
		mc := &m.Chapters[c.ChapterIndex]
		if mc.FirstChunk < 0 {
			mc.FirstChunk = c.Index
		}
		mc.ChunkCount++
	}
	for i := range m.Chapters {
		if m.Chapters[i].FirstChunk < 0 {
			m.Chapters[i].FirstChunk = 0
		}
	}
	return m
}
