package conversion

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/unalkalkan/bookcast/internal/document"
	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/events"
	"github.com/unalkalkan/bookcast/internal/id"
	"github.com/unalkalkan/bookcast/internal/logger"
	"github.com/unalkalkan/bookcast/internal/progress"
	"github.com/unalkalkan/bookcast/internal/validation"
	"github.com/unalkalkan/bookcast/pkg/types"
)

const (
	defaultWorkers      = 2
	defaultProgressTick = 500 * time.Millisecond
)

// Stats counts jobs held by a Manager.
type Stats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Total   int `json:"total"`
	Workers int `json:"workers"`
}

// Manager accepts conversion requests, queues them and runs them on a fixed
// pool of workers.
type Manager struct {
	orch      *Orchestrator
	docs      document.Repository
	validator *validation.Validator
	queue     *JobQueue
	config    types.PipelineConfig
	progress  progress.Options
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// NewManager creates a manager. Call Start before submitting work.
func NewManager(orch *Orchestrator, docs document.Repository, cfg types.PipelineConfig, log *slog.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		orch:      orch,
		docs:      docs,
		validator: validation.New(),
		queue:     NewJobQueue(),
		config:    cfg,
		progress:  progress.DefaultOptions(),
		logger:    logger.Component(log, "conversions"),
		now:       time.Now,
		jobs:      make(map[string]*Job),
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	workers := m.workers()
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.logger.Info("conversion workers started", "workers", workers)
}

// Stop cancels running jobs, cancels queued ones and waits for the workers.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	for _, job := range m.queue.Close() {
		job.requestCancel()
		m.orch.finish(context.Background(), m.jobLogger(job), job, context.Canceled)
	}
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.orch.Close()
	m.logger.Info("conversion workers stopped")
}

// Submit validates a request and queues a job for it.
func (m *Manager) Submit(ctx context.Context, req types.ConversionRequest) (*Job, error) {
	if err := m.validator.Validate(req); err != nil {
		return nil, err
	}

	if _, err := m.orch.registry.Get(req.Provider); err != nil {
		return nil, domainerrors.Validationf("unknown provider %q", req.Provider)
	}

	doc, err := m.docs.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != types.DocumentReady {
		return nil, domainerrors.Conflictf("document %s is not ready (status: %s)", doc.ID, doc.Status)
	}

	if len(req.ChapterIDs) > 0 {
		chapters, err := m.docs.ListChapters(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if _, err := selectChapters(chapters, req.ChapterIDs); err != nil {
			return nil, domainerrors.Wrap(err, domainerrors.CodeValidation, "invalid chapter selection")
		}
	}

	req.VoiceID = resolveVoice(m.orch.registry, req)

	jobID, err := id.Generate(id.PrefixJob)
	if err != nil {
		return nil, err
	}
	job := newJob(jobID, req, m.progress, m.now())
	job.setTitle(doc.Title)

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	log := m.jobLogger(job)
	m.orch.saveHistory(ctx, log, job)

	if !m.queue.Enqueue(job) {
		m.forget(job.ID)
		return nil, domainerrors.Unavailablef("conversion queue is closed")
	}

	m.orch.emitter.Emit(events.New(events.EventConversionQueued, job.ID, job.View()))
	log.Info("conversion queued", "document_id", doc.ID, "queue_length", m.queue.Len())
	return job, nil
}

// Get returns a job known to this process.
func (m *Manager) Get(jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domainerrors.NotFoundf("conversion not found: %s", jobID)
	}
	return job, nil
}

// View returns the job's state. A queued job also reports its zero-based
// place in the queue.
func (m *Manager) View(jobID string) (JobView, error) {
	job, err := m.Get(jobID)
	if err != nil {
		return JobView{}, err
	}
	view := job.View()
	if view.Status == types.JobQueued {
		if pos := m.queue.Position(jobID); pos >= 0 {
			view.QueuePosition = &pos
		}
	}
	return view, nil
}

// List returns all jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID > jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	return jobs
}

// Cancel stops a running job or removes a queued one.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	job, err := m.Get(jobID)
	if err != nil {
		return err
	}
	if !job.requestCancel() {
		return domainerrors.Conflictf("conversion %s already %s", jobID, job.Status())
	}

	// A queued job never reaches a worker, so finish it here.
	if m.queue.Remove(jobID) {
		m.orch.finish(ctx, m.jobLogger(job), job, context.Canceled)
	}
	return nil
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID string) (JobView, error) {
	job, err := m.Get(jobID)
	if err != nil {
		return JobView{}, err
	}
	select {
	case <-job.Done():
		return job.View(), nil
	case <-ctx.Done():
		return job.View(), ctx.Err()
	}
}

// Stats counts queued, running and known jobs.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{Queued: m.queue.Len(), Total: len(m.jobs), Workers: m.workers()}
	for _, job := range m.jobs {
		if job.Status() == types.JobRunning {
			s.Running++
		}
	}
	return s
}

func (m *Manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()
	log := m.logger.With("worker", n)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.queue.Ready():
		}

		for job := m.queue.DequeueNext(); job != nil; job = m.queue.DequeueNext() {
			log.Debug("picked up job", "job_id", job.ID)
			m.runJob(ctx, job)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (m *Manager) runJob(ctx context.Context, job *Job) {
	log := m.jobLogger(job)

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !job.start(cancel, m.now()) {
		m.orch.finish(jobCtx, log, job, context.Canceled)
		return
	}
	m.orch.emitter.Emit(events.New(events.EventConversionStarted, job.ID, job.View()))

	doc, err := m.docs.GetDocument(jobCtx, job.Request.DocumentID)
	if err != nil {
		m.orch.finish(jobCtx, log, job, err)
		return
	}
	chapters, err := m.docs.ListChapters(jobCtx, doc.ID)
	if err != nil {
		m.orch.finish(jobCtx, log, job, err)
		return
	}

	ticking := make(chan struct{})
	go func() {
		defer close(ticking)
		m.tickProgress(jobCtx, log, job)
	}()

	if err := m.orch.Run(jobCtx, job, doc, chapters); err != nil && !errors.Is(err, context.Canceled) {
		log.Debug("job ended with error", "error", err)
	}

	cancel()
	<-ticking
}

// tickProgress advances the estimator between real updates, publishes the
// snapshot and persists the history row whenever chunk counts moved.
func (m *Manager) tickProgress(ctx context.Context, log *slog.Logger, job *Job) {
	ticker := time.NewTicker(m.tickInterval())
	defer ticker.Stop()

	persisted := -1
	for {
		select {
		case <-ctx.Done():
			return
		case <-job.Done():
			return
		case <-ticker.C:
			snap := job.estimator.Tick()
			if snap.Stage.Terminal() {
				return
			}
			m.orch.emitter.Emit(events.New(events.EventConversionProgress, job.ID, snap))

			if snap.ChunksDone != persisted {
				persisted = snap.ChunksDone
				m.orch.saveHistory(ctx, log, job)
			}
		}
	}
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.jobs, jobID)
	m.mu.Unlock()
}

func (m *Manager) jobLogger(job *Job) *slog.Logger {
	return m.logger.With("job_id", job.ID, "provider", job.Request.Provider)
}

func (m *Manager) workers() int {
	if m.config.WorkerPoolSize > 0 {
		return m.config.WorkerPoolSize
	}
	return defaultWorkers
}

func (m *Manager) tickInterval() time.Duration {
	if m.config.ProgressTickMs > 0 {
		return time.Duration(m.config.ProgressTickMs) * time.Millisecond
	}
	return defaultProgressTick
}
