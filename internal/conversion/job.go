package conversion

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/unalkalkan/bookcast/internal/progress"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// Job is one conversion of a document to audio. Its fields change while it
// runs; read them through View.
type Job struct {
	ID        string
	Request   types.ConversionRequest
	CreatedAt time.Time

	mu             sync.RWMutex
	status         string
	title          string
	totalChunks    int
	doneChunks     int
	totalChars     int
	cacheKey       string
	outputKey      string
	chapterOutputs map[string]string
	err            string
	startedAt      time.Time
	completedAt    *time.Time

	estimator *progress.Estimator
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}

	// historyMu orders history writes so a stale row never lands last.
	historyMu sync.Mutex
}

// JobView is a consistent copy of a job's state.
type JobView struct {
	ID             string                  `json:"id"`
	Request        types.ConversionRequest `json:"request"`
	Title          string                  `json:"title,omitempty"`
	Status         string                  `json:"status"`
	QueuePosition  *int                    `json:"queue_position,omitempty"`
	Progress       progress.Snapshot       `json:"progress"`
	TotalChunks    int                     `json:"total_chunks"`
	DoneChunks     int                     `json:"done_chunks"`
	TotalChars     int                     `json:"total_chars"`
	CacheKey       string                  `json:"cache_key,omitempty"`
	OutputKey      string                  `json:"output_key,omitempty"`
	ChapterOutputs map[string]string       `json:"chapter_outputs,omitempty"`
	Error          string                  `json:"error,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
	CompletedAt    *time.Time              `json:"completed_at,omitempty"`
}

func newJob(id string, req types.ConversionRequest, opts progress.Options, now time.Time) *Job {
	return &Job{
		ID:        id,
		Request:   req,
		CreatedAt: now,
		status:    types.JobQueued,
		estimator: progress.NewEstimator(opts),
		done:      make(chan struct{}),
	}
}

// View returns a snapshot of the job.
func (j *Job) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return JobView{
		ID:             j.ID,
		Request:        j.Request,
		Title:          j.title,
		Status:         j.status,
		Progress:       j.estimator.Snapshot(),
		TotalChunks:    j.totalChunks,
		DoneChunks:     j.doneChunks,
		TotalChars:     j.totalChars,
		CacheKey:       j.cacheKey,
		OutputKey:      j.outputKey,
		ChapterOutputs: maps.Clone(j.chapterOutputs),
		Error:          j.err,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.completedAt,
	}
}

// Status returns the job's current status.
func (j *Job) Status() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Done is closed when the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Progress returns the estimator's current snapshot.
func (j *Job) Progress() progress.Snapshot {
	return j.estimator.Snapshot()
}

// Terminal reports whether the job has finished one way or another.
func (j *Job) Terminal() bool {
	switch j.Status() {
	case types.JobCompleted, types.JobFailed, types.JobCancelled:
		return true
	}
	return false
}

// Record converts the job to its history row.
func (j *Job) Record(now time.Time) *types.ConversionRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec := &types.ConversionRecord{
		ID:          j.ID,
		DocumentID:  j.Request.DocumentID,
		Title:       j.title,
		Format:      "mp3",
		Provider:    j.Request.Provider,
		VoiceID:     j.Request.VoiceID,
		Status:      j.status,
		TotalChunks: j.totalChunks,
		DoneChunks:  j.doneChunks,
		TotalChars:  j.totalChars,
		CacheKey:    j.cacheKey,
		OutputKey:   j.outputKey,
		Error:       j.err,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   now,
		CompletedAt: j.completedAt,
	}
	if j.completedAt != nil && !j.startedAt.IsZero() {
		rec.DurationMs = j.completedAt.Sub(j.startedAt).Milliseconds()
	}
	return rec
}

func (j *Job) setTitle(title string) {
	j.mu.Lock()
	j.title = title
	j.mu.Unlock()
}

// start marks the job running and installs cancel. It returns false when
// the job was cancelled before a worker reached it.
func (j *Job) start(cancel context.CancelFunc, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelled || j.status != types.JobQueued {
		return false
	}
	j.status = types.JobRunning
	j.startedAt = now
	j.cancel = cancel
	return true
}

// requestCancel stops a running job, or marks a queued one so it never starts.
// It returns false if the job already finished.
func (j *Job) requestCancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.status {
	case types.JobCompleted, types.JobFailed, types.JobCancelled:
		return false
	}
	j.cancelled = true
	if j.cancel != nil {
		j.cancel()
	}
	return true
}

func (j *Job) cancelRequested() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.cancelled
}

func (j *Job) setWorkload(chunks, chars int) {
	j.mu.Lock()
	j.totalChunks = chunks
	j.totalChars = chars
	j.mu.Unlock()
}

func (j *Job) setCacheKey(key string) {
	j.mu.Lock()
	j.cacheKey = key
	j.mu.Unlock()
}

func (j *Job) chunkDone() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.doneChunks++
	return j.doneChunks
}

func (j *Job) setOutputs(full string, chapters map[string]string) {
	j.mu.Lock()
	j.outputKey = full
	j.chapterOutputs = chapters
	j.mu.Unlock()
}

// finish moves the job to a terminal status. Only the first call counts.
func (j *Job) finish(status, errMsg string, now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch j.status {
	case types.JobCompleted, types.JobFailed, types.JobCancelled:
		return false
	}

	switch status {
	case types.JobCompleted:
		j.estimator.Complete()
	case types.JobCancelled:
		j.estimator.Cancel()
	default:
		j.estimator.Fail()
	}

	j.status = status
	j.err = errMsg
	if status == types.JobCompleted {
		j.doneChunks = j.totalChunks
	}
	if j.startedAt.IsZero() {
		j.startedAt = now
	}
	j.completedAt = &now
	j.cancel = nil
	close(j.done)
	return true
}
