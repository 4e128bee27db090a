package conversion

import (
	"sync"
)

// JobQueue is a FIFO of jobs waiting for a worker. Ready is signalled
// whenever a job is added so idle workers can wake up.
type JobQueue struct {
	jobs   []*Job
	ready  chan struct{}
	closed bool
	mu     sync.RWMutex
}

// NewJobQueue creates an empty queue.
func NewJobQueue() *JobQueue {
	return &JobQueue{
		jobs:  make([]*Job, 0),
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends a job. It returns false once the queue is closed.
func (q *JobQueue) Enqueue(job *Job) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()

	q.signal()
	return true
}

// DequeueNext returns the oldest job, or nil if the queue is empty.
func (q *JobQueue) DequeueNext() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}

	job := q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]

	// More work left: let another worker pick it up.
	if len(q.jobs) > 0 {
		select {
		case q.ready <- struct{}{}:
		default:
		}
	}
	return job
}

// Remove drops a queued job by ID and reports whether it was queued.
func (q *JobQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.jobs {
		if job.ID == id {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the zero-based place of a job in the queue, or -1.
func (q *JobQueue) Position(id string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for i, job := range q.jobs {
		if job.ID == id {
			return i
		}
	}
	return -1
}

// Len returns the number of waiting jobs.
func (q *JobQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.jobs)
}

// Ready is signalled when jobs are waiting.
func (q *JobQueue) Ready() <-chan struct{} {
	return q.ready
}

// Close rejects further jobs and returns the ones still waiting.
func (q *JobQueue) Close() []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	pending := q.jobs
	q.jobs = nil
	return pending
}

func (q *JobQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
