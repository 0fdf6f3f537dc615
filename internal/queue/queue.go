// Package queue holds pending summarization jobs in submission order.
//
// A key stays reserved from Push until Done, so a job cannot be queued twice
// while an equal-key job is waiting or running.
package queue

import (
	"sync"

	"github.com/cwygoda/skim/internal/domain"
)

// Queue is a thread-safe FIFO of jobs deduplicated by (url, user).
type Queue struct {
	mu       sync.Mutex
	items    []domain.Job
	reserved map[domain.JobKey]domain.JobStatus
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{reserved: make(map[domain.JobKey]domain.JobStatus)}
}

// Push appends job to the tail. It returns domain.ErrDuplicateJob when an
// equal-key job is queued or in flight.
func (q *Queue) Push(job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := job.Key()
	if _, ok := q.reserved[key]; ok {
		return domain.ErrDuplicateJob
	}
	q.reserved[key] = domain.StatusQueued
	q.items = append(q.items, job)
	return nil
}

// Pop removes the head job and marks it in flight. ok is false when empty.
func (q *Queue) Pop() (job domain.Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return domain.Job{}, false
	}
	job = q.items[0]
	q.items[0] = domain.Job{}
	q.items = q.items[1:]
	q.reserved[job.Key()] = domain.StatusRunning
	return job, true
}

// Done releases the key of a finished job.
func (q *Queue) Done(key domain.JobKey) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.reserved[key] == domain.StatusRunning {
		delete(q.reserved, key)
	}
}

// Status reports whether key is queued or running.
func (q *Queue) Status(key domain.JobKey) (domain.JobStatus, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s, ok := q.reserved[key]
	return s, ok
}

// Len returns the number of queued (not running) jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued jobs in processing order.
func (q *Queue) Snapshot() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.Job, len(q.items))
	copy(out, q.items)
	return out
}
