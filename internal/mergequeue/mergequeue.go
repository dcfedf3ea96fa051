// Package mergequeue is the single-consumer priority queue of pending
// merge requests (spec §4.8). Grounded on the teacher's taskgraph ready-
// queue bookkeeping (internal/runner/taskgraph.go), generalized from a
// FIFO of ready tasks to a priority-scored queue of merge requests.
package mergequeue

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a merge request's position in its lifecycle.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusMerging Status = "merging"
	StatusConflict Status = "conflict"
	StatusMerged  Status = "merged"
	StatusFailed  Status = "failed"
)

// ErrNotRequeueable is returned by Requeue when the request isn't in
// conflict or failed state.
var ErrNotRequeueable = errors.New("mergequeue: not requeueable from current status")

// Request is one pending or in-flight merge.
type Request struct {
	ID           string
	Branch       string
	WorkerName   string
	TaskID       string
	Priority     int
	UnblockCount int
	CreatedAt    time.Time
	Status       Status
	RetryCount   int
	LastError    string
}

// Input is the caller-supplied shape for Enqueue.
type Input struct {
	Branch       string
	WorkerName   string
	TaskID       string
	Priority     int
	UnblockCount int
}

// Queue is an in-memory unordered collection with priority selection. A
// single merge request may be "merging" at any time; callers must not
// invoke Dequeue concurrently with an in-flight merge.
type Queue struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{requests: make(map[string]*Request)}
}

// Enqueue assigns a fresh id and queued status.
func (q *Queue) Enqueue(input Input) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	r := &Request{
		ID:           uuid.NewString(),
		Branch:       input.Branch,
		WorkerName:   input.WorkerName,
		TaskID:       input.TaskID,
		Priority:     input.Priority,
		UnblockCount: input.UnblockCount,
		CreatedAt:    time.Now(),
		Status:       StatusQueued,
	}
	q.requests[r.ID] = r
	return r
}

func score(r *Request, now time.Time) float64 {
	p := r.Priority
	if p > 4 {
		p = 4
	}
	ageMs := float64(now.Sub(r.CreatedAt).Milliseconds())
	return float64(4-p)*1000 + float64(r.UnblockCount)*100 + ageMs*0.001
}

// Dequeue selects the highest-scoring queued request, transitions it to
// merging, and returns it. Returns nil if the queue holds no queued
// request.
func (q *Queue) Dequeue() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *Request
	var bestScore float64
	var bestSeq time.Time
	for _, r := range q.requests {
		if r.Status != StatusQueued {
			continue
		}
		s := score(r, now)
		if best == nil || s > bestScore || (s == bestScore && r.CreatedAt.Before(bestSeq)) {
			best = r
			bestScore = s
			bestSeq = r.CreatedAt
		}
	}
	if best == nil {
		return nil
	}
	best.Status = StatusMerging
	return best
}

// Peek reports the request Dequeue would select next, without mutating
// its status. Returns nil if the queue holds no queued request. Used by
// the read-only "merge-next --dry-run" CLI path.
func (q *Queue) Peek() *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *Request
	var bestScore float64
	var bestSeq time.Time
	for _, r := range q.requests {
		if r.Status != StatusQueued {
			continue
		}
		s := score(r, now)
		if best == nil || s > bestScore || (s == bestScore && r.CreatedAt.Before(bestSeq)) {
			best = r
			bestScore = s
			bestSeq = r.CreatedAt
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

// UpdateStatus transitions request id to status, bumping RetryCount on
// transitions into conflict or failed.
func (q *Queue) UpdateStatus(id string, status Status, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.requests[id]
	if !ok {
		return errors.New("mergequeue: unknown request")
	}
	if status == StatusConflict || status == StatusFailed {
		r.RetryCount++
	}
	r.Status = status
	r.LastError = errMsg
	return nil
}

// Requeue resets a conflict- or failed-status request back to queued,
// clearing its error.
func (q *Queue) Requeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	r, ok := q.requests[id]
	if !ok {
		return errors.New("mergequeue: unknown request")
	}
	if r.Status != StatusConflict && r.Status != StatusFailed {
		return ErrNotRequeueable
	}
	r.Status = StatusQueued
	r.LastError = ""
	return nil
}

// Get returns the request by id, or nil.
func (q *Queue) Get(id string) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.requests[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// HasMerging reports whether any request is currently merging (the
// at-most-one invariant).
func (q *Queue) HasMerging() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.requests {
		if r.Status == StatusMerging {
			return true
		}
	}
	return false
}

// Len returns the number of queued (not yet dequeued) requests.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, r := range q.requests {
		if r.Status == StatusQueued {
			n++
		}
	}
	return n
}

// Snapshot returns every request, for persistence into the session store.
func (q *Queue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Request, 0, len(q.requests))
	for _, r := range q.requests {
		out = append(out, *r)
	}
	return out
}

// Restore replaces the queue's contents from a persisted snapshot (used
// by session recovery).
func (q *Queue) Restore(requests []Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.requests = make(map[string]*Request, len(requests))
	for i := range requests {
		r := requests[i]
		q.requests[r.ID] = &r
	}
}
