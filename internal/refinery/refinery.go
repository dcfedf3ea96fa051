// Package refinery is the single-consumer loop that drains the merge
// queue through the merger and conflict resolver (spec §4.11). Grounded
// on the teacher's internal/runner/git_ops.go merge-then-push sequencing,
// generalized into an explicit processing/stopped state machine driving
// a reusable queue instead of one inline call site.
package refinery

import (
	"context"
	"sync"

	"github.com/ralphcore/ralphcore/internal/conflict"
	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/mergequeue"
	"github.com/ralphcore/ralphcore/internal/merger"
)

// Scheduler is the narrow slice of the scheduler the refinery needs,
// satisfied by *scheduler.Scheduler.
type Scheduler interface {
	MarkMerged(taskID string)
}

// Config bounds retry behavior.
type Config struct {
	MaxRetries int
}

// Coordinator drains queue through merger, delegating conflicts to
// resolver and notifying scheduler of merges.
type Coordinator struct {
	queue     *mergequeue.Queue
	merger    *merger.Merger
	resolver  *conflict.Resolver
	scheduler Scheduler
	bus       *events.Bus
	cfg       Config

	mu         sync.Mutex
	processing bool
	stopped    bool
}

// New creates a refinery coordinator.
func New(queue *mergequeue.Queue, m *merger.Merger, resolver *conflict.Resolver, sched Scheduler, bus *events.Bus, cfg Config) *Coordinator {
	return &Coordinator{queue: queue, merger: m, resolver: resolver, scheduler: sched, bus: bus, cfg: cfg}
}

func (c *Coordinator) emit(topic string, data any) {
	if c.bus != nil {
		c.bus.Emit(topic, data)
	}
}

// QueueBranch builds a merge request from worker state and triggers
// ProcessNext non-blockingly.
func (c *Coordinator) QueueBranch(ctx context.Context, input mergequeue.Input) *mergequeue.Request {
	mr := c.queue.Enqueue(input)
	c.emit("branch:queued", map[string]any{"branch": mr.Branch, "id": mr.ID})
	go c.ProcessNext(ctx)
	return mr
}

// Stop prevents further consumption. An in-flight merge is not
// interrupted; it completes or fails naturally.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Start resumes consumption.
func (c *Coordinator) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
}

// ProcessNext implements the single-consumer step of spec §4.11.
func (c *Coordinator) ProcessNext(ctx context.Context) {
	c.mu.Lock()
	if c.processing || c.stopped {
		c.mu.Unlock()
		return
	}
	if c.queue.Len() == 0 {
		c.mu.Unlock()
		return
	}
	c.processing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		rearm := !c.stopped && c.queue.Len() > 0
		c.mu.Unlock()
		if rearm {
			go c.ProcessNext(ctx)
		}
	}()

	mr := c.queue.Dequeue()
	if mr == nil {
		return
	}

	c.emit("merge:started", map[string]any{"branch": mr.Branch, "id": mr.ID})
	result := func() (res merger.Result) {
		defer func() {
			if rec := recover(); rec != nil {
				res = merger.Result{Error: "refinery: panic during merge"}
			}
		}()
		return c.merger.Merge(ctx, mr.Branch, mr.TaskID)
	}()

	switch {
	case result.Success:
		_ = c.queue.UpdateStatus(mr.ID, mergequeue.StatusMerged, "")
		c.resolver.ResetAttempts(mr.Branch)
		if c.scheduler != nil {
			c.scheduler.MarkMerged(mr.TaskID)
		}
		c.emit("merge:completed", map[string]any{"id": mr.ID, "mergeCommit": result.MergeCommit})

	case result.Conflict:
		_ = c.queue.UpdateStatus(mr.ID, mergequeue.StatusConflict, "conflict")
		c.emit("merge:conflict", map[string]any{"id": mr.ID, "files": result.ConflictFiles})
		c.emit("conflict:resolving", map[string]any{"branch": mr.Branch})
		c.resolver.Resolve(ctx, mr, result.ConflictFiles, c.queue, nil)

	default:
		errMsg := result.Error
		if result.TestsFailed {
			errMsg = "tests failed"
		}
		if mr.RetryCount < c.cfg.MaxRetries {
			_ = c.queue.UpdateStatus(mr.ID, mergequeue.StatusFailed, errMsg)
			_ = c.queue.Requeue(mr.ID)
		} else {
			_ = c.queue.UpdateStatus(mr.ID, mergequeue.StatusFailed, errMsg)
			c.emit("merge:failed", map[string]any{"id": mr.ID, "error": errMsg})
		}
	}
}
