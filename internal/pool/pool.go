// Package pool is the worker dispatcher: it turns ready tasks into
// running workers, bounded by maxWorkers and agent availability, and
// retires them into the merge refinery on completion (spec §4.12).
// Grounded on the teacher's internal/runner/runner.go main loop (ticker-
// driven dispatch, pause/resume/stop flags), generalized from a single
// session driving one agent to many concurrent workers each with its own
// working copy and agent choice.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ralphcore/ralphcore/internal/agentrun"
	"github.com/ralphcore/ralphcore/internal/conflict"
	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/gitrepo"
	"github.com/ralphcore/ralphcore/internal/iterationlog"
	"github.com/ralphcore/ralphcore/internal/namepool"
	"github.com/ralphcore/ralphcore/internal/ratelimit"
	"github.com/ralphcore/ralphcore/internal/scheduler"
	"github.com/ralphcore/ralphcore/internal/task"
	"github.com/ralphcore/ralphcore/internal/telemetry"
	"github.com/ralphcore/ralphcore/internal/tracker"
	"github.com/ralphcore/ralphcore/internal/worker"
	"github.com/ralphcore/ralphcore/internal/workspace"
)

var _ conflict.RebaseDispatcher = (*Pool)(nil)

// Status is the dispatcher's run state.
type Status string

const (
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusAllLimited Status = "all-limited"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
)

// Config bounds the dispatcher's behavior.
type Config struct {
	MaxWorkers         int
	WorkingCopyBaseDir string
	FallbackAgents     []string
	StrictDependencies bool
	LoopInterval       time.Duration
	Model              *string

	// IterationLogDir, when non-empty, enables per-iteration transcript
	// files under this directory (spec §6). Empty disables log writing.
	IterationLogDir string
}

// AgentFactory instantiates an agent capability by id (e.g. "claude",
// "codex"). Implementations typically wrap agentrun.ProcessCapability
// with the binary and base args configured for that agent.
type AgentFactory interface {
	NewCapability(agentID string) (agentrun.Capability, error)
}

type liveWorker struct {
	w       *worker.Worker
	agentID string
	wc      *workspace.WorkingCopy
}

// Pool owns a scheduler, a rate-limit coordinator, a working-copy
// manager, a name pool, and the set of live workers.
type Pool struct {
	cfg        Config
	scheduler  *scheduler.Scheduler
	rateLimits *ratelimit.Coordinator
	workspaces *workspace.Manager
	names      *namepool.Pool
	bus        *events.Bus
	tr         tracker.Tracker
	agents     AgentFactory
	git        gitrepo.Interface
	repoDir    string
	iterLog    *iterationlog.Writer
	log        *slog.Logger

	mu      sync.Mutex
	status  Status
	workers map[string]*liveWorker

	unsubLimited   func()
	unsubRecovered func()

	stopCh chan struct{}
	doneCh chan struct{}
	loopWG sync.WaitGroup
}

// New creates a dispatcher. The bus is shared with the scheduler, rate-
// limit coordinator, and refinery it is wired against.
func New(cfg Config, sched *scheduler.Scheduler, rl *ratelimit.Coordinator, ws *workspace.Manager, names *namepool.Pool, bus *events.Bus, tr tracker.Tracker, agents AgentFactory, git gitrepo.Interface, repoDir string) *Pool {
	p := &Pool{
		cfg:        cfg,
		scheduler:  sched,
		rateLimits: rl,
		workspaces: ws,
		names:      names,
		bus:        bus,
		tr:         tr,
		agents:     agents,
		git:        git,
		repoDir:    repoDir,
		status:     StatusRunning,
		workers:    make(map[string]*liveWorker),
		log:        telemetry.Component("pool"),
	}
	if cfg.IterationLogDir != "" {
		p.iterLog = iterationlog.New(cfg.IterationLogDir)
	}
	if bus != nil {
		p.unsubLimited = bus.On("all:limited", func(events.Event) { p.setStatus(StatusAllLimited) })
		p.unsubRecovered = bus.On("all:recovered", func(events.Event) { p.onAllRecovered() })
	}
	return p
}

func (p *Pool) setStatus(s Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

func (p *Pool) onAllRecovered() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusAllLimited {
		p.status = StatusRunning
	}
}

// Status returns the current dispatcher status.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Pause transitions running to paused. Idempotent; a no-op from any other
// status.
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusRunning {
		p.status = StatusPaused
	}
}

// Resume transitions paused back to running. Idempotent.
func (p *Pool) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status == StatusPaused {
		p.status = StatusRunning
	}
}

func (p *Pool) canSpawnWorker() bool {
	p.mu.Lock()
	status := p.status
	count := len(p.workers)
	p.mu.Unlock()
	if status != StatusRunning {
		return false
	}
	if p.cfg.MaxWorkers > 0 && count >= p.cfg.MaxWorkers {
		return false
	}
	return p.scheduler.CanAssignMore()
}

// Run drives the main dispatch loop until ctx is cancelled or Stop is
// called. It is intended to be run in its own goroutine.
func (p *Pool) Run(ctx context.Context) {
	p.mu.Lock()
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()
	defer close(p.doneCh)

	interval := p.cfg.LoopInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Pool) tick(ctx context.Context) {
	if p.Status() != StatusRunning {
		return
	}

	ready, err := p.scheduler.GetReadyTasks(ctx)
	if err != nil {
		p.emit("pool:error", map[string]string{"op": "getReadyTasks", "error": err.Error()})
		return
	}

	for _, assignment := range ready {
		if !p.canSpawnWorker() {
			break
		}
		if err := p.spawnWorker(ctx, assignment); err != nil {
			p.emit("pool:error", map[string]string{"op": "spawnWorker", "taskId": assignment.TaskID, "error": err.Error()})
		}
	}
}

func (p *Pool) spawnWorker(ctx context.Context, assignment task.Assignment) error {
	agentID := p.rateLimits.GetFirstAvailable()
	if agentID == "" {
		return nil
	}

	t, err := p.tr.GetTask(ctx, assignment.TaskID)
	if err != nil {
		return fmt.Errorf("pool: get task: %w", err)
	}
	if t == nil {
		return nil
	}

	capability, err := p.agents.NewCapability(agentID)
	if err != nil {
		return fmt.Errorf("pool: agent capability: %w", err)
	}

	name := p.names.Acquire()
	wc, err := p.workspaces.Create(ctx, name, t.ID, "")
	if err != nil {
		p.names.Release(name)
		return fmt.Errorf("pool: create working copy: %w", err)
	}

	w := worker.New(name, wc, capability, p.tr, p.bus, p.cfg.Model)
	if p.iterLog != nil {
		w.SetIterationLog(p.iterLog)
	}

	if err := p.scheduler.AssignTask(t.ID, name); err != nil {
		p.names.Release(name)
		_ = p.workspaces.Remove(ctx, name, true)
		return fmt.Errorf("pool: assign task: %w", err)
	}
	if err := w.AssignTask(ctx, *t); err != nil {
		p.scheduler.UnassignTask(t.ID)
		p.names.Release(name)
		_ = p.workspaces.Remove(ctx, name, true)
		return fmt.Errorf("pool: worker assign task: %w", err)
	}

	p.mu.Lock()
	p.workers[name] = &liveWorker{w: w, agentID: agentID, wc: wc}
	p.mu.Unlock()

	p.log.Info("spawned worker", "worker", name, "task", t.ID, "agent", agentID, "branch", wc.Branch)

	p.loopWG.Add(1)
	go func() {
		defer p.loopWG.Done()
		p.runWorkerLoop(ctx, name, agentID)
	}()

	return nil
}

// runWorkerLoop is the per-worker background activity described in spec
// §4.12: iterate while working, switch to a fallback agent on rate limit
// if one is available, otherwise exit leaving the worker rate-limited.
func (p *Pool) runWorkerLoop(ctx context.Context, name, agentID string) {
	for {
		p.mu.Lock()
		lw, ok := p.workers[name]
		p.mu.Unlock()
		if !ok {
			return
		}
		if p.Status() == StatusStopping || p.Status() == StatusStopped {
			return
		}
		if lw.w.Status() != worker.StateWorking {
			return
		}

		result, err := lw.w.ExecuteIteration(ctx)
		if err != nil {
			p.emit("pool:error", map[string]string{"worker": name, "error": err.Error()})
			return
		}

		switch result.Status {
		case "rate_limited":
			var retryAfter *time.Duration
			if result.RateLimitAfter > 0 {
				retryAfter = &result.RateLimitAfter
			}
			p.rateLimits.MarkLimited(agentID, retryAfter)

			fallback := p.rateLimits.GetAvailableFallback(agentID)
			if fallback == "" {
				return
			}
			capability, err := p.agents.NewCapability(fallback)
			if err != nil {
				return
			}
			lw.w.SwitchAgent(capability)
			p.mu.Lock()
			lw.agentID = fallback
			p.mu.Unlock()
			agentID = fallback

		case "task_completed", "failed", "interrupted":
			return

		default:
			// "completed" without the sentinel: keep iterating.
		}
	}
}

func (p *Pool) emit(topic string, data any) {
	if p.bus != nil {
		p.bus.Emit(topic, data)
	}
}

// Stop interrupts every worker, waits for the dispatch loop and all
// worker activity loops to finish, then releases every worker's name and
// working copy. Idempotent.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	if p.status == StatusStopped || p.status == StatusStopping {
		p.mu.Unlock()
		return
	}
	p.status = StatusStopping
	stopCh := p.stopCh
	doneCh := p.doneCh
	var names []string
	for name, lw := range p.workers {
		lw.w.Stop()
		names = append(names, name)
	}
	p.mu.Unlock()

	if stopCh != nil {
		select {
		case <-stopCh:
		default:
			close(stopCh)
		}
	}
	if doneCh != nil {
		<-doneCh
	}
	p.loopWG.Wait()

	for _, name := range names {
		p.cleanupWorker(ctx, name, true)
	}

	if p.unsubLimited != nil {
		p.unsubLimited()
	}
	if p.unsubRecovered != nil {
		p.unsubRecovered()
	}

	p.mu.Lock()
	p.status = StatusStopped
	p.mu.Unlock()
}

// cleanupWorker removes a worker's live record, releasing its name back
// to the pool. removeWorkingCopy is false when the merge that retired it
// failed, so the directory survives for post-mortem inspection (spec
// §4.13).
func (p *Pool) cleanupWorker(ctx context.Context, name string, removeWorkingCopy bool) {
	p.mu.Lock()
	_, ok := p.workers[name]
	delete(p.workers, name)
	p.mu.Unlock()
	if !ok {
		return
	}

	p.names.Release(name)
	if removeWorkingCopy {
		_ = p.workspaces.Remove(ctx, name, true)
	}
	p.log.Info("cleaned up worker", "worker", name, "removedWorkingCopy", removeWorkingCopy)
}

// Rebase implements conflict.RebaseDispatcher: it fetches and rebases the
// working copy backing branch onto the target branch, then force-pushes
// the result. Used by the conflict resolver's rebase strategy.
func (p *Pool) Rebase(ctx context.Context, branch, targetBranch string) error {
	copies, err := p.workspaces.List()
	if err != nil {
		return fmt.Errorf("pool: list working copies: %w", err)
	}
	var path string
	for _, wc := range copies {
		if wc.Branch == branch {
			path = wc.Path
			break
		}
	}
	if path == "" {
		return fmt.Errorf("pool: no working copy for branch %s", branch)
	}

	if err := p.git.Fetch(ctx, path, "origin", targetBranch); err != nil {
		return fmt.Errorf("pool: rebase fetch: %w", err)
	}
	if err := p.git.RebaseOnto(ctx, path, "origin/"+targetBranch); err != nil {
		_ = p.git.RebaseAbort(ctx, path)
		return fmt.Errorf("pool: rebase onto: %w", err)
	}
	if err := p.git.ForcePush(ctx, path, branch); err != nil {
		return fmt.Errorf("pool: rebase force-push: %w", err)
	}
	return nil
}

// LiveWorkerNames returns the names of currently tracked workers, for
// status reporting and session persistence.
func (p *Pool) LiveWorkerNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.workers))
	for name := range p.workers {
		out = append(out, name)
	}
	return out
}

// Worker returns the live worker registered under name, or nil.
func (p *Pool) Worker(name string) *worker.Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	lw, ok := p.workers[name]
	if !ok {
		return nil
	}
	return lw.w
}

func (p *Pool) lookupLiveWorker(name string) *liveWorker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers[name]
}

// WorkerInfo is the subset of a live worker's identity useful for status
// reporting and session persistence, beyond what *worker.Worker exposes.
type WorkerInfo struct {
	AgentID      string
	Branch       string
	WorktreePath string
}

// Info returns the agent ID and working-copy details for the named live
// worker, or the zero value and false if no such worker is registered.
func (p *Pool) Info(name string) (WorkerInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lw, ok := p.workers[name]
	if !ok {
		return WorkerInfo{}, false
	}
	info := WorkerInfo{AgentID: lw.agentID}
	if lw.wc != nil {
		info.Branch = lw.wc.Branch
		info.WorktreePath = lw.wc.Path
	}
	return info, true
}
