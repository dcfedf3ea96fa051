// Package app wires the dispatcher, refinery, and their shared
// infrastructure from a loaded configuration, grounded on the teacher's
// internal/db/factory.go store-selection idiom and the component
// construction sequence in cmd/orchestrator/main.go.
package app

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ralphcore/ralphcore/internal/agentrun"
	"github.com/ralphcore/ralphcore/internal/config"
	"github.com/ralphcore/ralphcore/internal/conflict"
	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/gitrepo"
	"github.com/ralphcore/ralphcore/internal/mergequeue"
	"github.com/ralphcore/ralphcore/internal/merger"
	"github.com/ralphcore/ralphcore/internal/namepool"
	"github.com/ralphcore/ralphcore/internal/pool"
	"github.com/ralphcore/ralphcore/internal/ratelimit"
	"github.com/ralphcore/ralphcore/internal/refinery"
	"github.com/ralphcore/ralphcore/internal/scheduler"
	"github.com/ralphcore/ralphcore/internal/sessionstore"
	"github.com/ralphcore/ralphcore/internal/tracker"
	"github.com/ralphcore/ralphcore/internal/workspace"
)

// processAgentFactory satisfies pool.AgentFactory by wrapping each
// configured agent id in a ProcessCapability. The binary name is the
// agent id itself (e.g. "claude", "codex") so the CLI tool is expected on
// PATH; this mirrors the teacher's "provider" string driving agent
// selection without a registry of binaries.
type processAgentFactory struct {
	binArgs map[string][]string
}

func (f *processAgentFactory) NewCapability(agentID string) (agentrun.Capability, error) {
	args := f.binArgs[agentID]
	return agentrun.NewProcessCapability(agentID, agentID, args, true), nil
}

// App is the fully wired set of components a CLI command drives.
type App struct {
	Cfg        *config.Config
	Bus        *events.Bus
	Tracker    tracker.Tracker
	Scheduler  *scheduler.Scheduler
	RateLimits *ratelimit.Coordinator
	Workspaces *workspace.Manager
	Names      *namepool.Pool
	Queue      *mergequeue.Queue
	Merger     *merger.Merger
	Resolver   *conflict.Resolver
	Refinery   *refinery.Coordinator
	Pool       *pool.Pool
	Integration *pool.Integration
	Store      *sessionstore.Store
}

// newTracker selects a file- or sqlite-backed tracker from path's
// extension, defaulting to the JSON file tracker (teacher's
// db.NewStore default-to-sqlite idiom inverted here since the file
// tracker has no native migrations to run).
func newTracker(path string) (tracker.Tracker, error) {
	if path == "" {
		path = "tasks.json"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return tracker.NewSQLiteTracker(path)
	default:
		return tracker.NewFileTracker(path), nil
	}
}

// Build constructs every component from cfg, wired together over a
// single shared event bus, but does not start the dispatcher or
// refinery loops.
func Build(cfg *config.Config, repoDir, tasksPath string) (*App, error) {
	bus := events.NewBus()

	tr, err := newTracker(tasksPath)
	if err != nil {
		return nil, fmt.Errorf("app: build tracker: %w", err)
	}

	sched := scheduler.New(tr, nil, scheduler.Config{
		MaxWorkers:         cfg.Pool.MaxWorkers,
		StrictDependencies: cfg.Pool.Scheduling.StrictDependencies,
	})

	fallback := append([]string{cfg.Agents.Primary}, cfg.Agents.Fallback...)
	rl := ratelimit.NewCoordinator(fallback, bus)

	git := gitrepo.NewClient()
	ws := workspace.NewManager(repoDir, cfg.Pool.WorktreeDir, "work", git)
	names := namepool.New()

	queue := mergequeue.New()
	mg := merger.New(repoDir, git, merger.Config{
		TargetBranch:     cfg.Refinery.TargetBranch,
		RunTests:         cfg.Refinery.RunTests,
		TestCommand:      cfg.Refinery.TestCommand,
		RetryFlakyTests:  cfg.Refinery.RetryFlakyTests,
		DeleteAfterMerge: cfg.Refinery.DeleteAfterMerge,
	})

	poolCfg := pool.Config{
		MaxWorkers:         cfg.Pool.MaxWorkers,
		WorkingCopyBaseDir: cfg.Pool.WorktreeDir,
		FallbackAgents:     fallback,
		StrictDependencies: cfg.Pool.Scheduling.StrictDependencies,
		IterationLogDir:    filepath.Join(cfg.OutputDir, "iterations"),
	}
	agents := &processAgentFactory{binArgs: map[string][]string{}}
	p := pool.New(poolCfg, sched, rl, ws, names, bus, tr, agents, git, repoDir)

	resolver := conflict.New(conflict.Config{
		MaxRebaseAttempts: cfg.Refinery.MaxRebaseAttempts,
		DefaultStrategy:   conflict.Strategy(cfg.Refinery.OnConflict),
		TargetBranch:      cfg.Refinery.TargetBranch,
	}, bus, p)

	ref := refinery.New(queue, mg, resolver, sched, bus, refinery.Config{
		MaxRetries: cfg.ErrorHandling.MaxRetries,
	})

	integration := pool.NewIntegration(p, ref, nil, bus)

	store := sessionstore.New(filepath.Join(cfg.OutputDir, "session.json"))

	return &App{
		Cfg:         cfg,
		Bus:         bus,
		Tracker:     tr,
		Scheduler:   sched,
		RateLimits:  rl,
		Workspaces:  ws,
		Names:       names,
		Queue:       queue,
		Merger:      mg,
		Resolver:    resolver,
		Refinery:    ref,
		Pool:        p,
		Integration: integration,
		Store:       store,
	}, nil
}

// Snapshot builds a persistable session document from the app's current
// live state. The per-worker and merge-queue detail is taken at call
// time; callers typically invoke this right before Store.Save on a
// periodic or shutdown tick.
func (a *App) Snapshot(sessionID string, iteration int) *sessionstore.Snapshot {
	workers := make(map[string]sessionstore.WorkerState)
	for _, name := range a.Pool.LiveWorkerNames() {
		w := a.Pool.Worker(name)
		if w == nil {
			continue
		}
		t := w.CurrentTask()
		taskID := ""
		if t != nil {
			taskID = t.ID
		}
		info, _ := a.Pool.Info(name)
		workers[name] = sessionstore.WorkerState{
			TaskID:       taskID,
			Iteration:    w.Iteration(),
			Status:       string(w.Status()),
			Agent:        info.AgentID,
			Branch:       info.Branch,
			WorktreePath: info.WorktreePath,
			Error:        w.LastError(),
		}
	}

	var mergeQueue []sessionstore.MergeRequestState
	for _, r := range a.Queue.Snapshot() {
		mergeQueue = append(mergeQueue, sessionstore.MergeRequestState{
			ID:           r.ID,
			Branch:       r.Branch,
			WorkerName:   r.WorkerName,
			TaskID:       r.TaskID,
			Priority:     int(r.Priority),
			UnblockCount: r.UnblockCount,
			Status:       string(r.Status),
			RetryCount:   r.RetryCount,
			LastError:    r.LastError,
		})
	}

	rateLimits := make(map[string]sessionstore.AgentRateLimitState)
	for _, agent := range a.RateLimits.Chain() {
		st := a.RateLimits.State(agent)
		if st == nil {
			continue
		}
		rateLimits[agent] = sessionstore.AgentRateLimitState{
			Status:                string(st.Status),
			LimitedAt:             st.LimitedAt,
			RetryAfter:            st.RetryAfter,
			ConsecutiveLimitCount: st.ConsecutiveLimitCount,
		}
	}

	return &sessionstore.Snapshot{
		Version:       2,
		SessionID:     sessionID,
		Mode:          "parallel",
		Status:        sessionstore.StatusRunning,
		Iteration:     iteration,
		MaxIterations: a.Cfg.MaxIterations,
		Workers:       workers,
		MergeQueue:    mergeQueue,
		RateLimits:    rateLimits,
		MaxWorkers:    a.Cfg.Pool.MaxWorkers,
		FallbackChain: a.RateLimits.Chain(),
		ActiveTaskIDs: activeTaskIDs(workers),
	}
}

func activeTaskIDs(workers map[string]sessionstore.WorkerState) []string {
	var ids []string
	for _, w := range workers {
		if w.TaskID != "" {
			ids = append(ids, w.TaskID)
		}
	}
	return ids
}

// RestoreMergedSet seeds the scheduler's merged set from a prior
// snapshot's completed tasks, so resumed dependency checks see them as
// satisfied.
func (a *App) RestoreMergedSet(completedTasks []string) {
	a.Scheduler.SeedMerged(completedTasks)
}

// RestoreQueue replays a prior snapshot's merge queue entries, resetting
// any that were left "merging" back to "queued" (DetectAndRecover already
// does this on the snapshot; this replays the corrected shape into the
// live queue).
func (a *App) RestoreQueue(entries []sessionstore.MergeRequestState) {
	requests := make([]mergequeue.Request, 0, len(entries))
	for _, e := range entries {
		status := mergequeue.Status(e.Status)
		if status == mergequeue.StatusMerging {
			status = mergequeue.StatusQueued
		}
		requests = append(requests, mergequeue.Request{
			ID:           e.ID,
			Branch:       e.Branch,
			WorkerName:   e.WorkerName,
			TaskID:       e.TaskID,
			Priority:     e.Priority,
			UnblockCount: e.UnblockCount,
			Status:       status,
			RetryCount:   e.RetryCount,
			LastError:    e.LastError,
		})
	}
	a.Queue.Restore(requests)
}
