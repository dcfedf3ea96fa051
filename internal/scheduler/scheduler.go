// Package scheduler computes ready tasks from a tracker plus the set of
// already-merged task ids, and tracks worker assignments (spec §4.6).
// Grounded on the teacher's internal/runner/taskgraph.go (dependency
// graph construction and ready-task computation), generalized from a
// single-writer merged-set to the "merged, not merely completed"
// invariant this system requires.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ralphcore/ralphcore/internal/task"
	"github.com/ralphcore/ralphcore/internal/tracker"
)

// ErrAlreadyAssigned is raised by AssignTask when the task already has a
// worker.
var ErrAlreadyAssigned = errors.New("scheduler: task already assigned")

// Config controls scheduling behavior.
type Config struct {
	// MaxWorkers caps concurrent assignments; 0 means unlimited.
	MaxWorkers int
	// StrictDependencies drops tasks whose dependencies are not all in
	// the merged set, even if the tracker itself reports them ready.
	StrictDependencies bool
}

// Scheduler computes ready work and tracks task→worker assignment.
type Scheduler struct {
	tr      tracker.Tracker
	planner tracker.Planner
	cfg     Config

	mu       sync.Mutex
	merged   *task.MergedSet
	assigned map[string]string // taskId -> workerName
	tracks   map[string]int
}

// New creates a scheduler over tr with the given configuration. planner
// may be nil; tracks and unblock counts then default to zero.
func New(tr tracker.Tracker, planner tracker.Planner, cfg Config) *Scheduler {
	return &Scheduler{
		tr:       tr,
		planner:  planner,
		cfg:      cfg,
		merged:   task.NewMergedSet(),
		assigned: make(map[string]string),
		tracks:   make(map[string]int),
	}
}

// GetReadyTasks implements the algorithm in spec §4.6: query the tracker
// for ready {open,in_progress} tasks, drop already-assigned ones, drop
// dependency-unmerged ones when strict, attach track numbers, and sort by
// ascending priority (tracker order is the tiebreaker).
func (s *Scheduler) GetReadyTasks(ctx context.Context) ([]task.Assignment, error) {
	readyTrue := true
	tasks, err := s.tr.GetTasks(ctx, tracker.Filter{
		Statuses: []task.Status{task.StatusOpen, task.StatusInProgress},
		Ready:    &readyTrue,
	})
	if err != nil {
		return nil, fmt.Errorf("scheduler: get tasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]task.Assignment, 0, len(tasks))
	for _, t := range tasks {
		if _, isAssigned := s.assigned[t.ID]; isAssigned {
			continue
		}
		if s.cfg.StrictDependencies && !s.allDepsMergedLocked(t.Dependencies) {
			continue
		}
		out = append(out, task.Assignment{
			TaskID:       t.ID,
			Dependencies: t.Dependencies,
			Track:        s.tracks[t.ID],
		})
	}

	priorityByID := make(map[string]task.Priority, len(tasks))
	for _, t := range tasks {
		priorityByID[t.ID] = t.Priority
	}
	sort.SliceStable(out, func(i, j int) bool {
		return priorityByID[out[i].TaskID] < priorityByID[out[j].TaskID]
	})

	return out, nil
}

func (s *Scheduler) allDepsMergedLocked(deps []string) bool {
	for _, dep := range deps {
		if !s.merged.Contains(dep) {
			return false
		}
	}
	return true
}

// AssignTask records taskId as held by worker. It is illegal to assign an
// already-assigned task.
func (s *Scheduler) AssignTask(taskID, worker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assigned[taskID]; ok {
		return ErrAlreadyAssigned
	}
	s.assigned[taskID] = worker
	return nil
}

// UnassignTask frees taskId without marking it merged (used on worker
// failure/interruption).
func (s *Scheduler) UnassignTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assigned, taskID)
}

// MarkMerged adds taskId to the merged set and clears its assignment.
func (s *Scheduler) MarkMerged(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged.Add(taskID)
	delete(s.assigned, taskID)
}

// IsMerged reports whether taskId is in the merged set.
func (s *Scheduler) IsMerged(taskID string) bool {
	return s.merged.Contains(taskID)
}

// CanAssignMore reports whether another worker may be spawned given
// MaxWorkers.
func (s *Scheduler) CanAssignMore() bool {
	if s.cfg.MaxWorkers <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.assigned) < s.cfg.MaxWorkers
}

// GetTracks returns the cached track-number assignment.
func (s *Scheduler) GetTracks() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.tracks))
	for k, v := range s.tracks {
		out[k] = v
	}
	return out
}

// RefreshTracks consults the planner, if any, to rebuild the track cache.
// Planner failures are non-fatal; the existing cache is left untouched.
func (s *Scheduler) RefreshTracks(ctx context.Context) error {
	if s.planner == nil {
		return nil
	}
	tracks, err := s.planner.Tracks(ctx)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	s.tracks = tracks
	s.mu.Unlock()
	return nil
}

// MergedSnapshot returns the task ids currently considered merged.
func (s *Scheduler) MergedSnapshot() []string {
	return s.merged.Snapshot()
}

// SeedMerged marks ids as already merged, used when resuming a session.
func (s *Scheduler) SeedMerged(ids []string) {
	for _, id := range ids {
		s.merged.Add(id)
	}
}

// AssignedWorker returns the worker holding taskId, if any.
func (s *Scheduler) AssignedWorker(taskID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.assigned[taskID]
	return w, ok
}
