// Package tracker defines the external tracker capability (spec §6) and a
// JSON-file-backed implementation grounded on the teacher's feature-list
// store (db.Feature / db.FeatureList in the teacher repo).
package tracker

import (
	"context"

	"github.com/ralphcore/ralphcore/internal/task"
)

// Filter selects tasks from the tracker.
type Filter struct {
	Statuses  []task.Status
	Ready     *bool
	IDPrefix  string
	Limit     int
	Offset    int
}

// CompleteResult is the outcome of CompleteTask.
type CompleteResult struct {
	Success bool
	Task    *task.Task
	Message string
	Err     error
}

// Epic groups tasks for display purposes only.
type Epic struct {
	ID    string
	Title string
}

// Tracker is the external issue-tracker capability consumed by the
// scheduler and worker. Implementations are expected to expose a "ready"
// flag that approximates "dependencies satisfied from the tracker's
// viewpoint"; the scheduler layers the stricter "merged" check on top
// (spec §4.6, §6).
type Tracker interface {
	GetTasks(ctx context.Context, filter Filter) ([]task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	GetNextTask(ctx context.Context, filter Filter) (*task.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error)
	CompleteTask(ctx context.Context, id string, reason string) CompleteResult
	GetEpics(ctx context.Context) ([]Epic, error)
}

// Planner is an optional capability that supplies parallel tracks and
// unblock counts for tasks. The scheduler and merge queue both degrade
// gracefully (track=0, unblockCount=0) when no planner is wired in
// (spec §4.6, §9 "Unblock-count source").
type Planner interface {
	// Tracks returns, for each task id that has been assigned a track,
	// the track number. Tasks absent from the map are track 0.
	Tracks(ctx context.Context) (map[string]int, error)
	// UnblockCount returns the number of tasks that completing id would
	// unblock. Unknown ids return 0.
	UnblockCount(ctx context.Context, id string) (int, error)
}
