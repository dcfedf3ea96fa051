package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphcore/ralphcore/internal/task"
	"github.com/ralphcore/ralphcore/internal/tracker"
)

// fakeTracker returns a fixed ready set regardless of filter, mimicking a
// tracker whose own readiness notion may be looser than the scheduler's.
type fakeTracker struct {
	tasks []task.Task
}

func (f *fakeTracker) GetTasks(ctx context.Context, filter tracker.Filter) ([]task.Task, error) {
	return f.tasks, nil
}
func (f *fakeTracker) GetTask(ctx context.Context, id string) (*task.Task, error) { return nil, nil }
func (f *fakeTracker) GetNextTask(ctx context.Context, filter tracker.Filter) (*task.Task, error) {
	return nil, nil
}
func (f *fakeTracker) UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	return nil, nil
}
func (f *fakeTracker) CompleteTask(ctx context.Context, id string, reason string) tracker.CompleteResult {
	return tracker.CompleteResult{}
}
func (f *fakeTracker) GetEpics(ctx context.Context) ([]tracker.Epic, error) { return nil, nil }

func TestGetReadyTasksSortsByPriority(t *testing.T) {
	tr := &fakeTracker{tasks: []task.Task{
		{ID: "T1", Priority: 2, Status: task.StatusOpen},
		{ID: "T2", Priority: 0, Status: task.StatusOpen},
		{ID: "T3", Priority: 1, Status: task.StatusOpen},
	}}
	s := New(tr, nil, Config{})

	out, err := s.GetReadyTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"T2", "T3", "T1"}, ids(out))
}

func TestGetReadyTasksDropsAssigned(t *testing.T) {
	tr := &fakeTracker{tasks: []task.Task{
		{ID: "T1", Priority: 0, Status: task.StatusOpen},
		{ID: "T2", Priority: 0, Status: task.StatusOpen},
	}}
	s := New(tr, nil, Config{})
	require.NoError(t, s.AssignTask("T1", "worker1"))

	out, err := s.GetReadyTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"T2"}, ids(out))
}

func TestGetReadyTasksStrictDependenciesRequiresMerged(t *testing.T) {
	tr := &fakeTracker{tasks: []task.Task{
		{ID: "T1", Priority: 0, Status: task.StatusOpen, Dependencies: []string{"T0"}},
	}}
	s := New(tr, nil, Config{StrictDependencies: true})

	out, err := s.GetReadyTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, out)

	s.MarkMerged("T0")
	out, err = s.GetReadyTasks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, ids(out))
}

func TestAssignTaskRejectsDoubleAssignment(t *testing.T) {
	s := New(&fakeTracker{}, nil, Config{})
	require.NoError(t, s.AssignTask("T1", "worker1"))
	err := s.AssignTask("T1", "worker2")
	assert.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestMarkMergedClearsAssignment(t *testing.T) {
	s := New(&fakeTracker{}, nil, Config{})
	require.NoError(t, s.AssignTask("T1", "worker1"))
	s.MarkMerged("T1")

	assert.True(t, s.IsMerged("T1"))
	_, ok := s.AssignedWorker("T1")
	assert.False(t, ok)
}

func TestCanAssignMoreRespectsMaxWorkers(t *testing.T) {
	s := New(&fakeTracker{}, nil, Config{MaxWorkers: 1})
	assert.True(t, s.CanAssignMore())
	require.NoError(t, s.AssignTask("T1", "worker1"))
	assert.False(t, s.CanAssignMore())
}

func ids(assignments []task.Assignment) []string {
	out := make([]string, len(assignments))
	for i, a := range assignments {
		out[i] = a.TaskID
	}
	return out
}
