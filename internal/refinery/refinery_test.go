package refinery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphcore/ralphcore/internal/conflict"
	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/mergequeue"
	"github.com/ralphcore/ralphcore/internal/merger"
)

type fakeGit struct {
	mu            sync.Mutex
	conflictFiles []string
	mergeErr      error
	pushErr       error
	head          string
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, repoDir, path, branch, startPoint string) error {
	return nil
}
func (f *fakeGit) WorktreeRemove(ctx context.Context, repoDir, path string, force bool) error {
	return nil
}
func (f *fakeGit) WorktreePrune(ctx context.Context, repoDir string) error { return nil }
func (f *fakeGit) WorktreeList(ctx context.Context, repoDir string) (string, error) { return "", nil }
func (f *fakeGit) DeleteBranch(ctx context.Context, repoDir, branch string) error    { return nil }
func (f *fakeGit) DeleteRemoteBranch(ctx context.Context, repoDir, branch string) error {
	return nil
}
func (f *fakeGit) Fetch(ctx context.Context, dir, remote, ref string) error { return nil }
func (f *fakeGit) Checkout(ctx context.Context, dir, branch string) error   { return nil }
func (f *fakeGit) HardReset(ctx context.Context, dir, ref string) error     { return nil }
func (f *fakeGit) MergeSimulate(ctx context.Context, dir, branch string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conflictFiles, nil
}
func (f *fakeGit) Merge(ctx context.Context, dir, branch, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mergeErr
}
func (f *fakeGit) MergeAbort(ctx context.Context, dir string) error { return nil }
func (f *fakeGit) Push(ctx context.Context, dir, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushErr
}
func (f *fakeGit) ForcePush(ctx context.Context, dir, branch string) error { return nil }
func (f *fakeGit) RebaseOnto(ctx context.Context, dir, ref string) error   { return nil }
func (f *fakeGit) RebaseAbort(ctx context.Context, dir string) error       { return nil }
func (f *fakeGit) HeadCommit(ctx context.Context, dir string) (string, error) {
	return f.head, nil
}
func (f *fakeGit) CurrentBranch(ctx context.Context, dir string) (string, error) { return "", nil }

type fakeScheduler struct {
	mu     sync.Mutex
	merged []string
}

func (f *fakeScheduler) MarkMerged(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append(f.merged, taskID)
}

func newCoordinator(git *fakeGit, sched *fakeScheduler, bus *events.Bus) (*Coordinator, *mergequeue.Queue) {
	q := mergequeue.New()
	m := merger.New("/repo", git, merger.Config{TargetBranch: "main"})
	r := conflict.New(conflict.Config{MaxRebaseAttempts: 2, DefaultStrategy: conflict.StrategyEscalate, TargetBranch: "main"}, bus, nil)
	return New(q, m, r, sched, bus, Config{MaxRetries: 2}), q
}

func TestProcessNextMergesSuccessfully(t *testing.T) {
	bus := events.NewBus()
	var completed bool
	bus.On("merge:completed", func(events.Event) { completed = true })

	git := &fakeGit{head: "abc123"}
	sched := &fakeScheduler{}
	c, q := newCoordinator(git, sched, bus)

	mr := q.Enqueue(mergequeue.Input{Branch: "work/worker1/T1", TaskID: "T1"})
	c.ProcessNext(context.Background())

	require.Eventually(t, func() bool { return q.Get(mr.ID).Status == mergequeue.StatusMerged }, time.Second, 5*time.Millisecond)
	assert.True(t, completed)
	assert.Equal(t, []string{"T1"}, sched.merged)
}

func TestProcessNextConflictDelegatesToResolver(t *testing.T) {
	bus := events.NewBus()
	var escalated bool
	bus.On("conflict:escalated", func(events.Event) { escalated = true })

	git := &fakeGit{conflictFiles: []string{"a.go"}}
	c, q := newCoordinator(git, &fakeScheduler{}, bus)

	mr := q.Enqueue(mergequeue.Input{Branch: "work/worker1/T1", TaskID: "T1"})
	c.ProcessNext(context.Background())

	require.Eventually(t, func() bool { return escalated }, time.Second, 5*time.Millisecond)
	assert.Equal(t, mergequeue.StatusConflict, q.Get(mr.ID).Status)
}

func TestProcessNextFailureRequeuesUnderMaxRetries(t *testing.T) {
	git := &fakeGit{pushErr: assertErr}
	c, q := newCoordinator(git, &fakeScheduler{}, nil)

	mr := q.Enqueue(mergequeue.Input{Branch: "work/worker1/T1", TaskID: "T1"})
	c.ProcessNext(context.Background())

	// Each failure under MaxRetries (2) requeues the request and ProcessNext
	// re-arms at once, so it runs three times: two requeues, then a
	// permanent failure with RetryCount 3.
	require.Eventually(t, func() bool {
		got := q.Get(mr.ID)
		return got.Status == mergequeue.StatusFailed && got.RetryCount == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, q.Get(mr.ID).RetryCount)
}

func TestProcessNextPermanentFailureAfterMaxRetries(t *testing.T) {
	git := &fakeGit{pushErr: assertErr}
	c, q := newCoordinator(git, &fakeScheduler{}, nil)
	c.cfg.MaxRetries = 0

	mr := q.Enqueue(mergequeue.Input{Branch: "work/worker1/T1", TaskID: "T1"})
	c.ProcessNext(context.Background())

	require.Eventually(t, func() bool { return q.Get(mr.ID).Status == mergequeue.StatusFailed }, time.Second, 5*time.Millisecond)
}

func TestStopPreventsProcessing(t *testing.T) {
	git := &fakeGit{head: "abc"}
	c, q := newCoordinator(git, &fakeScheduler{}, nil)
	c.Stop()

	q.Enqueue(mergequeue.Input{Branch: "work/worker1/T1", TaskID: "T1"})
	c.ProcessNext(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, q.Len())
}

type stringError string

func (e stringError) Error() string { return string(e) }

var assertErr = stringError("push failed")
