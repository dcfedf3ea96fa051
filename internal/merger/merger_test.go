package merger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGit struct {
	conflictFiles []string
	conflictErr   error
	mergeErr      error
	pushErr       error
	head          string
	pushedBranch  string
	mergeAborted  bool
	branchDeleted string
	remoteDeleted string
	resetRefs     []string
}

func (f *fakeGit) WorktreeAdd(ctx context.Context, repoDir, path, branch, startPoint string) error {
	return nil
}
func (f *fakeGit) WorktreeRemove(ctx context.Context, repoDir, path string, force bool) error {
	return nil
}
func (f *fakeGit) WorktreePrune(ctx context.Context, repoDir string) error { return nil }
func (f *fakeGit) WorktreeList(ctx context.Context, repoDir string) (string, error) { return "", nil }
func (f *fakeGit) DeleteBranch(ctx context.Context, repoDir, branch string) error {
	f.branchDeleted = branch
	return nil
}
func (f *fakeGit) DeleteRemoteBranch(ctx context.Context, repoDir, branch string) error {
	f.remoteDeleted = branch
	return nil
}
func (f *fakeGit) Fetch(ctx context.Context, dir, remote, ref string) error { return nil }
func (f *fakeGit) Checkout(ctx context.Context, dir, branch string) error   { return nil }
func (f *fakeGit) HardReset(ctx context.Context, dir, ref string) error {
	f.resetRefs = append(f.resetRefs, ref)
	return nil
}
func (f *fakeGit) MergeSimulate(ctx context.Context, dir, branch string) ([]string, error) {
	return f.conflictFiles, f.conflictErr
}
func (f *fakeGit) Merge(ctx context.Context, dir, branch, message string) error { return f.mergeErr }
func (f *fakeGit) MergeAbort(ctx context.Context, dir string) error {
	f.mergeAborted = true
	return nil
}
func (f *fakeGit) Push(ctx context.Context, dir, branch string) error {
	f.pushedBranch = branch
	return f.pushErr
}
func (f *fakeGit) ForcePush(ctx context.Context, dir, branch string) error { return nil }
func (f *fakeGit) RebaseOnto(ctx context.Context, dir, ref string) error   { return nil }
func (f *fakeGit) RebaseAbort(ctx context.Context, dir string) error       { return nil }
func (f *fakeGit) HeadCommit(ctx context.Context, dir string) (string, error) {
	return f.head, nil
}
func (f *fakeGit) CurrentBranch(ctx context.Context, dir string) (string, error) { return "", nil }

func TestMergeSuccess(t *testing.T) {
	git := &fakeGit{head: "abc123"}
	m := New("/repo", git, Config{TargetBranch: "main"})

	res := m.Merge(context.Background(), "work/worker1/T1", "T1")
	require.True(t, res.Success)
	assert.Equal(t, "abc123", res.MergeCommit)
	assert.Equal(t, "main", git.pushedBranch)
}

func TestMergeConflictShortCircuits(t *testing.T) {
	git := &fakeGit{conflictFiles: []string{"a.go"}, conflictErr: assertErr}
	m := New("/repo", git, Config{TargetBranch: "main"})

	res := m.Merge(context.Background(), "work/worker1/T1", "T1")
	assert.True(t, res.Conflict)
	assert.Equal(t, []string{"a.go"}, res.ConflictFiles)
	assert.Empty(t, git.pushedBranch)
}

func TestMergeFailureAborts(t *testing.T) {
	git := &fakeGit{mergeErr: assertErr}
	m := New("/repo", git, Config{TargetBranch: "main"})

	res := m.Merge(context.Background(), "work/worker1/T1", "T1")
	assert.False(t, res.Success)
	assert.False(t, res.Conflict)
	assert.True(t, git.mergeAborted)
}

func TestMergePushFailureResetsToTarget(t *testing.T) {
	git := &fakeGit{pushErr: assertErr}
	m := New("/repo", git, Config{TargetBranch: "main"})

	res := m.Merge(context.Background(), "work/worker1/T1", "T1")
	assert.False(t, res.Success)
	assert.Contains(t, git.resetRefs, "origin/main")
}

func TestMergeDeleteAfterMergeDeletesLocalAndRemoteBranch(t *testing.T) {
	git := &fakeGit{head: "abc123"}
	m := New("/repo", git, Config{TargetBranch: "main", DeleteAfterMerge: true})

	res := m.Merge(context.Background(), "work/worker1/T1", "T1")
	require.True(t, res.Success)
	assert.Equal(t, "work/worker1/T1", git.branchDeleted)
	assert.Equal(t, "work/worker1/T1", git.remoteDeleted)
}

func TestMergeSkipsTestsWhenDisabled(t *testing.T) {
	git := &fakeGit{head: "abc123"}
	m := New("/repo", git, Config{TargetBranch: "main", RunTests: false})

	res := m.Merge(context.Background(), "work/worker1/T1", "T1")
	require.True(t, res.Success)
}

type stringError string

func (e stringError) Error() string { return string(e) }

var assertErr = stringError("boom")
