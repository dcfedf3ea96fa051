package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ralphcore/ralphcore/internal/config"
	"github.com/ralphcore/ralphcore/internal/mergequeue"
	"github.com/ralphcore/ralphcore/internal/sessionstore"
	"github.com/ralphcore/ralphcore/internal/tracker"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Pool: config.PoolConfig{
			Mode:        "parallel",
			MaxWorkers:  2,
			WorktreeDir: filepath.Join(t.TempDir(), "workers"),
		},
		Refinery: config.RefineryConfig{
			TargetBranch:      "main",
			OnConflict:        "rebase",
			MaxRebaseAttempts: 3,
		},
		Agents: config.AgentsConfig{
			Primary:  "claude",
			Fallback: []string{"codex"},
		},
		ErrorHandling: config.ErrorHandlingConfig{
			Strategy:   "retry",
			MaxRetries: 3,
		},
		RateLimitHandling: config.RateLimitHandlingConfig{
			Enabled:    true,
			MaxRetries: 5,
		},
		MaxIterations: 10,
		OutputDir:     t.TempDir(),
	}
}

func TestNewTrackerSelectsBackendByExtension(t *testing.T) {
	ft, err := newTracker(filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)
	assert.IsType(t, &tracker.FileTracker{}, ft)

	st, err := newTracker(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	assert.IsType(t, &tracker.SQLiteTracker{}, st)
}

func TestNewTrackerDefaultsToFileTrackerOnEmptyPath(t *testing.T) {
	ft, err := newTracker("")
	require.NoError(t, err)
	assert.IsType(t, &tracker.FileTracker{}, ft)
}

func TestBuildWiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	repoDir := t.TempDir()
	tasksPath := filepath.Join(t.TempDir(), "tasks.json")

	a, err := Build(cfg, repoDir, tasksPath)
	require.NoError(t, err)

	assert.NotNil(t, a.Bus)
	assert.NotNil(t, a.Tracker)
	assert.NotNil(t, a.Scheduler)
	assert.NotNil(t, a.RateLimits)
	assert.NotNil(t, a.Workspaces)
	assert.NotNil(t, a.Names)
	assert.NotNil(t, a.Queue)
	assert.NotNil(t, a.Merger)
	assert.NotNil(t, a.Resolver)
	assert.NotNil(t, a.Refinery)
	assert.NotNil(t, a.Pool)
	assert.NotNil(t, a.Integration)
	assert.NotNil(t, a.Store)

	assert.Equal(t, []string{"claude", "codex"}, a.RateLimits.Chain())
}

func TestSnapshotReflectsEmptyLiveState(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(cfg, t.TempDir(), filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	snap := a.Snapshot("session-1", 4)
	assert.Equal(t, "session-1", snap.SessionID)
	assert.Equal(t, 4, snap.Iteration)
	assert.Equal(t, cfg.MaxIterations, snap.MaxIterations)
	assert.Empty(t, snap.Workers)
	assert.Empty(t, snap.MergeQueue)
	assert.Equal(t, []string{"claude", "codex"}, snap.FallbackChain)
}

func TestRestoreMergedSetSeedsScheduler(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(cfg, t.TempDir(), filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	a.RestoreMergedSet([]string{"T1", "T2"})
	assert.True(t, a.Scheduler.IsMerged("T1"))
	assert.True(t, a.Scheduler.IsMerged("T2"))
	assert.False(t, a.Scheduler.IsMerged("T3"))
}

func TestRestoreQueueReplaysEntriesIntoLiveQueue(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(cfg, t.TempDir(), filepath.Join(t.TempDir(), "tasks.json"))
	require.NoError(t, err)

	a.RestoreQueue([]sessionstore.MergeRequestState{
		{ID: "m1", Branch: "work/w1/T1", TaskID: "T1", Priority: 5, Status: "queued"},
	})

	got := a.Queue.Get("m1")
	require.NotNil(t, got)
	assert.Equal(t, "work/w1/T1", got.Branch)
	assert.Equal(t, mergequeue.StatusQueued, got.Status)
}
