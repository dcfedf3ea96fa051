package sessionstore

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)

	snap, err := s.Create("sess-1", "parallel", 50, 3, []string{"primary", "fallback"}, map[string]string{"T1": "ready"})
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Version)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "sess-1", loaded.SessionID)
	assert.Equal(t, StatusRunning, loaded.Status)
	assert.Equal(t, 3, loaded.MaxWorkers)

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err)
}

func TestLoadMissingFileReturnsNilNil(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "absent.json"))
	snap, err := s.Load()
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLoadCorruptFileReturnsNilNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(path)
	snap, err := s.Load()
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

func TestLoadUnknownVersionDefaultsToV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":99,"sessionId":"x"}`), 0o644))

	s := New(path)
	snap, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Version)
}

func TestSaveIsAtomicViaRename(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)
	snap := &Snapshot{Version: 2, SessionID: "a", Workers: map[string]WorkerState{}}
	require.NoError(t, s.Save(snap))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, filepath.Ext(e.Name()) == ".tmp", "leftover temp file: %s", e.Name())
	}
}

func TestDetectAndRecoverNoLockResetsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)

	snap := &Snapshot{
		Version: 2,
		Status:  StatusRunning,
		Workers: map[string]WorkerState{"worker-1": {TaskID: "T1", Status: "working"}},
		MergeQueue: []MergeRequestState{
			{ID: "mr1", Status: "merging"},
			{ID: "mr2", Status: "queued"},
		},
		ActiveTaskIDs: []string{"T1"},
	}

	summary, err := s.DetectAndRecover(snap)
	require.NoError(t, err)
	assert.True(t, summary.Recovered)
	assert.Equal(t, []string{"worker-1"}, summary.ClearedWorkers)
	assert.Equal(t, []string{"mr1"}, summary.ResetMergeIDs)
	assert.Equal(t, []string{"T1"}, summary.ClearedTaskIDs)

	assert.Equal(t, StatusInterrupted, snap.Status)
	assert.Empty(t, snap.Workers)
	assert.Nil(t, snap.ActiveTaskIDs)
	assert.Equal(t, "queued", snap.MergeQueue[0].Status)
	assert.Equal(t, "queued", snap.MergeQueue[1].Status)

	reloaded, err := s.Load()
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, StatusInterrupted, reloaded.Status)
}

func TestDetectAndRecoverLiveLockDoesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)
	_, err := s.Create("sess-1", "parallel", 10, 2, nil, nil)
	require.NoError(t, err)

	snap, err := s.Load()
	require.NoError(t, err)
	snap.Workers["worker-1"] = WorkerState{TaskID: "T1"}

	summary, err := s.DetectAndRecover(snap)
	require.NoError(t, err)
	assert.False(t, summary.Recovered)
	assert.Equal(t, StatusRunning, snap.Status)
}

func TestDetectAndRecoverSkipsNonRunningStatus(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "session.json"))
	snap := &Snapshot{Version: 2, Status: StatusCompleted}

	summary, err := s.DetectAndRecover(snap)
	require.NoError(t, err)
	assert.False(t, summary.Recovered)
}

func TestReleaseLockRemovesFileIdempotently(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)
	_, err := s.Create("sess-1", "parallel", 1, 1, nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.ReleaseLock())
	require.NoError(t, s.ReleaseLock())
}

func TestIsProcessRunningDetectsStaleLock(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Fatalf("current process should report as running")
	}

	path := filepath.Join(t.TempDir(), "session.json")
	s := New(path)
	_, err := s.Create("sess-1", "parallel", 1, 1, nil, nil)
	require.NoError(t, err)

	proc, err := os.StartProcess("/bin/true", []string{"/bin/true"}, &os.ProcAttr{})
	if err == nil {
		proc.Wait()
		require.NoError(t, os.WriteFile(path+".lock", []byte(
			`{"pid":`+strconv.Itoa(proc.Pid)+`,"startedAt":"`+time.Now().Format(time.RFC3339)+`"}`), 0o644))
		assert.False(t, isProcessRunning(proc.Pid))
	}
}
