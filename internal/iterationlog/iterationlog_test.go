package iterationlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeReplacesPathUnsafeChars(t *testing.T) {
	assert.Equal(t, "feat-123-fix-bug", Sanitize(`feat/123:fix*bug`))
}

func TestFileNamePattern(t *testing.T) {
	e := Entry{Iteration: 3, TaskID: "abc/def"}
	assert.Equal(t, "iteration-003-abc-def.log", FileName(e))
}

func TestRenderTruncatesLongDescription(t *testing.T) {
	long := strings.Repeat("x", 250)
	out := Render(Entry{Description: long})
	assert.Contains(t, out, strings.Repeat("x", descriptionMax)+"...")
	assert.NotContains(t, out, strings.Repeat("x", descriptionMax+1))
}

func TestRenderIncludesHeaderAndDividers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(5 * time.Second)
	out := Render(Entry{
		Iteration:       1,
		TaskID:          "t1",
		Title:           "Fix bug",
		Status:          "task_completed",
		TaskCompleted:   true,
		PromiseDetected: true,
		Started:         start,
		Ended:           end,
		Stdout:          "did the thing",
		Stderr:          "warn: ignore me",
	})

	require.Contains(t, out, "- **Task ID**: t1")
	assert.Contains(t, out, "- **Task Completed**: Yes")
	assert.Contains(t, out, "- **Promise Detected**: Yes")
	assert.Contains(t, out, "- **Duration**: 5s")
	assert.Contains(t, out, "\n--- RAW OUTPUT ---\ndid the thing")
	assert.Contains(t, out, "\n--- STDERR ---\nwarn: ignore me")
}

func TestRenderOmitsStderrDividerWhenEmpty(t *testing.T) {
	out := Render(Entry{Stdout: "ok"})
	assert.NotContains(t, out, "--- STDERR ---")
}

func TestWriterWritesFileUnderDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "iterations")
	w := New(dir)

	path, err := w.Write(Entry{Iteration: 2, TaskID: "task-1", Stdout: "hello"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "iteration-002-task-1.log"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}
