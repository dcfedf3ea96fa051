package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ralphcore/ralphcore/internal/task"
)

// fileTask is the on-disk shape of a task, grounded on the teacher's
// feature_list.json (db.Feature / db.FeatureList).
type fileTask struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Status       string   `json:"status"`
	Priority     int      `json:"priority"`
	Dependencies []string `json:"dependencies"`
	Epic         string   `json:"epic,omitempty"`
}

type fileTaskList struct {
	Tasks []fileTask `json:"tasks"`
}

// FileTracker is a JSON-file-backed Tracker. Ready is computed from the
// tracker's own view: a task is ready when every dependency's status is
// completed, independent of whether those changes have actually been
// merged (that stricter check belongs to the scheduler's mergedSet).
type FileTracker struct {
	mu   sync.Mutex
	path string
}

// NewFileTracker opens (without yet reading) the JSON file at path.
func NewFileTracker(path string) *FileTracker {
	return &FileTracker{path: path}
}

func (f *FileTracker) load() (fileTaskList, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return fileTaskList{}, nil
	}
	if err != nil {
		return fileTaskList{}, fmt.Errorf("tracker: read %s: %w", f.path, err)
	}
	var list fileTaskList
	if err := json.Unmarshal(data, &list); err != nil {
		return fileTaskList{}, fmt.Errorf("tracker: parse %s: %w", f.path, err)
	}
	return list, nil
}

// save writes the task list via a temp-file-plus-rename, mirroring the
// session store's crash-safety pattern (spec §5, "Shared resources").
func (f *FileTracker) save(list fileTaskList) error {
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".tracker-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, f.path)
}

func toTask(ft fileTask) task.Task {
	t := task.Task{
		ID:           ft.ID,
		Title:        ft.Title,
		Description:  ft.Description,
		Status:       task.Status(ft.Status),
		Priority:     task.Priority(ft.Priority),
		Dependencies: ft.Dependencies,
	}
	if ft.Epic != "" {
		epic := ft.Epic
		t.Epic = &epic
	}
	return t
}

func (f *FileTracker) isReady(list fileTaskList, t fileTask) bool {
	if task.Status(t.Status) != task.StatusOpen && task.Status(t.Status) != task.StatusInProgress {
		return false
	}
	byID := make(map[string]fileTask, len(list.Tasks))
	for _, other := range list.Tasks {
		byID[other.ID] = other
	}
	for _, dep := range t.Dependencies {
		depTask, ok := byID[dep]
		if !ok || task.Status(depTask.Status) != task.StatusCompleted {
			return false
		}
	}
	return true
}

// GetTasks implements Tracker.
func (f *FileTracker) GetTasks(ctx context.Context, filter Filter) ([]task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load()
	if err != nil {
		return nil, err
	}

	statusAllowed := func(s task.Status) bool {
		if len(filter.Statuses) == 0 {
			return true
		}
		for _, allowed := range filter.Statuses {
			if allowed == s {
				return true
			}
		}
		return false
	}

	var out []task.Task
	for _, ft := range list.Tasks {
		if !statusAllowed(task.Status(ft.Status)) {
			continue
		}
		if filter.IDPrefix != "" && !hasPrefix(ft.ID, filter.IDPrefix) {
			continue
		}
		ready := f.isReady(list, ft)
		if filter.Ready != nil && *filter.Ready != ready {
			continue
		}
		out = append(out, toTask(ft))
	}

	if filter.Offset > 0 && filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else if filter.Offset >= len(out) {
		out = nil
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// GetTask implements Tracker.
func (f *FileTracker) GetTask(ctx context.Context, id string) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load()
	if err != nil {
		return nil, err
	}
	for _, ft := range list.Tasks {
		if ft.ID == id {
			t := toTask(ft)
			return &t, nil
		}
	}
	return nil, nil
}

// GetNextTask returns the highest-priority ready task matching filter.
func (f *FileTracker) GetNextTask(ctx context.Context, filter Filter) (*task.Task, error) {
	readyTrue := true
	filter.Ready = &readyTrue
	tasks, err := f.GetTasks(ctx, filter)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	best := tasks[0]
	for _, t := range tasks[1:] {
		if t.Priority < best.Priority {
			best = t
		}
	}
	return &best, nil
}

// UpdateTaskStatus implements Tracker.
func (f *FileTracker) UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load()
	if err != nil {
		return nil, err
	}
	for i := range list.Tasks {
		if list.Tasks[i].ID == id {
			list.Tasks[i].Status = string(status)
			if err := f.save(list); err != nil {
				return nil, err
			}
			t := toTask(list.Tasks[i])
			return &t, nil
		}
	}
	return nil, nil
}

// CompleteTask implements Tracker.
func (f *FileTracker) CompleteTask(ctx context.Context, id string, reason string) CompleteResult {
	t, err := f.UpdateTaskStatus(ctx, id, task.StatusCompleted)
	if err != nil {
		return CompleteResult{Success: false, Err: err, Message: err.Error()}
	}
	if t == nil {
		return CompleteResult{Success: false, Message: fmt.Sprintf("task %s not found", id)}
	}
	return CompleteResult{Success: true, Task: t, Message: reason}
}

// GetEpics implements Tracker.
func (f *FileTracker) GetEpics(ctx context.Context) ([]Epic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	list, err := f.load()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []Epic
	for _, ft := range list.Tasks {
		if ft.Epic == "" || seen[ft.Epic] {
			continue
		}
		seen[ft.Epic] = true
		out = append(out, Epic{ID: ft.Epic, Title: ft.Epic})
	}
	return out, nil
}
