package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/ralphcore/ralphcore/internal/task"
)

// SQLiteTracker is a sqlite-file-backed Tracker, grounded on the teacher's
// SQLiteStore (WAL journal mode, busy-timeout DSN, idempotent migration).
// It exists as an alternative to FileTracker for installations that want
// task state queryable outside this process.
type SQLiteTracker struct {
	db *sql.DB
}

// NewSQLiteTracker opens path (creating it if absent) and applies the
// schema migration.
func NewSQLiteTracker(path string) (*SQLiteTracker, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("tracker: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: ping sqlite: %w", err)
	}
	t := &SQLiteTracker{db: db}
	if err := t.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracker: migrate: %w", err)
	}
	return t, nil
}

func (t *SQLiteTracker) migrate() error {
	_, err := t.db.Exec(`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'open',
		priority INTEGER NOT NULL DEFAULT 4,
		dependencies TEXT NOT NULL DEFAULT '',
		epic TEXT NOT NULL DEFAULT ''
	);`)
	return err
}

// Close releases the underlying database handle.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}

func depsToColumn(deps []string) string { return strings.Join(deps, ",") }

func depsFromColumn(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (t *SQLiteTracker) scanRow(row interface {
	Scan(dest ...any) error
}) (task.Task, error) {
	var id, title, desc, status, epic, depsCol string
	var priority int
	if err := row.Scan(&id, &title, &desc, &status, &priority, &depsCol, &epic); err != nil {
		return task.Task{}, err
	}
	tk := task.Task{
		ID:           id,
		Title:        title,
		Description:  desc,
		Status:       task.Status(status),
		Priority:     task.Priority(priority),
		Dependencies: depsFromColumn(depsCol),
	}
	if epic != "" {
		e := epic
		tk.Epic = &e
	}
	return tk, nil
}

func (t *SQLiteTracker) allTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, title, description, status, priority, dependencies, epic FROM tasks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Task
	for rows.Next() {
		tk, err := t.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tk)
	}
	return out, rows.Err()
}

func (t *SQLiteTracker) isReady(all []task.Task, tk task.Task) bool {
	if !tk.IsOpenOrInProgress() {
		return false
	}
	byID := make(map[string]task.Task, len(all))
	for _, o := range all {
		byID[o.ID] = o
	}
	for _, dep := range tk.Dependencies {
		depTask, ok := byID[dep]
		if !ok || depTask.Status != task.StatusCompleted {
			return false
		}
	}
	return true
}

// GetTasks implements Tracker.
func (t *SQLiteTracker) GetTasks(ctx context.Context, filter Filter) ([]task.Task, error) {
	all, err := t.allTasks(ctx)
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
	for _, tk := range all {
		if !statusAllowed(tk.Status) {
			continue
		}
		if filter.IDPrefix != "" && !hasPrefix(tk.ID, filter.IDPrefix) {
			continue
		}
		ready := t.isReady(all, tk)
		if filter.Ready != nil && *filter.Ready != ready {
			continue
		}
		out = append(out, tk)
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

// GetTask implements Tracker.
func (t *SQLiteTracker) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := t.db.QueryRowContext(ctx, `SELECT id, title, description, status, priority, dependencies, epic FROM tasks WHERE id = ?`, id)
	tk, err := t.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tk, nil
}

// GetNextTask returns the highest-priority ready task matching filter.
func (t *SQLiteTracker) GetNextTask(ctx context.Context, filter Filter) (*task.Task, error) {
	readyTrue := true
	filter.Ready = &readyTrue
	tasks, err := t.GetTasks(ctx, filter)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	best := tasks[0]
	for _, tk := range tasks[1:] {
		if tk.Priority < best.Priority {
			best = tk
		}
	}
	return &best, nil
}

// UpdateTaskStatus implements Tracker.
func (t *SQLiteTracker) UpdateTaskStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	res, err := t.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return t.GetTask(ctx, id)
}

// CompleteTask implements Tracker.
func (t *SQLiteTracker) CompleteTask(ctx context.Context, id string, reason string) CompleteResult {
	tk, err := t.UpdateTaskStatus(ctx, id, task.StatusCompleted)
	if err != nil {
		return CompleteResult{Success: false, Err: err, Message: err.Error()}
	}
	if tk == nil {
		return CompleteResult{Success: false, Message: fmt.Sprintf("task %s not found", id)}
	}
	return CompleteResult{Success: true, Task: tk, Message: reason}
}

// GetEpics implements Tracker.
func (t *SQLiteTracker) GetEpics(ctx context.Context) ([]Epic, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT DISTINCT epic FROM tasks WHERE epic != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Epic
	for rows.Next() {
		var epic string
		if err := rows.Scan(&epic); err != nil {
			return nil, err
		}
		out = append(out, Epic{ID: epic, Title: epic})
	}
	return out, rows.Err()
}

// UpsertTask inserts or replaces a task row; used by tests and by import
// tooling to seed the tracker.
func (t *SQLiteTracker) UpsertTask(ctx context.Context, tk task.Task) error {
	epic := ""
	if tk.Epic != nil {
		epic = *tk.Epic
	}
	_, err := t.db.ExecContext(ctx, `INSERT INTO tasks (id, title, description, status, priority, dependencies, epic)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description,
			status=excluded.status, priority=excluded.priority, dependencies=excluded.dependencies, epic=excluded.epic`,
		tk.ID, tk.Title, tk.Description, string(tk.Status), int(tk.Priority), depsToColumn(tk.Dependencies), epic)
	return err
}
