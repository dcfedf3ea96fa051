// Package workspace manages the isolated git working copies workers run
// agents inside: one directory and branch per worker, tracked with a JSON
// sidecar so state survives process restarts (spec §4.2). Grounded on the
// teacher's internal/runner/git_ops.go working-copy bookkeeping and its
// .agent_state.json sidecar pattern.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ralphcore/ralphcore/internal/gitrepo"
)

var (
	// ErrAlreadyExists is returned by Create when the target directory is
	// already present.
	ErrAlreadyExists = errors.New("workspace: working copy already exists")
	// ErrNotFound is returned when no working copy is registered under the
	// given name.
	ErrNotFound = errors.New("workspace: working copy not found")
)

// GitError wraps an underlying git failure, preserving its original
// message (spec §4.2 failure taxonomy).
type GitError struct {
	Op  string
	Err error
}

func (e *GitError) Error() string { return fmt.Sprintf("workspace: git %s: %v", e.Op, e.Err) }
func (e *GitError) Unwrap() error { return e.Err }

// WorkingCopy is the in-memory and sidecar-persisted record of one
// isolated working directory.
type WorkingCopy struct {
	Name      string    `json:"name"`
	Path      string    `json:"-"`
	Branch    string    `json:"branch"`
	TaskID    *string   `json:"taskId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const sidecarFile = ".agent_state.json"

// Manager creates, tracks, and reclaims working copies under baseDir, all
// branched with the given prefix off repoDir.
type Manager struct {
	repoDir string
	baseDir string
	prefix  string
	git     gitrepo.Interface
}

// NewManager creates a manager rooted at repoDir, placing working copies
// under baseDir and naming branches "{prefix}/{name}/{taskId}".
func NewManager(repoDir, baseDir, prefix string, git gitrepo.Interface) *Manager {
	return &Manager{repoDir: repoDir, baseDir: baseDir, prefix: prefix, git: git}
}

func (m *Manager) pathFor(name string) string {
	return filepath.Join(m.baseDir, name)
}

func (m *Manager) branchFor(name, taskID string) string {
	return fmt.Sprintf("%s/%s/%s", m.prefix, name, taskID)
}

// Create makes a fresh working copy for name on a new branch rooted at
// startPoint ("" defaults to HEAD of repoDir). It refuses if a directory
// already exists at the target path.
func (m *Manager) Create(ctx context.Context, name, taskID, startPoint string) (*WorkingCopy, error) {
	path := m.pathFor(name)
	if _, err := os.Stat(path); err == nil {
		return nil, ErrAlreadyExists
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("workspace: stat %s: %w", path, err)
	}

	if startPoint == "" {
		head, err := m.git.HeadCommit(ctx, m.repoDir)
		if err != nil {
			return nil, &GitError{Op: "rev-parse", Err: err}
		}
		startPoint = head
	}

	if err := os.MkdirAll(m.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: mkdir %s: %w", m.baseDir, err)
	}

	branch := m.branchFor(name, taskID)
	if err := m.git.WorktreeAdd(ctx, m.repoDir, path, branch, startPoint); err != nil {
		return nil, &GitError{Op: "worktree add", Err: err}
	}

	wc := &WorkingCopy{
		Name:      name,
		Path:      path,
		Branch:    branch,
		TaskID:    strPtr(taskID),
		CreatedAt: time.Now(),
	}
	if err := m.writeSidecar(wc); err != nil {
		return nil, err
	}
	return wc, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type sidecar struct {
	Name      string    `json:"name"`
	TaskID    *string   `json:"taskId,omitempty"`
	Branch    string    `json:"branch"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m *Manager) writeSidecar(wc *WorkingCopy) error {
	data, err := json.MarshalIndent(sidecar{
		Name:      wc.Name,
		TaskID:    wc.TaskID,
		Branch:    wc.Branch,
		CreatedAt: wc.CreatedAt,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(wc.Path, sidecarFile), data, 0o644)
}

func (m *Manager) readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(filepath.Join(path, sidecarFile))
	if err != nil {
		return nil, err
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Get returns the working copy registered under name.
func (m *Manager) Get(name string) (*WorkingCopy, error) {
	path := m.pathFor(name)
	sc, err := m.readSidecar(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: read sidecar for %s: %w", name, err)
	}
	return &WorkingCopy{
		Name:      sc.Name,
		Path:      path,
		Branch:    sc.Branch,
		TaskID:    sc.TaskID,
		CreatedAt: sc.CreatedAt,
	}, nil
}

// List returns every registered working copy whose branch matches the
// manager's naming prefix.
func (m *Manager) List() ([]*WorkingCopy, error) {
	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace: read dir %s: %w", m.baseDir, err)
	}

	var out []*WorkingCopy
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		wc, err := m.Get(e.Name())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(wc.Branch, m.prefix+"/") {
			continue
		}
		out = append(out, wc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateTaskID rewrites the sidecar's task association. A nil taskID
// clears it (the working copy is idle, awaiting a new assignment).
func (m *Manager) UpdateTaskID(name string, taskID *string) error {
	wc, err := m.Get(name)
	if err != nil {
		return err
	}
	wc.TaskID = taskID
	return m.writeSidecar(wc)
}

// Remove deletes the working copy directory and, if alsoDeleteBranch is
// set, the branch as well. Clean removal is attempted first; on failure
// the directory is force-removed and stale worktree references pruned.
func (m *Manager) Remove(ctx context.Context, name string, alsoDeleteBranch bool) error {
	wc, err := m.Get(name)
	if err != nil {
		return err
	}

	if err := m.git.WorktreeRemove(ctx, m.repoDir, wc.Path, false); err != nil {
		if rmErr := m.git.WorktreeRemove(ctx, m.repoDir, wc.Path, true); rmErr != nil {
			os.RemoveAll(wc.Path)
		}
		_ = m.git.WorktreePrune(ctx, m.repoDir)
	}
	os.RemoveAll(wc.Path)

	if alsoDeleteBranch {
		if err := m.git.DeleteBranch(ctx, m.repoDir, wc.Branch); err != nil {
			return &GitError{Op: "branch -D", Err: err}
		}
	}
	return nil
}

// Reconcile prunes stale worktree references and removes base-dir entries
// that are not registered as valid working copies (no readable sidecar).
// Intended to run once at pool startup.
func (m *Manager) Reconcile(ctx context.Context) error {
	if err := m.git.WorktreePrune(ctx, m.repoDir); err != nil {
		return &GitError{Op: "worktree prune", Err: err}
	}

	entries, err := os.ReadDir(m.baseDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("workspace: read dir %s: %w", m.baseDir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		if _, err := m.readSidecar(path); err != nil {
			os.RemoveAll(path)
		}
	}
	return nil
}
