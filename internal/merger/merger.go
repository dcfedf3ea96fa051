// Package merger implements the pull/merge/test/push sequence that lands
// a worker's branch onto the target branch (spec §4.9). Grounded on the
// teacher's internal/runner/git_ops.go pushProgress/merge sequence and
// internal/git/client.go's fetch-checkout-reset pattern.
package merger

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ralphcore/ralphcore/internal/gitrepo"
)

// Config controls the merge sequence.
type Config struct {
	TargetBranch     string
	RunTests         bool
	TestCommand      string
	RetryFlakyTests  int
	DeleteAfterMerge bool
}

// Result is the outcome of one Merge call.
type Result struct {
	Success       bool
	Conflict      bool
	ConflictFiles []string
	TestsFailed   bool
	MergeCommit   string
	Error         string
}

// Merger performs the merge sequence against repoDir, a checkout of the
// shared repository (not a worker's working copy).
type Merger struct {
	repoDir string
	git     gitrepo.Interface
	cfg     Config
}

// New creates a merger operating on repoDir.
func New(repoDir string, git gitrepo.Interface, cfg Config) *Merger {
	return &Merger{repoDir: repoDir, git: git, cfg: cfg}
}

// Merge runs the strict sequence: pull target, check for conflicts,
// merge, optionally test, push, and optionally delete the source branch.
func (m *Merger) Merge(ctx context.Context, branch, taskID string) Result {
	if err := m.pullTarget(ctx); err != nil {
		return Result{Error: err.Error()}
	}

	conflictFiles, err := m.git.MergeSimulate(ctx, m.repoDir, branch)
	if err != nil && len(conflictFiles) == 0 {
		return Result{Error: fmt.Sprintf("merger: merge simulation: %v", err)}
	}
	if len(conflictFiles) > 0 {
		return Result{Conflict: true, ConflictFiles: conflictFiles}
	}

	message := fmt.Sprintf("Merge %s (%s)", branch, taskID)
	if err := m.git.Merge(ctx, m.repoDir, branch, message); err != nil {
		_ = m.git.MergeAbort(ctx, m.repoDir)
		return Result{Error: fmt.Sprintf("merger: merge: %v", err)}
	}

	if m.cfg.RunTests {
		if !m.runTestsWithRetry(ctx) {
			_ = m.git.HardReset(ctx, m.repoDir, "origin/"+m.cfg.TargetBranch)
			return Result{TestsFailed: true}
		}
	}

	if err := m.git.Push(ctx, m.repoDir, m.cfg.TargetBranch); err != nil {
		_ = m.git.HardReset(ctx, m.repoDir, "origin/"+m.cfg.TargetBranch)
		return Result{Error: fmt.Sprintf("merger: push: %v", err)}
	}

	head, err := m.git.HeadCommit(ctx, m.repoDir)
	if err != nil {
		return Result{Error: fmt.Sprintf("merger: head commit: %v", err)}
	}

	if m.cfg.DeleteAfterMerge {
		_ = m.git.DeleteBranch(ctx, m.repoDir, branch)
		_ = m.git.DeleteRemoteBranch(ctx, m.repoDir, branch)
	}

	return Result{Success: true, MergeCommit: head}
}

func (m *Merger) pullTarget(ctx context.Context) error {
	if err := m.git.Fetch(ctx, m.repoDir, "origin", m.cfg.TargetBranch); err != nil {
		return fmt.Errorf("merger: fetch: %w", err)
	}
	if err := m.git.Checkout(ctx, m.repoDir, m.cfg.TargetBranch); err != nil {
		return fmt.Errorf("merger: checkout: %w", err)
	}
	if err := m.git.HardReset(ctx, m.repoDir, "origin/"+m.cfg.TargetBranch); err != nil {
		return fmt.Errorf("merger: reset: %w", err)
	}
	return nil
}

func (m *Merger) runTestsWithRetry(ctx context.Context) bool {
	attempts := m.cfg.RetryFlakyTests + 1
	for i := 0; i < attempts; i++ {
		if m.runTestCommand(ctx) {
			return true
		}
	}
	return false
}

func (m *Merger) runTestCommand(ctx context.Context) bool {
	if m.cfg.TestCommand == "" {
		return true
	}
	fields := strings.Fields(m.cfg.TestCommand)
	if len(fields) == 0 {
		return true
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	cmd.Dir = m.repoDir
	return cmd.Run() == nil
}
