package gitrepo

import "context"

// Interface is the subset of git operations the working-copy manager,
// merger, and conflict resolver depend on, grounded on the teacher's
// internal/git.GitClient.
type Interface interface {
	WorktreeAdd(ctx context.Context, repoDir, path, branch, startPoint string) error
	WorktreeRemove(ctx context.Context, repoDir, path string, force bool) error
	WorktreePrune(ctx context.Context, repoDir string) error
	WorktreeList(ctx context.Context, repoDir string) (string, error)
	DeleteBranch(ctx context.Context, repoDir, branch string) error
	DeleteRemoteBranch(ctx context.Context, repoDir, branch string) error
	Fetch(ctx context.Context, dir, remote, ref string) error
	Checkout(ctx context.Context, dir, branch string) error
	HardReset(ctx context.Context, dir, ref string) error
	MergeSimulate(ctx context.Context, dir, branch string) ([]string, error)
	Merge(ctx context.Context, dir, branch, message string) error
	MergeAbort(ctx context.Context, dir string) error
	Push(ctx context.Context, dir, branch string) error
	ForcePush(ctx context.Context, dir, branch string) error
	RebaseOnto(ctx context.Context, dir, ref string) error
	RebaseAbort(ctx context.Context, dir string) error
	HeadCommit(ctx context.Context, dir string) (string, error)
	CurrentBranch(ctx context.Context, dir string) (string, error)
}

var _ Interface = (*Client)(nil)
