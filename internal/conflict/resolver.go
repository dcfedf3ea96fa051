// Package conflict implements the rebase-or-escalate policy applied when
// the merger reports conflicting files (spec §4.10). Grounded on the
// teacher's internal/runner/git_ops.go EnsureConflictTask escalation
// path, generalized into a policy object with a per-branch attempt
// counter instead of a one-shot helper.
package conflict

import (
	"context"
	"sync"

	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/mergequeue"
)

// Strategy selects how a conflict is handled.
type Strategy string

const (
	StrategyRebase   Strategy = "rebase"
	StrategyEscalate Strategy = "escalate"
)

// Config controls the resolver's policy.
type Config struct {
	MaxRebaseAttempts int
	DefaultStrategy   Strategy
	TargetBranch      string
}

// RebaseDispatcher issues a rebase task to a dedicated worker through the
// pool. Implementations live in the pool package to avoid an import
// cycle; the resolver depends only on this narrow interface.
type RebaseDispatcher interface {
	// Rebase runs fetch/rebase-onto-target/force-push for branch and
	// reports whether it succeeded.
	Rebase(ctx context.Context, branch, targetBranch string) error
}

// Outcome is the result of one Resolve call.
type Outcome struct {
	Escalated bool
	Requeued  bool
	Resolved  bool // true once the rebase attempt itself has run, win or lose
}

// Resolver tracks rebase attempts per branch and drives the
// rebase-or-escalate decision.
type Resolver struct {
	cfg  Config
	bus  *events.Bus
	pool RebaseDispatcher

	mu       sync.Mutex
	attempts map[string]int
}

// New creates a resolver. pool may be nil; the resolver then escalates
// immediately whenever a rebase would otherwise be attempted (spec §4.10,
// "direct invocation in tests").
func New(cfg Config, bus *events.Bus, pool RebaseDispatcher) *Resolver {
	return &Resolver{cfg: cfg, bus: bus, pool: pool, attempts: make(map[string]int)}
}

func (r *Resolver) emit(topic string, data any) {
	if r.bus != nil {
		r.bus.Emit(topic, data)
	}
}

// Resolve applies the configured strategy to mr's branch conflict.
func (r *Resolver) Resolve(ctx context.Context, mr *mergequeue.Request, conflictFiles []string, queue *mergequeue.Queue, strategyOverride *Strategy) Outcome {
	strategy := r.cfg.DefaultStrategy
	if strategyOverride != nil {
		strategy = *strategyOverride
	}

	if strategy == StrategyEscalate {
		r.resetAttemptsLocked(mr.Branch)
		r.emit("conflict:escalated", map[string]any{"branch": mr.Branch, "files": conflictFiles})
		return Outcome{Escalated: true}
	}

	r.mu.Lock()
	attempt := r.attempts[mr.Branch] + 1
	if attempt > r.cfg.MaxRebaseAttempts {
		r.mu.Unlock()
		r.resetAttemptsLocked(mr.Branch)
		r.emit("conflict:escalated", map[string]any{"branch": mr.Branch, "files": conflictFiles})
		return Outcome{Escalated: true}
	}
	r.attempts[mr.Branch] = attempt
	r.mu.Unlock()

	r.emit("rebase:started", map[string]any{"branch": mr.Branch, "attempt": attempt})

	if r.pool == nil {
		r.resetAttemptsLocked(mr.Branch)
		r.emit("conflict:escalated", map[string]any{"branch": mr.Branch, "files": conflictFiles})
		return Outcome{Escalated: true}
	}

	if err := r.pool.Rebase(ctx, mr.Branch, r.cfg.TargetBranch); err != nil {
		if attempt >= r.cfg.MaxRebaseAttempts {
			r.resetAttemptsLocked(mr.Branch)
			r.emit("conflict:escalated", map[string]any{"branch": mr.Branch, "files": conflictFiles})
			return Outcome{Escalated: true, Resolved: true}
		}
		return Outcome{Resolved: true}
	}

	_ = queue.Requeue(mr.ID)
	r.emit("merge:requeued", map[string]any{"branch": mr.Branch, "id": mr.ID})
	return Outcome{Requeued: true, Resolved: true}
}

// ResetAttempts clears the counter for branch, called after a successful
// merge.
func (r *Resolver) ResetAttempts(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, branch)
}

func (r *Resolver) resetAttemptsLocked(branch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.attempts, branch)
}

// Attempts returns the current attempt count for branch (for tests and
// session snapshotting).
func (r *Resolver) Attempts(branch string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[branch]
}
