// Package worker drives one task's execution lifecycle: repeatedly
// invoking an agent capability inside a working copy, detecting the
// completion sentinel and rate limiting, and reporting outcomes (spec
// §4.7). Grounded on the teacher's internal/runner/session.go iteration
// loop (iteration counter, pause flag, prompt construction, stdout
// accumulation) generalized from a single-session to a per-worker model.
package worker

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ralphcore/ralphcore/internal/agentrun"
	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/iterationlog"
	"github.com/ralphcore/ralphcore/internal/ratelimit"
	"github.com/ralphcore/ralphcore/internal/task"
	"github.com/ralphcore/ralphcore/internal/tracker"
	"github.com/ralphcore/ralphcore/internal/workspace"
)

// State is a position in the worker state machine.
type State string

const (
	StateIdle        State = "idle"
	StateWorking     State = "working"
	StateRateLimited State = "rate-limited"
	StateDone        State = "done"
	StateError       State = "error"
	StateInterrupted State = "interrupted"
)

// IterationResult is the outcome of one executeIteration call.
type IterationResult struct {
	Status          string // completed | task_completed | failed | rate_limited | interrupted
	DurationMs      int64
	Output          string
	Error           string
	RateLimitMsg    string
	RateLimitAfter  time.Duration
	PromiseComplete bool
}

var promiseRe = regexp.MustCompile(`(?i)<promise>\s*COMPLETE\s*</promise>`)

// ErrNotIdle is returned by AssignTask when the worker is not idle or
// already holds a task.
var ErrNotIdle = errors.New("worker: not idle")

// Worker executes iterations of one task against one agent capability,
// inside one working copy.
type Worker struct {
	Name        string
	workingCopy *workspace.WorkingCopy
	tr          tracker.Tracker
	bus         *events.Bus
	model       *string

	mu        sync.Mutex
	agent     agentrun.Capability
	status    State
	current   *task.Task
	iteration int
	stdout    strings.Builder
	paused    bool
	lastErr   string

	activeHandle agentrun.Handle
	iterLog      *iterationlog.Writer
}

// SetIterationLog attaches a transcript writer. When unset, ExecuteIteration
// skips writing iteration log files.
func (w *Worker) SetIterationLog(lw *iterationlog.Writer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.iterLog = lw
}

// New creates an idle worker.
func New(name string, wc *workspace.WorkingCopy, agent agentrun.Capability, tr tracker.Tracker, bus *events.Bus, model *string) *Worker {
	return &Worker{
		Name:        name,
		workingCopy: wc,
		agent:       agent,
		tr:          tr,
		bus:         bus,
		model:       model,
		status:      StateIdle,
	}
}

// Status returns the current state.
func (w *Worker) Status() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// CurrentTask returns the task currently held, if any.
func (w *Worker) CurrentTask() *task.Task {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Iteration returns the number of iterations run for the current task.
func (w *Worker) Iteration() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.iteration
}

// LastError returns the error recorded on the worker's last failure, if
// any.
func (w *Worker) LastError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *Worker) emit(topic string, data any) {
	if w.bus != nil {
		w.bus.Emit(topic, data)
	}
}

// AssignTask moves t to in_progress on the tracker and starts the
// working state. It refuses if the worker is not idle or already holds a
// task.
func (w *Worker) AssignTask(ctx context.Context, t task.Task) error {
	w.mu.Lock()
	if w.status != StateIdle || w.current != nil {
		w.mu.Unlock()
		return ErrNotIdle
	}
	w.current = &t
	w.status = StateWorking
	w.iteration = 0
	w.stdout.Reset()
	w.mu.Unlock()

	if _, err := w.tr.UpdateTaskStatus(ctx, t.ID, task.StatusInProgress); err != nil {
		return fmt.Errorf("worker: update task status: %w", err)
	}
	w.emit("task:started", map[string]string{"worker": w.Name, "taskId": t.ID})
	return nil
}

// ExecuteIteration runs one agent invocation against the current task.
func (w *Worker) ExecuteIteration(ctx context.Context) (IterationResult, error) {
	w.mu.Lock()
	if w.current == nil {
		w.mu.Unlock()
		return IterationResult{}, fmt.Errorf("worker: no task assigned")
	}
	t := *w.current
	w.iteration++
	agent := w.agent
	w.mu.Unlock()

	for w.isPaused() {
		select {
		case <-ctx.Done():
			return IterationResult{Status: "interrupted"}, nil
		case <-time.After(100 * time.Millisecond):
		}
	}

	prompt := agentrun.BuildTaskPrompt(t.ID, t.Title, t.Description)
	start := time.Now()

	handle := agent.Execute(ctx, prompt, nil, agentrun.ExecuteOptions{
		Cwd: w.workingCopy.Path,
		OnStdout: func(chunk string) {
			w.mu.Lock()
			w.stdout.WriteString(chunk)
			w.stdout.WriteByte('\n')
			w.mu.Unlock()
		},
		SubagentTracing: agent.Metadata().SupportsSubagentTracing,
	})

	w.mu.Lock()
	w.activeHandle = handle
	w.mu.Unlock()

	result := handle.Wait()
	duration := time.Since(start)

	detection := ratelimit.Detect(result.Stdout, result.Stderr, result.ExitCode, agent.Metadata().ID)
	if detection.IsRateLimit {
		w.mu.Lock()
		w.status = StateRateLimited
		w.mu.Unlock()
		w.emit("rate-limited", map[string]any{"worker": w.Name, "agent": agent.Metadata().ID, "message": detection.Message})
		w.writeIterationLog(t, agent.Metadata().ID, "rate_limited", false, false, start, time.Now(), detection.Message, result.Stdout, result.Stderr)
		return IterationResult{
			Status:         "rate_limited",
			DurationMs:     duration.Milliseconds(),
			Output:         result.Stdout,
			RateLimitMsg:   detection.Message,
			RateLimitAfter: detection.RetryAfter,
		}, nil
	}

	promiseComplete := promiseRe.MatchString(result.Stdout)
	taskCompleted := promiseComplete || result.Status == "completed"

	status := "completed"
	switch {
	case result.Interrupted:
		status = "interrupted"
	case result.Status == "failed":
		status = "failed"
	case taskCompleted:
		status = "task_completed"
	}

	ir := IterationResult{
		Status:          status,
		DurationMs:      duration.Milliseconds(),
		Output:          result.Stdout,
		Error:           result.Error,
		PromiseComplete: promiseComplete,
	}

	switch status {
	case "task_completed":
		w.tr.CompleteTask(ctx, t.ID, "agent signaled completion")
		w.mu.Lock()
		w.status = StateDone
		w.mu.Unlock()
		w.emit("task:completed", map[string]string{"worker": w.Name, "taskId": t.ID})
	case "failed":
		w.mu.Lock()
		w.status = StateError
		w.lastErr = result.Error
		w.mu.Unlock()
	case "interrupted":
		w.mu.Lock()
		w.status = StateInterrupted
		w.mu.Unlock()
	}

	w.writeIterationLog(t, agent.Metadata().ID, status, taskCompleted, promiseComplete, start, time.Now(), result.Error, result.Stdout, result.Stderr)

	return ir, nil
}

// writeIterationLog persists the iteration transcript, if a writer is
// attached. Failures are swallowed: a missing log file must never abort
// an otherwise-successful iteration.
func (w *Worker) writeIterationLog(t task.Task, agentID, status string, taskCompleted, promiseComplete bool, started, ended time.Time, errMsg, stdout, stderr string) {
	w.mu.Lock()
	lw := w.iterLog
	iteration := w.iteration
	model := w.model
	w.mu.Unlock()
	if lw == nil {
		return
	}
	modelStr := ""
	if model != nil {
		modelStr = *model
	}
	epic := ""
	if t.Epic != nil {
		epic = *t.Epic
	}
	lw.Write(iterationlog.Entry{
		Iteration:       iteration,
		TaskID:          t.ID,
		Title:           t.Title,
		Description:     t.Description,
		Status:          status,
		TaskCompleted:   taskCompleted,
		PromiseDetected: promiseComplete,
		Started:         started,
		Ended:           ended,
		Error:           errMsg,
		Agent:           agentID,
		Model:           modelStr,
		Epic:            epic,
		Stdout:          stdout,
		Stderr:          stderr,
	})
}

func (w *Worker) isPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// SwitchAgent replaces the agent capability in use. If the worker was
// rate-limited, it transitions back to working.
func (w *Worker) SwitchAgent(other agentrun.Capability) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.agent = other
	if w.status == StateRateLimited {
		w.status = StateWorking
	}
}

// Stop interrupts the in-flight agent invocation, if any, and marks the
// worker interrupted immediately.
func (w *Worker) Stop() {
	w.mu.Lock()
	handle := w.activeHandle
	w.status = StateInterrupted
	w.mu.Unlock()

	if handle != nil {
		handle.Interrupt()
	}
}

// Pause sets the cooperative pause flag.
func (w *Worker) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = true
}

// Resume clears the cooperative pause flag.
func (w *Worker) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paused = false
}

// Stdout returns the accumulated stdout for the current task.
func (w *Worker) Stdout() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stdout.String()
}
