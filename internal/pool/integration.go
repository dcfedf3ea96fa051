package pool

import (
	"context"
	"sync"

	"github.com/ralphcore/ralphcore/internal/events"
	"github.com/ralphcore/ralphcore/internal/mergequeue"
	"github.com/ralphcore/ralphcore/internal/refinery"
	"github.com/ralphcore/ralphcore/internal/tracker"
)

// Integration is the thin wiring object described in spec §4.13: it
// bridges worker completion to the refinery's queue and the refinery's
// merge outcomes back to per-worker cleanup, entirely through the shared
// event bus.
type Integration struct {
	pool     *Pool
	refinery *refinery.Coordinator
	planner  tracker.Planner
	bus      *events.Bus

	mu      sync.Mutex
	pending map[string]pendingMerge // mergequeue request id -> worker/task

	unsubscribe []func()
}

type pendingMerge struct {
	workerName string
	taskID     string
}

// NewIntegration wires p and r together over bus. planner may be nil; the
// unblock count then defaults to zero for every merge request.
func NewIntegration(p *Pool, r *refinery.Coordinator, planner tracker.Planner, bus *events.Bus) *Integration {
	in := &Integration{pool: p, refinery: r, planner: planner, bus: bus, pending: make(map[string]pendingMerge)}

	in.unsubscribe = append(in.unsubscribe, bus.On("task:completed", in.onWorkerCompleted))
	in.unsubscribe = append(in.unsubscribe, bus.On("merge:completed", in.onMergeCompleted))
	in.unsubscribe = append(in.unsubscribe, bus.On("merge:failed", in.onMergeFailed))

	return in
}

func (in *Integration) onWorkerCompleted(e events.Event) {
	data, ok := e.Data.(map[string]string)
	if !ok {
		return
	}
	workerName := data["worker"]
	taskID := data["taskId"]

	lw := in.pool.lookupLiveWorker(workerName)
	if lw == nil {
		return
	}
	t := lw.w.CurrentTask()
	if t == nil {
		return
	}

	unblock := 0
	if in.planner != nil {
		if n, err := in.planner.UnblockCount(context.Background(), taskID); err == nil {
			unblock = n
		}
	}

	mr := in.refinery.QueueBranch(context.Background(), mergequeue.Input{
		Branch:       lw.wc.Branch,
		WorkerName:   workerName,
		TaskID:       taskID,
		Priority:     int(t.Priority),
		UnblockCount: unblock,
	})

	in.mu.Lock()
	in.pending[mr.ID] = pendingMerge{workerName: workerName, taskID: taskID}
	in.mu.Unlock()
}

func (in *Integration) onMergeCompleted(e events.Event) {
	data, ok := e.Data.(map[string]any)
	if !ok {
		return
	}
	id, _ := data["id"].(string)

	in.mu.Lock()
	pm, found := in.pending[id]
	delete(in.pending, id)
	in.mu.Unlock()
	if !found {
		return
	}

	in.pool.cleanupWorker(context.Background(), pm.workerName, true)
	in.pool.emit("pool:merge:completed", map[string]string{"taskId": pm.taskID, "worker": pm.workerName})
}

func (in *Integration) onMergeFailed(e events.Event) {
	data, ok := e.Data.(map[string]any)
	if !ok {
		return
	}
	id, _ := data["id"].(string)

	in.mu.Lock()
	pm, found := in.pending[id]
	delete(in.pending, id)
	in.mu.Unlock()
	if !found {
		return
	}

	in.pool.cleanupWorker(context.Background(), pm.workerName, false)
	in.pool.emit("pool:merge:failed", map[string]string{"taskId": pm.taskID, "worker": pm.workerName})
}

// Close removes every listener this integration registered on the bus.
func (in *Integration) Close() {
	for _, unsub := range in.unsubscribe {
		unsub()
	}
}
