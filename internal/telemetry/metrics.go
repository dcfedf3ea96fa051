package telemetry

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics definitions (spec §2.3).
var (
	ReadyTasks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ralphcore_ready_tasks",
		Help: "Number of tasks whose dependencies are fully merged and that are not yet assigned.",
	})
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ralphcore_active_workers",
		Help: "Number of workers currently running an iteration.",
	})
	MergeQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ralphcore_merge_queue_depth",
		Help: "Number of merge requests currently queued, in-progress, or blocked.",
	})
	MergesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ralphcore_merges_total",
		Help: "Total merge attempts by result.",
	}, []string{"result"})
	RateLimitEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ralphcore_rate_limit_events_total",
		Help: "Total rate-limit detections by agent.",
	}, []string{"agent"})
	RebaseAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ralphcore_rebase_attempts_total",
		Help: "Total rebase attempts made by the conflict resolver.",
	})
)

var (
	metricsOnce    sync.Once
	metricsMu      sync.Mutex
	metricsRunning bool
)

// StartMetricsServer starts an HTTP server exposing Prometheus metrics.
// It attempts to bind to basePort, then each of the next 9 ports, before
// giving up.
func StartMetricsServer(basePort int) error {
	metricsMu.Lock()
	if metricsRunning {
		metricsMu.Unlock()
		return nil
	}
	metricsRunning = true
	metricsMu.Unlock()

	metricsOnce.Do(func() {
		http.Handle("/metrics", promhttp.Handler())
	})

	var listener net.Listener
	var err error

	for i := 0; i < 10; i++ {
		port := basePort + i
		addr := ":" + strconv.Itoa(port)
		listener, err = net.Listen("tcp", addr)
		if err == nil {
			fmt.Fprintf(os.Stderr, "Starting metrics server on %s\n", addr)
			return http.Serve(listener, nil)
		}
	}

	metricsMu.Lock()
	metricsRunning = false
	metricsMu.Unlock()
	return fmt.Errorf("failed to find available port starting from %d: %w", basePort, err)
}

// SetReadyTasks records the current number of unassigned, unblocked tasks.
func SetReadyTasks(count int) {
	ReadyTasks.Set(float64(count))
}

// SetActiveWorkers records the current number of busy workers.
func SetActiveWorkers(count int) {
	ActiveWorkers.Set(float64(count))
}

// SetMergeQueueDepth records the current merge queue length.
func SetMergeQueueDepth(count int) {
	MergeQueueDepth.Set(float64(count))
}

// TrackMerge records a merge attempt outcome, one of "success", "conflict", or "failed".
func TrackMerge(result string) {
	MergesTotal.WithLabelValues(result).Inc()
}

// TrackRateLimitEvent records a rate-limit detection for agent.
func TrackRateLimitEvent(agent string) {
	RateLimitEventsTotal.WithLabelValues(agent).Inc()
}

// TrackRebaseAttempt records one rebase attempt by the conflict resolver.
func TrackRebaseAttempt() {
	RebaseAttemptsTotal.Inc()
}
