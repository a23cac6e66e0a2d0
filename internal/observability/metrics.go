// File: internal/observability/metrics.go
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "formpilot"

var (
	// ActiveSessions tracks live entries in the session registry.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "sessions_active",
		Help:      "Number of live browser sessions in the registry.",
	})

	// SessionCommands counts commands handled per session operation and result.
	SessionCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "session_commands_total",
		Help:      "Commands executed against browser sessions.",
	}, []string{"op", "result"})

	// StreamFrames counts screenshot frames by outcome (sent or dropped).
	StreamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "stream_frames_total",
		Help:      "Screenshot frames produced for observers.",
	}, []string{"outcome"})

	// StreamObservers tracks connected streaming observers.
	StreamObservers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "stream_observers",
		Help:      "Number of connected streaming observers.",
	})

	// ExecutorRuns counts executor runs by final status.
	ExecutorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "executor_runs_total",
		Help:      "Plan executor runs by terminal or paused status.",
	}, []string{"status"})

	// ExecutorFailures counts classified action failures.
	ExecutorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "executor_failures_total",
		Help:      "Classified action failures that paused a run.",
	}, []string{"category"})
)
