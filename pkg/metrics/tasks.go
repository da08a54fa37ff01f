package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TaskMetrics tracks the ML task lifecycle.
type TaskMetrics struct {
	finalized        *prometheus.CounterVec
	finalizeRejected *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	dispatchFailures prometheus.Counter
	adapterCalls     *prometheus.CounterVec
}

// NewTaskMetrics registers the task metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewTaskMetrics(reg prometheus.Registerer) *TaskMetrics {
	if reg == nil {
		return &TaskMetrics{}
	}
	finalized := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "highlightz_task_finalized_total",
		Help: "Tasks moved into a terminal state, by status and writer.",
	}, []string{"status", "source"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "highlightz_task_finalize_rejected_total",
		Help: "Terminal writes ignored because the task was already terminal.",
	}, []string{"source"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "highlightz_task_duration_seconds",
		Help:    "Time from task creation to terminal state.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
	}, []string{"status"})
	dispatchFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "highlightz_task_dispatch_failures_total",
		Help: "Enqueue attempts that failed and left the task pending.",
	})
	adapterCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "highlightz_ml_adapter_calls_total",
		Help: "Calls to the ML service by outcome kind.",
	}, []string{"outcome"})
	reg.MustRegister(finalized, rejected, duration, dispatchFailures, adapterCalls)
	return &TaskMetrics{
		finalized:        finalized,
		finalizeRejected: rejected,
		duration:         duration,
		dispatchFailures: dispatchFailures,
		adapterCalls:     adapterCalls,
	}
}

// ObserveFinalized records an applied terminal write.
func (m *TaskMetrics) ObserveFinalized(status, source string, lifetime time.Duration) {
	if m == nil || m.finalized == nil {
		return
	}
	m.finalized.WithLabelValues(normalizeLabel(status), normalizeLabel(source)).Inc()
	if lifetime > 0 {
		m.duration.WithLabelValues(normalizeLabel(status)).Observe(lifetime.Seconds())
	}
}

// IncFinalizeRejected records a terminal write lost to an earlier writer.
func (m *TaskMetrics) IncFinalizeRejected(source string) {
	if m == nil || m.finalizeRejected == nil {
		return
	}
	m.finalizeRejected.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *TaskMetrics) IncDispatchFailure() {
	if m == nil || m.dispatchFailures == nil {
		return
	}
	m.dispatchFailures.Inc()
}

func (m *TaskMetrics) IncAdapterCall(outcome string) {
	if m == nil || m.adapterCalls == nil {
		return
	}
	m.adapterCalls.WithLabelValues(normalizeLabel(outcome)).Inc()
}
