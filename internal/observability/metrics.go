package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	TasksExecuted     *prometheus.CounterVec
	TaskDuration      *prometheus.HistogramVec
	ActiveTasks       prometheus.Gauge
	MemoryOps         *prometheus.CounterVec
	MemoryExtractions *prometheus.CounterVec
	ProviderErrors    *prometheus.CounterVec
	SnapshotRuns      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_executed_total",
			Help:      "Agent task executions by task type and outcome.",
		}, []string{"task_type", "status"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall-clock task execution time by task type.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 180, 600},
		}, []string{"task_type"}),
		ActiveTasks: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_tasks",
			Help:      "Number of tasks currently executing.",
		}),
		MemoryOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_ops_total",
			Help:      "Memory store operations by kind.",
		}, []string{"op"}),
		MemoryExtractions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_extractions_total",
			Help:      "Heuristic memory extractions by matched pattern.",
		}, []string{"pattern"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and stage.",
		}, []string{"provider", "stage"}),
		SnapshotRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_runs_total",
			Help:      "Analytics snapshot runs by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveTaskExecution(taskType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksExecuted.WithLabelValues(taskType, status).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(d.Seconds())
}

func (m *Metrics) ObserveMemoryOp(op string) {
	if m == nil {
		return
	}
	m.MemoryOps.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveProviderError(provider, stage string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, stage).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
