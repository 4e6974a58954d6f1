package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DeploymentProcessedTotal is the required series from §6: total
	// deployments the pipeline has finished, by terminal status.
	DeploymentProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deployment_processed_total",
			Help: "Total deployments processed by the pipeline, by terminal status",
		},
		[]string{"status"},
	)

	// DeploymentDurationSeconds is the required histogram from §6.
	DeploymentDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deployment_duration_seconds",
			Help:    "Deployment pipeline duration in seconds",
			Buckets: []float64{1, 3, 5, 10, 20, 30, 60, 120},
		},
	)

	QueueInvalidPayloadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_invalid_payloads_total",
			Help: "Deployment queue payloads that failed to parse",
		},
	)

	QueueDuplicateJobsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "queue_duplicate_jobs_total",
			Help: "Deployment jobs skipped because the per-deployment lock was held",
		},
	)

	ContainerActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "container_actions_total",
			Help: "Container sleep/wake actions processed, by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	UsageRecordsWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "usage_records_written_total",
			Help: "Non-zero usage rows written by the stats collector",
		},
	)

	StatsCollectorCycleSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stats_collector_cycle_skipped_total",
			Help: "Stats collector cycles skipped because the previous cycle was still running",
		},
	)

	RecoveryActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recovery_actions_total",
			Help: "Recovery loop outcomes, by action",
		},
		[]string{"action"},
	)

	RecoveryCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recovery_cycle_duration_seconds",
			Help:    "Recovery loop cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AnomalyRiskScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anomaly_risk_score",
			Help: "Most recent anomaly risk score per project",
		},
		[]string{"project_id"},
	)

	SchedulerCandidatesEvaluated = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_candidates_evaluated",
			Help:    "Number of healthy servers considered per schedule call",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		},
	)
)

func init() {
	prometheus.MustRegister(
		DeploymentProcessedTotal,
		DeploymentDurationSeconds,
		QueueInvalidPayloadsTotal,
		QueueDuplicateJobsTotal,
		ContainerActionsTotal,
		UsageRecordsWrittenTotal,
		StatsCollectorCycleSkippedTotal,
		RecoveryActionsTotal,
		RecoveryCycleDuration,
		AnomalyRiskScore,
		SchedulerCandidatesEvaluated,
	)
}

// Handler returns the Prometheus HTTP handler for GET /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations, kept from the teacher's idiom.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
