package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metricsNamespace prefixes every metric name exported by the pipeline.
const metricsNamespace = "tripflow"

// PipelineMetrics holds the Prometheus instruments for pipeline execution:
// stage latency and outcomes, worker fan-out results, retry volume, circuit
// breaker transitions, and candidate counts as they move through the
// funnel.
//
// Construct with NewPipelineMetrics for a private registry (tests, embedded
// use) or NewDefaultPipelineMetrics to register on the global default
// registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	stageOutcomes  *prometheus.CounterVec
	workerRuns     *prometheus.CounterVec
	workerDuration *prometheus.HistogramVec
	retries        *prometheus.CounterVec
	breakerChanges *prometheus.CounterVec
	candidates     *prometheus.GaugeVec
	runCost        prometheus.Gauge
}

// NewPipelineMetrics creates metrics registered on a fresh private registry.
// Use Registry() to expose it over an HTTP handler.
func NewPipelineMetrics() *PipelineMetrics {
	registry := prometheus.NewRegistry()
	m := newPipelineMetrics(registry)
	m.registry = registry
	return m
}

// NewDefaultPipelineMetrics creates metrics registered on the Prometheus
// default registry. Calling it twice panics on duplicate registration, so
// processes should construct it once.
func NewDefaultPipelineMetrics() *PipelineMetrics {
	return newPipelineMetrics(prometheus.DefaultRegisterer)
}

func newPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	factory := promauto.With(reg)
	return &PipelineMetrics{
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of each pipeline stage.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage"}),
		stageOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stage_outcomes_total",
			Help:      "Stage completions by outcome (ok, degraded, error, skipped).",
		}, []string{"stage", "outcome"}),
		workerRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "worker_runs_total",
			Help:      "Worker executions by worker and terminal status.",
		}, []string{"worker", "status"}),
		workerDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "worker_duration_seconds",
			Help:      "Wall-clock duration of each worker execution.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}, []string{"worker"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_retries_total",
			Help:      "Retried provider calls by provider.",
		}, []string{"provider"}),
		breakerChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by provider.",
		}, []string{"provider", "from", "to"}),
		candidates: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "candidates",
			Help:      "Candidate count after each funnel stage of the latest run.",
		}, []string{"stage"}),
		runCost: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_cost_usd",
			Help:      "Total LLM cost in USD of the latest run.",
		}),
	}
}

// Registry returns the private registry, or nil when the metrics were
// registered on the default registry.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records one stage completion with its duration and outcome.
func (m *PipelineMetrics) ObserveStage(stageID string, outcome string, duration time.Duration) {
	m.stageDuration.WithLabelValues(stageID).Observe(duration.Seconds())
	m.stageOutcomes.WithLabelValues(stageID, outcome).Inc()
}

// ObserveWorker records one worker execution's terminal status.
func (m *PipelineMetrics) ObserveWorker(workerID, status string) {
	m.workerRuns.WithLabelValues(workerID, status).Inc()
}

// ObserveWorkerDuration records a worker execution's wall-clock time.
func (m *PipelineMetrics) ObserveWorkerDuration(workerID string, duration time.Duration) {
	m.workerDuration.WithLabelValues(workerID).Observe(duration.Seconds())
}

// ObserveRetry counts one retried provider call.
func (m *PipelineMetrics) ObserveRetry(provider string) {
	m.retries.WithLabelValues(provider).Inc()
}

// ObserveBreakerTransition counts one circuit breaker state change. Wire it
// as the BreakerRegistry's OnStateChange callback.
func (m *PipelineMetrics) ObserveBreakerTransition(provider, from, to string) {
	m.breakerChanges.WithLabelValues(provider, from, to).Inc()
}

// SetCandidateCount records the candidate count surviving a funnel stage.
func (m *PipelineMetrics) SetCandidateCount(stageID string, count int) {
	m.candidates.WithLabelValues(stageID).Set(float64(count))
}

// SetRunCost records the run's total LLM spend.
func (m *PipelineMetrics) SetRunCost(usd float64) {
	m.runCost.Set(usd)
}
