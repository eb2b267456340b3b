package pipeline

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineMetricsRegistry(t *testing.T) {
	m := NewPipelineMetrics()
	if m.Registry() == nil {
		t.Fatal("private registry not exposed")
	}

	m.ObserveStage("06_candidates_ranked", "ok", 120*time.Millisecond)
	m.ObserveWorker(WorkerPlaces, "ok")
	m.ObserveWorkerDuration(WorkerPlaces, 2*time.Second)
	m.ObserveRetry(WorkerYouTube)
	m.ObserveBreakerTransition(WorkerWeb, "closed", "open")
	m.SetCandidateCount("05_candidates_deduped", 42)
	m.SetRunCost(0.37)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"tripflow_stage_duration_seconds",
		"tripflow_stage_outcomes_total",
		"tripflow_worker_runs_total",
		"tripflow_worker_duration_seconds",
		"tripflow_provider_retries_total",
		"tripflow_breaker_transitions_total",
		"tripflow_candidates",
		"tripflow_run_cost_usd",
	} {
		if !names[want] {
			t.Errorf("metric %s not exported", want)
		}
	}
}

func TestPipelineMetricsValues(t *testing.T) {
	m := NewPipelineMetrics()

	m.ObserveStage("06_candidates_ranked", "ok", time.Second)
	m.ObserveStage("06_candidates_ranked", "ok", time.Second)
	m.ObserveStage("09_aggregator_output", "degraded", time.Second)

	if got := testutil.ToFloat64(m.stageOutcomes.WithLabelValues("06_candidates_ranked", "ok")); got != 2 {
		t.Errorf("ok outcomes = %f", got)
	}
	if got := testutil.ToFloat64(m.stageOutcomes.WithLabelValues("09_aggregator_output", "degraded")); got != 1 {
		t.Errorf("degraded outcomes = %f", got)
	}

	m.SetCandidateCount("08_top_candidates", 50)
	m.SetCandidateCount("08_top_candidates", 35)
	if got := testutil.ToFloat64(m.candidates.WithLabelValues("08_top_candidates")); got != 35 {
		t.Errorf("candidate gauge = %f, want the latest value", got)
	}

	m.SetRunCost(1.25)
	if got := testutil.ToFloat64(m.runCost); got != 1.25 {
		t.Errorf("run cost = %f", got)
	}

	m.ObserveBreakerTransition(WorkerWeb, "closed", "open")
	if got := testutil.ToFloat64(m.breakerChanges.WithLabelValues(WorkerWeb, "closed", "open")); got != 1 {
		t.Errorf("breaker transitions = %f", got)
	}
}

func TestPipelineMetricsIsolatedRegistries(t *testing.T) {
	a := NewPipelineMetrics()
	b := NewPipelineMetrics()

	a.ObserveRetry(WorkerWeb)
	if got := testutil.ToFloat64(b.retries.WithLabelValues(WorkerWeb)); got != 0 {
		t.Errorf("registries share state: %f", got)
	}
}
