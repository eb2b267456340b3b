package pipeline

import (
	"math"
	"strings"
	"sync"
	"testing"
)

func TestCostTrackerLLMCalls(t *testing.T) {
	costs := NewCostTracker("run-1")

	costs.RecordLLMCall("gpt-4o-mini", 1_000_000, 500_000, "00_enhancement")
	costs.RecordLLMCall("gpt-4o-mini", 2_000_000, 1_000_000, "09_aggregator_output")

	// 3M input at $0.15/1M + 1.5M output at $0.60/1M.
	want := 3*0.15 + 1.5*0.60
	if got := costs.TotalCost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("total = %.6f, want %.6f", got, want)
	}

	in, out := costs.TokenUsage()
	if in != 3_000_000 || out != 1_500_000 {
		t.Errorf("tokens = %d/%d", in, out)
	}

	calls := costs.Calls()
	if len(calls) != 2 || calls[0].StageID != "00_enhancement" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestCostTrackerUnknownModel(t *testing.T) {
	costs := NewCostTracker("run-1")
	costs.RecordLLMCall("some-new-model", 1_000_000, 1_000_000, "07_candidates_validated")

	if got := costs.TotalCost(); got != 0 {
		t.Errorf("unknown model cost = %f, want 0", got)
	}
	if len(costs.Calls()) != 1 {
		t.Error("unknown model call not recorded")
	}
}

func TestCostTrackerCustomPricing(t *testing.T) {
	costs := NewCostTracker("run-1")
	costs.SetCustomPricing("house-model", 1.00, 2.00)
	costs.RecordLLMCall("house-model", 500_000, 250_000, "00_enhancement")

	want := 0.5*1.00 + 0.25*2.00
	if got := costs.TotalCost(); math.Abs(got-want) > 1e-9 {
		t.Errorf("total = %.6f, want %.6f", got, want)
	}

	// The shared default table must not see the override.
	if _, ok := defaultModelPricing["house-model"]; ok {
		t.Error("custom pricing leaked into the default table")
	}
}

func TestCostTrackerProviderCalls(t *testing.T) {
	costs := NewCostTracker("run-1")
	costs.RecordProviderCall("places", 3)
	costs.RecordProviderCall("places", 2)
	costs.RecordProviderCall("youtube", 1)
	costs.RecordProviderCall("web_knowledge", 0)

	calls := costs.ProviderCalls()
	if calls["places"] != 5 || calls["youtube"] != 1 {
		t.Errorf("calls = %v", calls)
	}
	if _, ok := calls["web_knowledge"]; ok {
		t.Error("zero-count call recorded")
	}
}

func TestCostTrackerConcurrent(t *testing.T) {
	costs := NewCostTracker("run-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			costs.RecordLLMCall("gpt-4o", 1000, 500, "07_candidates_validated")
			costs.RecordProviderCall("places", 1)
		}()
	}
	wg.Wait()

	if got := len(costs.Calls()); got != 50 {
		t.Errorf("calls = %d, want 50", got)
	}
	if got := costs.ProviderCalls()["places"]; got != 50 {
		t.Errorf("provider calls = %d, want 50", got)
	}
}

func TestCostTrackerDisableAndReset(t *testing.T) {
	costs := NewCostTracker("run-1")

	costs.Disable()
	costs.RecordLLMCall("gpt-4o", 1000, 1000, "00_enhancement")
	costs.RecordProviderCall("places", 1)
	if len(costs.Calls()) != 0 || len(costs.ProviderCalls()) != 0 {
		t.Error("disabled tracker recorded")
	}

	costs.Enable()
	costs.SetCustomPricing("m", 10, 10)
	costs.RecordLLMCall("m", 1_000_000, 0, "00_enhancement")
	if costs.TotalCost() == 0 {
		t.Fatal("enabled tracker recorded nothing")
	}

	costs.Reset()
	if costs.TotalCost() != 0 || len(costs.Calls()) != 0 {
		t.Error("reset left data behind")
	}
	// Pricing survives a reset.
	costs.RecordLLMCall("m", 1_000_000, 0, "00_enhancement")
	if costs.TotalCost() != 10 {
		t.Errorf("post-reset cost = %f, want custom pricing retained", costs.TotalCost())
	}
}

func TestCostTrackerString(t *testing.T) {
	costs := NewCostTracker("run-9")
	if s := costs.String(); !strings.Contains(s, "run-9") {
		t.Errorf("String() = %q", s)
	}
}
