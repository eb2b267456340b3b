package pipeline

import (
	"fmt"
	"sync"
	"time"
)

// ModelPricing defines input and output token costs in USD per 1M tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// defaultModelPricing covers the chat models the aggregator and enhancement
// stages are expected to use. Unknown models are recorded at zero cost.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
}

// LLMCall records a single chat-completion invocation.
type LLMCall struct {
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
	StageID      string
}

// CostTracker is the run-scoped side-effect collector for external usage:
// provider call counts from the stage-3 workers and token/dollar usage from
// the LLM-backed stages (enhancement, validation, aggregation).
//
// Write paths are called concurrently from workers; all methods are
// thread-safe.
type CostTracker struct {
	mu sync.RWMutex

	// RunID associates costs with one pipeline run.
	RunID string

	pricing map[string]ModelPricing

	calls         []LLMCall
	totalCost     float64
	modelCosts    map[string]float64
	inputTokens   int64
	outputTokens  int64
	providerCalls map[string]int64

	enabled bool
}

// NewCostTracker creates a tracker for a run with the default pricing table.
func NewCostTracker(runID string) *CostTracker {
	return &CostTracker{
		RunID:         runID,
		pricing:       defaultModelPricing,
		calls:         make([]LLMCall, 0, 16),
		modelCosts:    make(map[string]float64),
		providerCalls: make(map[string]int64),
		enabled:       true,
	}
}

// RecordProviderCall counts external provider requests (one per query a
// worker actually issued). Safe under concurrent worker fan-out.
func (ct *CostTracker) RecordProviderCall(provider string, calls int) {
	if calls <= 0 {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !ct.enabled {
		return
	}
	ct.providerCalls[provider] += int64(calls)
}

// RecordLLMCall records token usage for a chat-completion call and
// accumulates its cost from the pricing table. Unknown models record at
// zero cost rather than failing.
func (ct *CostTracker) RecordLLMCall(model string, inputTokens, outputTokens int, stageID string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !ct.enabled {
		return
	}

	pricing := ct.pricing[model]
	cost := (float64(inputTokens)/1_000_000.0)*pricing.InputPer1M +
		(float64(outputTokens)/1_000_000.0)*pricing.OutputPer1M

	ct.calls = append(ct.calls, LLMCall{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
		StageID:      stageID,
	})
	ct.totalCost += cost
	ct.modelCosts[model] += cost
	ct.inputTokens += int64(inputTokens)
	ct.outputTokens += int64(outputTokens)
}

// TotalCost returns the cumulative LLM cost in USD.
func (ct *CostTracker) TotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.totalCost
}

// CostByModel returns a copy of the per-model cost breakdown.
func (ct *CostTracker) CostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]float64, len(ct.modelCosts))
	for model, cost := range ct.modelCosts {
		out[model] = cost
	}
	return out
}

// ProviderCalls returns a copy of the per-provider request counts.
func (ct *CostTracker) ProviderCalls() map[string]int64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make(map[string]int64, len(ct.providerCalls))
	for provider, n := range ct.providerCalls {
		out[provider] = n
	}
	return out
}

// TokenUsage returns total input and output token counts.
func (ct *CostTracker) TokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.inputTokens, ct.outputTokens
}

// Calls returns a copy of the recorded LLM call history.
func (ct *CostTracker) Calls() []LLMCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	out := make([]LLMCall, len(ct.calls))
	copy(out, ct.calls)
	return out
}

// SetCustomPricing overrides pricing for one model.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	// Copy-on-write: the default table is shared across trackers.
	cp := make(map[string]ModelPricing, len(ct.pricing)+1)
	for k, v := range ct.pricing {
		cp[k] = v
	}
	cp[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
	ct.pricing = cp
}

// Disable suspends recording (useful in tests).
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears all recorded data, preserving pricing configuration.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.calls = ct.calls[:0]
	ct.totalCost = 0
	ct.modelCosts = make(map[string]float64)
	ct.providerCalls = make(map[string]int64)
	ct.inputTokens = 0
	ct.outputTokens = 0
}

// String returns a one-line summary.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return fmt.Sprintf("CostTracker{RunID: %s, Calls: %d, TotalCost: $%.4f, InputTokens: %d, OutputTokens: %d}",
		ct.RunID, len(ct.calls), ct.totalCost, ct.inputTokens, ct.outputTokens)
}
