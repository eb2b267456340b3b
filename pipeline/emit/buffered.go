package emit

import "sync"

// BufferedEmitter stores events in memory, organized by runID, with query
// support for post-run analysis.
//
// Intended for development, testing and dashboards. All events are kept in
// memory; long-lived processes should Clear finished runs.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run the pipeline with this emitter ...
//	stageErrors := emitter.HistoryWithFilter("run-001", emit.HistoryFilter{Msg: "stage_error"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter selects a subset of a run's events. All fields are
// optional and combined with AND logic.
type HistoryFilter struct {
	// WorkerID filters by worker ("" = no filter).
	WorkerID string

	// Msg filters by event name ("" = no filter).
	Msg string

	// MinStage filters events with stage >= MinStage (nil = no bound).
	MinStage *int

	// MaxStage filters events with stage <= MaxStage (nil = no bound).
	MaxStage *int
}

// NewBufferedEmitter creates an empty BufferedEmitter. Safe for concurrent
// use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores the event under its runID.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns a copy of all events for a run in emission order.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns a copy of a run's events matching the filter,
// in emission order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, event := range b.events[runID] {
		if filter.WorkerID != "" && event.WorkerID != filter.WorkerID {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if filter.MinStage != nil && event.Stage < *filter.MinStage {
			continue
		}
		if filter.MaxStage != nil && event.Stage > *filter.MaxStage {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Clear removes all events for a run.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll removes all stored events.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
