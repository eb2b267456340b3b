package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and ephemeral runs. Data is
// lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]RunRecord
	stages map[string][]StageRecord
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]RunRecord),
		stages: make(map[string][]StageRecord),
	}
}

// BeginRun implements Store.
func (m *MemoryStore) BeginRun(ctx context.Context, runID, sessionID string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if _, exists := m.runs[runID]; exists {
		return fmt.Errorf("run %s already recorded", runID)
	}
	m.runs[runID] = RunRecord{
		RunID:     runID,
		SessionID: sessionID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	return nil
}

// FinishRun implements Store.
func (m *MemoryStore) FinishRun(ctx context.Context, runID, status string, degradedStages []string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	run, exists := m.runs[runID]
	if !exists {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	run.Status = status
	run.FinishedAt = time.Now().UTC()
	run.DegradedStages = append([]string(nil), degradedStages...)
	m.runs[runID] = run
	return nil
}

// RecordStage implements Store.
func (m *MemoryStore) RecordStage(ctx context.Context, rec StageRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.stages[rec.RunID] = append(m.stages[rec.RunID], rec)
	return nil
}

// GetRun implements Store.
func (m *MemoryStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if ctx.Err() != nil {
		return RunRecord{}, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return RunRecord{}, ErrStoreClosed
	}
	run, exists := m.runs[runID]
	if !exists {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, nil
}

// ListStages implements Store.
func (m *MemoryStore) ListStages(ctx context.Context, runID string) ([]StageRecord, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := append([]StageRecord(nil), m.stages[runID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
