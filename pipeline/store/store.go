// Package store provides optional run-history persistence for pipeline
// executions. The executor records one row per executed stage plus run
// open/close rows; front-ends query the history for dashboards and audits.
//
// Three backends share the Store interface:
//   - MemoryStore: in-process, for tests and ephemeral runs
//   - SQLiteStore: single-file database, zero setup
//   - MySQLStore: shared database for multi-host deployments
package store

import (
	"context"
	"errors"
	"time"
)

// Run status values.
const (
	RunStatusRunning  = "running"
	RunStatusComplete = "complete"
	RunStatusDegraded = "degraded"
	RunStatusFailed   = "failed"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// RunRecord is one pipeline run's summary row.
type RunRecord struct {
	RunID          string
	SessionID      string
	Status         string
	StartedAt      time.Time
	FinishedAt     time.Time
	DegradedStages []string
}

// StageRecord is one executed stage's row.
type StageRecord struct {
	RunID         string
	Stage         int
	StageID       string
	Status        string
	DurationMs    int64
	CheckpointSHA string
	CreatedAt     time.Time
}

// Store records run history. All implementations are safe for concurrent
// use; the executor only ever writes a given run from one goroutine.
type Store interface {
	// BeginRun opens a run record with status running.
	BeginRun(ctx context.Context, runID, sessionID string) error

	// FinishRun closes a run record with its terminal status and the
	// degraded stage list (empty for clean runs).
	FinishRun(ctx context.Context, runID, status string, degradedStages []string) error

	// RecordStage appends one executed stage's row.
	RecordStage(ctx context.Context, rec StageRecord) error

	// GetRun fetches a run's summary; ErrRunNotFound when absent.
	GetRun(ctx context.Context, runID string) (RunRecord, error)

	// ListStages returns a run's stage rows in stage order.
	ListStages(ctx context.Context, runID string) ([]StageRecord, error)

	// Close releases backend resources. Subsequent calls are no-ops.
	Close() error
}
