package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists run history in a single-file SQLite database.
//
// Designed for development and single-host deployments: zero setup,
// auto-migration on first use, WAL mode for concurrent reads. Use
// ":memory:" as the path for tests.
//
// Example:
//
//	st, err := store.NewSQLiteStore("./runs.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (and migrates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			degraded_stages TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("creating pipeline_runs table: %w", err)
	}

	stagesTable := `
		CREATE TABLE IF NOT EXISTS pipeline_stages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			stage INTEGER NOT NULL,
			stage_id TEXT NOT NULL,
			status TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			checkpoint_sha TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(run_id, stage)
		)
	`
	if _, err := s.db.ExecContext(ctx, stagesTable); err != nil {
		return fmt.Errorf("creating pipeline_stages table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_stages_run_id ON pipeline_stages(run_id)"); err != nil {
		return fmt.Errorf("creating idx_stages_run_id: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_runs_session_id ON pipeline_runs(session_id)"); err != nil {
		return fmt.Errorf("creating idx_runs_session_id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// BeginRun implements Store.
func (s *SQLiteStore) BeginRun(ctx context.Context, runID, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, session_id, status, started_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		runID, sessionID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun implements Store.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID, status string, degradedStages []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, degraded_stages = ?, finished_at = CURRENT_TIMESTAMP
		 WHERE run_id = ?`,
		status, strings.Join(degradedStages, ","), runID)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

// RecordStage implements Store.
func (s *SQLiteStore) RecordStage(ctx context.Context, rec StageRecord) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_stages (run_id, stage, stage_id, status, duration_ms, checkpoint_sha)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Stage, rec.StageID, rec.Status, rec.DurationMs, rec.CheckpointSHA)
	if err != nil {
		return fmt.Errorf("recording stage %s: %w", rec.StageID, err)
	}
	return nil
}

// GetRun implements Store.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}
	// The sqlite driver only maps values to time.Time for columns with a
	// declared DATE/DATETIME/TIMESTAMP type; expressions such as
	// COALESCE(finished_at, started_at) have no declared type and scan as
	// strings, so the fallback is applied in Go instead.
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, session_id, status, degraded_stages, started_at, finished_at
		 FROM pipeline_runs WHERE run_id = ?`, runID)

	var rec RunRecord
	var degraded string
	var finished sql.NullTime
	if err := row.Scan(&rec.RunID, &rec.SessionID, &rec.Status, &degraded, &rec.StartedAt, &finished); err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return RunRecord{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	} else {
		rec.FinishedAt = rec.StartedAt
	}
	if degraded != "" {
		rec.DegradedStages = strings.Split(degraded, ",")
	}
	return rec, nil
}

// ListStages implements Store.
func (s *SQLiteStore) ListStages(ctx context.Context, runID string) ([]StageRecord, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, stage_id, status, duration_ms, checkpoint_sha, created_at
		 FROM pipeline_stages WHERE run_id = ? ORDER BY stage`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing stages for %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []StageRecord
	for rows.Next() {
		var rec StageRecord
		if err := rows.Scan(&rec.RunID, &rec.Stage, &rec.StageID, &rec.Status, &rec.DurationMs, &rec.CheckpointSHA, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning stage row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
