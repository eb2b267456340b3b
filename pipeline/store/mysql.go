package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists run history in MySQL for multi-host deployments where
// several pipeline hosts share one history database.
//
// The DSN must include parseTime=true so TIMESTAMP columns scan into
// time.Time.
//
// Example:
//
//	st, err := store.NewMySQLStore("user:pass@tcp(db:3306)/tripflow?parseTime=true")
type MySQLStore struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLStore opens (and migrates) the database behind dsn.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if !strings.Contains(dsn, "parseTime=true") {
		return nil, fmt.Errorf("mysql dsn must include parseTime=true")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening mysql connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			run_id VARCHAR(64) PRIMARY KEY,
			session_id VARCHAR(128) NOT NULL,
			status VARCHAR(16) NOT NULL,
			degraded_stages TEXT,
			started_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			finished_at TIMESTAMP NULL,
			INDEX idx_runs_session_id (session_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("creating pipeline_runs table: %w", err)
	}

	stagesTable := `
		CREATE TABLE IF NOT EXISTS pipeline_stages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			stage INT NOT NULL,
			stage_id VARCHAR(64) NOT NULL,
			status VARCHAR(16) NOT NULL,
			duration_ms BIGINT NOT NULL,
			checkpoint_sha VARCHAR(64) NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uq_run_stage (run_id, stage),
			INDEX idx_stages_run_id (run_id)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, stagesTable); err != nil {
		return fmt.Errorf("creating pipeline_stages table: %w", err)
	}
	return nil
}

func (s *MySQLStore) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// BeginRun implements Store.
func (s *MySQLStore) BeginRun(ctx context.Context, runID, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (run_id, session_id, status) VALUES (?, ?, ?)`,
		runID, sessionID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun implements Store.
func (s *MySQLStore) FinishRun(ctx context.Context, runID, status string, degradedStages []string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = ?, degraded_stages = ?, finished_at = NOW() WHERE run_id = ?`,
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
func (s *MySQLStore) RecordStage(ctx context.Context, rec StageRecord) error {
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
func (s *MySQLStore) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	if err := s.checkOpen(); err != nil {
		return RunRecord{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, session_id, status, COALESCE(degraded_stages, ''), started_at, COALESCE(finished_at, started_at)
		 FROM pipeline_runs WHERE run_id = ?`, runID)

	var rec RunRecord
	var degraded string
	if err := row.Scan(&rec.RunID, &rec.SessionID, &rec.Status, &degraded, &rec.StartedAt, &rec.FinishedAt); err != nil {
		if err == sql.ErrNoRows {
			return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return RunRecord{}, fmt.Errorf("loading run %s: %w", runID, err)
	}
	if degraded != "" {
		rec.DegradedStages = strings.Split(degraded, ",")
	}
	return rec, nil
}

// ListStages implements Store.
func (s *MySQLStore) ListStages(ctx context.Context, runID string) ([]StageRecord, error) {
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
func (s *MySQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
