package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// sessionFile and triageFile are the per-session metadata files next to the
// runs/ directory.
const (
	sessionFile = "session.json"
	triageFile  = "triage.json"
)

// SessionStore persists sessions and their triage records on disk, sharing
// the checkpoint store's root so a session's runs live beside it:
//
//	<root>/sessions/<sessionId>/session.json
//	<root>/sessions/<sessionId>/triage.json
//	<root>/sessions/<sessionId>/runs/<runId>/...
type SessionStore struct {
	checkpoints *CheckpointStore
}

// NewSessionStore creates a store over the same root as the checkpoint
// store.
func NewSessionStore(checkpoints *CheckpointStore) *SessionStore {
	return &SessionStore{checkpoints: checkpoints}
}

// NewSessionID builds a date-slug session ID, e.g.
// "2026-08-24-tokyo-food-tour".
func NewSessionID(title string, createdAt time.Time) string {
	s := slug(title)
	if s == "" {
		s = "untitled"
	}
	return createdAt.Format("2006-01-02") + "-" + s
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Create persists a new session. Sessions are immutable after creation;
// creating over an existing session ID fails.
func (s *SessionStore) Create(session Session) error {
	if session.SessionID == "" {
		return &PipelineError{
			Code:    "INVALID_SESSION",
			Kind:    KindInputValidation,
			Message: "session has no sessionId",
		}
	}
	dir := s.checkpoints.SessionDir(session.SessionID)
	path := filepath.Join(dir, sessionFile)
	if _, err := os.Stat(path); err == nil {
		return &PipelineError{
			Code:    "SESSION_EXISTS",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("session %s already exists", session.SessionID),
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.checkpoints.writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("writing %s: %w", sessionFile, err)
	}
	return nil
}

// Load reads a session back by ID.
func (s *SessionStore) Load(sessionID string) (Session, error) {
	path := filepath.Join(s.checkpoints.SessionDir(sessionID), sessionFile)
	data, err := os.ReadFile(path) // #nosec G304 -- path is store-derived
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrStageFileNotFound)
		}
		return Session{}, fmt.Errorf("reading session %s: %w", sessionID, err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		return Session{}, fmt.Errorf("decoding session %s: %w", sessionID, err)
	}
	return session, nil
}

// List returns all session IDs under the root, sorted lexically. The
// date-slug format makes that chronological.
func (s *SessionStore) List() ([]string, error) {
	sessionsDir := filepath.Join(s.checkpoints.Root(), "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(sessionsDir, entry.Name(), sessionFile)); err == nil {
			ids = append(ids, entry.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// SaveTriage writes the session's triage record, replacing any previous
// one. Triage is the only mutable per-session state.
func (s *SessionStore) SaveTriage(sessionID string, triage Triage) error {
	dir := s.checkpoints.SessionDir(sessionID)
	if _, err := os.Stat(filepath.Join(dir, sessionFile)); err != nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrStageFileNotFound)
	}
	triage.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(triage, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding triage: %w", err)
	}
	if err := s.checkpoints.writeFileAtomic(filepath.Join(dir, triageFile), data); err != nil {
		return fmt.Errorf("writing %s: %w", triageFile, err)
	}
	return nil
}

// LoadTriage reads the session's triage record. A session without one
// returns a zero Triage and no error.
func (s *SessionStore) LoadTriage(sessionID string) (Triage, error) {
	path := filepath.Join(s.checkpoints.SessionDir(sessionID), triageFile)
	data, err := os.ReadFile(path) // #nosec G304 -- path is store-derived
	if err != nil {
		if os.IsNotExist(err) {
			return Triage{}, nil
		}
		return Triage{}, fmt.Errorf("reading triage for %s: %w", sessionID, err)
	}
	var triage Triage
	if err := json.Unmarshal(data, &triage); err != nil {
		return Triage{}, fmt.Errorf("decoding triage for %s: %w", sessionID, err)
	}
	return triage, nil
}

// ListRuns returns a session's run IDs sorted by run directory mtime,
// oldest first.
func (s *SessionStore) ListRuns(sessionID string) ([]string, error) {
	runsDir := filepath.Join(s.checkpoints.SessionDir(sessionID), "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing runs for %s: %w", sessionID, err)
	}
	type runInfo struct {
		id      string
		modTime time.Time
	}
	runs := make([]runInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		runs = append(runs, runInfo{id: entry.Name(), modTime: info.ModTime()})
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].modTime.Equal(runs[j].modTime) {
			return runs[i].id < runs[j].id
		}
		return runs[i].modTime.Before(runs[j].modTime)
	})
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

// SaveAttachment stores an attachment's bytes under the session's
// attachments directory and returns the stored path.
func (s *SessionStore) SaveAttachment(sessionID string, att Attachment, data []byte) (string, error) {
	dir := filepath.Join(s.checkpoints.SessionDir(sessionID), "attachments")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating attachments dir: %w", err)
	}
	path := filepath.Join(dir, att.AttachmentID+filepath.Ext(att.Path))
	if err := s.checkpoints.writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("writing attachment %s: %w", att.AttachmentID, err)
	}
	return path, nil
}
