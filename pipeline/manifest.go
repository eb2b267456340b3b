package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// manifestFilename is the run manifest's name inside the run directory.
const manifestFilename = "manifest.json"

// ManifestEntry records one executed stage's checkpoint file and its
// content hash, enabling downstream integrity verification.
type ManifestEntry struct {
	StageID       string    `json:"stageId"`
	Filename      string    `json:"filename"`
	CreatedAt     time.Time `json:"createdAt"`
	SHA256        string    `json:"sha256"`
	SizeBytes     int64     `json:"sizeBytes"`
	UpstreamStage string    `json:"upstreamStage,omitempty"`
}

// RunManifest is the per-run integrity record: a stable ordered list of
// executed stages with their file hashes, written at run end.
type RunManifest struct {
	RunID     string          `json:"runId"`
	SessionID string          `json:"sessionId"`
	CreatedAt time.Time       `json:"createdAt"`
	Stages    []ManifestEntry `json:"stages"`

	// DegradedStages lists the stage IDs that failed under continueOnError.
	DegradedStages []string `json:"degradedStages,omitempty"`
}

// hashFile computes the hex SHA-256 of a file's bytes on disk along with its
// size. The manifest stores what is actually on disk, not what was intended
// to be written.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// WriteManifest atomically writes the run manifest into the run directory.
func (s *CheckpointStore) WriteManifest(m RunManifest) (string, error) {
	return s.WriteSidecar(m.SessionID, m.RunID, manifestFilename, m)
}

// LoadManifest reads a run's manifest. Returns ErrStageFileNotFound (wrapped)
// when the run has no manifest.
func (s *CheckpointStore) LoadManifest(sessionID, runID string) (RunManifest, error) {
	path := filepath.Join(s.RunDir(sessionID, runID), manifestFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunManifest{}, &PipelineError{
				Code:    "MANIFEST_NOT_FOUND",
				Kind:    KindInputValidation,
				Message: "no manifest at " + path,
				Cause:   ErrStageFileNotFound,
			}
		}
		return RunManifest{}, err
	}
	var m RunManifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return RunManifest{}, &PipelineError{Code: "MANIFEST_DECODE", Kind: KindInputValidation, Message: "malformed manifest", Cause: err}
	}
	return m, nil
}

// VerifyManifest recomputes the hash of every checkpoint file the manifest
// lists and returns ErrIntegrity (wrapped) on the first mismatch. Used as a
// resume preflight: refuse to build on corrupted upstream checkpoints.
func (s *CheckpointStore) VerifyManifest(m RunManifest) error {
	dir := s.RunDir(m.SessionID, m.RunID)
	for _, entry := range m.Stages {
		path := filepath.Join(dir, entry.Filename)
		sum, size, err := hashFile(path)
		if err != nil {
			return &PipelineError{
				Code:    "MANIFEST_VERIFY_READ",
				Kind:    KindIntegrity,
				StageID: entry.StageID,
				Message: "cannot read checkpoint listed in manifest",
				Cause:   err,
			}
		}
		if sum != entry.SHA256 || size != entry.SizeBytes {
			return &PipelineError{
				Code:    "INTEGRITY",
				Kind:    KindIntegrity,
				StageID: entry.StageID,
				Message: fmt.Sprintf("checkpoint %s hash/size mismatch (have %s/%d, manifest %s/%d)", entry.Filename, sum, size, entry.SHA256, entry.SizeBytes),
				Cause:   ErrIntegrity,
			}
		}
	}
	return nil
}

// manifestEntryFor builds a manifest entry from a completed checkpoint
// write, hashing the bytes as they landed on disk.
func manifestEntryFor(res WriteResult, upstreamStage string) (ManifestEntry, error) {
	sum, size, err := hashFile(res.FilePath)
	if err != nil {
		return ManifestEntry{}, err
	}
	return ManifestEntry{
		StageID:       res.Metadata.StageID,
		Filename:      filepath.Base(res.FilePath),
		CreatedAt:     res.Metadata.CreatedAt,
		SHA256:        sum,
		SizeBytes:     size,
		UpstreamStage: upstreamStage,
	}, nil
}
