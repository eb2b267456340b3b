package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"
)

// SchemaVersion is the checkpoint schema version this module writes.
// Readers reject checkpoints declaring a higher version.
const SchemaVersion = 1

// stageIDPattern is the required format of StageMetadata.StageID and of
// checkpoint filenames (minus the .json suffix).
var stageIDPattern = regexp.MustCompile(`^[0-9]{2}_[a-z_]+$`)

// StageMetadata is the envelope metadata wrapped around every stage payload.
// For any checkpoint the invariant holds: StageNumber == N iff the file is
// named NN_<name>.json iff UpstreamStage names checkpoint N-1 (empty for
// stage 0).
type StageMetadata struct {
	// StageID is "NN_name", e.g. "05_candidates_deduped".
	StageID string `json:"stageId"`

	StageNumber int    `json:"stageNumber"`
	StageName   string `json:"stageName"`

	// SchemaVersion is a monotonic integer; readers reject versions higher
	// than they understand.
	SchemaVersion int `json:"schemaVersion"`

	SessionID string    `json:"sessionId"`
	RunID     string    `json:"runId"`
	CreatedAt time.Time `json:"createdAt"`

	// UpstreamStage is the StageID of the input checkpoint, empty for stage 0.
	UpstreamStage string `json:"upstreamStage,omitempty"`

	// Config optionally records stage configuration for audit.
	Config map[string]any `json:"config,omitempty"`
}

// Checkpoint wraps a stage payload with its metadata. On disk it serializes
// as {"_meta": {...}, "data": <payload>}.
type Checkpoint[T any] struct {
	Meta StageMetadata `json:"_meta"`
	Data T             `json:"data"`
}

// WriteResult reports where a checkpoint landed and how big it is.
type WriteResult struct {
	FilePath  string
	Metadata  StageMetadata
	SizeBytes int64
}

// WriteOptions carries the optional parts of a checkpoint write.
type WriteOptions struct {
	UpstreamStage string
	Config        map[string]any
}

// CheckpointStore persists per-stage checkpoint files under a root directory
// using the fixed layout:
//
//	<root>/sessions/<sessionId>/runs/<runId>/NN_<name>.json
//
// Writes are atomic: data is written to a temp file in the target directory
// and renamed into place, so a crash mid-write leaves either the old file or
// nothing, never a half-written target. The store is safe for concurrent use
// as long as no two writers target the same (sessionID, runID, stage), which
// the executor guarantees.
type CheckpointStore struct {
	root string

	// fsync controls whether files are synced before rename. Off by
	// default; rename atomicity alone satisfies the crash contract on the
	// filesystems we target.
	fsync bool
}

// NewCheckpointStore creates a store rooted at dir. The directory is created
// lazily on first write.
func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{root: dir}
}

// WithFsync returns a copy of the store that fsyncs files before rename.
func (s *CheckpointStore) WithFsync() *CheckpointStore {
	cp := *s
	cp.fsync = true
	return &cp
}

// Root returns the store's root directory.
func (s *CheckpointStore) Root() string { return s.root }

// SessionDir returns the directory holding a session's files.
func (s *CheckpointStore) SessionDir(sessionID string) string {
	return filepath.Join(s.root, "sessions", sessionID)
}

// RunDir returns the directory holding a run's checkpoint files.
func (s *CheckpointStore) RunDir(sessionID, runID string) string {
	return filepath.Join(s.SessionDir(sessionID), "runs", runID)
}

// stagePath returns the checkpoint file path for a stage.
func (s *CheckpointStore) stagePath(sessionID, runID string, stageNumber int, stageName string) string {
	return filepath.Join(s.RunDir(sessionID, runID), FormatStageID(stageNumber, stageName)+".json")
}

// FormatStageID renders the canonical "NN_name" stage identifier.
func FormatStageID(stageNumber int, stageName string) string {
	return fmt.Sprintf("%02d_%s", stageNumber, stageName)
}

// WriteCheckpoint wraps data as {_meta, data} and writes it atomically,
// creating parent directories as needed.
//
// Returns the file path, the metadata that was written, and the serialized
// size in bytes.
func (s *CheckpointStore) WriteCheckpoint(sessionID, runID string, stageNumber int, stageName string, data any, opts *WriteOptions) (WriteResult, error) {
	if stageNumber < 0 || stageNumber > StageMax {
		return WriteResult{}, &PipelineError{
			Code:    "STAGE_OUT_OF_RANGE",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("stage number %d outside 0..%d", stageNumber, StageMax),
		}
	}

	meta := StageMetadata{
		StageID:       FormatStageID(stageNumber, stageName),
		StageNumber:   stageNumber,
		StageName:     stageName,
		SchemaVersion: SchemaVersion,
		SessionID:     sessionID,
		RunID:         runID,
		CreatedAt:     time.Now().UTC(),
	}
	if opts != nil {
		meta.UpstreamStage = opts.UpstreamStage
		meta.Config = opts.Config
	}

	envelope := struct {
		Meta StageMetadata `json:"_meta"`
		Data any           `json:"data"`
	}{Meta: meta, Data: data}

	payload, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return WriteResult{}, &PipelineError{
			Code:    "CHECKPOINT_MARSHAL",
			Kind:    KindStageFailure,
			StageID: meta.StageID,
			Message: "failed to serialize checkpoint payload",
			Cause:   err,
		}
	}

	path := s.stagePath(sessionID, runID, stageNumber, stageName)
	if err := s.writeFileAtomic(path, payload); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{FilePath: path, Metadata: meta, SizeBytes: int64(len(payload))}, nil
}

// writeFileAtomic writes bytes via temp-file-then-rename within the target
// directory. Rename within a directory is atomic on POSIX filesystems.
func (s *CheckpointStore) writeFileAtomic(path string, payload []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PipelineError{Code: "CHECKPOINT_MKDIR", Kind: KindStageFailure, Message: "failed to create checkpoint directory", Cause: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &PipelineError{Code: "CHECKPOINT_TEMP", Kind: KindStageFailure, Message: "failed to create temp file", Cause: err}
	}
	tmpName := tmp.Name()

	// Any failure below must remove the temp file so crashes never leave a
	// visible partial target.
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return &PipelineError{Code: "CHECKPOINT_WRITE", Kind: KindStageFailure, Message: "failed to write checkpoint bytes", Cause: err}
	}
	if s.fsync {
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return &PipelineError{Code: "CHECKPOINT_SYNC", Kind: KindStageFailure, Message: "failed to sync checkpoint bytes", Cause: err}
		}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return &PipelineError{Code: "CHECKPOINT_CLOSE", Kind: KindStageFailure, Message: "failed to close temp file", Cause: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return &PipelineError{Code: "CHECKPOINT_RENAME", Kind: KindStageFailure, Message: "failed to move checkpoint into place", Cause: err}
	}
	return nil
}

// WriteSidecar atomically writes an arbitrary JSON-serializable value to a
// file inside the run directory (worker outputs, manifest, rendered
// markdown uses WriteSidecarRaw). relPath is relative to the run directory.
func (s *CheckpointStore) WriteSidecar(sessionID, runID, relPath string, data any) (string, error) {
	payload, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", &PipelineError{Code: "SIDECAR_MARSHAL", Kind: KindStageFailure, Message: "failed to serialize " + relPath, Cause: err}
	}
	path := filepath.Join(s.RunDir(sessionID, runID), relPath)
	if err := s.writeFileAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSidecarRaw atomically writes raw bytes to a file inside the run
// directory.
func (s *CheckpointStore) WriteSidecarRaw(sessionID, runID, relPath string, payload []byte) (string, error) {
	path := filepath.Join(s.RunDir(sessionID, runID), relPath)
	if err := s.writeFileAtomic(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// readEnvelope loads and structurally validates a checkpoint file, returning
// the raw metadata and data segments.
func (s *CheckpointStore) readEnvelope(sessionID, runID string, stageNumber int, stageName string) (StageMetadata, json.RawMessage, error) {
	path := s.stagePath(sessionID, runID, stageNumber, stageName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StageMetadata{}, nil, &PipelineError{
				Code:    "STAGE_FILE_NOT_FOUND",
				Kind:    KindInputValidation,
				StageID: FormatStageID(stageNumber, stageName),
				Message: "no checkpoint at " + path,
				Cause:   ErrStageFileNotFound,
			}
		}
		return StageMetadata{}, nil, &PipelineError{Code: "CHECKPOINT_READ", Kind: KindStageFailure, Message: "failed to read " + path, Cause: err}
	}

	var envelope struct {
		Meta *StageMetadata  `json:"_meta"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return StageMetadata{}, nil, &CheckpointFieldError{Path: path, Fields: []string{"envelope: " + err.Error()}}
	}
	if fields := validateMetadata(envelope.Meta, envelope.Data); len(fields) > 0 {
		return StageMetadata{}, nil, &CheckpointFieldError{Path: path, Fields: fields}
	}
	if envelope.Meta.SchemaVersion > SchemaVersion {
		return StageMetadata{}, nil, &PipelineError{
			Code:    "SCHEMA_VERSION",
			Kind:    KindInputValidation,
			StageID: envelope.Meta.StageID,
			Message: fmt.Sprintf("checkpoint schema version %d newer than supported %d", envelope.Meta.SchemaVersion, SchemaVersion),
			Cause:   ErrSchemaVersion,
		}
	}
	return *envelope.Meta, envelope.Data, nil
}

// validateMetadata returns field-level validation failures for an envelope.
func validateMetadata(meta *StageMetadata, data json.RawMessage) []string {
	var fields []string
	if meta == nil {
		fields = append(fields, "_meta: missing")
	} else {
		if !stageIDPattern.MatchString(meta.StageID) {
			fields = append(fields, "_meta.stageId: does not match ^[0-9]{2}_[a-z_]+$")
		}
		if meta.StageNumber < 0 || meta.StageNumber > StageMax {
			fields = append(fields, fmt.Sprintf("_meta.stageNumber: %d outside 0..%d", meta.StageNumber, StageMax))
		}
		if meta.CreatedAt.IsZero() {
			fields = append(fields, "_meta.createdAt: missing or not ISO8601")
		}
		if meta.StageID != "" && meta.StageName != "" &&
			meta.StageID != FormatStageID(meta.StageNumber, meta.StageName) {
			fields = append(fields, "_meta.stageId: inconsistent with stageNumber/stageName")
		}
	}
	if data == nil {
		fields = append(fields, "data: missing")
	}
	return fields
}

// ValidateCheckpointStructure reports whether a decoded JSON value looks like
// a checkpoint envelope: both _meta and data keys present and _meta
// conforming (stageId formatted NN_name, stageNumber in range, createdAt
// parseable). The second return lists field-level failures.
func ValidateCheckpointStructure(value map[string]any) (bool, []string) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, []string{"value: not JSON-serializable"}
	}
	var envelope struct {
		Meta *StageMetadata  `json:"_meta"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false, []string{"envelope: " + err.Error()}
	}
	fields := validateMetadata(envelope.Meta, envelope.Data)
	return len(fields) == 0, fields
}

// ReadCheckpointMetadata loads only the _meta section of a stage checkpoint.
func (s *CheckpointStore) ReadCheckpointMetadata(sessionID, runID string, stageNumber int, stageName string) (StageMetadata, error) {
	meta, _, err := s.readEnvelope(sessionID, runID, stageNumber, stageName)
	return meta, err
}

// ReadCheckpointRaw loads the raw data payload of a stage checkpoint. Used
// by the executor, which treats stage payloads as opaque bytes.
func (s *CheckpointStore) ReadCheckpointRaw(sessionID, runID string, stageNumber int, stageName string) (json.RawMessage, StageMetadata, error) {
	meta, data, err := s.readEnvelope(sessionID, runID, stageNumber, stageName)
	return data, meta, err
}

// ReadCheckpointData loads and decodes the data payload of a stage
// checkpoint into T.
func ReadCheckpointData[T any](s *CheckpointStore, sessionID, runID string, stageNumber int, stageName string) (T, error) {
	var out T
	_, data, err := s.readEnvelope(sessionID, runID, stageNumber, stageName)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, &CheckpointFieldError{Fields: []string{"data: " + err.Error()}}
	}
	return out, nil
}

// ReadCheckpoint loads a full typed checkpoint (metadata plus decoded data).
func ReadCheckpoint[T any](s *CheckpointStore, sessionID, runID string, stageNumber int, stageName string) (Checkpoint[T], error) {
	meta, data, err := s.readEnvelope(sessionID, runID, stageNumber, stageName)
	if err != nil {
		return Checkpoint[T]{}, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return Checkpoint[T]{}, &CheckpointFieldError{Fields: []string{"data: " + err.Error()}}
	}
	return Checkpoint[T]{Meta: meta, Data: out}, nil
}
