// Package pipeline implements the travel-discovery pipeline: an eleven-stage
// checkpointed dataflow that turns a user Session into a ranked, deduplicated
// and narrated set of Candidates.
package pipeline

import "errors"

// Sentinel errors for checkpoint and run-level failure conditions.
// Callers should test with errors.Is; most are wrapped inside a
// *PipelineError carrying stage context.
var (
	// ErrStageFileNotFound is returned when a checkpoint file for the
	// requested (sessionID, runID, stage) does not exist on disk.
	ErrStageFileNotFound = errors.New("stage checkpoint file not found")

	// ErrInvalidCheckpoint is returned when a checkpoint file exists but its
	// structure is malformed (missing _meta/data keys, bad stageId format,
	// stage number out of range, or unparseable createdAt).
	ErrInvalidCheckpoint = errors.New("invalid checkpoint structure")

	// ErrSchemaVersion is returned when a checkpoint declares a schema
	// version newer than this reader understands.
	ErrSchemaVersion = errors.New("unsupported checkpoint schema version")

	// ErrIntegrity is returned when a checkpoint file's content hash does
	// not match the hash recorded in the run manifest. Resume refuses to
	// proceed on corrupted input.
	ErrIntegrity = errors.New("checkpoint integrity check failed")

	// ErrCircuitOpen indicates a provider call was skipped because its
	// circuit breaker is open. Skips count as neither success nor failure.
	ErrCircuitOpen = errors.New("circuit breaker open")

	// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate for
	// nonsensical configurations (MaxRetries < 0, MaxDelay < BaseDelay).
	ErrInvalidRetryPolicy = errors.New("invalid retry policy")

	// ErrSourceRunRequired is returned when RunOptions.FromStage > 0 but no
	// SourceRunID was supplied to load upstream checkpoints from.
	ErrSourceRunRequired = errors.New("fromStage > 0 requires sourceRunId")

	// ErrPartialResults signals that a worker completed with usable
	// candidates but some of its query fan-out failed. The pool maps this
	// to WorkerOutput.Status == WorkerPartial rather than WorkerError.
	ErrPartialResults = errors.New("partial results")
)

// ErrorKind classifies a failure for propagation policy decisions (retry,
// degrade, abort). See the error handling design: InputValidation and
// IntegrityError are fatal to a run, ExternalTransient is retried inside
// workers, CircuitOpen is a silent skip, StageFailure follows the
// continueOnError setting.
type ErrorKind string

const (
	KindInputValidation   ErrorKind = "input_validation"
	KindExternalTransient ErrorKind = "external_transient"
	KindExternalPermanent ErrorKind = "external_permanent"
	KindCircuitOpen       ErrorKind = "circuit_open"
	KindStageFailure      ErrorKind = "stage_failure"
	KindIntegrity         ErrorKind = "integrity"
)

// PipelineError is the structured error surfaced at stage boundaries.
//
// Stage implementations recover locally where they can; anything that
// escapes a stage is wrapped in a PipelineError so the executor can record
// it (degraded mode) or abort with context (fatal mode).
type PipelineError struct {
	// Code is a machine-readable identifier, e.g. "STAGE_FILE_NOT_FOUND".
	Code string

	// Kind classifies the failure for propagation policy.
	Kind ErrorKind

	// Message is the human-readable description.
	Message string

	// StageID identifies the stage that produced the error ("05_candidates_deduped").
	// Empty for run-level errors.
	StageID string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.StageID != "" {
		msg = "stage " + e.StageID + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/errors.As support.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// CheckpointFieldError reports structure-validation failures on a checkpoint
// with a field-level error list, so callers can see exactly which parts of
// the envelope were rejected.
type CheckpointFieldError struct {
	// Path is the checkpoint file path, when known.
	Path string

	// Fields lists the individual validation failures,
	// e.g. `_meta.stageId: does not match ^[0-9]{2}_[a-z_]+$`.
	Fields []string
}

// Error implements the error interface.
func (e *CheckpointFieldError) Error() string {
	msg := "invalid checkpoint structure"
	if e.Path != "" {
		msg += " at " + e.Path
	}
	for _, f := range e.Fields {
		msg += "; " + f
	}
	return msg
}

// Unwrap makes errors.Is(err, ErrInvalidCheckpoint) hold for field errors.
func (e *CheckpointFieldError) Unwrap() error {
	return ErrInvalidCheckpoint
}
