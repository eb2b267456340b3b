package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Default limits applied when a RunOptions field is zero.
const (
	// DefaultMaxCandidatesPerWorker caps results each worker may return.
	DefaultMaxCandidatesPerWorker = 25

	// DefaultMaxTopCandidates is stage 8's selection size.
	DefaultMaxTopCandidates = 50

	// DefaultMaxValidations caps how many candidates stage 7 fact-checks.
	DefaultMaxValidations = 10

	// DefaultWorkerTimeout bounds a single worker execution when the
	// router did not set a per-assignment timeout.
	DefaultWorkerTimeout = 30 * time.Second
)

// envRoot overrides the checkpoint root directory.
const envRoot = "TRIPFLOW_ROOT"

// Limits bounds result volume and time spent in the expensive stages. Zero
// values mean "use the default".
type Limits struct {
	// MaxCandidatesPerWorker caps each worker's returned candidates.
	MaxCandidatesPerWorker int `json:"maxCandidatesPerWorker,omitempty"`

	// MaxTopCandidates is the stage-8 selection size.
	MaxTopCandidates int `json:"maxTopCandidates,omitempty"`

	// MaxValidations caps stage-7 fact-check calls.
	MaxValidations int `json:"maxValidations,omitempty"`

	// WorkerTimeout bounds one worker execution. It is the fallback when a
	// WorkerAssignment carries no timeout of its own; an assignment-level
	// timeout wins.
	WorkerTimeout time.Duration `json:"workerTimeoutMs,omitempty"`
}

// Flags toggles optional pipeline behavior per run.
type Flags struct {
	// SkipEnhancement passes the session through stage 0 unchanged.
	SkipEnhancement bool `json:"skipEnhancement,omitempty"`

	// SkipValidation makes stage 7 a pass-through (validation left empty).
	SkipValidation bool `json:"skipValidation,omitempty"`

	// SkipYoutube drops the youtube worker from the router's plan.
	SkipYoutube bool `json:"skipYoutube,omitempty"`
}

// RunOptions configures one pipeline run.
type RunOptions struct {
	// DryRun plans the run (stage list, resume plan) without executing
	// stages or writing any files.
	DryRun bool `json:"dryRun,omitempty"`

	// FromStage is the resume point (0-10). Values above 0 require
	// SourceRunID; the executor copies skipped stages' data from there.
	FromStage int `json:"fromStage,omitempty"`

	// SourceRunID names the prior run to resume from.
	SourceRunID string `json:"sourceRunId,omitempty"`

	// StopAfterStage stops the run normally after the named stage. A
	// negative value (the default from NewRunOptions) means run to the end.
	StopAfterStage int `json:"stopAfterStage,omitempty"`

	// ContinueOnError enables degraded mode: a failing stage is recorded
	// and downstream stages run with nil input instead of aborting the run.
	ContinueOnError bool `json:"continueOnError,omitempty"`

	Limits Limits `json:"limits,omitempty"`
	Flags  Flags  `json:"flags,omitempty"`
}

// NewRunOptions returns options for a full, strict run. Limits are left
// zero, meaning "use the defaults"; EffectiveLimits resolves them, and the
// router treats an explicitly set WorkerTimeout as a uniform override.
func NewRunOptions() RunOptions {
	return RunOptions{
		FromStage:      0,
		StopAfterStage: -1,
	}
}

// Validate checks option consistency before the executor accepts them.
func (o RunOptions) Validate() error {
	if o.FromStage < 0 || o.FromStage > StageMax {
		return &PipelineError{
			Code:    "INVALID_OPTIONS",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("fromStage %d out of range [0,%d]", o.FromStage, StageMax),
		}
	}
	if o.FromStage > 0 && o.SourceRunID == "" {
		return &PipelineError{
			Code:    "INVALID_OPTIONS",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("fromStage %d requires sourceRunId", o.FromStage),
			Cause:   ErrSourceRunRequired,
		}
	}
	if o.StopAfterStage > StageMax {
		return &PipelineError{
			Code:    "INVALID_OPTIONS",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("stopAfterStage %d out of range [0,%d]", o.StopAfterStage, StageMax),
		}
	}
	if o.StopAfterStage >= 0 && o.StopAfterStage < o.FromStage {
		return &PipelineError{
			Code:    "INVALID_OPTIONS",
			Kind:    KindInputValidation,
			Message: fmt.Sprintf("stopAfterStage %d precedes fromStage %d", o.StopAfterStage, o.FromStage),
		}
	}
	return nil
}

// EffectiveLimits returns the limits with zero fields replaced by defaults.
func (o RunOptions) EffectiveLimits() Limits {
	l := o.Limits
	if l.MaxCandidatesPerWorker <= 0 {
		l.MaxCandidatesPerWorker = DefaultMaxCandidatesPerWorker
	}
	if l.MaxTopCandidates <= 0 {
		l.MaxTopCandidates = DefaultMaxTopCandidates
	}
	if l.MaxValidations <= 0 {
		l.MaxValidations = DefaultMaxValidations
	}
	if l.WorkerTimeout <= 0 {
		l.WorkerTimeout = DefaultWorkerTimeout
	}
	return l
}

// RootDir resolves the checkpoint root: the TRIPFLOW_ROOT environment
// variable when set, otherwise the given fallback, otherwise "./data".
func RootDir(fallback string) string {
	if root := os.Getenv(envRoot); root != "" {
		return root
	}
	if fallback != "" {
		return fallback
	}
	return "./data"
}

// LoadEnv loads environment variables from a .env file when one exists.
// A missing file is not an error; provider API keys stay optional until a
// live provider client is constructed.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}
