package pipeline

import (
	"time"

	"github.com/dshills/tripflow-go/pipeline/model"
)

// StageConfig carries the optional collaborators the default stage set wires
// in. Every field may be left zero: the affected stage then degrades to its
// pass-through behavior (no enhancement, no validation, no narrative).
type StageConfig struct {
	// Enhancer is the stage-0 chat model; nil skips enhancement.
	Enhancer model.ChatModel

	// Checker is the stage-7 fact checker; nil makes validation a
	// pass-through.
	Checker FactChecker

	// Generator is the stage-9 narrative generator; nil yields candidate
	// lists without a narrative.
	Generator NarrativeGenerator

	// Concurrency caps the stage-3 fan-out; <=0 means
	// DefaultWorkerConcurrency.
	Concurrency int

	// Now overrides the ranker's recency reference time (tests); nil means
	// time.Now.
	Now func() time.Time
}

// DefaultStages builds the canonical eleven-stage set in execution order.
func DefaultStages(cfg StageConfig) []Stage {
	return []Stage{
		&EnhancementStage{Model: cfg.Enhancer},
		&IntakeStage{},
		&RouterStage{},
		&FanoutStage{Concurrency: cfg.Concurrency},
		&NormalizeStage{Cache: DefaultContentCache()},
		&DedupeStage{},
		&RankStage{Now: cfg.Now},
		NewValidateStage(cfg.Checker),
		&TopNStage{},
		NewAggregateStage(cfg.Generator),
		&RenderStage{},
	}
}
