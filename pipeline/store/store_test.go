package store

import (
	"context"
	"errors"
	"testing"
)

// testStoreContract runs the behavior shared by every backend.
func testStoreContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) err = %v, want ErrRunNotFound", err)
	}
	if err := st.FinishRun(ctx, "missing", RunStatusComplete, nil); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(missing) err = %v, want ErrRunNotFound", err)
	}

	if err := st.BeginRun(ctx, "run-1", "sess-1"); err != nil {
		t.Fatal(err)
	}
	run, err := st.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunStatusRunning || run.SessionID != "sess-1" {
		t.Errorf("open run = %+v", run)
	}
	if run.StartedAt.IsZero() {
		t.Error("startedAt not stamped")
	}

	// A run ID is recorded once.
	if err := st.BeginRun(ctx, "run-1", "sess-1"); err == nil {
		t.Error("duplicate BeginRun accepted")
	}

	// Stages arrive out of order; ListStages sorts them.
	for _, rec := range []StageRecord{
		{RunID: "run-1", Stage: 9, StageID: "09_aggregator_output", Status: "degraded", DurationMs: 1200},
		{RunID: "run-1", Stage: 0, StageID: "00_enhancement", Status: "success", DurationMs: 340, CheckpointSHA: "abc123"},
		{RunID: "run-1", Stage: 1, StageID: "01_intake", Status: "success", DurationMs: 4},
	} {
		if err := st.RecordStage(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	stages, err := st.ListStages(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 3 {
		t.Fatalf("stages = %d, want 3", len(stages))
	}
	if stages[0].Stage != 0 || stages[1].Stage != 1 || stages[2].Stage != 9 {
		t.Errorf("stage order = %d, %d, %d", stages[0].Stage, stages[1].Stage, stages[2].Stage)
	}
	if stages[0].CheckpointSHA != "abc123" || stages[0].DurationMs != 340 {
		t.Errorf("stage row = %+v", stages[0])
	}

	if err := st.FinishRun(ctx, "run-1", RunStatusDegraded, []string{"09_aggregator_output"}); err != nil {
		t.Fatal(err)
	}
	run, err = st.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != RunStatusDegraded {
		t.Errorf("status = %q", run.Status)
	}
	if len(run.DegradedStages) != 1 || run.DegradedStages[0] != "09_aggregator_output" {
		t.Errorf("degradedStages = %v", run.DegradedStages)
	}
	if run.FinishedAt.IsZero() {
		t.Error("finishedAt not stamped")
	}

	// Clean finishes keep an empty degraded list.
	if err := st.BeginRun(ctx, "run-2", "sess-1"); err != nil {
		t.Fatal(err)
	}
	if err := st.FinishRun(ctx, "run-2", RunStatusComplete, nil); err != nil {
		t.Fatal(err)
	}
	run, err = st.GetRun(ctx, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(run.DegradedStages) != 0 {
		t.Errorf("clean run degradedStages = %v", run.DegradedStages)
	}

	if stages, err := st.ListStages(ctx, "run-2"); err != nil || len(stages) != 0 {
		t.Errorf("stageless run: stages = %v, err = %v", stages, err)
	}
}

func testStoreClosed(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	// Closing twice is a no-op.
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}
	if err := st.BeginRun(ctx, "run-x", "sess"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("BeginRun after close err = %v", err)
	}
	if _, err := st.GetRun(ctx, "run-x"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("GetRun after close err = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreClosed(t *testing.T) {
	testStoreClosed(t, NewMemoryStore())
}

func TestMemoryStoreContextCancelled(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := st.BeginRun(ctx, "run-1", "sess"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
