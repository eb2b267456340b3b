package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitterText(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, false)

	emitter.Emit(Event{
		RunID: "run-1",
		Stage: 5,
		Msg:   "stage_complete",
		Meta:  map[string]interface{}{"duration_ms": 12},
	})
	emitter.Emit(Event{RunID: "run-1", Stage: 3, WorkerID: "places", Msg: "worker_complete"})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d: %q", len(lines), buf.String())
	}
	if want := `[stage_complete] runID=run-1 stage=5 meta={"duration_ms":12}`; lines[0] != want {
		t.Errorf("line = %q, want %q", lines[0], want)
	}
	if !strings.Contains(lines[1], "workerID=places") {
		t.Errorf("worker line = %q", lines[1])
	}
}

func TestLogEmitterJSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{
		RunID: "run-1",
		Stage: 5,
		Msg:   "stage_complete",
		Meta:  map[string]interface{}{"candidates": 42},
	})

	var decoded struct {
		RunID string                 `json:"runID"`
		Stage int                    `json:"stage"`
		Msg   string                 `json:"msg"`
		Meta  map[string]interface{} `json:"meta"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not one JSON object per line: %q", buf.String())
	}
	if decoded.RunID != "run-1" || decoded.Stage != 5 || decoded.Msg != "stage_complete" {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Meta["candidates"] != float64(42) {
		t.Errorf("meta = %v", decoded.Meta)
	}
}

func TestLogEmitterNilWriter(t *testing.T) {
	// Defaults to stdout; just verify construction does not panic.
	if NewLogEmitter(nil, false) == nil {
		t.Fatal("nil emitter")
	}
}
