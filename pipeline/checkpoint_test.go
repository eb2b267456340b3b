package pipeline

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteCheckpoint(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	res, err := store.WriteCheckpoint("sess", "run", 5, "candidates_deduped", testPayload{Name: "x", Count: 3}, nil)
	if err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	if filepath.Base(res.FilePath) != "05_candidates_deduped.json" {
		t.Errorf("file name = %s, want 05_candidates_deduped.json", filepath.Base(res.FilePath))
	}
	if res.Metadata.StageID != "05_candidates_deduped" {
		t.Errorf("stage ID = %s", res.Metadata.StageID)
	}
	if res.SizeBytes <= 0 {
		t.Errorf("size = %d, want > 0", res.SizeBytes)
	}

	t.Run("round trip", func(t *testing.T) {
		got, err := ReadCheckpointData[testPayload](store, "sess", "run", 5, "candidates_deduped")
		if err != nil {
			t.Fatalf("ReadCheckpointData: %v", err)
		}
		if got.Name != "x" || got.Count != 3 {
			t.Errorf("payload = %+v", got)
		}
	})

	t.Run("metadata", func(t *testing.T) {
		cp, err := ReadCheckpoint[testPayload](store, "sess", "run", 5, "candidates_deduped")
		if err != nil {
			t.Fatalf("ReadCheckpoint: %v", err)
		}
		if cp.Meta.StageNumber != 5 || cp.Meta.SessionID != "sess" || cp.Meta.RunID != "run" {
			t.Errorf("meta = %+v", cp.Meta)
		}
		if cp.Meta.CreatedAt.IsZero() {
			t.Error("createdAt is zero")
		}
	})

	t.Run("stage out of range", func(t *testing.T) {
		if _, err := store.WriteCheckpoint("sess", "run", 11, "bogus", nil, nil); err == nil {
			t.Error("expected error for stage 11")
		}
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(store.RunDir("sess", "run"))
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") {
				t.Errorf("leftover temp file %s", e.Name())
			}
		}
	})
}

func TestWriteCheckpointUpstream(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	res, err := store.WriteCheckpoint("s", "r", 4, "candidates_normalized", testPayload{}, &WriteOptions{
		UpstreamStage: "03_worker_outputs",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Metadata.UpstreamStage != "03_worker_outputs" {
		t.Errorf("upstream = %s", res.Metadata.UpstreamStage)
	}
}

func TestReadCheckpointMissing(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	_, err := ReadCheckpointData[testPayload](store, "s", "r", 0, "enhancement")
	if !errors.Is(err, ErrStageFileNotFound) {
		t.Errorf("err = %v, want ErrStageFileNotFound", err)
	}
}

func TestReadCheckpointMalformed(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	write := func(t *testing.T, content string) {
		t.Helper()
		dir := store.RunDir("s", "r")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "02_router_plan.json"), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("not json", func(t *testing.T) {
		write(t, "not json at all")
		_, err := ReadCheckpointData[testPayload](store, "s", "r", 2, "router_plan")
		if !errors.Is(err, ErrInvalidCheckpoint) {
			t.Errorf("err = %v, want ErrInvalidCheckpoint", err)
		}
	})

	t.Run("missing meta", func(t *testing.T) {
		write(t, `{"data": {}}`)
		_, err := ReadCheckpointData[testPayload](store, "s", "r", 2, "router_plan")
		if !errors.Is(err, ErrInvalidCheckpoint) {
			t.Errorf("err = %v, want ErrInvalidCheckpoint", err)
		}
	})

	t.Run("missing data", func(t *testing.T) {
		write(t, `{"_meta": {"stageId": "02_router_plan", "stageNumber": 2, "stageName": "router_plan", "schemaVersion": 1, "createdAt": "2026-08-24T00:00:00Z"}}`)
		_, err := ReadCheckpointData[testPayload](store, "s", "r", 2, "router_plan")
		if !errors.Is(err, ErrInvalidCheckpoint) {
			t.Errorf("err = %v, want ErrInvalidCheckpoint", err)
		}
	})

	t.Run("newer schema version", func(t *testing.T) {
		write(t, `{"_meta": {"stageId": "02_router_plan", "stageNumber": 2, "stageName": "router_plan", "schemaVersion": 99, "createdAt": "2026-08-24T00:00:00Z"}, "data": {}}`)
		_, err := ReadCheckpointData[testPayload](store, "s", "r", 2, "router_plan")
		if !errors.Is(err, ErrSchemaVersion) {
			t.Errorf("err = %v, want ErrSchemaVersion", err)
		}
	})
}

func TestValidateCheckpointStructure(t *testing.T) {
	valid := map[string]any{
		"_meta": map[string]any{
			"stageId":       "04_candidates_normalized",
			"stageNumber":   4,
			"stageName":     "candidates_normalized",
			"schemaVersion": 1,
			"createdAt":     "2026-08-24T10:00:00Z",
		},
		"data": map[string]any{},
	}
	if ok, fields := ValidateCheckpointStructure(valid); !ok {
		t.Errorf("valid envelope rejected: %v", fields)
	}

	tests := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing meta", func(m map[string]any) { delete(m, "_meta") }},
		{"missing data", func(m map[string]any) { delete(m, "data") }},
		{"bad stage id", func(m map[string]any) { m["_meta"].(map[string]any)["stageId"] = "4-candidates" }},
		{"stage number out of range", func(m map[string]any) { m["_meta"].(map[string]any)["stageNumber"] = 42 }},
		{"inconsistent id", func(m map[string]any) { m["_meta"].(map[string]any)["stageId"] = "05_candidates_deduped" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envelope := map[string]any{}
			raw, _ := json.Marshal(valid)
			_ = json.Unmarshal(raw, &envelope)
			tt.mutate(envelope)
			if ok, _ := ValidateCheckpointStructure(envelope); ok {
				t.Error("invalid envelope accepted")
			}
		})
	}
}

func TestWriteSidecar(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())

	path, err := store.WriteSidecar("s", "r", filepath.Join("worker_outputs", "web_knowledge.json"), map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]string
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got["k"] != "v" {
		t.Errorf("sidecar payload = %v", got)
	}

	t.Run("raw bytes", func(t *testing.T) {
		path, err := store.WriteSidecarRaw("s", "r", "results.md", []byte("# hello\n"))
		if err != nil {
			t.Fatal(err)
		}
		raw, _ := os.ReadFile(path)
		if string(raw) != "# hello\n" {
			t.Errorf("raw sidecar = %q", raw)
		}
	})
}

func TestCheckpointOverwrite(t *testing.T) {
	store := NewCheckpointStore(t.TempDir())
	if _, err := store.WriteCheckpoint("s", "r", 0, "enhancement", testPayload{Count: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := store.WriteCheckpoint("s", "r", 0, "enhancement", testPayload{Count: 2}, nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCheckpointData[testPayload](store, "s", "r", 0, "enhancement")
	if err != nil {
		t.Fatal(err)
	}
	if got.Count != 2 {
		t.Errorf("count = %d, want 2 (last write wins)", got.Count)
	}
}
