package storage

import (
	"os"
	"path/filepath"
	"testing"

	"courseloop/internal/task"
)

func TestSnapshotRoundTrip(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}

	tk := task.New()
	tk.EntryPoint = task.EntryScenario
	tk.CurrentStage = task.StageScenario
	tk.EntryData = map[string]any{"scenario": "campus waste sorting"}

	if err := p.SaveSnapshot(tk); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := p.LoadSnapshot(tk.TaskID)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded == nil {
		t.Fatal("snapshot not found after save")
	}
	if loaded.TaskID != tk.TaskID {
		t.Errorf("task_id = %q, want %q", loaded.TaskID, tk.TaskID)
	}
	if loaded.CurrentStage != task.StageScenario {
		t.Errorf("current_stage = %q", loaded.CurrentStage)
	}
}

func TestLoadSnapshotMissing(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	loaded, err := p.LoadSnapshot("task_unknown")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected nil for missing snapshot, got %v", loaded)
	}
}

func TestEventLogAppendAndReplay(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}

	taskID := "task_replaytest"
	events := []task.Event{
		task.NewEvent(task.EventTaskCreated, taskID, nil, map[string]any{
			"entry_point":   "scenario",
			"entry_data":    map[string]any{"scenario": "weather station"},
			"current_stage": "scenario",
		}),
		task.NewEvent(task.EventCandidatesGenerated, taskID, task.StagePtr(task.StageScenario), map[string]any{
			"revision_id": "rev-1",
			"candidates": []task.Candidate{{
				ID:      "A",
				Title:   "Candidate A",
				Status:  task.CandidateGenerated,
				Content: map[string]any{"scenario": "build a school weather station"},
			}},
		}),
		task.NewEvent(task.EventCandidateSelected, taskID, task.StagePtr(task.StageScenario), map[string]any{
			"candidate_id": "A",
		}),
	}
	for _, ev := range events {
		if err := p.AppendEvent(ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	replayed, err := p.Replay(taskID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed == nil {
		t.Fatal("replay returned nil")
	}
	if replayed.TaskID != taskID {
		t.Errorf("task_id = %q", replayed.TaskID)
	}
	artifact := replayed.Artifacts[task.StageScenario]
	if artifact == nil {
		t.Fatal("scenario artifact missing after replay")
	}
	if artifact.SelectedCandidateID != "A" {
		t.Errorf("selected_candidate_id = %q, want A", artifact.SelectedCandidateID)
	}
}

func TestLoadEventsSkipsCorruptedLines(t *testing.T) {
	dir := t.TempDir()
	p, err := NewPersistence(dir)
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}

	taskID := "task_corrupt"
	ev := task.NewEvent(task.EventTaskCreated, taskID, nil, map[string]any{
		"entry_point":   "scenario",
		"current_stage": "scenario",
	})
	if err := p.AppendEvent(ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// Simulate a torn write at the tail of the log.
	path := filepath.Join(dir, "events", taskID+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(`{"event_id":"truncat`); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	events, err := p.LoadEvents(taskID)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (corrupted line skipped)", len(events))
	}
}

func TestListTaskIDs(t *testing.T) {
	p, err := NewPersistence(t.TempDir())
	if err != nil {
		t.Fatalf("NewPersistence: %v", err)
	}
	for _, id := range []string{"task_one", "task_two"} {
		tk := task.New()
		tk.TaskID = id
		if err := p.SaveSnapshot(tk); err != nil {
			t.Fatalf("SaveSnapshot: %v", err)
		}
	}
	ids, err := p.ListTaskIDs()
	if err != nil {
		t.Fatalf("ListTaskIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2 entries", ids)
	}
}
