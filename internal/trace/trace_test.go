package trace

import (
	"strings"
	"testing"
)

func TestDisabledManagerIsNoop(t *testing.T) {
	m := NewManager(false, nil)
	if id := m.StartRoot("flow:create_task"); id != "" {
		t.Errorf("disabled manager returned run id %q", id)
	}
	m.EndRoot("missing", "completed")
	m.LogChild("missing", "generator:scenario", nil, nil)
}

func TestRunLifecycle(t *testing.T) {
	m := NewManager(true, nil)
	id := m.StartRoot("task_abc123")
	if id == "" {
		t.Fatal("expected a run id")
	}
	m.LogChild(id, "generator:scenario",
		map[string]any{"topic": "垃圾分类"},
		map[string]any{"count": 3})
	m.EndRoot(id, "completed")

	run := m.Run(id)
	if run == nil {
		t.Fatal("run not found")
	}
	if run.Status != "completed" {
		t.Errorf("status = %q", run.Status)
	}
	if len(run.Spans) != 1 || run.Spans[0].Name != "generator:scenario" {
		t.Errorf("spans = %v", run.Spans)
	}
	if run.EndedAt.IsZero() {
		t.Error("ended_at not set")
	}
}

func TestSanitizeHashesLongStrings(t *testing.T) {
	long := strings.Repeat("prompt text ", 50)
	got, ok := Sanitize(long).(string)
	if !ok || !strings.HasPrefix(got, "hash:") {
		t.Fatalf("Sanitize = %v", got)
	}
	if len(got) != len("hash:")+12 {
		t.Errorf("hash length = %d", len(got))
	}
	if short := Sanitize("short"); short != "short" {
		t.Errorf("short strings pass through, got %v", short)
	}
}

func TestSanitizeRecurses(t *testing.T) {
	long := strings.Repeat("x", 500)
	out := Sanitize(map[string]any{
		"nested": []any{long, "ok"},
	}).(map[string]any)
	items := out["nested"].([]any)
	if !strings.HasPrefix(items[0].(string), "hash:") {
		t.Errorf("nested long string should hash, got %v", items[0])
	}
	if items[1] != "ok" {
		t.Errorf("nested short string should pass, got %v", items[1])
	}
}
