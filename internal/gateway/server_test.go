package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"courseloop/internal/events"
	"courseloop/internal/generate"
	"courseloop/internal/orchestrator"
	"courseloop/internal/storage"
	"courseloop/internal/task"
	"courseloop/internal/trace"
)

// stubGenerator returns three fixed candidates for its stage.
type stubGenerator struct {
	stage task.StageType
}

func (g stubGenerator) Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error) {
	out := make([]task.Candidate, 0, count)
	for i := 0; i < count; i++ {
		id := string(rune('A' + i))
		out = append(out, task.Candidate{
			ID:             id,
			Title:          string(g.stage) + " " + id,
			Status:         task.CandidateGenerated,
			Content:        map[string]any{string(g.stage): "围绕垃圾分类的" + string(g.stage) + " " + id},
			AlignmentScore: 0.5 + float64(i)*0.1,
		})
	}
	return out, nil
}

func stubGenerators() map[task.StageType]generate.Generator {
	out := make(map[task.StageType]generate.Generator, len(task.StageSequence))
	for _, stage := range task.StageSequence {
		out[stage] = stubGenerator{stage: stage}
	}
	return out
}

// waitForEvents polls the bus history until at least n events are present.
func waitForEvents(bus *events.Bus, n int) {
	for i := 0; i < 200; i++ {
		if len(bus.History(100)) >= n {
			return
		}
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	persist, err := storage.NewPersistence(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus(64)
	t.Cleanup(func() { bus.Close() })

	engine := orchestrator.New(orchestrator.Options{
		Persistence:      persist,
		Bus:              bus,
		Tracer:           trace.NewManager(false, nil),
		Generators:       stubGenerators(),
		SelectionTimeout: time.Hour,
	})
	srv := NewServer(engine, "localhost", 0)
	t.Cleanup(func() { srv.hub.Close() })
	return srv
}

func createTestTask(t *testing.T, srv *Server) *task.Task {
	t.Helper()
	tk, err := srv.engine.CreateTask(context.Background(), task.EntryScenario,
		map[string]any{"scenario": "以校园垃圾分类数据调查为主题的项目式学习场景"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func doJSON(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status %q, got %q", "ok", body["status"])
	}
}

func TestHandleCreateTask(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/tasks",
		`{"entry_point":"scenario","entry_data":{"scenario":"以校园垃圾分类数据调查为主题的项目式学习场景"}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var tk task.Task
	if err := json.NewDecoder(w.Body).Decode(&tk); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if tk.TaskID == "" {
		t.Fatal("expected a task id")
	}
	if tk.CurrentStage != task.StageScenario {
		t.Fatalf("expected stage scenario, got %s", tk.CurrentStage)
	}
	if got := len(tk.Artifact(task.StageScenario).Candidates); got != 3 {
		t.Fatalf("expected 3 candidates, got %d", got)
	}
}

func TestHandleCreateTask_MissingScenario(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/tasks", `{"entry_point":"scenario","entry_data":{}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestHandleGetTask_NotFound(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodGet, "/api/tasks/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Task not found") {
		t.Fatalf("expected not-found body, got %q", w.Body.String())
	}
}

func TestHandleApplyAction_SelectAndFinalize(t *testing.T) {
	srv := newTestServer(t)
	tk := createTestTask(t, srv)

	w := doJSON(srv, http.MethodPost, "/api/tasks/"+tk.TaskID+"/actions",
		`{"action":"select","candidate_id":"B"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("select: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(srv, http.MethodPost, "/api/tasks/"+tk.TaskID+"/actions",
		`{"action":"finalize"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("finalize: expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	got := srv.engine.Store().Get(tk.TaskID)
	if got.CurrentStage != task.StageDrivingQuestion {
		t.Fatalf("expected stage driving_question, got %s", got.CurrentStage)
	}
}

func TestHandleApplyAction_FlattenedFieldsMergeIntoPayload(t *testing.T) {
	srv := newTestServer(t)
	tk := createTestTask(t, srv)

	// candidate_id in the payload wins over the flattened field.
	w := doJSON(srv, http.MethodPost, "/api/tasks/"+tk.TaskID+"/actions",
		`{"action":"select_candidate","candidate_id":"C","payload":{"candidate_id":"A"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	got := srv.engine.Store().Get(tk.TaskID)
	if got.Artifact(task.StageScenario).SelectedCandidateID != "A" {
		t.Fatalf("expected selected candidate A, got %q",
			got.Artifact(task.StageScenario).SelectedCandidateID)
	}
}

func TestHandleApplyAction_UnknownCandidate(t *testing.T) {
	srv := newTestServer(t)
	tk := createTestTask(t, srv)

	w := doJSON(srv, http.MethodPost, "/api/tasks/"+tk.TaskID+"/actions",
		`{"action":"select","candidate_id":"Z"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Candidate not selectable") {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
}

func TestHandleApplyAction_TaskNotFound(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(srv, http.MethodPost, "/api/tasks/nope/actions",
		`{"action":"select","candidate_id":"A"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestHandleProgress(t *testing.T) {
	srv := newTestServer(t)
	tk := createTestTask(t, srv)

	w := doJSON(srv, http.MethodGet, "/api/tasks/"+tk.TaskID+"/progress", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var progress orchestrator.Progress
	if err := json.NewDecoder(w.Body).Decode(&progress); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if progress.TaskID != tk.TaskID {
		t.Fatalf("expected task id %q, got %q", tk.TaskID, progress.TaskID)
	}
	if progress.CurrentStage != task.StageScenario {
		t.Fatalf("expected current stage scenario, got %q", progress.CurrentStage)
	}
}

func TestHandleListTasks(t *testing.T) {
	srv := newTestServer(t)
	createTestTask(t, srv)
	createTestTask(t, srv)

	w := doJSON(srv, http.MethodGet, "/api/tasks", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []orchestrator.Progress
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(body))
	}
}

func TestHandleEvents_WithHistory(t *testing.T) {
	srv := newTestServer(t)
	createTestTask(t, srv)

	waitForEvents(srv.bus, 2)

	w := doJSON(srv, http.MethodGet, "/api/events", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var body []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body) < 2 {
		t.Fatalf("expected at least 2 events, got %d", len(body))
	}
}

func TestHandlePlan(t *testing.T) {
	srv := newTestServer(t)
	tk := createTestTask(t, srv)

	w := doJSON(srv, http.MethodGet, "/api/tasks/"+tk.TaskID+"/plan", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var plan orchestrator.Plan
	if err := json.NewDecoder(w.Body).Decode(&plan); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if plan.TaskID != tk.TaskID {
		t.Fatalf("expected task id %q, got %q", tk.TaskID, plan.TaskID)
	}
}

func TestWSTaskHandler_CheckAndList(t *testing.T) {
	srv := newTestServer(t)
	tk := createTestTask(t, srv)

	h := &wsTaskHandler{engine: srv.engine}

	if _, err := h.Check("nope"); err == nil {
		t.Fatal("expected error for unknown task")
	}
	got, err := h.Check(tk.TaskID)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	progress, ok := got.(orchestrator.Progress)
	if !ok {
		t.Fatalf("expected Progress, got %T", got)
	}
	if progress.TaskID != tk.TaskID {
		t.Fatalf("expected task id %q, got %q", tk.TaskID, progress.TaskID)
	}

	listed, err := h.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if summaries := listed.([]orchestrator.Progress); len(summaries) != 1 {
		t.Fatalf("expected 1 task, got %d", len(summaries))
	}
}
