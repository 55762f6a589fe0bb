// Package gateway exposes the course-design engine over HTTP: a JSON task
// API, an SSE event stream per task, and a WebSocket bridge.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"courseloop/internal/events"
	"courseloop/internal/gateway/ws"
	"courseloop/internal/models"
	"courseloop/internal/orchestrator"
	"courseloop/internal/task"
)

// Server is the courseloop gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	engine     *orchestrator.Orchestrator
	host       string
	port       int
}

// NewServer creates a new gateway server.
func NewServer(engine *orchestrator.Orchestrator, host string, port int) *Server {
	bus := engine.Bus()
	hub := ws.NewHub(bus)
	hub.SetTaskHandler(&wsTaskHandler{engine: engine})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:    hub,
		bus:    bus,
		engine: engine,
		host:   host,
		port:   port,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEventHistory)

	r.Post("/api/chat", s.handleChat)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Route("/{taskID}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Post("/actions", s.handleApplyAction)
			r.Get("/progress", s.handleProgress)
			r.Get("/plan", s.handlePlan)
			r.Get("/events", s.handleTaskEvents)
		})
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("courseloop gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	writeJSON(w, http.StatusOK, s.bus.History(limit))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string         `json:"session_id"`
		TaskID    string         `json:"task_id"`
		Message   string         `json:"message"`
		Intake    map[string]any `json:"intake"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	reply, err := s.engine.HandleChat(r.Context(), body.SessionID, body.TaskID, body.Message, body.Intake)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EntryPoint string         `json:"entry_point"`
		EntryData  map[string]any `json:"entry_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	t, err := s.engine.CreateTask(r.Context(), task.EntryPoint(body.EntryPoint), body.EntryData, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list := s.engine.Store().List()
	summaries := make([]orchestrator.Progress, 0, len(list))
	for _, t := range list {
		summaries = append(summaries, orchestrator.BuildProgress(t))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t := s.engine.Store().Get(chi.URLParam(r, "taskID"))
	if t == nil {
		http.Error(w, task.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleApplyAction(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var body struct {
		Action          string         `json:"action"`
		Stage           string         `json:"stage"`
		TargetComponent string         `json:"target_component"`
		CandidateID     string         `json:"candidate_id"`
		Feedback        string         `json:"feedback"`
		Option          string         `json:"option"`
		ConflictID      string         `json:"conflict_id"`
		Payload         map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payload := map[string]any{}
	for k, v := range body.Payload {
		payload[k] = v
	}
	// Flattened convenience fields merge into the payload.
	setIfAbsent(payload, "stage", body.Stage)
	setIfAbsent(payload, "target_component", body.TargetComponent)
	setIfAbsent(payload, "candidate_id", body.CandidateID)
	setIfAbsent(payload, "feedback", body.Feedback)
	setIfAbsent(payload, "option", body.Option)
	setIfAbsent(payload, "conflict_id", body.ConflictID)

	decision, err := s.engine.ApplyAction(r.Context(), taskID, body.Action, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id":  taskID,
		"decision": decision,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	t := s.engine.Store().Get(chi.URLParam(r, "taskID"))
	if t == nil {
		http.Error(w, task.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.BuildProgress(t))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	t := s.engine.Store().Get(chi.URLParam(r, "taskID"))
	if t == nil {
		http.Error(w, task.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.BuildPlan(t))
}

// handleTaskEvents streams task events over SSE until the client leaves.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if s.engine.Store().Get(taskID) == nil {
		http.Error(w, task.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	ch, cancel := s.bus.SubscribeTaskChan(taskID, 64)
	defer cancel()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps engine errors onto HTTP statuses: user mistakes are 400,
// unknown tasks 404, model failures 503.
func writeError(w http.ResponseWriter, err error) {
	var invocation *models.InvocationError
	switch {
	case errors.Is(err, task.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case orchestrator.IsActionError(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &invocation), errors.Is(err, models.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func setIfAbsent(payload map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, ok := payload[key]; !ok {
		payload[key] = value
	}
}
