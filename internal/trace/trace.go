// Package trace records hierarchical run traces for task flows. Runs are
// kept in memory and mirrored to the structured log so operators can follow
// a task end to end without an external tracing backend.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const sanitizeLimit = 200

// Span is one child step inside a run.
type Span struct {
	SpanID    string         `json:"span_id"`
	Name      string         `json:"name"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Run is a root trace with its child spans.
type Run struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Spans     []Span    `json:"spans"`
}

// Manager collects runs. A disabled manager is a no-op and every method is
// safe to call on it.
type Manager struct {
	enabled bool
	logger  *slog.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// NewManager creates a trace manager. A nil logger falls back to the
// default slog logger.
func NewManager(enabled bool, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		enabled: enabled,
		logger:  logger,
		runs:    make(map[string]*Run),
	}
}

// Enabled reports whether tracing is active.
func (m *Manager) Enabled() bool {
	return m != nil && m.enabled
}

// StartRoot opens a new root run and returns its id, or "" when disabled.
func (m *Manager) StartRoot(name string) string {
	if !m.Enabled() {
		return ""
	}
	run := &Run{
		RunID:     strings.ReplaceAll(uuid.New().String(), "-", ""),
		Name:      name,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.runs[run.RunID] = run
	m.mu.Unlock()
	m.logger.Debug("trace root started", "run_id", run.RunID, "name", name)
	return run.RunID
}

// EndRoot closes a run with a terminal status.
func (m *Manager) EndRoot(runID, status string) {
	if !m.Enabled() || runID == "" {
		return
	}
	m.mu.Lock()
	run, ok := m.runs[runID]
	if ok {
		run.Status = status
		run.EndedAt = time.Now().UTC()
	}
	m.mu.Unlock()
	if ok {
		m.logger.Debug("trace root ended", "run_id", runID, "status", status)
	}
}

// LogChild attaches a child span to a run. Inputs and outputs are
// sanitized so oversized strings never land in the trace.
func (m *Manager) LogChild(runID, name string, inputs, outputs map[string]any) {
	if !m.Enabled() || runID == "" {
		return
	}
	span := Span{
		SpanID:    strings.ReplaceAll(uuid.New().String(), "-", ""),
		Name:      name,
		Inputs:    sanitizeMap(inputs),
		Outputs:   sanitizeMap(outputs),
		Timestamp: time.Now().UTC(),
	}
	m.mu.Lock()
	run, ok := m.runs[runID]
	if ok {
		run.Spans = append(run.Spans, span)
	}
	m.mu.Unlock()
	if ok {
		m.logger.Debug("trace span", "run_id", runID, "name", name)
	}
}

// Run returns a copy of a run, or nil when unknown.
func (m *Manager) Run(runID string) *Run {
	if !m.Enabled() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil
	}
	copied := *run
	copied.Spans = append([]Span(nil), run.Spans...)
	return &copied
}

func sanitizeMap(values map[string]any) map[string]any {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = Sanitize(v)
	}
	return out
}

// Sanitize replaces long strings with a short content hash so traces stay
// compact and never retain full prompts or completions.
func Sanitize(v any) any {
	switch value := v.(type) {
	case string:
		if len([]rune(value)) > sanitizeLimit {
			sum := sha256.Sum256([]byte(value))
			return "hash:" + hex.EncodeToString(sum[:])[:12]
		}
		return value
	case map[string]any:
		return sanitizeMap(value)
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = Sanitize(item)
		}
		return out
	}
	return v
}
