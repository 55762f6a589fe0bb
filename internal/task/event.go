package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain event types. These are the only ways task state changes.
const (
	EventTaskCreated           = "task_created"
	EventDecisionEmitted       = "decision_emitted"
	EventCandidatesGenerated   = "candidates_generated"
	EventCandidatesRegenerated = "candidates_regenerated"
	EventCandidateSelected     = "candidate_selected"
	EventFeedbackRecorded      = "feedback_recorded"
	EventConflictDetected      = "conflict_detected"
	EventConflictResolved      = "conflict_resolved"
	EventMessageEmitted        = "message_emitted"
	EventIntentUpdated         = "intent_updated"
	EventStageFinalized        = "stage_finalized"
	EventStageRedirected       = "stage_redirected"
	EventTaskCompleted         = "task_completed"
	EventErrorRaised           = "error_raised"
)

// Event is one append-only log entry for a task.
type Event struct {
	EventID   string         `json:"event_id"`
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id"`
	Stage     *StageType     `json:"stage,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
	Trace     map[string]any `json:"trace,omitempty"`
}

// NewEvent creates an event for a task, with an optional stage.
func NewEvent(eventType, taskID string, stage *StageType, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		EventID:   strings.ReplaceAll(uuid.New().String(), "-", ""),
		Type:      eventType,
		TaskID:    taskID,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// StagePtr is a convenience for building events with a stage.
func StagePtr(stage StageType) *StageType {
	return &stage
}
