// Package task defines the course-design task domain: stages, candidates,
// artifacts, conflicts, and the event-sourced state that drives them.
package task

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// StageType identifies a course-design stage. ToolSeed is an entry marker,
// not a member of the generation sequence.
type StageType string

const (
	StageToolSeed        StageType = "tool_seed"
	StageScenario        StageType = "scenario"
	StageDrivingQuestion StageType = "driving_question"
	StageQuestionChain   StageType = "question_chain"
	StageActivity        StageType = "activity"
	StageExperiment      StageType = "experiment"
)

// EntryPoint is how the user started the task.
type EntryPoint string

const (
	EntryScenario EntryPoint = "scenario"
	EntryToolSeed EntryPoint = "tool_seed"
)

// CandidateStatus is the lifecycle state of a generated candidate.
type CandidateStatus string

const (
	CandidateGenerated CandidateStatus = "generated"
	CandidateFrozen    CandidateStatus = "frozen"
	CandidateSelected  CandidateStatus = "selected"
)

// StageStatus is the lifecycle state of the current stage artifact.
type StageStatus string

const (
	StageInitialized   StageStatus = "initialized"
	StageGenerating    StageStatus = "generating"
	StagePendingChoice StageStatus = "pending_choice"
	StageFeedbackLoop  StageStatus = "feedback_loop"
	StageModifying     StageStatus = "modifying"
	StageFinalized     StageStatus = "finalized"
)

// ConflictSeverity ranks validator findings.
type ConflictSeverity string

const (
	SeverityBlocking ConflictSeverity = "blocking"
	SeverityWarning  ConflictSeverity = "warning"
	SeverityInfo     ConflictSeverity = "info"
)

// ActionType is a user action applied to a task.
type ActionType string

const (
	ActionSelectCandidate      ActionType = "select_candidate"
	ActionRegenerateCandidates ActionType = "regenerate_candidates"
	ActionProvideFeedback      ActionType = "provide_feedback"
	ActionFinalizeStage        ActionType = "finalize_stage"
	ActionResolveConflict      ActionType = "resolve_conflict"
)

// DialogueState tracks which conversational mode the task is in.
type DialogueState string

const (
	DialogueGenerating         DialogueState = "generating"
	DialogueExploring          DialogueState = "exploring"
	DialogueSelecting          DialogueState = "selecting"
	DialogueConflictResolution DialogueState = "conflict_resolution"
)

// Task statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Decision directions.
const (
	DirectionForward            = "forward"
	DirectionBackwardCompletion = "backward_completion"
	DirectionStay               = "stay"
	DirectionError              = "error"
	DirectionForceExit          = "force_exit"
)

// ToolSeed is the structured seed for tool-first tasks.
type ToolSeed struct {
	ToolName    string         `json:"tool_name"`
	Algorithms  []string       `json:"algorithms"`
	Affordances []string       `json:"affordances"`
	Constraints map[string]any `json:"constraints"`
	UserIntent  string         `json:"user_intent"`
}

// IntentRevision records one change of the user's stated intent.
type IntentRevision struct {
	Timestamp     time.Time `json:"timestamp"`
	Trigger       string    `json:"trigger"`
	Before        string    `json:"before"`
	After         string    `json:"after"`
	UserConfirmed bool      `json:"user_confirmed"`
}

// CreativeContext accumulates the user's intent and its evolution.
type CreativeContext struct {
	OriginalIntent  string           `json:"original_intent"`
	IntentEvolution []IntentRevision `json:"intent_evolution"`
	KeyConstraints  []string         `json:"key_constraints"`
	PreferredStyle  string           `json:"preferred_style,omitempty"`
	AnchorConcepts  []string         `json:"anchor_concepts"`
}

// WorkingMemory is a short rolling focus plus recent notes.
type WorkingMemory struct {
	Focus string   `json:"focus"`
	Notes []string `json:"notes"`
}

// EntryDecision explains how the entry point was resolved.
type EntryDecision struct {
	ChosenEntryPoint EntryPoint `json:"chosen_entry_point"`
	RulesHit         []string   `json:"rules_hit"`
	ModelReason      string     `json:"model_reason"`
	Confidence       float64    `json:"confidence"`
}

// Candidate is one generated option for a stage.
type Candidate struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Status            CandidateStatus `json:"status"`
	Content           map[string]any  `json:"content"`
	Rationale         string          `json:"rationale"`
	DerivedFrom       []string        `json:"derived_from"`
	AlignmentScore    float64         `json:"alignment_score"`
	GenerationContext map[string]any  `json:"generation_context"`
}

// StageArtifact holds the candidates and history for one stage of one task.
type StageArtifact struct {
	Stage               StageType        `json:"stage_type"`
	RevisionID          string           `json:"revision_id"`
	Status              StageStatus      `json:"status"`
	IterationCount      int              `json:"iteration_count"`
	Candidates          []Candidate      `json:"candidates"`
	SelectedCandidateID string           `json:"selected_candidate_id,omitempty"`
	Warnings            []string         `json:"warnings"`
	History             []map[string]any `json:"history"`
	GenerationContext   map[string]any   `json:"generation_context"`
}

// NewStageArtifact creates an empty artifact for a stage.
func NewStageArtifact(stage StageType) *StageArtifact {
	return &StageArtifact{
		Stage:             stage,
		RevisionID:        NewRevisionID(),
		Status:            StageInitialized,
		Candidates:        []Candidate{},
		Warnings:          []string{},
		History:           []map[string]any{},
		GenerationContext: map[string]any{},
	}
}

// SelectedCandidate returns the candidate currently marked selected, if any.
func (a *StageArtifact) SelectedCandidate() *Candidate {
	if a == nil || a.SelectedCandidateID == "" {
		return nil
	}
	for i := range a.Candidates {
		if a.Candidates[i].ID == a.SelectedCandidateID {
			return &a.Candidates[i]
		}
	}
	return nil
}

// Explanation is a structured rationale attached to a decision.
type Explanation struct {
	Summary string   `json:"summary"`
	Details []string `json:"details"`
}

// DecisionResult is the engine's verdict on what should happen next.
type DecisionResult struct {
	NextStage   *StageType     `json:"next_stage,omitempty"`
	Direction   string         `json:"direction"`
	Explanation *Explanation   `json:"explanation,omitempty"`
	UserMessage string         `json:"user_message"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// ConflictOption is one fixed resolution path offered for a conflict.
type ConflictOption struct {
	Option      string         `json:"option"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Conflict is a validator finding, possibly blocking progression.
type Conflict struct {
	ConflictID     string           `json:"conflict_id"`
	Stage          StageType        `json:"stage"`
	Severity       ConflictSeverity `json:"severity"`
	Summary        string           `json:"summary"`
	Warnings       []string         `json:"warnings"`
	Options        []ConflictOption `json:"conflict_options"`
	Recommendation string           `json:"recommendation"`
	Resolved       bool             `json:"resolved"`
	ResolvedOption string           `json:"resolved_option,omitempty"`
}

// Message kinds and interaction modes used in the conversation log.
const (
	KindAssistant     = "assistant"
	KindUser          = "user"
	KindSystem        = "system"
	KindEntryDecision = "entry_decision"
)

// Message is one entry in the task conversation.
type Message struct {
	Role          string         `json:"role"`
	Text          string         `json:"text"`
	Stage         *StageType     `json:"stage,omitempty"`
	Kind          string         `json:"kind"`
	Mode          string         `json:"mode"`
	EntryDecision *EntryDecision `json:"entry_decision,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Task is the root aggregate. All mutation goes through the reducer.
type Task struct {
	TaskID          string                       `json:"task_id"`
	SessionID       string                       `json:"session_id"`
	EntryPoint      EntryPoint                   `json:"entry_point"`
	EntryData       map[string]any               `json:"entry_data"`
	ToolSeed        *ToolSeed                    `json:"tool_seed,omitempty"`
	CurrentStage    StageType                    `json:"current_stage"`
	CompletedStages []StageType                  `json:"completed_stages"`
	Artifacts       map[StageType]*StageArtifact `json:"artifacts"`
	Status          string                       `json:"status"`
	StageStatus     StageStatus                  `json:"stage_status"`
	Conflicts       map[StageType][]Conflict     `json:"conflicts"`
	LastDecision    *DecisionResult              `json:"last_decision,omitempty"`
	DecisionHistory []map[string]any             `json:"decision_history"`
	Messages        []Message                    `json:"messages"`
	CreativeContext CreativeContext              `json:"creative_context"`
	DialogueState   DialogueState                `json:"dialogue_state"`
	WorkingMemory   WorkingMemory                `json:"working_memory"`
	TraceRootID     string                       `json:"trace_root_id,omitempty"`
	PendingCascade  map[string]any               `json:"pending_cascade,omitempty"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

// New creates an empty task shell. State is filled in by the task_created event.
func New() *Task {
	now := time.Now().UTC()
	return &Task{
		TaskID:          GenerateTaskID(),
		SessionID:       uuid.New().String(),
		EntryData:       map[string]any{},
		CompletedStages: []StageType{},
		Artifacts:       map[StageType]*StageArtifact{},
		Status:          StatusInProgress,
		StageStatus:     StageInitialized,
		Conflicts:       map[StageType][]Conflict{},
		DecisionHistory: []map[string]any{},
		Messages:        []Message{},
		DialogueState:   DialogueGenerating,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Artifact returns the artifact for a stage, creating it when absent.
func (t *Task) Artifact(stage StageType) *StageArtifact {
	if t.Artifacts == nil {
		t.Artifacts = map[StageType]*StageArtifact{}
	}
	a, ok := t.Artifacts[stage]
	if !ok {
		a = NewStageArtifact(stage)
		t.Artifacts[stage] = a
	}
	return a
}

// HasCompleted reports whether a stage has been finalized.
func (t *Task) HasCompleted(stage StageType) bool {
	for _, s := range t.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// UnresolvedBlocking returns the unresolved blocking conflicts for a stage.
func (t *Task) UnresolvedBlocking(stage StageType) []Conflict {
	var out []Conflict
	for _, c := range t.Conflicts[stage] {
		if c.Severity == SeverityBlocking && !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}

// NewRevisionID creates a unique artifact revision identifier.
func NewRevisionID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewConflictID creates a unique conflict identifier.
func NewConflictID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
