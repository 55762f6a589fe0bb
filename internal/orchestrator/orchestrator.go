// Package orchestrator coordinates the course-design flow: task creation,
// candidate generation, user actions, conflict resolution, and the
// decisions that move a task through its stages. All state changes go
// through domain events so the on-disk log can rebuild any task.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"courseloop/internal/dialogue"
	"courseloop/internal/events"
	"courseloop/internal/generate"
	"courseloop/internal/models"
	"courseloop/internal/storage"
	"courseloop/internal/task"
	"courseloop/internal/trace"
	"courseloop/internal/validate"
)

// DefaultSelectionTimeout is the quiet period before the engine nudges an
// idle task.
const DefaultSelectionTimeout = time.Hour

// NudgeMessage is sent when a task sat in a choice state for too long.
const NudgeMessage = "No selection for a while. You can resume by selecting a candidate or regenerating."

// ActionError marks a user mistake: bad action, bad candidate id, bad
// state. Transports map it to a 400-class response.
type ActionError struct {
	msg string
}

func (e *ActionError) Error() string { return e.msg }

func badRequest(msg string) error { return &ActionError{msg: msg} }

// IsActionError reports whether err represents a user mistake.
func IsActionError(err error) bool {
	_, ok := err.(*ActionError)
	return ok
}

// Options wires an Orchestrator.
type Options struct {
	Store            *task.Store
	Persistence      *storage.Persistence
	Bus              *events.Bus
	Tracer           *trace.Manager
	LM               models.Completer
	Logger           *slog.Logger
	Generators       map[task.StageType]generate.Generator
	SelectionTimeout time.Duration
}

// Orchestrator is the engine behind the task API.
type Orchestrator struct {
	store      *task.Store
	persist    *storage.Persistence
	bus        *events.Bus
	tracer     *trace.Manager
	lm         models.Completer
	log        *slog.Logger
	generators map[task.StageType]generate.Generator
	chat       *dialogue.Chat
	sessions   *dialogue.SessionStore

	selectionTimeout time.Duration
}

// New builds an orchestrator. Missing optional pieces get safe defaults.
func New(opts Options) *Orchestrator {
	if opts.Store == nil {
		opts.Store = task.NewStore()
	}
	if opts.Bus == nil {
		opts.Bus = events.NewBus(0)
	}
	if opts.Tracer == nil {
		opts.Tracer = trace.NewManager(false, opts.Logger)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Generators == nil {
		opts.Generators = generate.NewRegistry(opts.LM)
	}
	if opts.SelectionTimeout == 0 {
		opts.SelectionTimeout = DefaultSelectionTimeout
	}
	return &Orchestrator{
		store:            opts.Store,
		persist:          opts.Persistence,
		bus:              opts.Bus,
		tracer:           opts.Tracer,
		lm:               opts.LM,
		log:              opts.Logger,
		generators:       opts.Generators,
		chat:             &dialogue.Chat{LM: opts.LM},
		sessions:         dialogue.NewSessionStore(),
		selectionTimeout: opts.SelectionTimeout,
	}
}

// Store exposes the task registry for read paths.
func (o *Orchestrator) Store() *task.Store { return o.store }

// Bus exposes the event bus for SSE and websocket bridges.
func (o *Orchestrator) Bus() *events.Bus { return o.bus }

// Sessions exposes the pre-task chat session store.
func (o *Orchestrator) Sessions() *dialogue.SessionStore { return o.sessions }

// Chat exposes the dialogue handler.
func (o *Orchestrator) Chat() *dialogue.Chat { return o.chat }

// Restore reloads persisted tasks into the in-memory store at startup.
func (o *Orchestrator) Restore() error {
	if o.persist == nil {
		return nil
	}
	ids, err := o.persist.ListTaskIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		t, err := o.persist.LoadSnapshot(id)
		if err != nil {
			o.log.Warn("snapshot load failed, replaying event log", "task_id", id, "error", err)
			t, err = o.persist.Replay(id)
			if err != nil {
				o.log.Error("task restore failed", "task_id", id, "error", err)
				continue
			}
		}
		o.store.Save(t)
	}
	return nil
}

// emit applies a domain event, persists the result, and publishes a bus
// frame. Callers hold the per-task lock.
func (o *Orchestrator) emit(t *task.Task, ev task.Event) {
	task.Apply(t, ev)
	o.store.Save(t)
	if o.persist != nil {
		if err := o.persist.SaveSnapshot(t); err != nil {
			o.log.Error("snapshot save failed", "task_id", t.TaskID, "error", err)
		}
		if err := o.persist.AppendEvent(ev); err != nil {
			o.log.Error("event append failed", "task_id", t.TaskID, "error", err)
		}
	}

	stage := ""
	if ev.Stage != nil {
		stage = string(*ev.Stage)
	}
	frame := events.NewEvent(ev.Type, t.TaskID, stage, events.SourceOrchestrator, ev.Payload)
	frame.RunID = t.TraceRootID
	o.bus.Publish(frame)

	switch ev.Type {
	case task.EventTaskCompleted:
		o.tracer.EndRoot(t.TraceRootID, "completed")
	case task.EventErrorRaised:
		o.tracer.EndRoot(t.TraceRootID, "error")
	}
}

// CreateTask starts a new task from a resolved entry point and immediately
// generates the first round of scenario candidates.
func (o *Orchestrator) CreateTask(ctx context.Context, entryPoint task.EntryPoint, entryData map[string]any, decision *task.EntryDecision) (*task.Task, error) {
	if entryData == nil {
		entryData = map[string]any{}
	}

	var seed *task.ToolSeed
	switch entryPoint {
	case task.EntryScenario:
		if scenarioText(entryData) == "" {
			return nil, badRequest("scenario is required for scenario entry")
		}
	case task.EntryToolSeed:
		decoded, ok := decodeToolSeed(entryData["tool_seed"])
		if !ok {
			return nil, badRequest("tool_seed is required for tool_seed entry")
		}
		seed = decoded
	default:
		return nil, badRequest("Unknown entry point: " + string(entryPoint))
	}

	t := task.New()
	t.TraceRootID = o.tracer.StartRoot(t.TaskID)
	o.tracer.LogChild(t.TraceRootID, "flow:create_task",
		map[string]any{"entry_point": string(entryPoint)}, nil)

	unlock := o.store.Lock(t.TaskID)
	defer unlock()

	// Tool-first tasks start with the seed prerequisite already satisfied.
	completed := []task.StageType{}
	if entryPoint == task.EntryToolSeed {
		completed = []task.StageType{task.StageToolSeed}
	}

	payload := map[string]any{
		"entry_point":      string(entryPoint),
		"entry_data":       entryData,
		"current_stage":    string(task.StageScenario),
		"completed_stages": completed,
		"status":           task.StatusInProgress,
		"stage_status":     string(task.StageInitialized),
		"trace_root_id":    t.TraceRootID,
	}
	if seed != nil {
		payload["tool_seed"] = seed
	}
	o.emit(t, task.NewEvent(task.EventTaskCreated, t.TaskID, nil, payload))

	if decision != nil {
		o.emit(t, task.NewEvent(task.EventMessageEmitted, t.TaskID, nil, map[string]any{
			"message": task.Message{
				Role:          "system",
				Kind:          task.KindEntryDecision,
				EntryDecision: decision,
				Timestamp:     time.Now().UTC(),
			},
		}))
	}

	createDecision := task.MakeDecision(t, task.StageScenario, "create_task")
	o.emitDecision(ctx, t, task.StageScenario, createDecision)
	if createDecision.Direction != task.DirectionForward {
		return t, nil
	}

	if err := o.generateStage(ctx, t, task.StageScenario, "", false); err != nil {
		return t, err
	}
	return t, nil
}

// generateStage invokes the stage generator and records the candidates.
func (o *Orchestrator) generateStage(ctx context.Context, t *task.Task, stage task.StageType, feedback string, regenerated bool) error {
	gen, ok := o.generators[stage]
	if !ok {
		return badRequest("No generator for stage: " + string(stage))
	}
	o.tracer.LogChild(t.TraceRootID, "generator:"+string(stage),
		map[string]any{"feedback": feedback}, nil)

	candidates, err := gen.Generate(ctx, t, generate.DefaultCandidateCount, feedback)
	if err != nil {
		o.emit(t, task.NewEvent(task.EventErrorRaised, t.TaskID, task.StagePtr(stage), map[string]any{
			"error": err.Error(),
		}))
		return err
	}

	check := validate.NonEmpty(candidates)
	if len(candidates) == 0 {
		o.emit(t, task.NewEvent(task.EventErrorRaised, t.TaskID, task.StagePtr(stage), map[string]any{
			"error":    "No candidates generated.",
			"warnings": check.Warnings,
		}))
		return badRequest("No candidates generated.")
	}

	eventType := task.EventCandidatesGenerated
	if regenerated {
		eventType = task.EventCandidatesRegenerated
	}
	o.emit(t, task.NewEvent(eventType, t.TaskID, task.StagePtr(stage), map[string]any{
		"candidates":         candidates,
		"revision_id":        task.NewRevisionID(),
		"generation_context": candidates[0].GenerationContext,
		"warnings":           check.Warnings,
	}))

	o.emitAssistantMessage(t, stage, "请选择一个候选：\n"+CandidateSummaries(candidates))
	return nil
}

func (o *Orchestrator) emitAssistantMessage(t *task.Task, stage task.StageType, text string) {
	if text == "" {
		return
	}
	o.emit(t, task.NewEvent(task.EventMessageEmitted, t.TaskID, task.StagePtr(stage), map[string]any{
		"message": task.Message{
			Role:      "assistant",
			Text:      text,
			Stage:     task.StagePtr(stage),
			Kind:      task.KindAssistant,
			Mode:      string(t.DialogueState),
			Timestamp: time.Now().UTC(),
		},
	}))
}

// emitDecision records a decision event and the conversational message
// derived from it.
func (o *Orchestrator) emitDecision(ctx context.Context, t *task.Task, stage task.StageType, decision task.DecisionResult) {
	o.tracer.LogChild(t.TraceRootID, "decision:"+string(stage),
		map[string]any{"direction": decision.Direction}, nil)
	o.emit(t, task.NewEvent(task.EventDecisionEmitted, t.TaskID, task.StagePtr(stage), map[string]any{
		"decision": decision,
	}))
	o.emitAssistantMessage(t, stage, ComposeDecisionMessage(ctx, o.lm, t, decision))
}

func scenarioText(entryData map[string]any) string {
	if s, ok := entryData["scenario"].(string); ok {
		return s
	}
	if m, ok := entryData["scenario"].(map[string]any); ok {
		if s, ok := m["scenario"].(string); ok {
			return s
		}
	}
	return ""
}

func decodeToolSeed(raw any) (*task.ToolSeed, bool) {
	switch v := raw.(type) {
	case *task.ToolSeed:
		if v == nil {
			return nil, false
		}
		return v, true
	case task.ToolSeed:
		return &v, true
	case map[string]any:
		seed := &task.ToolSeed{Constraints: map[string]any{}}
		if name, ok := v["tool_name"].(string); ok {
			seed.ToolName = name
		}
		if intent, ok := v["user_intent"].(string); ok {
			seed.UserIntent = intent
		}
		if algos, ok := v["algorithms"].([]any); ok {
			for _, a := range algos {
				if s, ok := a.(string); ok {
					seed.Algorithms = append(seed.Algorithms, s)
				}
			}
		}
		if affs, ok := v["affordances"].([]any); ok {
			for _, a := range affs {
				if s, ok := a.(string); ok {
					seed.Affordances = append(seed.Affordances, s)
				}
			}
		}
		if constraints, ok := v["constraints"].(map[string]any); ok {
			seed.Constraints = constraints
		}
		if seed.ToolName == "" && seed.UserIntent == "" {
			return nil, false
		}
		return seed, true
	}
	return nil, false
}
