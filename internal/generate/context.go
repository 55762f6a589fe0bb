package generate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"courseloop/internal/task"
)

// ToolSeedFor returns the task's tool seed, falling back to a seed decoded
// from the entry data, then to an empty seed.
func ToolSeedFor(t *task.Task) *task.ToolSeed {
	if t.ToolSeed != nil {
		return t.ToolSeed
	}
	seed := &task.ToolSeed{
		Algorithms:  []string{},
		Affordances: []string{},
		Constraints: map[string]any{},
	}
	if t.EntryData == nil {
		return seed
	}
	if v, ok := t.EntryData["tool_name"].(string); ok {
		seed.ToolName = v
	}
	if v, ok := t.EntryData["user_intent"].(string); ok {
		seed.UserIntent = v
	}
	if v, ok := t.EntryData["constraints"].(map[string]any); ok {
		seed.Constraints = v
	}
	if v, ok := t.EntryData["algorithms"].([]any); ok {
		for _, item := range v {
			if s, ok := item.(string); ok {
				seed.Algorithms = append(seed.Algorithms, s)
			}
		}
	}
	if v, ok := t.EntryData["affordances"].([]any); ok {
		for _, item := range v {
			if s, ok := item.(string); ok {
				seed.Affordances = append(seed.Affordances, s)
			}
		}
	}
	return seed
}

// SelectedContent returns the selected candidate's content value for a stage
// key, or "" when nothing is selected.
func SelectedContent(t *task.Task, stage task.StageType, key string) string {
	artifact, ok := t.Artifacts[stage]
	if !ok {
		return ""
	}
	selected := artifact.SelectedCandidate()
	if selected == nil {
		return ""
	}
	if v, ok := selected.Content[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// SelectedChain returns the selected question chain, falling back to the
// chain attached to the selected driving question.
func SelectedChain(t *task.Task) []string {
	for _, stage := range []task.StageType{task.StageQuestionChain, task.StageDrivingQuestion} {
		artifact, ok := t.Artifacts[stage]
		if !ok {
			continue
		}
		selected := artifact.SelectedCandidate()
		if selected == nil {
			continue
		}
		if chain := toStringList(selected.Content["question_chain"]); len(chain) > 0 {
			return chain
		}
	}
	return nil
}

func toStringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	default:
		return nil
	}
}

// PromptContext is the flattened view of the tool seed constraints plus the
// task's creative state, fed into the stage prompt templates.
type PromptContext struct {
	Topic              string
	GradeLevel         string
	Duration           int
	ContextSummary     string
	KnowledgeSnippets  map[string]any
	ToolConstraints    string
	ClassroomMode      string
	ClassroomContext   string
	CreativeIntent     string
	DecisionSummary    string
	WorkingMemoryNotes string
}

// BuildPromptContext flattens the seed constraints and task state.
func BuildPromptContext(seed *task.ToolSeed, t *task.Task) PromptContext {
	constraints := seed.Constraints
	if constraints == nil {
		constraints = map[string]any{}
	}
	pc := PromptContext{
		Topic:            stringAt(constraints, "topic"),
		GradeLevel:       stringAt(constraints, "grade"),
		Duration:         intAt(constraints, "duration"),
		ContextSummary:   stringAt(constraints, "context_summary"),
		ToolConstraints:  stringAt(constraints, "tool_constraints"),
		ClassroomMode:    stringAt(constraints, "classroom_mode"),
		ClassroomContext: stringAt(constraints, "classroom_context"),
	}
	if pc.Topic == "" {
		pc.Topic = seed.UserIntent
	}
	if pc.Topic == "" {
		pc.Topic = seed.ToolName
	}
	if pc.ContextSummary == "" {
		pc.ContextSummary = seed.UserIntent
	}
	if pc.ClassroomMode == "" {
		pc.ClassroomMode = "normal"
	}
	if snippets, ok := constraints["knowledge_snippets"].(map[string]any); ok {
		pc.KnowledgeSnippets = snippets
	} else {
		pc.KnowledgeSnippets = map[string]any{}
	}
	if t != nil {
		pc.CreativeIntent = t.CreativeContext.OriginalIntent
		pc.DecisionSummary = summarizeDecisions(t.DecisionHistory)
		pc.WorkingMemoryNotes = strings.Join(t.WorkingMemory.Notes, "\n")
	}
	return pc
}

func summarizeDecisions(history []map[string]any) string {
	var parts []string
	start := len(history) - 3
	if start < 0 {
		start = 0
	}
	for _, entry := range history[start:] {
		if s := stringAt(entry, "summary"); s != "" {
			parts = append(parts, s)
		} else if s := stringAt(entry, "type"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "; ")
}

func stringAt(m map[string]any, key string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func intAt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return 0
	}
}

// GradeRules returns the grade_rules knowledge snippet as text.
func (pc PromptContext) GradeRules() string {
	return stringAt(pc.KnowledgeSnippets, "grade_rules")
}

// TopicTemplate returns the topic_template knowledge snippet as text.
func (pc PromptContext) TopicTemplate() string {
	return stringAt(pc.KnowledgeSnippets, "topic_template")
}

// SafetyConstraints renders the safety_constraints snippet as a bullet list.
func (pc PromptContext) SafetyConstraints() string {
	raw, ok := pc.KnowledgeSnippets["safety_constraints"]
	if !ok || raw == nil {
		return ""
	}
	if items := toStringList(raw); items != nil {
		lines := make([]string, 0, len(items))
		for _, item := range items {
			lines = append(lines, "- "+item)
		}
		return strings.Join(lines, "\n")
	}
	return fmt.Sprint(raw)
}

// ConstraintsToApplied flattens a constraints map into sorted "key:value"
// strings; list values expand to one entry per item.
func ConstraintsToApplied(constraints map[string]any) []string {
	applied := []string{}
	keys := make([]string, 0, len(constraints))
	for key := range constraints {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := constraints[key]
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				applied = append(applied, fmt.Sprintf("%s:%v", key, item))
			}
		case []string:
			for _, item := range v {
				applied = append(applied, fmt.Sprintf("%s:%s", key, item))
			}
		default:
			applied = append(applied, fmt.Sprintf("%s:%v", key, v))
		}
	}
	return applied
}

func generationContext(basedOn []string, constraints map[string]any) map[string]any {
	return map[string]any{
		"based_on":            basedOn,
		"constraints_applied": ConstraintsToApplied(constraints),
		"timestamp":           time.Now().UTC().Format(time.RFC3339),
	}
}

// NormalizeDerivedFrom coerces a raw derived_from value into a string slice.
func NormalizeDerivedFrom(value any) []string {
	switch v := value.(type) {
	case nil:
		return []string{}
	case []string:
		return v
	case []any:
		out := []string{}
		for _, item := range v {
			if item != nil {
				out = append(out, fmt.Sprint(item))
			}
		}
		return out
	case map[string]any:
		out := make([]string, 0, len(v))
		for key := range v {
			out = append(out, key)
		}
		sort.Strings(out)
		return out
	default:
		return []string{fmt.Sprint(v)}
	}
}

// ToCandidatePayload keeps the stage content key when present, otherwise
// strips the candidate envelope fields.
func ToCandidatePayload(raw map[string]any, stageKey string) map[string]any {
	if v, ok := raw[stageKey]; ok {
		return map[string]any{stageKey: v}
	}
	envelope := map[string]bool{
		"id": true, "title": true, "rationale": true,
		"derived_from": true, "alignment_score": true, "generation_context": true,
	}
	out := map[string]any{}
	for key, value := range raw {
		if !envelope[key] {
			out[key] = value
		}
	}
	return out
}
