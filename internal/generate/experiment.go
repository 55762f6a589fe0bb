package generate

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

const experimentDistinctness = "Each option must be clearly different in experiment design and materials. Do not paraphrase."

// ExperimentGenerator designs classroom experiments matched to the selected
// activity and the classroom's constraints.
type ExperimentGenerator struct {
	LM models.Completer
}

func (g *ExperimentGenerator) Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error) {
	seed := ToolSeedFor(t)
	drivingQuestion := SelectedContent(t, task.StageDrivingQuestion, "driving_question")
	activitySummary := SelectedContent(t, task.StageActivity, "activity")
	tmpl, err := prompts.Load("experiment")
	if err != nil {
		return nil, err
	}
	pc := BuildPromptContext(seed, t)
	avoid := CollectAvoidCandidates(t, task.StageExperiment)
	derivedFrom := g.derivedFrom(t, drivingQuestion)

	classroomContext := pc.ClassroomContext
	if classroomContext == "" {
		classroomContext = "standard classroom"
	}

	invoke := func(ctx context.Context, n int, avoid []string, forceRewrite bool) ([]map[string]any, error) {
		return completeOptions(ctx, g.LM, tmpl, map[string]any{
			"topic":                pc.Topic,
			"grade_level":          pc.GradeLevel,
			"driving_question":     drivingQuestion,
			"activity_summary":     activitySummary,
			"context_summary":      pc.ContextSummary,
			"knowledge_snippets":   pc.GradeRules(),
			"safety_constraints":   pc.SafetyConstraints(),
			"classroom_mode":       pc.ClassroomMode,
			"classroom_context":    classroomContext,
			"user_feedback":        feedbackText(feedback, forceRewrite),
			"option_count":         n,
			"avoid_candidates":     formatAvoid(avoid),
			"distinctness_rules":   experimentDistinctness,
			"derived_from":         strings.Join(derivedFrom, ", "),
			"creative_intent":      pc.CreativeIntent,
			"decision_summary":     pc.DecisionSummary,
			"working_memory_notes": pc.WorkingMemoryNotes,
		}, task.StageExperiment)
	}

	optionText := func(raw map[string]any) string {
		if s := stringAt(raw, "experiment"); s != "" {
			return s
		}
		return stringAt(raw, "title")
	}
	acceptable := func(raw map[string]any) bool {
		return len([]rune(strings.TrimSpace(optionText(raw)))) >= 20
	}

	raws, err := invoke(ctx, count, avoid, false)
	if err != nil {
		return nil, err
	}
	raws, err = ensureUnique(ctx, raws, count, avoid, invoke, optionText, acceptable,
		"Duplicate candidates detected for experiment",
		"Insufficient candidates for experiment")
	if err != nil {
		return nil, err
	}

	candidates := make([]task.Candidate, 0, count)
	for i, raw := range raws {
		id := candidateID(i)
		text := optionText(raw)
		title := firstLine(text, false)
		if title == "" {
			title = "Experiment Plan " + id
		}
		candidates = append(candidates, toCandidate(map[string]any{
			"id":                 id,
			"title":              title,
			"experiment":         text,
			"rationale":          "",
			"derived_from":       derivedFrom,
			"alignment_score":    0.0,
			"generation_context": generationContext(derivedFrom, seed.Constraints),
		}, "experiment"))
	}
	return candidates, nil
}

func (g *ExperimentGenerator) derivedFrom(t *task.Task, drivingQuestion string) []string {
	derived := []string{"activity"}
	if drivingQuestion != "" {
		derived = append(derived, "driving_question")
	}
	if t.EntryPoint == task.EntryToolSeed {
		derived = append(derived, "tool_seed")
	}
	return derived
}
