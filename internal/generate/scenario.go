package generate

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
	"courseloop/internal/validate"
)

const scenarioDistinctness = "Each option must be substantially different in setting and learner role. Do not paraphrase."

// ScenarioGenerator produces real-life scenario candidates. A scenario
// supplied at entry becomes candidate A, with the model filling the rest.
type ScenarioGenerator struct {
	LM models.Completer
}

func (g *ScenarioGenerator) Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error) {
	seed := ToolSeedFor(t)
	tmpl, err := prompts.Load("scenario")
	if err != nil {
		return nil, err
	}
	pc := BuildPromptContext(seed, t)

	var rawCandidates []map[string]any
	provided := g.providedScenario(t)

	startIndex := 0
	if provided != "" {
		title := firstLine(provided, true)
		if title == "" {
			title = "Provided Scenario"
		}
		rawCandidates = append(rawCandidates, map[string]any{
			"id":                 "A",
			"title":              title,
			"scenario":           provided,
			"rationale":          "",
			"derived_from":       []string{"entry_point"},
			"alignment_score":    0.0,
			"generation_context": generationContext([]string{"entry_point"}, seed.Constraints),
		})
		startIndex = 1
	}

	avoid := CollectAvoidCandidates(t, task.StageScenario)
	if provided != "" {
		avoid = append([]string{Summarize(provided)}, avoid...)
	}

	invoke := func(ctx context.Context, n int, avoid []string, forceRewrite bool) ([]map[string]any, error) {
		return completeOptions(ctx, g.LM, tmpl, map[string]any{
			"topic":                pc.Topic,
			"grade_level":          pc.GradeLevel,
			"duration":             pc.Duration,
			"context_summary":      pc.ContextSummary,
			"grade_rules":          pc.GradeRules(),
			"topic_template":       pc.TopicTemplate(),
			"user_feedback":        feedbackText(feedback, forceRewrite),
			"option_count":         n,
			"avoid_candidates":     formatAvoid(avoid),
			"distinctness_rules":   scenarioDistinctness,
			"creative_intent":      pc.CreativeIntent,
			"decision_summary":     pc.DecisionSummary,
			"working_memory_notes": pc.WorkingMemoryNotes,
		}, task.StageScenario)
	}

	optionText := func(raw map[string]any) string {
		if s := stringAt(raw, "scenario"); s != "" {
			return s
		}
		return stringAt(raw, "title")
	}
	acceptable := func(raw map[string]any) bool {
		text := optionText(raw)
		return strings.TrimSpace(text) != "" && validate.IsRealistic(text)
	}

	needed := count - startIndex
	if needed > 0 {
		raws, err := invoke(ctx, needed, avoid, false)
		if err != nil {
			return nil, err
		}
		raws, err = ensureUnique(ctx, raws, needed, avoid, invoke, optionText, acceptable,
			"Duplicate or unrealistic candidates detected for scenario",
			"Insufficient candidates for scenario")
		if err != nil {
			return nil, err
		}

		for i, raw := range raws {
			id := candidateID(startIndex + i)
			text := optionText(raw)
			title := firstLine(text, true)
			if title == "" {
				title = "Scenario " + id
			}
			rawCandidates = append(rawCandidates, map[string]any{
				"id":                 id,
				"title":              title,
				"scenario":           text,
				"rationale":          "",
				"derived_from":       []string{"tool_seed"},
				"alignment_score":    0.0,
				"generation_context": generationContext([]string{"tool_seed"}, seed.Constraints),
			})
		}
	}

	candidates := make([]task.Candidate, 0, len(rawCandidates))
	for _, raw := range rawCandidates {
		candidates = append(candidates, toCandidate(raw, "scenario"))
	}
	return candidates, nil
}

func (g *ScenarioGenerator) providedScenario(t *task.Task) string {
	if t.EntryPoint != task.EntryScenario {
		return ""
	}
	raw, ok := t.EntryData["scenario"]
	if !ok {
		return ""
	}
	if m, ok := raw.(map[string]any); ok {
		raw = m["scenario"]
	}
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
