package generate

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

const drivingQuestionDistinctness = "Each option must be substantially different in framing, verb, and context. Do not paraphrase."

// DrivingQuestionGenerator derives driving questions, each carrying a
// three-step sub-question chain, from the selected scenario.
type DrivingQuestionGenerator struct {
	LM models.Completer
}

func (g *DrivingQuestionGenerator) Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error) {
	scenario := g.scenarioText(t)
	seed := ToolSeedFor(t)
	tmpl, err := prompts.Load("driving_question")
	if err != nil {
		return nil, err
	}
	pc := BuildPromptContext(seed, t)
	avoid := CollectAvoidCandidates(t, task.StageDrivingQuestion)

	invoke := func(ctx context.Context, n int, avoid []string, forceRewrite bool) ([]map[string]any, error) {
		return completeOptions(ctx, g.LM, tmpl, map[string]any{
			"scenario":           scenario,
			"grade_level":        pc.GradeLevel,
			"context_summary":    pc.ContextSummary,
			"user_feedback":      feedbackText(feedback, forceRewrite),
			"option_count":       n,
			"avoid_candidates":   formatAvoid(avoid),
			"distinctness_rules": drivingQuestionDistinctness,
		}, task.StageDrivingQuestion)
	}

	optionText := func(raw map[string]any) string {
		dq := stringAt(raw, "driving_question")
		if dq == "" {
			dq = stringAt(raw, "title")
		}
		chainText := valueToText(raw["question_chain"])
		return strings.TrimSpace(dq + " " + chainText)
	}
	acceptable := func(raw map[string]any) bool { return true }

	raws, err := invoke(ctx, count, avoid, false)
	if err != nil {
		return nil, err
	}
	raws, err = ensureUnique(ctx, raws, count, avoid, invoke, optionText, acceptable,
		"Duplicate candidates detected for driving_question",
		"Insufficient candidates for driving_question")
	if err != nil {
		return nil, err
	}

	candidates := make([]task.Candidate, 0, count)
	for i, raw := range raws {
		id := candidateID(i)
		dq := stringAt(raw, "driving_question")
		if dq == "" {
			dq = stringAt(raw, "title")
		}
		chain := toStringList(raw["question_chain"])
		if chain == nil {
			if s, ok := raw["question_chain"].(string); ok {
				chain = ParseQuestionChain(s)
			}
		}
		chain = padChain(chain, "TBD: add an investigable sub-question.")
		title := dq
		if title == "" {
			title = "Driving Question " + id
		}
		candidates = append(candidates, toCandidate(map[string]any{
			"id":                 id,
			"title":              title,
			"driving_question":   dq,
			"question_chain":     chain,
			"rationale":          "",
			"derived_from":       []string{"scenario"},
			"alignment_score":    0.0,
			"generation_context": generationContext([]string{"scenario"}, seed.Constraints),
		}, "driving_question"))
	}
	return candidates, nil
}

func (g *DrivingQuestionGenerator) scenarioText(t *task.Task) string {
	if s := SelectedContent(t, task.StageScenario, "scenario"); s != "" {
		return s
	}
	if raw, ok := t.EntryData["scenario"]; ok {
		if m, ok := raw.(map[string]any); ok {
			return stringAt(m, "scenario")
		}
		if s, ok := raw.(string); ok {
			return s
		}
	}
	return ""
}
