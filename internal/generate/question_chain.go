package generate

import (
	"context"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

const questionChainDistinctness = "Each option must be substantially different in angle and inquiry path. Do not paraphrase."

// QuestionChainGenerator decomposes the selected driving question into
// three-step sub-question chains.
type QuestionChainGenerator struct {
	LM models.Completer
}

func (g *QuestionChainGenerator) Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error) {
	drivingQuestion := SelectedContent(t, task.StageDrivingQuestion, "driving_question")
	seed := ToolSeedFor(t)
	tmpl, err := prompts.Load("question_chain")
	if err != nil {
		return nil, err
	}
	pc := BuildPromptContext(seed, t)
	avoid := CollectAvoidCandidates(t, task.StageQuestionChain)

	invoke := func(ctx context.Context, n int, avoid []string, forceRewrite bool) ([]map[string]any, error) {
		return completeOptions(ctx, g.LM, tmpl, map[string]any{
			"driving_question":   drivingQuestion,
			"grade_level":        pc.GradeLevel,
			"context_summary":    pc.ContextSummary,
			"user_feedback":      feedbackText(feedback, forceRewrite),
			"option_count":       n,
			"avoid_candidates":   formatAvoid(avoid),
			"distinctness_rules": questionChainDistinctness,
		}, task.StageQuestionChain)
	}

	optionText := func(raw map[string]any) string {
		return valueToText(raw["question_chain"])
	}
	acceptable := func(raw map[string]any) bool { return true }

	raws, err := invoke(ctx, count, avoid, false)
	if err != nil {
		return nil, err
	}
	raws, err = ensureUnique(ctx, raws, count, avoid, invoke, optionText, acceptable,
		"Duplicate candidates detected for question_chain",
		"Insufficient candidates for question_chain")
	if err != nil {
		return nil, err
	}

	candidates := make([]task.Candidate, 0, count)
	for i, raw := range raws {
		id := candidateID(i)
		chain := toStringList(raw["question_chain"])
		if chain == nil {
			if s, ok := raw["question_chain"].(string); ok {
				chain = ParseQuestionChain(s)
			}
		}
		chain = padChain(chain, "TBD: add a sub-question.")
		title := chain[0]
		if title == "" {
			title = "Question Chain " + id
		}
		candidates = append(candidates, toCandidate(map[string]any{
			"id":                 id,
			"title":              title,
			"question_chain":     chain,
			"rationale":          "",
			"derived_from":       []string{"driving_question"},
			"alignment_score":    0.0,
			"generation_context": generationContext([]string{"driving_question"}, seed.Constraints),
		}, "question_chain"))
	}
	return candidates, nil
}
