package generate

import (
	"context"
	"fmt"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

const activityDistinctness = "Each option must be clearly different in activity flow, materials, and student actions. Do not paraphrase."

// ActivityGenerator plans classroom activities that walk students through the
// selected question chain within the lesson time budget.
type ActivityGenerator struct {
	LM models.Completer
}

func (g *ActivityGenerator) Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error) {
	drivingQuestion := SelectedContent(t, task.StageDrivingQuestion, "driving_question")
	chain := SelectedChain(t)
	seed := ToolSeedFor(t)
	tmpl, err := prompts.Load("activity")
	if err != nil {
		return nil, err
	}
	pc := BuildPromptContext(seed, t)
	avoid := CollectAvoidCandidates(t, task.StageActivity)

	var chainLines []string
	for i, q := range chain {
		if i >= 3 {
			break
		}
		chainLines = append(chainLines, fmt.Sprintf("%d. %s", i+1, q))
	}
	chainText := strings.Join(chainLines, "\n")
	if chainText == "" {
		chainText = "none"
	}

	invoke := func(ctx context.Context, n int, avoid []string, forceRewrite bool) ([]map[string]any, error) {
		return completeOptions(ctx, g.LM, tmpl, map[string]any{
			"driving_question":    drivingQuestion,
			"question_chain":      chainText,
			"grade_level":         pc.GradeLevel,
			"duration":            pc.Duration,
			"duration_guidelines": durationGuidelines(pc.Duration),
			"context_summary":     pc.ContextSummary,
			"knowledge_snippets":  pc.GradeRules(),
			"safety_constraints":  pc.SafetyConstraints(),
			"tool_constraints":    pc.ToolConstraints,
			"user_feedback":       feedbackText(feedback, forceRewrite),
			"option_count":        n,
			"avoid_candidates":    formatAvoid(avoid),
			"distinctness_rules":  activityDistinctness,
		}, task.StageActivity)
	}

	optionText := func(raw map[string]any) string {
		if s := stringAt(raw, "activity"); s != "" {
			return s
		}
		return stringAt(raw, "title")
	}
	acceptable := func(raw map[string]any) bool { return true }

	raws, err := invoke(ctx, count, avoid, false)
	if err != nil {
		return nil, err
	}
	raws, err = ensureUnique(ctx, raws, count, avoid, invoke, optionText, acceptable,
		"Duplicate candidates detected for activity",
		"Insufficient candidates for activity")
	if err != nil {
		return nil, err
	}

	derivedFrom := []string{"question_chain"}
	if t.EntryPoint == task.EntryToolSeed {
		derivedFrom = append(derivedFrom, "tool_seed")
	}

	candidates := make([]task.Candidate, 0, count)
	for i, raw := range raws {
		id := candidateID(i)
		text := optionText(raw)
		title := firstLine(text, false)
		if title == "" {
			title = "Activity Plan " + id
		}
		candidates = append(candidates, toCandidate(map[string]any{
			"id":                 id,
			"title":              title,
			"activity":           text,
			"rationale":          "",
			"derived_from":       derivedFrom,
			"alignment_score":    0.0,
			"generation_context": generationContext([]string{"question_chain"}, seed.Constraints),
		}, "activity"))
	}
	return candidates, nil
}

// durationGuidelines maps a lesson duration to a suggested time structure.
func durationGuidelines(duration int) string {
	switch {
	case duration == 80:
		return "- Total: 80 minutes (two sessions, 40+40)\n" +
			"- Session 1: Activity 1 + Activity 2 (with outputs)\n" +
			"- Session 2: Activity 3 + Experiment + Showcase\n" +
			"- Must map three activities to three sub-questions"
	case duration <= 45:
		return "- Total: 45 minutes\n" +
			"- Suggested: Intro(5) + Explore(15) + Practice(15) + Wrap-up(10)\n" +
			"- Include at least one hands-on segment"
	case duration <= 90:
		return "- Total: 90 minutes\n" +
			"- Suggested: Intro(10) + Explore(20) + Practice(30) + Showcase(20) + Wrap-up(10)\n" +
			"- Include at least one full experiment and one showcase"
	default:
		return fmt.Sprintf("- Total: %d minutes\n", duration) +
			"- Suggested: Intro(10) + Explore(25) + Practice(40) + Showcase(30) + Wrap-up(15)\n" +
			"- Include a full explore-practice-showcase flow"
	}
}
