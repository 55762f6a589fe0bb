package generate

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

// DefaultCandidateCount is how many options each stage produces per round.
const DefaultCandidateCount = 3

// Generator produces candidates for one stage of a task.
type Generator interface {
	Generate(ctx context.Context, t *task.Task, count int, feedback string) ([]task.Candidate, error)
}

// NewRegistry wires one generator per generation stage.
func NewRegistry(lm models.Completer) map[task.StageType]Generator {
	return map[task.StageType]Generator{
		task.StageScenario:        &ScenarioGenerator{LM: lm},
		task.StageDrivingQuestion: &DrivingQuestionGenerator{LM: lm},
		task.StageQuestionChain:   &QuestionChainGenerator{LM: lm},
		task.StageActivity:        &ActivityGenerator{LM: lm},
		task.StageExperiment:      &ExperimentGenerator{LM: lm},
	}
}

// invokeFunc asks the model for count options, steering it away from the
// avoid list. forceRewrite asks for a clearly different angle.
type invokeFunc func(ctx context.Context, count int, avoid []string, forceRewrite bool) ([]map[string]any, error)

const rewriteSuffix = "; rewrite with a clearly different angle."

func feedbackText(feedback string, forceRewrite bool) string {
	if feedback == "" {
		feedback = "none"
	}
	if forceRewrite {
		feedback += rewriteSuffix
	}
	return feedback
}

func formatAvoid(avoid []string) string {
	if len(avoid) == 0 {
		return "none"
	}
	var lines []string
	for _, item := range avoid {
		if item != "" {
			lines = append(lines, "- "+Summarize(item))
		}
	}
	if len(lines) == 0 {
		return "none"
	}
	return strings.Join(lines, "\n")
}

// completeOptions renders the template, runs the completion, and normalizes
// the returned JSON into option maps.
func completeOptions(ctx context.Context, lm models.Completer, tmpl *prompts.Template, vars map[string]any, stage task.StageType) ([]map[string]any, error) {
	prompt, err := tmpl.Render(vars)
	if err != nil {
		return nil, models.NewInvocationError(string(stage), err)
	}
	text, err := lm.Complete(ctx, "", prompt)
	if err != nil {
		return nil, models.NewInvocationError(string(stage), err)
	}
	payload, err := models.ExtractJSON(text)
	if err != nil {
		return nil, models.NewInvocationError(string(stage), err)
	}
	return models.NormalizeOptions(payload), nil
}

// ensureUnique walks the raw options, replacing invalid or near-duplicate
// entries with regenerated ones (two attempts each), then tops up to count.
func ensureUnique(
	ctx context.Context,
	raws []map[string]any,
	count int,
	avoid []string,
	invoke invokeFunc,
	optionText func(map[string]any) string,
	ok func(map[string]any) bool,
	dupErr, insufficientErr string,
) ([]map[string]any, error) {
	var unique []map[string]any
	seen := append([]string{}, avoid...)

	for _, raw := range raws {
		if len(unique) >= count {
			break
		}
		text := optionText(raw)
		if !ok(raw) || IsDuplicate(text, seen) {
			var replacement map[string]any
			for attempt := 0; attempt < 2; attempt++ {
				regenerated, err := invoke(ctx, 1, seen, true)
				if err != nil {
					return nil, err
				}
				if len(regenerated) == 0 {
					continue
				}
				candidate := regenerated[0]
				candidateText := optionText(candidate)
				if ok(candidate) && !IsDuplicate(candidateText, seen) {
					replacement = candidate
					text = candidateText
					break
				}
				seen = append(seen, candidateText)
			}
			if replacement == nil {
				return nil, fmt.Errorf("%s", dupErr)
			}
			raw = replacement
		}
		unique = append(unique, raw)
		seen = append(seen, text)
	}

	for len(unique) < count {
		regenerated, err := invoke(ctx, 1, seen, true)
		if err != nil {
			return nil, err
		}
		if len(regenerated) == 0 {
			return nil, fmt.Errorf("%s", insufficientErr)
		}
		candidate := regenerated[0]
		candidateText := optionText(candidate)
		if !ok(candidate) || IsDuplicate(candidateText, seen) {
			return nil, fmt.Errorf("%s", dupErr)
		}
		unique = append(unique, candidate)
		seen = append(seen, candidateText)
	}

	return unique, nil
}

func candidateID(index int) string {
	return string(rune('A' + index))
}

// firstLine returns the first non-empty line, with optional markdown heading
// skipping and bracket trimming.
func firstLine(text string, skipHeadings bool) string {
	for _, line := range strings.Split(text, "\n") {
		cleaned := strings.TrimSpace(line)
		if cleaned == "" {
			continue
		}
		if skipHeadings && strings.HasPrefix(cleaned, "#") {
			continue
		}
		return strings.Trim(cleaned, "[]")
	}
	return ""
}

func toCandidate(raw map[string]any, stageKey string) task.Candidate {
	payload := ToCandidatePayload(raw, stageKey)
	if chain, ok := raw["question_chain"]; ok {
		payload["question_chain"] = chain
	}
	gc, _ := raw["generation_context"].(map[string]any)
	if gc == nil {
		gc = map[string]any{}
	}
	score := 0.0
	if v, ok := raw["alignment_score"].(float64); ok {
		score = v
	}
	return task.Candidate{
		ID:                stringAt(raw, "id"),
		Title:             stringAt(raw, "title"),
		Status:            task.CandidateGenerated,
		Content:           payload,
		Rationale:         stringAt(raw, "rationale"),
		DerivedFrom:       NormalizeDerivedFrom(raw["derived_from"]),
		AlignmentScore:    score,
		GenerationContext: gc,
	}
}

var (
	numberedItemRe = regexp.MustCompile(`^\d+[.)、]\s*(.+)$`)
	bulletItemRe   = regexp.MustCompile(`^[-*]\s+(.+)$`)
)

// ParseQuestionChain extracts numbered or bulleted items from free text.
func ParseQuestionChain(text string) []string {
	if text == "" {
		return nil
	}
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		cleaned := strings.TrimSpace(line)
		if cleaned == "" {
			continue
		}
		if m := numberedItemRe.FindStringSubmatch(cleaned); m != nil {
			questions = append(questions, strings.TrimSpace(m[1]))
			continue
		}
		if m := bulletItemRe.FindStringSubmatch(cleaned); m != nil {
			questions = append(questions, strings.TrimSpace(m[1]))
		}
	}
	return questions
}

// padChain truncates or pads a chain to exactly three entries.
func padChain(chain []string, filler string) []string {
	if len(chain) > 3 {
		chain = chain[:3]
	}
	for len(chain) < 3 {
		chain = append(chain, filler)
	}
	return chain
}
