package dialogue

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

// DefaultExploreQuestion is asked when the model cannot produce a usable
// exploration turn.
const DefaultExploreQuestion = "我需要更明确的目标/场景/工具信息，能补充一句吗？"

const maxWorkingMemoryNotes = 10

// ExploreResult is one turn of creative exploration.
type ExploreResult struct {
	Reply             string
	IntentSummary     string
	NeedsConfirmation bool
}

// Explore runs one exploring-mode turn: the model restates the intent,
// extracts constraints and anchor concepts, and either asks a follow-up or
// summarizes. Extracted context is merged into the task in place.
func Explore(ctx context.Context, lm models.Completer, t *task.Task, intake, userInput string) (ExploreResult, error) {
	tmpl, err := prompts.Load("creative_dialogue")
	if err != nil {
		return ExploreResult{Reply: DefaultExploreQuestion}, err
	}
	prompt, err := tmpl.Render(map[string]any{
		"original_intent": t.CreativeContext.OriginalIntent,
		"key_constraints": strings.Join(t.CreativeContext.KeyConstraints, "; "),
		"anchor_concepts": strings.Join(t.CreativeContext.AnchorConcepts, "; "),
		"intake":          intake,
		"recent_messages": recentMessageText(t, 3),
		"user_input":      userInput,
	})
	if err != nil {
		return ExploreResult{Reply: DefaultExploreQuestion}, err
	}
	raw, err := lm.Complete(ctx, "", prompt)
	if err != nil {
		return ExploreResult{Reply: DefaultExploreQuestion}, models.NewInvocationError("creative dialogue", err)
	}
	payload, err := models.ExtractJSON(raw)
	if err != nil {
		return ExploreResult{Reply: DefaultExploreQuestion}, nil
	}
	data, ok := payload.(map[string]any)
	if !ok {
		return ExploreResult{Reply: DefaultExploreQuestion}, nil
	}

	mergeStringList(&t.CreativeContext.KeyConstraints, data["key_constraints"])
	mergeStringList(&t.CreativeContext.AnchorConcepts, data["anchor_concepts"])

	summary, _ := data["summary"].(string)
	summary = strings.TrimSpace(summary)
	intent, _ := data["intent"].(string)
	intent = strings.TrimSpace(intent)
	if summary == "" {
		summary = intent
	}
	if summary != "" {
		appendNote(t, "intent: "+summary)
	}

	needsConfirmation, _ := data["needs_confirmation"].(bool)
	question, _ := data["question"].(string)
	question = strings.TrimSpace(question)

	reply := question
	if reply == "" {
		reply = summary
	}
	if reply == "" {
		reply = DefaultExploreQuestion
	}
	return ExploreResult{
		Reply:             reply,
		IntentSummary:     summary,
		NeedsConfirmation: needsConfirmation,
	}, nil
}

func mergeStringList(dst *[]string, raw any) {
	items, ok := raw.([]any)
	if !ok {
		return
	}
	seen := map[string]bool{}
	for _, existing := range *dst {
		seen[existing] = true
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		*dst = append(*dst, s)
	}
}

func appendNote(t *task.Task, note string) {
	t.WorkingMemory.Notes = append(t.WorkingMemory.Notes, note)
	if overflow := len(t.WorkingMemory.Notes) - maxWorkingMemoryNotes; overflow > 0 {
		t.WorkingMemory.Notes = t.WorkingMemory.Notes[overflow:]
	}
}
