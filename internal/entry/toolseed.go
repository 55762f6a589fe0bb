package entry

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

// MaxToolSeedAsks limits how many times the assistant re-asks for tool
// seed details before finalizing with defaults.
const MaxToolSeedAsks = 1

var toolSeedKeys = map[string]bool{
	"tool_name":   true,
	"algorithms":  true,
	"affordances": true,
	"constraints": true,
	"user_intent": true,
}

// ExtractToolSeed asks the model to pull tool seed fields out of a chat
// message and merges them into the running partial. Unknown keys are
// dropped.
func ExtractToolSeed(ctx context.Context, lm models.Completer, intake Intake, partial map[string]any, message string) (map[string]any, error) {
	tmpl, err := prompts.Load("tool_seed_extract")
	if err != nil {
		return partial, err
	}
	prompt, err := tmpl.Render(map[string]any{
		"intake":   intake.Summary(),
		"existing": partialSummary(partial),
		"message":  message,
	})
	if err != nil {
		return partial, err
	}
	raw, err := lm.Complete(ctx, "", prompt)
	if err != nil {
		return partial, models.NewInvocationError("tool seed extraction", err)
	}
	payload, err := models.ExtractJSON(raw)
	if err != nil {
		return partial, models.NewInvocationError("tool seed extraction", err)
	}
	extracted, ok := payload.(map[string]any)
	if !ok {
		return partial, nil
	}
	return MergeToolSeedPartial(partial, extracted), nil
}

// MergeToolSeedPartial folds extracted fields into the partial seed,
// keeping only known keys and non-empty values.
func MergeToolSeedPartial(partial, extracted map[string]any) map[string]any {
	merged := map[string]any{}
	for k, v := range partial {
		merged[k] = v
	}
	for k, v := range extracted {
		if !toolSeedKeys[k] || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if k == "constraints" {
			existing, _ := merged["constraints"].(map[string]any)
			incoming, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if existing == nil {
				existing = map[string]any{}
			}
			for ck, cv := range incoming {
				existing[ck] = cv
			}
			merged["constraints"] = existing
			continue
		}
		merged[k] = v
	}
	return merged
}

// ToolSeedComplete reports whether the partial carries enough to build a
// seed without re-asking.
func ToolSeedComplete(partial map[string]any) bool {
	name, _ := partial["tool_name"].(string)
	intent, _ := partial["user_intent"].(string)
	return strings.TrimSpace(name) != "" && strings.TrimSpace(intent) != ""
}

// FinalizeToolSeed builds the task seed from the partial plus the intake.
// Missing fields fall back to inferred or generic defaults.
func FinalizeToolSeed(intake Intake, partial map[string]any, lastMessage string) *task.ToolSeed {
	seed := &task.ToolSeed{Constraints: map[string]any{}}

	if name, _ := partial["tool_name"].(string); strings.TrimSpace(name) != "" {
		seed.ToolName = strings.TrimSpace(name)
	} else {
		seed.ToolName = InferToolName(lastMessage)
	}

	if intent, _ := partial["user_intent"].(string); strings.TrimSpace(intent) != "" {
		seed.UserIntent = strings.TrimSpace(intent)
	} else if intake.KnowledgePoint != "" {
		seed.UserIntent = intake.KnowledgePoint
	} else {
		seed.UserIntent = "项目式学习"
	}

	seed.Algorithms = toStringList(partial["algorithms"])
	seed.Affordances = toStringList(partial["affordances"])

	for k, v := range intake.Constraints() {
		seed.Constraints[k] = v
	}
	if constraints, ok := partial["constraints"].(map[string]any); ok {
		for k, v := range constraints {
			seed.Constraints[k] = v
		}
	}
	if _, ok := seed.Constraints["topic"]; !ok && seed.UserIntent != "" {
		seed.Constraints["topic"] = seed.UserIntent
	}
	return seed
}

// InferToolName scans the message for a known tool keyword. When nothing
// matches the seed gets a generic tool name.
func InferToolName(message string) string {
	lowered := strings.ToLower(message)
	for _, kw := range toolKeywords {
		if strings.Contains(lowered, kw) {
			return kw
		}
	}
	return "通用工具"
}

func toStringList(v any) []string {
	switch items := v.(type) {
	case []string:
		return items
	case []any:
		var out []string
		for _, item := range items {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if strings.TrimSpace(items) == "" {
			return nil
		}
		return []string{strings.TrimSpace(items)}
	}
	return nil
}

func partialSummary(partial map[string]any) string {
	if len(partial) == 0 {
		return "无"
	}
	var parts []string
	for _, k := range []string{"tool_name", "user_intent", "algorithms", "affordances", "constraints"} {
		v, ok := partial[k]
		if !ok {
			continue
		}
		switch tv := v.(type) {
		case string:
			parts = append(parts, k+": "+tv)
		case []string:
			parts = append(parts, k+": "+strings.Join(tv, ", "))
		case []any:
			parts = append(parts, k+": "+strings.Join(toStringList(tv), ", "))
		case map[string]any:
			var kv []string
			for ck := range tv {
				kv = append(kv, ck)
			}
			parts = append(parts, k+": "+strings.Join(kv, ", "))
		}
	}
	if len(parts) == 0 {
		return "无"
	}
	return strings.Join(parts, "；")
}
