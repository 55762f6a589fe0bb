package entry

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/validate"
)

// Canned chat strings used while collecting the opening scenario.
const (
	FallbackStarterScenario = "以校园垃圾分类与数据记录为主题的真实生活项目式学习场景。"
	AskRealisticScenario    = "请提供一个真实生活场景或真实学习任务（避免魔法/科幻/超现实设定）。"
	ScenarioReadyMessage    = "已收到场景信息，开始创建任务。"
	ToolSeedReadyMessage    = "已收到信息，开始创建任务并进入场景生成。"
)

const starterAttempts = 2

var chatScenarioKeywords = []string{"场景", "情境", "scenario"}

// LooksLikeScenario reports whether a free-form message reads as a scenario
// description rather than an entry-point choice. Short messages and messages
// that merely name an entry keyword do not qualify.
func LooksLikeScenario(message string) bool {
	trimmed := strings.TrimSpace(message)
	if len([]rune(trimmed)) <= 12 {
		return false
	}
	lowered := strings.ToLower(trimmed)
	for _, kw := range chatScenarioKeywords {
		if strings.Contains(lowered, kw) {
			return false
		}
	}
	for _, kw := range toolKeywords {
		if strings.Contains(lowered, kw) {
			return false
		}
	}
	return true
}

// SynthesizeStarterScenario asks the model for a short realistic scenario
// grounded in the intake. Unrealistic drafts burn an attempt; when the
// budget runs out a safe default is returned.
func SynthesizeStarterScenario(ctx context.Context, lm models.Completer, intake Intake) string {
	tmpl, err := prompts.Load("scenario_starter")
	if err != nil {
		return FallbackStarterScenario
	}
	for attempt := 0; attempt < starterAttempts; attempt++ {
		prompt, err := tmpl.Render(map[string]any{"intake": intake.Summary()})
		if err != nil {
			break
		}
		raw, err := lm.Complete(ctx, "", prompt)
		if err != nil {
			break
		}
		payload, err := models.ExtractJSON(raw)
		if err != nil {
			continue
		}
		data, ok := payload.(map[string]any)
		if !ok {
			continue
		}
		scenario, _ := data["scenario"].(string)
		scenario = strings.TrimSpace(scenario)
		if scenario != "" && validate.IsRealistic(scenario) {
			return scenario
		}
	}
	return FallbackStarterScenario
}
