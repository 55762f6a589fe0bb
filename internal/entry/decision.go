// Package entry resolves how a new task starts: scenario-first or
// tool-first. Rule matching runs first, with a model fallback when the
// rules are inconclusive.
package entry

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

// DefaultThreshold is the minimum confidence needed to act on a decision.
const DefaultThreshold = 0.65

var strongScenarioPhrases = []string{
	"从场景开始",
	"从情境开始",
	"从场景",
	"从情境",
	"start from scenario",
	"from scenario",
}

var strongToolPhrases = []string{
	"从工具开始",
	"从实验开始",
	"从活动开始",
	"从驱动问题开始",
	"从项目开始",
	"从工具",
	"从实验",
	"从活动",
	"从驱动问题",
	"start from tool",
	"start from experiment",
	"start from activity",
	"start from driving question",
}

var scenarioKeywords = []string{
	"场景",
	"情境",
	"真实任务",
	"生活问题",
	"scenario",
}

var toolKeywords = []string{
	"工具",
	"软件",
	"实验",
	"活动",
	"驱动问题",
	"项目任务",
	"project",
	"activity",
	"experiment",
	"driving question",
	"question chain",
	"orange",
	"weka",
	"scratch",
	"python",
	"jupyter",
	"colab",
	"excel",
	"power bi",
	"pytorch",
	"tensorflow",
	"sklearn",
	"scikit",
	"matlab",
	"rapidminer",
}

func containsAny(text string, keywords []string) []string {
	lowered := strings.ToLower(text)
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			hits = append(hits, kw)
		}
	}
	return hits
}

func tagHits(prefix string, entry task.EntryPoint, hits []string) []string {
	tagged := make([]string, 0, len(hits))
	for _, h := range hits {
		tagged = append(tagged, fmt.Sprintf("%s:%s:%s", prefix, entry, h))
	}
	return tagged
}

// applyStrongSignals resolves explicit "start from X" phrasing at 0.95
// confidence. Hits on both sides defer to the next rule.
func applyStrongSignals(text string) (task.EntryPoint, []string, bool) {
	scenarioHits := containsAny(text, strongScenarioPhrases)
	toolHits := containsAny(text, strongToolPhrases)
	switch {
	case len(scenarioHits) > 0 && len(toolHits) > 0:
		hits := append(tagHits("strong", task.EntryScenario, scenarioHits),
			tagHits("strong", task.EntryToolSeed, toolHits)...)
		return "", hits, false
	case len(scenarioHits) > 0:
		return task.EntryScenario, tagHits("strong", task.EntryScenario, scenarioHits), true
	case len(toolHits) > 0:
		return task.EntryToolSeed, tagHits("strong", task.EntryToolSeed, toolHits), true
	}
	return "", nil, false
}

func applyKeywordRules(text string) (task.EntryPoint, []string, bool) {
	scenarioHits := containsAny(text, scenarioKeywords)
	toolHits := containsAny(text, toolKeywords)
	switch {
	case len(scenarioHits) > 0 && len(toolHits) > 0:
		hits := append(tagHits("keyword", task.EntryScenario, scenarioHits),
			tagHits("keyword", task.EntryToolSeed, toolHits)...)
		return "", hits, false
	case len(scenarioHits) > 0:
		return task.EntryScenario, tagHits("keyword", task.EntryScenario, scenarioHits), true
	case len(toolHits) > 0:
		return task.EntryToolSeed, tagHits("keyword", task.EntryToolSeed, toolHits), true
	}
	return "", nil, false
}

// Resolve decides the entry point for an utterance. Strong phrases win at
// 0.95, keyword rules at 0.75, and the model breaks ties.
func Resolve(ctx context.Context, lm models.Completer, text string) (task.EntryDecision, error) {
	if choice, hits, ok := applyStrongSignals(text); ok {
		return task.EntryDecision{
			ChosenEntryPoint: choice,
			RulesHit:         hits,
			ModelReason:      "strong_signal",
			Confidence:       0.95,
		}, nil
	}
	_, strongHits, _ := applyStrongSignals(text)

	if choice, keywordHits, ok := applyKeywordRules(text); ok {
		return task.EntryDecision{
			ChosenEntryPoint: choice,
			RulesHit:         append(strongHits, keywordHits...),
			ModelReason:      "keyword_rule",
			Confidence:       0.75,
		}, nil
	}

	decision, err := modelFallback(ctx, lm, text)
	if err != nil {
		return task.EntryDecision{}, err
	}
	if len(strongHits) > 0 {
		decision.RulesHit = strongHits
	}
	return decision, nil
}

func modelFallback(ctx context.Context, lm models.Completer, text string) (task.EntryDecision, error) {
	tmpl, err := prompts.Load("entry_classify")
	if err != nil {
		return task.EntryDecision{}, err
	}
	prompt, err := tmpl.Render(map[string]any{"text": text})
	if err != nil {
		return task.EntryDecision{}, err
	}
	raw, err := lm.Complete(ctx, "", prompt)
	if err != nil {
		return task.EntryDecision{}, models.NewInvocationError("entry decision", err)
	}
	payload, err := models.ExtractJSON(raw)
	if err != nil {
		return task.EntryDecision{}, models.NewInvocationError("entry decision", err)
	}
	data, ok := payload.(map[string]any)
	if !ok {
		return task.EntryDecision{}, models.NewInvocationError("entry decision", fmt.Errorf("unexpected payload shape"))
	}

	entryPoint := task.EntryScenario
	if v, ok := data["entry_point"].(string); ok && v == string(task.EntryToolSeed) {
		entryPoint = task.EntryToolSeed
	}
	confidence := 0.5
	if v, ok := data["confidence"].(float64); ok {
		confidence = v
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	reason, _ := data["reason"].(string)
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "llm_fallback"
	}
	return task.EntryDecision{
		ChosenEntryPoint: entryPoint,
		RulesHit:         []string{},
		ModelReason:      reason,
		Confidence:       confidence,
	}, nil
}

// Threshold reads ENTRY_CONFIDENCE_THRESHOLD, clamped to [0, 1].
func Threshold() float64 {
	value := os.Getenv("ENTRY_CONFIDENCE_THRESHOLD")
	if value == "" {
		return DefaultThreshold
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return DefaultThreshold
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
