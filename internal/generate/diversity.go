// Package generate produces stage candidates through the configured language
// model, with diversity enforcement and retry on near-duplicates.
package generate

import (
	"encoding/json"
	"regexp"
	"strings"

	"courseloop/internal/task"
)

const (
	// DuplicateThreshold is the trigram Jaccard similarity above which two
	// candidate texts count as duplicates.
	DuplicateThreshold = 0.85

	summaryLimit  = 160
	maxAvoidItems = 6
)

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// NormalizeText lowercases and strips everything except letters, digits,
// and underscores. CJK characters survive normalization.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	return nonWordRe.ReplaceAllString(strings.ToLower(text), "")
}

func ngrams(text string, n int) map[string]struct{} {
	runes := []rune(text)
	set := map[string]struct{}{}
	if len(runes) == 0 {
		return set
	}
	if len(runes) <= n {
		set[string(runes)] = struct{}{}
		return set
	}
	for i := 0; i+n <= len(runes); i++ {
		set[string(runes[i:i+n])] = struct{}{}
	}
	return set
}

// Similarity is the Jaccard similarity of the character trigram sets of the
// normalized inputs.
func Similarity(a, b string) float64 {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == "" || nb == "" {
		return 0
	}
	ga, gb := ngrams(na, 3), ngrams(nb, 3)
	if len(ga) == 0 || len(gb) == 0 {
		return 0
	}
	inter := 0
	for g := range ga {
		if _, ok := gb[g]; ok {
			inter++
		}
	}
	union := len(ga) + len(gb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// IsDuplicate reports whether text is empty after normalization or too close
// to any existing text.
func IsDuplicate(text string, existing []string) bool {
	if NormalizeText(text) == "" {
		return true
	}
	for _, e := range existing {
		if Similarity(text, e) >= DuplicateThreshold {
			return true
		}
	}
	return false
}

// Summarize trims the text to a single compact line.
func Summarize(text string) string {
	if text == "" {
		return ""
	}
	trimmed := strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	runes := []rune(trimmed)
	if len(runes) > summaryLimit {
		return string(runes[:summaryLimit])
	}
	return trimmed
}

func valueToText(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if item != nil {
				parts = append(parts, valueToText(item))
			}
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(v, " ")
	case map[string]any:
		b, _ := json.Marshal(v)
		return string(b)
	default:
		b, _ := json.Marshal(v)
		return strings.Trim(string(b), `"`)
	}
}

// ExtractTextFromContent pulls the comparable text out of candidate content.
func ExtractTextFromContent(content map[string]any, stageKey string) string {
	if content == nil {
		return ""
	}
	if v, ok := content[stageKey]; ok {
		return valueToText(v)
	}
	for _, key := range []string{"driving_question", "question_chain", "scenario", "activity", "experiment"} {
		if v, ok := content[key]; ok {
			return valueToText(v)
		}
	}
	b, _ := json.Marshal(content)
	return string(b)
}

func extractTextFromRaw(raw any, stageKey string) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case map[string]any:
		if content, ok := v["content"].(map[string]any); ok {
			return ExtractTextFromContent(content, stageKey)
		}
		if val, ok := v[stageKey]; ok {
			return valueToText(val)
		}
		for _, key := range []string{"driving_question", "question_chain", "scenario", "activity", "experiment", "title"} {
			if val, ok := v[key]; ok {
				return valueToText(val)
			}
		}
		b, _ := json.Marshal(v)
		return string(b)
	default:
		return valueToText(v)
	}
}

// CollectAvoidCandidates gathers summaries of the current and recently frozen
// candidates for a stage, newest history first, deduplicated, capped at 6.
func CollectAvoidCandidates(t *task.Task, stage task.StageType) []string {
	artifact, ok := t.Artifacts[stage]
	if !ok || artifact == nil {
		return nil
	}
	var items []string
	for _, cand := range artifact.Candidates {
		if text := Summarize(ExtractTextFromContent(cand.Content, string(stage))); text != "" {
			items = append(items, text)
		}
	}
	for i := len(artifact.History) - 1; i >= 0; i-- {
		if cands, ok := artifact.History[i]["candidates"].([]any); ok {
			for _, raw := range cands {
				if text := Summarize(extractTextFromRaw(raw, string(stage))); text != "" {
					items = append(items, text)
				}
			}
		} else if cands, ok := artifact.History[i]["candidates"].([]map[string]any); ok {
			for _, raw := range cands {
				if text := Summarize(extractTextFromRaw(raw, string(stage))); text != "" {
					items = append(items, text)
				}
			}
		}
		if len(items) >= maxAvoidItems {
			break
		}
	}
	var deduped []string
	for _, item := range items {
		seen := false
		for _, d := range deduped {
			if d == item {
				seen = true
				break
			}
		}
		if !seen {
			deduped = append(deduped, item)
		}
		if len(deduped) >= maxAvoidItems {
			break
		}
	}
	return deduped
}
