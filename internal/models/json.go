package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON document out of a completion. Models
// often wrap output in markdown fences or surround it with prose.
func ExtractJSON(text string) (any, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return nil, fmt.Errorf("empty completion")
	}

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	var out any
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	// Fall back to the first balanced object or array in the text.
	for _, pair := range [][2]rune{{'{', '}'}, {'[', ']'}} {
		if fragment := balancedFragment(cleaned, pair[0], pair[1]); fragment != "" {
			if err := json.Unmarshal([]byte(fragment), &out); err == nil {
				return out, nil
			}
		}
	}
	return nil, fmt.Errorf("no JSON found in completion")
}

func balancedFragment(text string, opener, closer rune) string {
	start := strings.IndexRune(text, opener)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i, r := range text[start:] {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return text[start : start+i+1]
			}
		}
	}
	return ""
}

// NormalizeOptions coerces a decoded completion payload into a list of
// option objects. Accepts {"options": [...]}, {"candidates": [...]},
// {"items": [...]}, a bare array, or a single object.
func NormalizeOptions(payload any) []map[string]any {
	switch v := payload.(type) {
	case map[string]any:
		for _, key := range []string{"options", "candidates", "items"} {
			if raw, ok := v[key]; ok {
				return normalizeList(raw)
			}
		}
		return []map[string]any{v}
	case []any:
		return normalizeList(v)
	default:
		return nil
	}
}

func normalizeList(raw any) []map[string]any {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			out = append(out, v)
		case string:
			out = append(out, map[string]any{"title": v})
		}
	}
	return out
}
