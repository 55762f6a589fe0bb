package validate

import (
	"os"
	"strings"
)

// defaultBlocklist marks scenario text as unrealistic. Both Chinese and
// English terms are checked case-insensitively.
var defaultBlocklist = []string{
	"魔法",
	"魔幻",
	"咒语",
	"巫师",
	"穿越",
	"外星",
	"异世界",
	"超能力",
	"科幻",
	"未来世界",
	"时空旅行",
	"量子穿梭",
	"magic",
	"wizard",
	"spell",
	"time travel",
	"alien",
	"sci-fi",
	"science fiction",
	"superpower",
}

func loadBlocklist() []string {
	value := os.Getenv("SCENARIO_REALISM_BLOCKLIST")
	if strings.TrimSpace(value) == "" {
		return defaultBlocklist
	}
	var terms []string
	for _, item := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			terms = append(terms, trimmed)
		}
	}
	return terms
}

// FindUnrealisticTerm returns the first blocklisted term found in the text,
// or "" when the text passes.
func FindUnrealisticTerm(text string) string {
	if text == "" {
		return ""
	}
	lowered := strings.ToLower(text)
	for _, term := range loadBlocklist() {
		if strings.Contains(lowered, strings.ToLower(term)) {
			return term
		}
	}
	return ""
}

// IsRealistic reports whether the text contains no blocklisted terms.
func IsRealistic(text string) bool {
	return FindUnrealisticTerm(text) == ""
}
