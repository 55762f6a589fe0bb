// Package dialogue drives the conversational side of the service: the
// pre-task entry chat, the in-task creative exploration, and the routing
// between exploring and generating modes.
package dialogue

import (
	"strings"
	"unicode"
)

// tokens splits text into a comparable vocabulary. Latin words stay whole
// while CJK runs are split into single characters, which keeps overlap
// meaningful for mixed Chinese and English messages.
func tokens(text string) []string {
	var out []string
	var word []rune
	flush := func() {
		if len(word) > 0 {
			out = append(out, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return out
}

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range tokens(text) {
		set[tok] = true
	}
	return set
}

// Divergence measures how far a message drifts from a base text. The score
// is 1 minus the share of the base vocabulary the message covers, so 0 means
// full overlap and 1 means nothing in common. An empty base scores 0.
func Divergence(base, message string) float64 {
	baseSet := tokenSet(base)
	if len(baseSet) == 0 {
		return 0
	}
	messageSet := tokenSet(message)
	overlap := 0
	for tok := range baseSet {
		if messageSet[tok] {
			overlap++
		}
	}
	return 1 - float64(overlap)/float64(len(baseSet))
}
