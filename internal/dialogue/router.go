package dialogue

import (
	"strings"

	"courseloop/internal/task"
)

// Routing thresholds and trigger phrases.
const intentShiftThreshold = 0.6

var generatingTriggers = []string{"确认", "选择", "定稿", "进入下一步"}

// ClarifyEmpty and ClarifyVague are the clarifier's canned follow-ups.
const (
	ClarifyEmpty = "请补充你想解决的真实问题或学习目标。"
	ClarifyVague = "可以再具体一点吗？例如希望学生解决什么真实问题。"
)

// Clarify returns a follow-up question when the stated intent is too thin
// to work with, or "" when the intent is usable.
func Clarify(intent string) string {
	trimmed := strings.TrimSpace(intent)
	if trimmed == "" {
		return ClarifyEmpty
	}
	if len([]rune(trimmed)) < 6 {
		return ClarifyVague
	}
	return ""
}

// Route decides which dialogue mode a task message belongs to. Explicit
// decision words keep the task in generating mode; a large vocabulary shift
// against the recent conversation switches to exploring.
func Route(t *task.Task, message string) task.DialogueState {
	for _, trigger := range generatingTriggers {
		if strings.Contains(message, trigger) {
			return task.DialogueGenerating
		}
	}
	if IntentShift(t, message) >= intentShiftThreshold {
		return task.DialogueExploring
	}
	if t.DialogueState == "" {
		return task.DialogueGenerating
	}
	return t.DialogueState
}

// IntentShift scores how much a message departs from the last three
// conversation entries. 1 means no shared vocabulary.
func IntentShift(t *task.Task, message string) float64 {
	recent := recentMessageText(t, 3)
	if recent == "" {
		return 0
	}
	baseSet := tokenSet(recent)
	messageSet := tokenSet(message)
	if len(messageSet) == 0 {
		return 0
	}
	overlap := 0
	for tok := range messageSet {
		if baseSet[tok] {
			overlap++
		}
	}
	return 1 - float64(overlap)/float64(len(messageSet))
}

func recentMessageText(t *task.Task, n int) string {
	if len(t.Messages) == 0 {
		return ""
	}
	start := len(t.Messages) - n
	if start < 0 {
		start = 0
	}
	var parts []string
	for _, m := range t.Messages[start:] {
		if m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	return strings.Join(parts, " ")
}
