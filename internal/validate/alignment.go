package validate

import (
	"strings"

	"courseloop/internal/task"
)

var subQuestionMarkers = [][]string{
	{"子问题1", "Sub-question 1", "Q1"},
	{"子问题2", "Sub-question 2", "Q2"},
	{"子问题3", "Sub-question 3", "Q3"},
}

// ActivityAlignment checks that an activity plan reflects the tool seed's
// topic, the question chain, and the tool constraints. Missing topic and
// chain together is blocking; one of them is a warning; constraints alone
// is informational.
func ActivityAlignment(seed *task.ToolSeed, questionChain []string, activityText string) Result {
	var warnings []string
	missingTopic := false
	missingChain := false

	constraints := seed.Constraints
	if constraints == nil {
		constraints = map[string]any{}
	}
	topic, _ := constraints["topic"].(string)
	if topic == "" {
		topic = seed.UserIntent
	}
	if topic == "" {
		topic = seed.ToolName
	}

	if topic != "" && !strings.Contains(activityText, topic) {
		missingTopic = true
		warnings = append(warnings, "Activity does not mention the topic keyword.")
	}

	if len(questionChain) > 0 {
		hit := false
		for _, q := range questionChain {
			if q != "" && strings.Contains(activityText, q) {
				hit = true
				break
			}
		}
		if !hit {
			// Explicit sub-question markers count as sufficient alignment.
			if !hasAllMarkers(activityText) {
				missingChain = true
				warnings = append(warnings, "Activity does not reflect the question chain.")
			}
		}
	}

	toolConstraints, _ := constraints["tool_constraints"].(string)
	if toolConstraints != "" && !strings.Contains(activityText, toolConstraints) {
		warnings = append(warnings, "Activity does not mention tool constraints.")
	}

	if len(warnings) == 0 {
		return Result{}
	}

	var severity task.ConflictSeverity
	switch {
	case missingTopic && missingChain:
		severity = task.SeverityBlocking
	case missingTopic || missingChain:
		severity = task.SeverityWarning
	default:
		severity = task.SeverityInfo
	}

	conflict := task.Conflict{
		ConflictID: task.NewConflictID(),
		Stage:      task.StageActivity,
		Severity:   severity,
		Summary:    "Activity alignment with tool_seed/question_chain is insufficient.",
		Warnings:   warnings,
		Options: []task.ConflictOption{
			{
				Option:      "A",
				Title:       "Adjust tool_seed parameters",
				Description: "Modify tool_seed topic, constraints, or context to fit the activity.",
			},
			{
				Option:      "B",
				Title:       "Select a different question chain",
				Description: "Choose or regenerate a question_chain that matches the activity.",
			},
			{
				Option:      "C",
				Title:       "Generate a compromise plan",
				Description: "Produce a compromise plan and note the trade-offs.",
			},
		},
		Recommendation: "Align the question chain and topic first, then refine activity details.",
	}

	return Result{Conflicts: []task.Conflict{conflict}}
}

func hasAllMarkers(text string) bool {
	for _, group := range subQuestionMarkers {
		found := false
		for _, token := range group {
			if strings.Contains(text, token) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
