package orchestrator

import (
	"context"
	"strings"

	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
)

const candidateSnippetLimit = 120

// CandidateSummaryLine formats one candidate for a user-facing message.
func CandidateSummaryLine(c task.Candidate) string {
	snippet := task.Truncate(task.SummarizeCandidateContent(c.Content), candidateSnippetLimit)
	title := c.Title
	if title == "" {
		title = "Candidate " + c.ID
	}
	if snippet == "" {
		return c.ID + ": " + title
	}
	return c.ID + ": " + title + " | " + snippet
}

// CandidateSummaries formats all candidates, one line each.
func CandidateSummaries(candidates []task.Candidate) string {
	lines := make([]string, 0, len(candidates))
	for _, c := range candidates {
		lines = append(lines, CandidateSummaryLine(c))
	}
	return strings.Join(lines, "\n")
}

// ConflictSummaries renders conflicts as "severity:summary" pairs.
func ConflictSummaries(conflicts []task.Conflict) string {
	parts := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		parts = append(parts, string(c.Severity)+":"+c.Summary)
	}
	return strings.Join(parts, ", ")
}

// BlockingConflictMessage tells the user how to resolve a blocking conflict
// from chat.
func BlockingConflictMessage(c task.Conflict) string {
	options := make([]string, 0, len(c.Options))
	for _, opt := range c.Options {
		options = append(options, opt.Option+":"+opt.Title)
	}
	return "Blocking conflict: " + c.Summary +
		". Options: " + strings.Join(options, " | ") +
		". Reply with option letter to resolve."
}

// ComposeDecisionMessage turns a decision into a conversational reply. The
// model polishes the wording; on any failure the decision's own user
// message is used verbatim.
func ComposeDecisionMessage(ctx context.Context, lm models.Completer, t *task.Task, decision task.DecisionResult) string {
	fallback := decision.UserMessage
	if lm == nil {
		return fallback
	}
	tmpl, err := prompts.Load("decision_message")
	if err != nil {
		return fallback
	}
	nextStage := ""
	if decision.NextStage != nil {
		nextStage = string(*decision.NextStage)
	}
	summary := ""
	if decision.Explanation != nil {
		summary = decision.Explanation.Summary
	}
	stage := t.CurrentStage
	prompt, err := tmpl.Render(map[string]any{
		"direction":    decision.Direction,
		"next_stage":   nextStage,
		"user_message": decision.UserMessage,
		"summary":      summary,
		"stage":        string(stage),
		"candidates":   CandidateSummaries(t.Artifact(stage).Candidates),
		"conflicts":    ConflictSummaries(t.Conflicts[stage]),
	})
	if err != nil {
		return fallback
	}
	reply, err := lm.Complete(ctx, "", prompt)
	if err != nil {
		return fallback
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return fallback
	}
	return reply
}
