// Package validate checks generated candidates for emptiness, realism, and
// cross-stage alignment, reporting findings as warnings and conflicts.
package validate

import "courseloop/internal/task"

// Result collects validator findings for one stage.
type Result struct {
	Warnings       []string        `json:"warnings"`
	Conflicts      []task.Conflict `json:"conflicts"`
	Recommendation string          `json:"recommendation,omitempty"`
}

// NonEmpty warns when a generation round produced nothing.
func NonEmpty(candidates []task.Candidate) Result {
	var warnings []string
	if len(candidates) == 0 {
		warnings = append(warnings, "No candidates generated.")
	}
	return Result{Warnings: warnings}
}
