package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courseloop/internal/generate"
	"courseloop/internal/task"
	"courseloop/internal/validate"
)

// actionAliases maps transport-level action names onto domain actions.
var actionAliases = map[string]task.ActionType{
	"select":                 task.ActionSelectCandidate,
	"select_candidate":       task.ActionSelectCandidate,
	"regenerate":             task.ActionRegenerateCandidates,
	"regenerate_candidates":  task.ActionRegenerateCandidates,
	"feedback":               task.ActionProvideFeedback,
	"provide_feedback":       task.ActionProvideFeedback,
	"accept":                 task.ActionFinalizeStage,
	"finalize":               task.ActionFinalizeStage,
	"finalize_stage":         task.ActionFinalizeStage,
	"resolve_conflict":       task.ActionResolveConflict,
}

// ApplyAction processes one user action against a task and returns the
// resulting decision.
func (o *Orchestrator) ApplyAction(ctx context.Context, taskID, action string, payload map[string]any) (*task.DecisionResult, error) {
	t := o.store.Get(taskID)
	if t == nil {
		return nil, task.ErrNotFound
	}
	if payload == nil {
		payload = map[string]any{}
	}

	unlock := o.store.Lock(taskID)
	defer unlock()

	o.tracer.LogChild(t.TraceRootID, "flow:apply_action",
		map[string]any{"action": action}, nil)

	o.maybeNudge(t)

	actionType, ok := actionAliases[action]
	if !ok {
		return nil, badRequest("Unknown action: " + action)
	}

	stage := t.CurrentStage
	if s, ok := payload["stage"].(string); ok && s != "" {
		stage = task.StageType(s)
	} else if s, ok := payload["target_component"].(string); ok && s != "" {
		stage = task.StageType(s)
	}

	if !task.CanApplyAction(t.StageStatus, actionType) {
		return nil, badRequest("Action not allowed in current stage status")
	}

	decision := task.MakeDecision(t, stage, string(actionType))
	switch decision.Direction {
	case task.DirectionError:
		o.emit(t, task.NewEvent(task.EventErrorRaised, t.TaskID, task.StagePtr(stage), map[string]any{
			"error": "dependency_cycle",
		}))
		o.emitDecision(ctx, t, stage, decision)
		return &decision, nil
	case task.DirectionBackwardCompletion:
		o.emit(t, task.NewEvent(task.EventStageRedirected, t.TaskID, task.StagePtr(*decision.NextStage), map[string]any{
			"current_stage": string(*decision.NextStage),
		}))
		o.emitDecision(ctx, t, *decision.NextStage, decision)
		return &decision, nil
	}

	switch actionType {
	case task.ActionSelectCandidate:
		candidateID, _ := payload["candidate_id"].(string)
		return o.handleSelect(ctx, t, stage, candidateID)
	case task.ActionRegenerateCandidates:
		feedback, _ := payload["feedback"].(string)
		return o.handleRegenerate(ctx, t, stage, feedback)
	case task.ActionProvideFeedback:
		feedback, _ := payload["feedback"].(string)
		return o.handleFeedback(ctx, t, stage, feedback)
	case task.ActionFinalizeStage:
		decision, err := o.finalizeStage(ctx, t, stage)
		if err != nil {
			return nil, err
		}
		return decision, nil
	case task.ActionResolveConflict:
		conflictID, _ := payload["conflict_id"].(string)
		option, _ := payload["option"].(string)
		return o.handleResolve(ctx, t, stage, conflictID, option)
	}
	return nil, badRequest("Unknown action: " + action)
}

// maybeNudge reminds the user after a long quiet period in a choice state.
func (o *Orchestrator) maybeNudge(t *task.Task) {
	if o.selectionTimeout <= 0 {
		return
	}
	if t.StageStatus != task.StagePendingChoice && t.StageStatus != task.StageFeedbackLoop {
		return
	}
	if time.Since(t.UpdatedAt) <= o.selectionTimeout {
		return
	}
	o.emitAssistantMessage(t, t.CurrentStage, NudgeMessage)
}

func (o *Orchestrator) handleSelect(ctx context.Context, t *task.Task, stage task.StageType, candidateID string) (*task.DecisionResult, error) {
	artifact := t.Artifact(stage)
	if len(artifact.Candidates) == 0 {
		return nil, badRequest("No candidates to select")
	}
	var selected *task.Candidate
	for i := range artifact.Candidates {
		if artifact.Candidates[i].ID == candidateID {
			selected = &artifact.Candidates[i]
			break
		}
	}
	if selected == nil || selected.Status == task.CandidateFrozen {
		return nil, badRequest("Candidate not selectable")
	}

	o.emit(t, task.NewEvent(task.EventCandidateSelected, t.TaskID, task.StagePtr(stage), map[string]any{
		"candidate_id": candidateID,
	}))

	o.runValidators(t, stage, selected)

	if blocking := t.UnresolvedBlocking(stage); len(blocking) > 0 {
		decision := task.DecisionResult{
			NextStage: task.StagePtr(stage),
			Direction: task.DirectionStay,
			Explanation: &task.Explanation{
				Summary: "Finalize conditions not met.",
				Details: []string{ConflictSummaries(blocking)},
			},
			UserMessage: "Selection saved. Resolve blocking conflicts to proceed.",
		}
		o.emitDecision(ctx, t, stage, decision)
		o.emitAssistantMessage(t, stage, BlockingConflictMessage(blocking[0]))
		return &decision, nil
	}

	return o.finalizeStage(ctx, t, stage)
}

// runValidators executes the post-selection checks for a stage and records
// any conflicts they raise.
func (o *Orchestrator) runValidators(t *task.Task, stage task.StageType, selected *task.Candidate) {
	// Alignment against the tool seed only makes sense for tool-first tasks.
	if stage != task.StageActivity || t.EntryPoint != task.EntryToolSeed {
		return
	}
	seed := generate.ToolSeedFor(t)
	chain := generate.SelectedChain(t)
	activityText := generate.ExtractTextFromContent(selected.Content, "activity")

	o.tracer.LogChild(t.TraceRootID, "validator:"+string(stage),
		map[string]any{"candidate_id": selected.ID}, nil)

	result := validate.ActivityAlignment(seed, chain, activityText)
	for _, conflict := range result.Conflicts {
		o.emit(t, task.NewEvent(task.EventConflictDetected, t.TaskID, task.StagePtr(stage), map[string]any{
			"conflict": conflict,
		}))
	}
}

// finalizeStage closes a stage and opens the next one, generating its
// first candidates. The task completes when no stage remains.
func (o *Orchestrator) finalizeStage(ctx context.Context, t *task.Task, stage task.StageType) (*task.DecisionResult, error) {
	artifact := t.Artifact(stage)
	if artifact.SelectedCandidateID == "" || len(t.UnresolvedBlocking(stage)) > 0 {
		decision := task.DecisionResult{
			NextStage: task.StagePtr(stage),
			Direction: task.DirectionStay,
			Explanation: &task.Explanation{
				Summary: "Finalize conditions not met.",
				Details: []string{},
			},
			UserMessage: "Finalize conditions not met.",
		}
		o.emitDecision(ctx, t, stage, decision)
		return &decision, nil
	}

	next := nextStage(t, stage)
	payload := map[string]any{}
	if next != "" {
		payload["next_stage"] = string(next)
	}
	o.emit(t, task.NewEvent(task.EventStageFinalized, t.TaskID, task.StagePtr(stage), payload))

	if next == "" {
		decision := task.DecisionResult{
			Direction: task.DirectionForward,
			Explanation: &task.Explanation{
				Summary: "All stages completed.",
				Details: []string{},
			},
			UserMessage: "All stages completed. The course plan is ready.",
		}
		o.emit(t, task.NewEvent(task.EventTaskCompleted, t.TaskID, task.StagePtr(stage), map[string]any{}))
		o.emitDecision(ctx, t, stage, decision)
		return &decision, nil
	}

	decision := task.DecisionResult{
		NextStage: task.StagePtr(next),
		Direction: task.DirectionForward,
		Explanation: &task.Explanation{
			Summary: "Stage finalized.",
			Details: []string{"Next stage: " + string(next)},
		},
		UserMessage: "Stage finalized. Moving to " + string(next) + ".",
	}
	o.emitDecision(ctx, t, next, decision)

	if err := o.generateStage(ctx, t, next, "", false); err != nil {
		return &decision, err
	}
	return &decision, nil
}

func (o *Orchestrator) handleRegenerate(ctx context.Context, t *task.Task, stage task.StageType, feedback string) (*task.DecisionResult, error) {
	if decision := o.forceExitDecision(ctx, t, stage); decision != nil {
		return decision, nil
	}
	if err := o.generateStage(ctx, t, stage, feedback, true); err != nil {
		return nil, err
	}
	decision := task.DecisionResult{
		NextStage: task.StagePtr(stage),
		Direction: task.DirectionStay,
		Explanation: &task.Explanation{
			Summary: "Candidates regenerated.",
			Details: []string{fmt.Sprintf("Iteration %d of %d.", t.Artifact(stage).IterationCount, task.MaxIterations)},
		},
		UserMessage: "New candidates are ready. Please choose one.",
	}
	o.emit(t, task.NewEvent(task.EventDecisionEmitted, t.TaskID, task.StagePtr(stage), map[string]any{
		"decision": decision,
	}))
	return &decision, nil
}

func (o *Orchestrator) handleFeedback(ctx context.Context, t *task.Task, stage task.StageType, feedback string) (*task.DecisionResult, error) {
	if strings.TrimSpace(feedback) == "" {
		return nil, badRequest("feedback text is required")
	}
	o.emit(t, task.NewEvent(task.EventFeedbackRecorded, t.TaskID, task.StagePtr(stage), map[string]any{
		"feedback": feedback,
		"message":  "Feedback recorded.",
	}))

	if decision := o.forceExitDecision(ctx, t, stage); decision != nil {
		return decision, nil
	}
	return o.handleRegenerate(ctx, t, stage, feedback)
}

// forceExitDecision returns the iteration-ceiling decision when the stage
// has exhausted its regeneration budget, or nil when iteration may go on.
func (o *Orchestrator) forceExitDecision(ctx context.Context, t *task.Task, stage task.StageType) *task.DecisionResult {
	artifact := t.Artifact(stage)
	if !task.ShouldForceExit(artifact.IterationCount) {
		return nil
	}

	recommended := recommendCandidate(artifact.Candidates)
	constraints := map[string]any{"force_exit": true}
	details := []string{fmt.Sprintf("MAX_ITERATIONS=%d", task.MaxIterations)}
	message := "Iteration limit reached. Please select a candidate to proceed."
	if recommended != nil {
		constraints["recommended_candidate_id"] = recommended.ID
		constraints["recommended_title"] = recommended.Title
		constraints["recommended_alignment_score"] = recommended.AlignmentScore
		details = append(details, fmt.Sprintf("Recommended: %s - %s", recommended.ID, recommended.Title))
		message = fmt.Sprintf("Iteration limit reached. Recommended candidate %s: %s. Please confirm selection.",
			recommended.ID, recommended.Title)
	}

	decision := task.DecisionResult{
		NextStage: task.StagePtr(stage),
		Direction: task.DirectionForceExit,
		Explanation: &task.Explanation{
			Summary: "Maximum iterations reached.",
			Details: details,
		},
		UserMessage: message,
		Constraints: constraints,
	}
	o.emitDecision(ctx, t, stage, decision)
	return &decision
}

// recommendCandidate picks the highest-scoring candidate, if any.
func recommendCandidate(candidates []task.Candidate) *task.Candidate {
	var best *task.Candidate
	for i := range candidates {
		if best == nil || candidates[i].AlignmentScore > best.AlignmentScore {
			best = &candidates[i]
		}
	}
	return best
}

func (o *Orchestrator) handleResolve(ctx context.Context, t *task.Task, stage task.StageType, conflictID, option string) (*task.DecisionResult, error) {
	if option == "" {
		return nil, badRequest("conflict_id and option are required to resolve conflicts")
	}
	conflicts := t.Conflicts[stage]
	if conflictID == "" {
		for i := len(conflicts) - 1; i >= 0; i-- {
			if !conflicts[i].Resolved {
				conflictID = conflicts[i].ConflictID
				break
			}
		}
	}
	if conflictID == "" {
		return nil, badRequest("conflict_id and option are required to resolve conflicts")
	}
	found := false
	for _, c := range conflicts {
		if c.ConflictID == conflictID {
			found = true
			break
		}
	}
	if !found {
		return nil, badRequest("Unknown conflict: " + conflictID)
	}

	o.emit(t, task.NewEvent(task.EventConflictResolved, t.TaskID, task.StagePtr(stage), map[string]any{
		"conflict_id": conflictID,
		"option":      option,
	}))

	artifact := t.Artifact(stage)
	if artifact.SelectedCandidateID != "" && len(t.UnresolvedBlocking(stage)) == 0 {
		return o.finalizeStage(ctx, t, stage)
	}

	decision := task.DecisionResult{
		NextStage: task.StagePtr(stage),
		Direction: task.DirectionStay,
		Explanation: &task.Explanation{
			Summary: "Conflict resolved.",
			Details: []string{},
		},
		UserMessage: "Conflict resolved. Select a candidate to proceed.",
	}
	o.emitDecision(ctx, t, stage, decision)
	return &decision, nil
}

// nextStage walks the stage sequence past the finalized stage, skipping
// anything already completed.
func nextStage(t *task.Task, finalized task.StageType) task.StageType {
	passed := false
	for _, stage := range task.StageSequence {
		if stage == finalized {
			passed = true
			continue
		}
		if !passed {
			continue
		}
		if !t.HasCompleted(stage) {
			return stage
		}
	}
	return ""
}
