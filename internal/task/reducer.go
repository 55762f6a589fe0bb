package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// maxConversation bounds the task conversation log.
const maxConversation = 200

// Apply reduces one event into the task state. The task is mutated in place
// and returned; callers hold the per-task write lock.
func Apply(t *Task, event Event) *Task {
	t.UpdatedAt = time.Now().UTC()

	switch event.Type {
	case EventTaskCreated:
		applyTaskCreated(t, event)
	case EventDecisionEmitted:
		applyDecisionEmitted(t, event)
	case EventCandidatesGenerated, EventCandidatesRegenerated:
		applyCandidates(t, event)
	case EventCandidateSelected:
		applyCandidateSelected(t, event)
	case EventFeedbackRecorded:
		applyFeedbackRecorded(t, event)
	case EventConflictDetected:
		applyConflictDetected(t, event)
	case EventConflictResolved:
		applyConflictResolved(t, event)
	case EventMessageEmitted:
		applyMessageEmitted(t, event)
	case EventIntentUpdated:
		applyIntentUpdated(t, event)
	case EventStageFinalized:
		applyStageFinalized(t, event)
	case EventStageRedirected:
		applyStageRedirected(t, event)
	case EventTaskCompleted:
		t.Status = StatusCompleted
	case EventErrorRaised:
		t.Status = StatusError
	}
	return t
}

// Replay folds a sequence of events onto an empty task shell.
func Replay(events []Event) *Task {
	t := New()
	if len(events) > 0 {
		t.TaskID = events[0].TaskID
	}
	for _, ev := range events {
		Apply(t, ev)
	}
	return t
}

func applyTaskCreated(t *Task, event Event) {
	if v, ok := event.Payload["entry_point"].(string); ok {
		t.EntryPoint = EntryPoint(v)
	} else if v, ok := event.Payload["entry_point"].(EntryPoint); ok {
		t.EntryPoint = v
	}
	if data, ok := decodeAs[map[string]any](event.Payload["entry_data"]); ok {
		t.EntryData = data
	}
	if raw, present := event.Payload["tool_seed"]; present && raw != nil {
		if seed, ok := decodeAs[ToolSeed](raw); ok {
			t.ToolSeed = &seed
		}
	}
	if v, ok := stageValue(event.Payload["current_stage"]); ok {
		t.CurrentStage = v
	}
	if raw, ok := event.Payload["completed_stages"]; ok {
		if stages, ok := decodeAs[[]StageType](raw); ok {
			t.CompletedStages = stages
		}
	}
	if v, ok := event.Payload["status"].(string); ok && v != "" {
		t.Status = v
	} else {
		t.Status = StatusInProgress
	}
	if v, ok := event.Payload["stage_status"].(string); ok && v != "" {
		t.StageStatus = StageStatus(v)
	} else {
		t.StageStatus = StageInitialized
	}
	if v, ok := event.Payload["trace_root_id"].(string); ok {
		t.TraceRootID = v
	}
}

func applyDecisionEmitted(t *Task, event Event) {
	raw, ok := event.Payload["decision"]
	if !ok || raw == nil {
		return
	}
	decision, ok := decodeAs[DecisionResult](raw)
	if !ok {
		return
	}
	t.LastDecision = &decision
	if entry, ok := decodeAs[map[string]any](raw); ok {
		t.DecisionHistory = append(t.DecisionHistory, entry)
	}
}

func applyCandidates(t *Task, event Event) {
	if event.Stage == nil {
		return
	}
	stage := *event.Stage
	artifact := t.Artifact(stage)

	// Stale findings clear even when the revision turns out to be a replay.
	if _, ok := t.Conflicts[stage]; ok {
		t.Conflicts[stage] = []Conflict{}
	}
	artifact.Warnings = []string{}
	if warnings, ok := decodeAs[[]string](event.Payload["warnings"]); ok {
		artifact.Warnings = warnings
	}

	revisionID, _ := event.Payload["revision_id"].(string)
	if revisionID != "" && artifact.RevisionID == revisionID {
		return
	}

	if len(artifact.Candidates) > 0 {
		frozen := freezeCandidates(artifact.Candidates)
		artifact.History = append(artifact.History, map[string]any{
			"revision_id": artifact.RevisionID,
			"candidates":  candidatesToMaps(frozen),
			"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
			"reason":      event.Type,
		})
	}

	if revisionID != "" {
		artifact.RevisionID = revisionID
	} else {
		artifact.RevisionID = NewRevisionID()
	}
	if cands, ok := decodeAs[[]Candidate](event.Payload["candidates"]); ok {
		artifact.Candidates = cands
	} else {
		artifact.Candidates = []Candidate{}
	}
	genCtx, ok := decodeAs[map[string]any](event.Payload["generation_context"])
	if (!ok || genCtx == nil) && len(artifact.Candidates) > 0 {
		genCtx = artifact.Candidates[0].GenerationContext
	}
	if genCtx == nil {
		genCtx = map[string]any{}
	}
	artifact.GenerationContext = genCtx
	artifact.SelectedCandidateID = ""
	artifact.Status = StagePendingChoice
	if event.Type == EventCandidatesRegenerated {
		artifact.IterationCount++
	}
	t.StageStatus = artifact.Status
	t.DialogueState = DialogueSelecting
	appendWorkingMemory(t, "", "select:"+string(stage))
}

func applyCandidateSelected(t *Task, event Event) {
	if event.Stage == nil {
		return
	}
	stage := *event.Stage
	artifact := t.Artifact(stage)
	if _, ok := t.Conflicts[stage]; ok {
		t.Conflicts[stage] = []Conflict{}
	}
	selectedID, _ := event.Payload["candidate_id"].(string)
	artifact.SelectedCandidateID = selectedID
	for i := range artifact.Candidates {
		if artifact.Candidates[i].ID == selectedID {
			artifact.Candidates[i].Status = CandidateSelected
		} else {
			artifact.Candidates[i].Status = CandidateFrozen
		}
	}
	t.StageStatus = artifact.Status
	if selectedID != "" {
		t.DecisionHistory = append(t.DecisionHistory, map[string]any{
			"type":         "candidate_selected",
			"stage":        string(stage),
			"candidate_id": selectedID,
		})
		note := ""
		if selected := artifact.SelectedCandidate(); selected != nil {
			note = SummarizeCandidateContent(selected.Content)
		}
		appendWorkingMemory(t, fmt.Sprintf("selected %s: %s", stage, note), "selected:"+string(stage))
	}
}

func applyFeedbackRecorded(t *Task, event Event) {
	if event.Stage == nil {
		return
	}
	stage := *event.Stage
	artifact := t.Artifact(stage)
	artifact.Status = StageFeedbackLoop
	t.DialogueState = DialogueGenerating
	feedback, _ := event.Payload["feedback"].(string)
	artifact.History = append(artifact.History, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"reason":    "feedback",
		"feedback":  feedback,
	})
	t.StageStatus = artifact.Status
	appendWorkingMemory(t, fmt.Sprintf("feedback %s: %s", stage, feedback), "feedback:"+string(stage))
}

func applyConflictDetected(t *Task, event Event) {
	if event.Stage == nil {
		return
	}
	stage := *event.Stage
	conflict, ok := decodeAs[Conflict](event.Payload["conflict"])
	if !ok {
		return
	}
	t.Conflicts[stage] = append(t.Conflicts[stage], conflict)
	t.DialogueState = DialogueConflictResolution
	appendWorkingMemory(t, "", "conflict:"+string(stage))
}

func applyConflictResolved(t *Task, event Event) {
	if event.Stage == nil {
		return
	}
	stage := *event.Stage
	conflictID, _ := event.Payload["conflict_id"].(string)
	option, _ := event.Payload["option"].(string)
	conflicts := t.Conflicts[stage]
	for i := range conflicts {
		if conflicts[i].ConflictID == conflictID {
			conflicts[i].Resolved = true
			conflicts[i].ResolvedOption = option
		}
	}
	t.Conflicts[stage] = conflicts
	t.DialogueState = DialogueSelecting
	t.DecisionHistory = append(t.DecisionHistory, map[string]any{
		"type":        "conflict_resolved",
		"stage":       string(stage),
		"conflict_id": conflictID,
		"option":      option,
	})
	appendWorkingMemory(t, "", "select:"+string(stage))
}

func applyMessageEmitted(t *Task, event Event) {
	raw, ok := event.Payload["message"]
	if !ok || raw == nil {
		return
	}
	message, ok := decodeAs[Message](raw)
	if !ok {
		return
	}
	t.Messages = append(t.Messages, message)
	if len(t.Messages) > maxConversation {
		t.Messages = t.Messages[len(t.Messages)-maxConversation:]
	}
	if message.Kind == KindEntryDecision && message.EntryDecision != nil {
		t.DecisionHistory = append(t.DecisionHistory, map[string]any{
			"type":               "entry_decision",
			"chosen_entry_point": string(message.EntryDecision.ChosenEntryPoint),
			"rules_hit":          message.EntryDecision.RulesHit,
			"confidence":         message.EntryDecision.Confidence,
		})
	}
}

func applyIntentUpdated(t *Task, event Event) {
	after, _ := event.Payload["after"].(string)
	before, _ := event.Payload["before"].(string)
	if trimmed := strings.TrimSpace(after); trimmed != "" {
		t.CreativeContext.OriginalIntent = trimmed
		found := false
		for _, anchor := range t.CreativeContext.AnchorConcepts {
			if anchor == trimmed {
				found = true
				break
			}
		}
		if !found {
			t.CreativeContext.AnchorConcepts = append(t.CreativeContext.AnchorConcepts, trimmed)
		}
	}
	if raw, ok := event.Payload["revision"]; ok && raw != nil {
		if revision, ok := decodeAs[IntentRevision](raw); ok {
			t.CreativeContext.IntentEvolution = append(t.CreativeContext.IntentEvolution, revision)
		}
	}
	t.DecisionHistory = append(t.DecisionHistory, map[string]any{
		"type":   "intent_updated",
		"before": before,
		"after":  after,
	})
}

func applyStageFinalized(t *Task, event Event) {
	if event.Stage == nil {
		return
	}
	stage := *event.Stage
	artifact := t.Artifact(stage)
	artifact.Status = StageFinalized
	t.StageStatus = StageFinalized
	t.DialogueState = DialogueGenerating
	if !t.HasCompleted(stage) {
		t.CompletedStages = append(t.CompletedStages, stage)
	}
	if next, ok := stageValue(event.Payload["next_stage"]); ok && next != "" {
		t.CurrentStage = next
		appendWorkingMemory(t, "", "stage:"+string(next))
	} else {
		appendWorkingMemory(t, "", "stage:completed")
	}
}

func applyStageRedirected(t *Task, event Event) {
	target, ok := stageValue(event.Payload["current_stage"])
	if !ok || target == "" {
		if event.Stage == nil {
			return
		}
		target = *event.Stage
	}
	t.CurrentStage = target
	t.StageStatus = StageInitialized
	t.DecisionHistory = append(t.DecisionHistory, map[string]any{
		"type":  "require_previous",
		"stage": string(target),
	})
	appendWorkingMemory(t, "", "stage:"+string(target))
}

// Truncate flattens newlines and clips the text to limit runes.
func Truncate(text string, limit int) string {
	if text == "" {
		return ""
	}
	cleaned := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(cleaned)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SummarizeCandidateContent produces a short note from candidate content,
// preferring the stage-specific field.
func SummarizeCandidateContent(content any) string {
	if content == nil {
		return ""
	}
	switch v := content.(type) {
	case map[string]any:
		for _, key := range []string{"scenario", "driving_question", "question_chain", "activity", "experiment"} {
			value, ok := v[key]
			if !ok {
				continue
			}
			if list, ok := value.([]any); ok {
				return Truncate(joinAny(list, 3), 160)
			}
			if list, ok := value.([]string); ok {
				anyList := make([]any, len(list))
				for i, s := range list {
					anyList[i] = s
				}
				return Truncate(joinAny(anyList, 3), 160)
			}
			return Truncate(fmt.Sprint(value), 160)
		}
		return Truncate(fmt.Sprint(v), 160)
	case []any:
		return Truncate(joinAny(v, 3), 160)
	default:
		return Truncate(fmt.Sprint(v), 160)
	}
}

func joinAny(items []any, limit int) string {
	if len(items) > limit {
		items = items[:limit]
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(item))
	}
	return strings.Join(parts, " / ")
}

func appendWorkingMemory(t *Task, note, focus string) {
	if note != "" {
		t.WorkingMemory.Notes = append(t.WorkingMemory.Notes, Truncate(note, 200))
		if len(t.WorkingMemory.Notes) > 10 {
			t.WorkingMemory.Notes = t.WorkingMemory.Notes[len(t.WorkingMemory.Notes)-10:]
		}
	}
	if focus != "" {
		t.WorkingMemory.Focus = focus
	}
}

func freezeCandidates(candidates []Candidate) []Candidate {
	frozen := make([]Candidate, len(candidates))
	copy(frozen, candidates)
	for i := range frozen {
		if frozen[i].Status != CandidateSelected {
			frozen[i].Status = CandidateFrozen
		}
	}
	return frozen
}

func candidatesToMaps(candidates []Candidate) []map[string]any {
	out := make([]map[string]any, 0, len(candidates))
	for _, c := range candidates {
		if m, ok := decodeAs[map[string]any](c); ok {
			out = append(out, m)
		}
	}
	return out
}

func stageValue(raw any) (StageType, bool) {
	switch v := raw.(type) {
	case StageType:
		return v, true
	case string:
		return StageType(v), true
	default:
		return "", false
	}
}

// decodeAs converts payload values that may arrive either as typed structs
// (in-process emission) or as generic JSON maps (log replay).
func decodeAs[T any](raw any) (T, bool) {
	var out T
	if raw == nil {
		return out, false
	}
	if typed, ok := raw.(T); ok {
		return typed, true
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, false
	}
	return out, true
}
