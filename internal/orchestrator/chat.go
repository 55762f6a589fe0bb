package orchestrator

import (
	"context"
	"strings"
	"time"

	"courseloop/internal/dialogue"
	"courseloop/internal/task"
)

// ChatReply is the transport-level response for a chat turn.
type ChatReply struct {
	SessionID string     `json:"session_id"`
	TaskID    string     `json:"task_id,omitempty"`
	Reply     string     `json:"reply"`
	Status    string     `json:"status"`
	Decision  *task.EntryDecision `json:"entry_decision,omitempty"`
}

// HandleChat processes a chat message. Messages without a task id flow
// through the entry conversation and may create a task; messages bound to
// a task run the in-task dialogue.
func (o *Orchestrator) HandleChat(ctx context.Context, sessionID, taskID, message string, intake map[string]any) (*ChatReply, error) {
	if taskID != "" {
		return o.handleTaskChat(ctx, taskID, message)
	}

	session := o.sessions.Get(sessionID)
	result, err := o.chat.HandleMessage(ctx, session, message, intake)
	if err != nil {
		return nil, err
	}
	reply := &ChatReply{
		SessionID: session.SessionID,
		Reply:     result.Reply,
		Status:    string(result.Status),
		Decision:  result.Decision,
	}
	if result.Status != dialogue.StatusReady {
		return reply, nil
	}

	t, err := o.CreateTask(ctx, result.EntryPoint, result.EntryData, result.Decision)
	if err != nil {
		return nil, err
	}
	o.sessions.Delete(session.SessionID)
	reply.TaskID = t.TaskID
	return reply, nil
}

func (o *Orchestrator) handleTaskChat(ctx context.Context, taskID, message string) (*ChatReply, error) {
	t := o.store.Get(taskID)
	if t == nil {
		return nil, task.ErrNotFound
	}

	unlock := o.store.Lock(taskID)
	defer unlock()

	o.emit(t, task.NewEvent(task.EventMessageEmitted, t.TaskID, task.StagePtr(t.CurrentStage), map[string]any{
		"message": task.Message{
			Role:      "user",
			Text:      message,
			Stage:     task.StagePtr(t.CurrentStage),
			Kind:      task.KindUser,
			Mode:      string(t.DialogueState),
			Timestamp: time.Now().UTC(),
		},
	}))

	// A bare option letter resolves the most recent blocking conflict.
	if option := conflictOption(message); option != "" {
		if blocking := t.UnresolvedBlocking(t.CurrentStage); len(blocking) > 0 {
			decision, err := o.handleResolve(ctx, t, t.CurrentStage, blocking[len(blocking)-1].ConflictID, option)
			if err != nil {
				return nil, err
			}
			return &ChatReply{
				SessionID: t.SessionID,
				TaskID:    t.TaskID,
				Reply:     decision.UserMessage,
				Status:    "resolved",
			}, nil
		}
	}

	before := t.CreativeContext.OriginalIntent
	result, err := o.chat.HandleTaskMessage(ctx, t, message)
	if err != nil {
		return nil, err
	}

	if result.IntentChanged {
		after := strings.TrimPrefix(result.Reply, "已记录意图调整：")
		o.emit(t, task.NewEvent(task.EventIntentUpdated, t.TaskID, nil, map[string]any{
			"before": before,
			"after":  after,
			"revision": task.IntentRevision{
				Timestamp:     time.Now().UTC(),
				Trigger:       "chat",
				Before:        before,
				After:         after,
				UserConfirmed: true,
			},
		}))
	}

	reply := result.Reply
	if reply == "" {
		decision := task.DryRunNextSteps(t)
		reply = ComposeDecisionMessage(ctx, o.lm, t, decision)
	}
	o.emitAssistantMessage(t, t.CurrentStage, reply)
	o.store.Save(t)

	return &ChatReply{
		SessionID: t.SessionID,
		TaskID:    t.TaskID,
		Reply:     reply,
		Status:    string(result.State),
	}, nil
}

func conflictOption(message string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(message))
	switch trimmed {
	case "A", "B", "C":
		return trimmed
	}
	return ""
}
