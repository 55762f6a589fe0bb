package gateway

import (
	"context"

	"courseloop/internal/orchestrator"
	"courseloop/internal/task"
)

// wsTaskHandler adapts the orchestrator to the WS request methods.
type wsTaskHandler struct {
	engine *orchestrator.Orchestrator
}

func (h *wsTaskHandler) SendMessage(ctx context.Context, sessionID, taskID, message string, intake map[string]any) (any, error) {
	return h.engine.HandleChat(ctx, sessionID, taskID, message, intake)
}

func (h *wsTaskHandler) ApplyAction(ctx context.Context, taskID, action string, payload map[string]any) (any, error) {
	decision, err := h.engine.ApplyAction(ctx, taskID, action, payload)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"task_id":  taskID,
		"decision": decision,
	}, nil
}

func (h *wsTaskHandler) Check(taskID string) (any, error) {
	t := h.engine.Store().Get(taskID)
	if t == nil {
		return nil, task.ErrNotFound
	}
	return orchestrator.BuildProgress(t), nil
}

func (h *wsTaskHandler) List() (any, error) {
	list := h.engine.Store().List()
	summaries := make([]orchestrator.Progress, 0, len(list))
	for _, t := range list {
		summaries = append(summaries, orchestrator.BuildProgress(t))
	}
	return summaries, nil
}
