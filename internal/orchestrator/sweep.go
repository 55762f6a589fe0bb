package orchestrator

import (
	"time"

	cron "github.com/netresearch/go-cron"

	"courseloop/internal/task"
)

// DefaultSweepSchedule checks for stalled tasks every five minutes.
const DefaultSweepSchedule = "*/5 * * * *"

// StartSweep runs the idle-task sweep on a cron schedule and returns a
// stop function.
func (o *Orchestrator) StartSweep(schedule string) (func(), error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, o.SweepIdleTasks); err != nil {
		return nil, err
	}
	c.Start()
	return func() { c.Stop() }, nil
}

// SweepIdleTasks nudges every in-progress task that has been waiting on a
// user choice for longer than the selection timeout.
func (o *Orchestrator) SweepIdleTasks() {
	if o.selectionTimeout <= 0 {
		return
	}
	for _, t := range o.store.List() {
		if t.Status != task.StatusInProgress {
			continue
		}
		if t.StageStatus != task.StagePendingChoice && t.StageStatus != task.StageFeedbackLoop {
			continue
		}
		if time.Since(t.UpdatedAt) <= o.selectionTimeout {
			continue
		}
		unlock := o.store.Lock(t.TaskID)
		o.emitAssistantMessage(t, t.CurrentStage, NudgeMessage)
		unlock()
		o.log.Info("idle task nudged", "task_id", t.TaskID, "stage", string(t.CurrentStage))
	}
}
