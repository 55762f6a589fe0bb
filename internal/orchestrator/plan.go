package orchestrator

import (
	"courseloop/internal/task"
)

var stageContentKeys = map[task.StageType]string{
	task.StageScenario:        "scenario",
	task.StageDrivingQuestion: "driving_question",
	task.StageQuestionChain:   "question_chain",
	task.StageActivity:        "activity",
	task.StageExperiment:      "experiment",
}

var stageTitles = map[task.StageType]string{
	task.StageScenario:        "情境场景",
	task.StageDrivingQuestion: "驱动问题",
	task.StageQuestionChain:   "子问题链",
	task.StageActivity:        "活动方案",
	task.StageExperiment:      "实验设计",
}

// PlanSection is one stage of the assembled course plan.
type PlanSection struct {
	Stage       task.StageType `json:"stage"`
	Title       string         `json:"title"`
	CandidateID string         `json:"candidate_id,omitempty"`
	Content     any            `json:"content,omitempty"`
	Raw         map[string]any `json:"raw,omitempty"`
}

// Plan is the exportable view of a task's selected candidates.
type Plan struct {
	TaskID   string        `json:"task_id"`
	Status   string        `json:"status"`
	Sections []PlanSection `json:"sections"`
}

// BuildPlan assembles the plan from each stage's selected candidate.
// Stages without a selection produce a section with empty fields.
func BuildPlan(t *task.Task) Plan {
	plan := Plan{TaskID: t.TaskID, Status: t.Status}
	for _, stage := range task.StageSequence {
		section := PlanSection{Stage: stage, Title: stageTitles[stage]}
		if artifact, ok := t.Artifacts[stage]; ok {
			if selected := artifact.SelectedCandidate(); selected != nil {
				section.CandidateID = selected.ID
				section.Raw = selected.Content
				if key, ok := stageContentKeys[stage]; ok {
					section.Content = selected.Content[key]
				}
			}
		}
		plan.Sections = append(plan.Sections, section)
	}
	return plan
}

// Progress is the stage-by-stage status view of a task.
type Progress struct {
	TaskID          string           `json:"task_id"`
	Status          string           `json:"status"`
	CurrentStage    task.StageType   `json:"current_stage"`
	StageStatus     task.StageStatus `json:"stage_status"`
	CompletedStages []task.StageType `json:"completed_stages"`
	IterationCount  int              `json:"iteration_count"`
	OpenConflicts   int              `json:"open_conflicts"`
}

// BuildProgress summarizes where a task stands.
func BuildProgress(t *task.Task) Progress {
	open := 0
	for _, conflicts := range t.Conflicts {
		for _, c := range conflicts {
			if !c.Resolved {
				open++
			}
		}
	}
	return Progress{
		TaskID:          t.TaskID,
		Status:          t.Status,
		CurrentStage:    t.CurrentStage,
		StageStatus:     t.StageStatus,
		CompletedStages: t.CompletedStages,
		IterationCount:  t.Artifact(t.CurrentStage).IterationCount,
		OpenConflicts:   open,
	}
}
