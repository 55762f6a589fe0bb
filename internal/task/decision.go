package task

// MakeDecision evaluates whether the task can move on the requested stage.
// targetStage may be empty, in which case the current stage (or the next
// incomplete stage of the sequence) is checked.
func MakeDecision(t *Task, targetStage StageType, requestedAction string) DecisionResult {
	if t.Status == StatusCompleted {
		return DecisionResult{
			Direction:   DirectionStay,
			Explanation: &Explanation{Summary: "Task already completed.", Details: []string{}},
			UserMessage: "Task is already completed.",
		}
	}

	stageToCheck := targetStage
	if stageToCheck == "" {
		stageToCheck = t.CurrentStage
	}
	if stageToCheck == "" {
		stageToCheck = NextRequiredStage(t.CompletedStages)
	}
	if stageToCheck == "" {
		return DecisionResult{
			Direction:   DirectionStay,
			Explanation: &Explanation{Summary: "No remaining stages.", Details: []string{}},
			UserMessage: "No remaining stages.",
		}
	}

	chain, err := MissingChain(stageToCheck, t.EntryPoint, t.CompletedStages)
	if err != nil {
		return DecisionResult{
			Direction:   DirectionError,
			Explanation: &Explanation{Summary: err.Error(), Details: []string{}},
			UserMessage: "Dependency cycle detected. Please review the dependency table.",
			Constraints: map[string]any{"error": "dependency_cycle"},
		}
	}

	if len(chain) > 0 && chain[0] != stageToCheck {
		labels := make([]string, 0, len(chain))
		for _, s := range chain {
			labels = append(labels, string(s))
		}
		return DecisionResult{
			NextStage: StagePtr(chain[0]),
			Direction: DirectionBackwardCompletion,
			Explanation: &Explanation{
				Summary: "Missing dependencies detected.",
				Details: []string{"Missing chain: " + joinStages(chain)},
			},
			UserMessage: "Please complete prerequisite stages first.",
			Constraints: map[string]any{"missing_chain": labels},
		}
	}

	if requestedAction == "" {
		requestedAction = "none"
	}
	return DecisionResult{
		NextStage: StagePtr(stageToCheck),
		Direction: DirectionForward,
		Explanation: &Explanation{
			Summary: "Ready to proceed.",
			Details: []string{"Requested action: " + requestedAction},
		},
		UserMessage: "Ready to proceed.",
	}
}

// DryRunNextSteps previews the decision for the current stage without
// mutating anything.
func DryRunNextSteps(t *Task) DecisionResult {
	if t.CurrentStage == "" {
		return DecisionResult{
			Direction:   DirectionStay,
			Explanation: &Explanation{Summary: "No current stage available.", Details: []string{}},
			UserMessage: "No current stage available.",
		}
	}

	chain, err := MissingChain(t.CurrentStage, t.EntryPoint, t.CompletedStages)
	if err != nil {
		return DecisionResult{
			Direction:   DirectionError,
			Explanation: &Explanation{Summary: err.Error(), Details: []string{}},
			UserMessage: "Dependency cycle detected. Please review the dependency table.",
			Constraints: map[string]any{"error": "dependency_cycle"},
		}
	}
	if len(chain) > 0 && chain[0] != t.CurrentStage {
		labels := make([]string, 0, len(chain))
		for _, s := range chain {
			labels = append(labels, string(s))
		}
		return DecisionResult{
			NextStage: StagePtr(chain[0]),
			Direction: DirectionBackwardCompletion,
			Explanation: &Explanation{
				Summary: "Missing dependency chain.",
				Details: []string{joinStages(chain)},
			},
			UserMessage: "Please complete prerequisite stages first.",
			Constraints: map[string]any{"missing_chain": labels},
		}
	}

	return DecisionResult{
		NextStage:   StagePtr(t.CurrentStage),
		Direction:   DirectionForward,
		Explanation: &Explanation{Summary: "Ready to proceed.", Details: []string{}},
		UserMessage: "Ready to proceed.",
	}
}

func joinStages(stages []StageType) string {
	out := ""
	for i, s := range stages {
		if i > 0 {
			out += ", "
		}
		out += string(s)
	}
	return out
}
