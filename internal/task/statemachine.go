package task

// MaxIterations is the regeneration ceiling per stage before the engine
// forces an exit recommendation.
const MaxIterations = 10

// AllowedActions maps each stage status to the user actions it accepts.
var AllowedActions = map[StageStatus]map[ActionType]bool{
	StageInitialized: {
		ActionRegenerateCandidates: true,
		ActionProvideFeedback:      true,
		ActionSelectCandidate:      true,
		ActionFinalizeStage:        true,
		ActionResolveConflict:      true,
	},
	StageGenerating: {
		ActionRegenerateCandidates: true,
		ActionProvideFeedback:      true,
	},
	StagePendingChoice: {
		ActionSelectCandidate:      true,
		ActionRegenerateCandidates: true,
		ActionProvideFeedback:      true,
		ActionFinalizeStage:        true,
		ActionResolveConflict:      true,
	},
	StageFeedbackLoop: {
		ActionRegenerateCandidates: true,
		ActionProvideFeedback:      true,
		ActionSelectCandidate:      true,
		ActionFinalizeStage:        true,
		ActionResolveConflict:      true,
	},
	StageModifying: {
		ActionRegenerateCandidates: true,
		ActionProvideFeedback:      true,
		ActionSelectCandidate:      true,
		ActionFinalizeStage:        true,
		ActionResolveConflict:      true,
	},
	StageFinalized: {
		ActionProvideFeedback:      true,
		ActionRegenerateCandidates: true,
	},
}

// CanApplyAction reports whether the action is legal in the given status.
func CanApplyAction(status StageStatus, action ActionType) bool {
	return AllowedActions[status][action]
}

// ShouldForceExit reports whether the iteration ceiling has been reached.
func ShouldForceExit(iterationCount int) bool {
	return iterationCount >= MaxIterations
}
