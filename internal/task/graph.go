package task

import "errors"

// ErrDependencyCycle is returned when the static dependency table contains
// a cycle reachable from the requested stage.
var ErrDependencyCycle = errors.New("dependency cycle detected")

// StageDependencies are the static prerequisites of each stage.
var StageDependencies = map[StageType][]StageType{
	StageDrivingQuestion: {StageScenario},
	StageQuestionChain:   {StageDrivingQuestion},
	StageActivity:        {StageQuestionChain},
	StageExperiment:      {StageActivity},
}

// ToolSeedDependencies are prepended for tool-first tasks.
var ToolSeedDependencies = map[StageType][]StageType{
	StageScenario: {StageToolSeed},
	StageActivity: {StageToolSeed},
}

// StageSequence is the forward order of the design stages.
var StageSequence = []StageType{
	StageScenario,
	StageDrivingQuestion,
	StageQuestionChain,
	StageActivity,
	StageExperiment,
}

// RequiredDeps returns the prerequisites of a stage for the given entry
// point, deduplicated preserving order, tool-seed deps first.
func RequiredDeps(stage StageType, entry EntryPoint) []StageType {
	var deps []StageType
	if entry == EntryToolSeed {
		deps = append(deps, ToolSeedDependencies[stage]...)
	}
	deps = append(deps, StageDependencies[stage]...)

	seen := make(map[StageType]bool, len(deps))
	ordered := make([]StageType, 0, len(deps))
	for _, d := range deps {
		if !seen[d] {
			ordered = append(ordered, d)
			seen[d] = true
		}
	}
	return ordered
}

// MissingDeps returns the direct prerequisites not yet completed.
func MissingDeps(stage StageType, entry EntryPoint, completed []StageType) []StageType {
	done := make(map[StageType]bool, len(completed))
	for _, s := range completed {
		done[s] = true
	}
	var missing []StageType
	for _, dep := range RequiredDeps(stage, entry) {
		if !done[dep] {
			missing = append(missing, dep)
		}
	}
	return missing
}

// MissingChain walks the dependency graph depth-first from the target stage
// and returns the incomplete stages in the order they must be completed,
// target last. Returns ErrDependencyCycle on a cycle.
func MissingChain(target StageType, entry EntryPoint, completed []StageType) ([]StageType, error) {
	done := make(map[StageType]bool, len(completed))
	for _, s := range completed {
		done[s] = true
	}

	var chain []StageType
	inChain := make(map[StageType]bool)
	visited := make(map[StageType]bool)
	visiting := make(map[StageType]bool)

	var visit func(stage StageType) error
	visit = func(stage StageType) error {
		if visiting[stage] {
			return ErrDependencyCycle
		}
		if visited[stage] {
			return nil
		}
		visiting[stage] = true
		visited[stage] = true
		for _, dep := range RequiredDeps(stage, entry) {
			if !done[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		delete(visiting, stage)
		if !done[stage] && !inChain[stage] {
			chain = append(chain, stage)
			inChain[stage] = true
		}
		return nil
	}

	if err := visit(target); err != nil {
		return nil, err
	}
	return chain, nil
}

// NextRequiredStage returns the first stage of the sequence not yet
// completed, or "" when the sequence is exhausted.
func NextRequiredStage(completed []StageType) StageType {
	done := make(map[StageType]bool, len(completed))
	for _, s := range completed {
		done[s] = true
	}
	for _, stage := range StageSequence {
		if !done[stage] {
			return stage
		}
	}
	return ""
}
