package task

import "testing"

func newTestTask(entry EntryPoint, current StageType) *Task {
	tk := New()
	tk.EntryPoint = entry
	tk.CurrentStage = current
	return tk
}

func TestMakeDecisionForwardWhenReady(t *testing.T) {
	tk := newTestTask(EntryScenario, StageScenario)
	decision := MakeDecision(tk, "", "regenerate_candidates")
	if decision.Direction != DirectionForward {
		t.Fatalf("direction = %q, want forward", decision.Direction)
	}
	if decision.NextStage == nil || *decision.NextStage != StageScenario {
		t.Fatalf("next_stage = %v, want scenario", decision.NextStage)
	}
	if decision.UserMessage != "Ready to proceed." {
		t.Errorf("user_message = %q", decision.UserMessage)
	}
}

func TestMakeDecisionBackwardCompletion(t *testing.T) {
	tk := newTestTask(EntryScenario, StageActivity)
	decision := MakeDecision(tk, StageActivity, "")
	if decision.Direction != DirectionBackwardCompletion {
		t.Fatalf("direction = %q, want backward_completion", decision.Direction)
	}
	if decision.NextStage == nil || *decision.NextStage != StageScenario {
		t.Fatalf("next_stage = %v, want scenario (head of missing chain)", decision.NextStage)
	}
	chain, ok := decision.Constraints["missing_chain"].([]string)
	if !ok {
		t.Fatalf("missing_chain constraint absent: %v", decision.Constraints)
	}
	want := []string{"scenario", "driving_question", "question_chain", "activity"}
	if len(chain) != len(want) {
		t.Fatalf("missing_chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("missing_chain = %v, want %v", chain, want)
		}
	}
	if decision.UserMessage != "Please complete prerequisite stages first." {
		t.Errorf("user_message = %q", decision.UserMessage)
	}
}

func TestMakeDecisionCompletedTask(t *testing.T) {
	tk := newTestTask(EntryScenario, StageExperiment)
	tk.Status = StatusCompleted
	decision := MakeDecision(tk, "", "")
	if decision.Direction != DirectionStay {
		t.Fatalf("direction = %q, want stay", decision.Direction)
	}
	if decision.UserMessage != "Task is already completed." {
		t.Errorf("user_message = %q", decision.UserMessage)
	}
}

func TestMakeDecisionNoRemainingStages(t *testing.T) {
	tk := newTestTask(EntryScenario, "")
	tk.CompletedStages = append([]StageType{}, StageSequence...)
	decision := MakeDecision(tk, "", "")
	if decision.Direction != DirectionStay {
		t.Fatalf("direction = %q, want stay", decision.Direction)
	}
	if decision.UserMessage != "No remaining stages." {
		t.Errorf("user_message = %q", decision.UserMessage)
	}
}

func TestDryRunNextStepsReportsChain(t *testing.T) {
	tk := newTestTask(EntryToolSeed, StageActivity)
	tk.CompletedStages = []StageType{StageToolSeed}
	decision := DryRunNextSteps(tk)
	if decision.Direction != DirectionBackwardCompletion {
		t.Fatalf("direction = %q, want backward_completion", decision.Direction)
	}
	if decision.NextStage == nil || *decision.NextStage != StageScenario {
		t.Fatalf("next_stage = %v, want scenario", decision.NextStage)
	}
}

func TestDryRunNextStepsForward(t *testing.T) {
	tk := newTestTask(EntryScenario, StageScenario)
	decision := DryRunNextSteps(tk)
	if decision.Direction != DirectionForward {
		t.Fatalf("direction = %q, want forward", decision.Direction)
	}
}
