package generate

import (
	"context"
	"strings"
	"testing"

	"courseloop/internal/task"
)

// stubCompleter returns canned responses in order, repeating the last one.
type stubCompleter struct {
	responses []string
	calls     int
}

func (s *stubCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return s.responses[idx], nil
}

func toolSeedTask() *task.Task {
	tk := task.New()
	tk.EntryPoint = task.EntryToolSeed
	tk.CurrentStage = task.StageScenario
	tk.ToolSeed = &task.ToolSeed{
		ToolName:   "orange",
		UserIntent: "数据分类",
		Constraints: map[string]any{
			"topic":    "垃圾分类",
			"grade":    "初中",
			"duration": 80,
		},
	}
	return tk
}

func TestScenarioGeneratorProducesThreeLabeled(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"scenario": "学生调查校园垃圾分类情况并记录一周数据"},
			{"scenario": "学生走访社区超市统计塑料袋每日使用量"},
			{"scenario": "学生在食堂称量每餐厨余并寻找减少浪费的方法"}
		]}`,
	}}
	g := &ScenarioGenerator{LM: lm}

	candidates, err := g.Generate(context.Background(), toolSeedTask(), 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(candidates))
	}
	for i, want := range []string{"A", "B", "C"} {
		if candidates[i].ID != want {
			t.Errorf("candidate %d id = %q, want %q", i, candidates[i].ID, want)
		}
		if candidates[i].Status != task.CandidateGenerated {
			t.Errorf("candidate %d status = %q", i, candidates[i].Status)
		}
		if _, ok := candidates[i].Content["scenario"]; !ok {
			t.Errorf("candidate %d missing scenario content", i)
		}
		if len(candidates[i].DerivedFrom) == 0 || candidates[i].DerivedFrom[0] != "tool_seed" {
			t.Errorf("candidate %d derived_from = %v", i, candidates[i].DerivedFrom)
		}
	}
}

func TestScenarioGeneratorProvidedScenarioIsCandidateA(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"scenario": "学生走访社区超市统计塑料袋每日使用量"},
			{"scenario": "学生在食堂称量每餐厨余并寻找减少浪费的方法"}
		]}`,
	}}
	tk := task.New()
	tk.EntryPoint = task.EntryScenario
	tk.CurrentStage = task.StageScenario
	tk.EntryData = map[string]any{"scenario": "学生记录班级一周的垃圾产生量并设计分类方案"}

	g := &ScenarioGenerator{LM: lm}
	candidates, err := g.Generate(context.Background(), tk, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(candidates))
	}
	first := candidates[0]
	if first.ID != "A" {
		t.Errorf("provided scenario id = %q, want A", first.ID)
	}
	if len(first.DerivedFrom) != 1 || first.DerivedFrom[0] != "entry_point" {
		t.Errorf("provided scenario derived_from = %v", first.DerivedFrom)
	}
	if first.Content["scenario"] != "学生记录班级一周的垃圾产生量并设计分类方案" {
		t.Errorf("provided scenario content = %v", first.Content)
	}
}

func TestScenarioGeneratorRejectsUnrealistic(t *testing.T) {
	// All completions return the same magic-flavored scenario, so the retry
	// budget runs out.
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"scenario": "学生穿越到魔法世界学习分类咒语"},
			{"scenario": "学生走访社区超市统计塑料袋每日使用量"},
			{"scenario": "学生在食堂称量每餐厨余并寻找减少浪费的方法"}
		]}`,
		`{"options": [{"scenario": "学生穿越到魔法世界学习分类咒语"}]}`,
	}}
	g := &ScenarioGenerator{LM: lm}

	_, err := g.Generate(context.Background(), toolSeedTask(), 3, "")
	if err == nil {
		t.Fatal("expected error for unrealistic candidates")
	}
	if err.Error() != "Duplicate or unrealistic candidates detected for scenario" {
		t.Errorf("err = %q", err)
	}
}

func TestDrivingQuestionGeneratorPadsChain(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"driving_question": "如何让校园垃圾分类真正落地?", "question_chain": ["现状如何?", "障碍是什么?"]},
			{"driving_question": "怎样用数据说服同学参与分类?", "question_chain": ["收集什么数据?", "如何呈现?", "如何行动?"]},
			{"driving_question": "什么样的分类方案最适合我们学校?", "question_chain": []}
		]}`,
	}}
	tk := toolSeedTask()
	artifact := tk.Artifact(task.StageScenario)
	artifact.Candidates = []task.Candidate{{
		ID: "A", Status: task.CandidateSelected,
		Content: map[string]any{"scenario": "校园垃圾分类调查"},
	}}
	artifact.SelectedCandidateID = "A"

	g := &DrivingQuestionGenerator{LM: lm}
	candidates, err := g.Generate(context.Background(), tk, 3, "")
	if err != nil {
		t.Fatal(err)
	}
	for i, cand := range candidates {
		chain, ok := cand.Content["question_chain"].([]string)
		if !ok {
			t.Fatalf("candidate %d chain type %T", i, cand.Content["question_chain"])
		}
		if len(chain) != 3 {
			t.Errorf("candidate %d chain length = %d, want 3", i, len(chain))
		}
	}
	lastChain := candidates[2].Content["question_chain"].([]string)
	if lastChain[0] != "TBD: add an investigable sub-question." {
		t.Errorf("empty chain should be padded, got %v", lastChain)
	}
}

func TestQuestionChainGeneratorParsesStringChain(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"question_chain": "1. 什么是垃圾分类?\n2. 如何统计数据?\n3. 怎样展示结果?"},
			{"question_chain": ["回收物有哪些?", "投放错误的代价?", "怎样设计提示牌?"]},
			{"question_chain": ["厨余如何处理?", "堆肥需要什么条件?", "如何验证效果?"]}
		]}`,
	}}
	g := &QuestionChainGenerator{LM: lm}
	candidates, err := g.Generate(context.Background(), toolSeedTask(), 3, "")
	if err != nil {
		t.Fatal(err)
	}
	chain := candidates[0].Content["question_chain"].([]string)
	if len(chain) != 3 || chain[0] != "什么是垃圾分类?" {
		t.Errorf("string chain should be parsed, got %v", chain)
	}
	if candidates[0].Title != "什么是垃圾分类?" {
		t.Errorf("title = %q", candidates[0].Title)
	}
}

func TestExperimentGeneratorRejectsShortOptions(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"experiment": "太短"},
			{"experiment": "学生分组称量并记录一周内食堂每日厨余重量，绘制折线图并分析高峰原因"},
			{"experiment": "学生在教室设置双桶对照实验，比较有无提示牌时的分类正确率"}
		]}`,
		`{"options": [{"experiment": "短"}]}`,
	}}
	g := &ExperimentGenerator{LM: lm}
	_, err := g.Generate(context.Background(), toolSeedTask(), 3, "")
	if err == nil {
		t.Fatal("expected error when short options exhaust retries")
	}
	if !strings.Contains(err.Error(), "experiment") {
		t.Errorf("err = %q", err)
	}
}

func TestExperimentDerivedFromToolSeedEntry(t *testing.T) {
	g := &ExperimentGenerator{}
	tk := toolSeedTask()
	derived := g.derivedFrom(tk, "driving question text")
	want := []string{"activity", "driving_question", "tool_seed"}
	if len(derived) != len(want) {
		t.Fatalf("derived = %v", derived)
	}
	for i := range want {
		if derived[i] != want[i] {
			t.Errorf("derived[%d] = %q, want %q", i, derived[i], want[i])
		}
	}
}

func TestActivityGeneratorDerivedFrom(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"options": [
			{"activity": "活动一：围绕子问题1 开展校园垃圾调查，子问题2 数据分析，子问题3 成果展示"},
			{"activity": "活动二：学生设计分类提示牌并在班级试点一周，记录正确率变化"},
			{"activity": "活动三：分组走访食堂与保洁员，访谈记录并提出改进提案"}
		]}`,
	}}
	g := &ActivityGenerator{LM: lm}
	candidates, err := g.Generate(context.Background(), toolSeedTask(), 3, "")
	if err != nil {
		t.Fatal(err)
	}
	derived := candidates[0].DerivedFrom
	if len(derived) != 2 || derived[0] != "question_chain" || derived[1] != "tool_seed" {
		t.Errorf("derived_from = %v", derived)
	}
}
