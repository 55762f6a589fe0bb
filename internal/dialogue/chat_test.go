package dialogue

import (
	"context"
	"strings"
	"testing"

	"courseloop/internal/entry"
	"courseloop/internal/task"
)

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

func intakePayload() map[string]any {
	return map[string]any{
		"knowledge_point": "数据分类",
		"lesson_count":    float64(2),
		"age_group":       "初中",
		"classroom_type":  "机房",
	}
}

func TestChatFirstTurnAsksForEntry(t *testing.T) {
	chat := &Chat{LM: &stubCompleter{responses: []string{"{}"}}}
	store := NewSessionStore()
	session := store.Get("")

	res, err := chat.HandleMessage(context.Background(), session, "", intakePayload())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAsk {
		t.Errorf("status = %s", res.Status)
	}
	if !session.AwaitingEntry || !session.EntryAsked {
		t.Error("session should be awaiting the entry choice")
	}
	if res.Reply == "" {
		t.Error("intro reply is empty")
	}
}

func TestChatStrongToolSignalCollectsSeed(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"tool_name": "orange", "user_intent": "聚类分析"}`,
	}}
	chat := &Chat{LM: lm, Threshold: 0.65}
	session := NewSessionStore().Get("")
	if _, err := chat.HandleMessage(context.Background(), session, "", intakePayload()); err != nil {
		t.Fatal(err)
	}

	res, err := chat.HandleMessage(context.Background(), session, "我想从工具开始，平时用orange", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusReady {
		t.Fatalf("status = %s, reply = %q", res.Status, res.Reply)
	}
	if res.EntryPoint != task.EntryToolSeed {
		t.Errorf("entry = %s", res.EntryPoint)
	}
	if res.ToolSeed == nil || res.ToolSeed.ToolName != "orange" {
		t.Errorf("tool seed = %+v", res.ToolSeed)
	}
	if res.Reply != entry.ToolSeedReadyMessage {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestChatIncompleteSeedAsksOnce(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{}`,
		`{}`,
	}}
	chat := &Chat{LM: lm, Threshold: 0.65}
	session := NewSessionStore().Get("")
	if _, err := chat.HandleMessage(context.Background(), session, "", intakePayload()); err != nil {
		t.Fatal(err)
	}

	res, err := chat.HandleMessage(context.Background(), session, "从工具开始", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAsk || res.Reply != askToolSeedDetails {
		t.Fatalf("first turn should ask for details, got %s %q", res.Status, res.Reply)
	}

	res, err = chat.HandleMessage(context.Background(), session, "就是想做个项目", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusReady {
		t.Fatalf("second turn should finalize with defaults, got %s %q", res.Status, res.Reply)
	}
	if res.ToolSeed.ToolName != "通用工具" {
		t.Errorf("tool name = %q", res.ToolSeed.ToolName)
	}
	if res.ToolSeed.UserIntent != "数据分类" {
		t.Errorf("user intent = %q", res.ToolSeed.UserIntent)
	}
}

func TestChatScenarioSignalFinishesInOneTurn(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"scenario": "学生调查校园食堂每日厨余并设计减量方案"}`,
	}}
	chat := &Chat{LM: lm, Threshold: 0.65}
	session := NewSessionStore().Get("")
	if _, err := chat.HandleMessage(context.Background(), session, "", intakePayload()); err != nil {
		t.Fatal(err)
	}

	res, err := chat.HandleMessage(context.Background(), session, "从场景开始", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusReady || res.EntryPoint != task.EntryScenario {
		t.Fatalf("scenario signal should resolve in one turn, got %s %q", res.Status, res.Reply)
	}
	if res.EntryData["scenario"] != "学生调查校园食堂每日厨余并设计减量方案" {
		t.Errorf("entry data = %v", res.EntryData)
	}
	if res.Decision == nil || res.Decision.ChosenEntryPoint != task.EntryScenario {
		t.Errorf("decision = %+v", res.Decision)
	}
	if res.Decision != nil && res.Decision.Confidence < 0.95 {
		t.Errorf("confidence = %v", res.Decision.Confidence)
	}
	if res.Reply != entry.ScenarioReadyMessage {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestChatNoIntakeSkipsIntro(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"scenario": "学生调查社区超市塑料袋使用量并提出减量建议"}`,
	}}
	chat := &Chat{LM: lm, Threshold: 0.65}
	session := NewSessionStore().Get("")

	// Without an intake form the first message is already an entry answer.
	res, err := chat.HandleMessage(context.Background(), session, "从场景开始", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusReady || res.EntryPoint != task.EntryScenario {
		t.Fatalf("got %s %q", res.Status, res.Reply)
	}
}

func TestChatLowConfidenceClarifiesBeforeDivergence(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"entry_point": "scenario", "confidence": 0.3, "reason": "unclear"}`,
	}}
	chat := &Chat{LM: lm, Threshold: 0.65}
	session := NewSessionStore().Get("")
	if _, err := chat.HandleMessage(context.Background(), session, "", intakePayload()); err != nil {
		t.Fatal(err)
	}

	// The message diverges from the intake topic, but low confidence must
	// win: clarify first, only then worry about direction changes.
	res, err := chat.HandleMessage(context.Background(), session, "天文观测", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAsk {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Reply == askDivergence {
		t.Fatal("low-confidence turn should clarify, not question the direction")
	}
	if res.Reply != ClarifyVague {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestChatConfidentDivergenceAsksToConfirm(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"entry_point": "scenario", "confidence": 0.8, "reason": "clear"}`,
	}}
	chat := &Chat{LM: lm, Threshold: 0.65}
	session := NewSessionStore().Get("")
	if _, err := chat.HandleMessage(context.Background(), session, "", intakePayload()); err != nil {
		t.Fatal(err)
	}

	res, err := chat.HandleMessage(context.Background(), session, "想换成天文观测主题的内容", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAsk || res.Reply != askDivergence {
		t.Errorf("got %s %q, want divergence confirmation", res.Status, res.Reply)
	}
}

func TestChatIntroUsesModelReply(t *testing.T) {
	lm := &stubCompleter{responses: []string{"已了解你的两课时数据分类课，先选一个入口吧。"}}
	chat := &Chat{LM: lm}
	session := NewSessionStore().Get("")

	res, err := chat.HandleMessage(context.Background(), session, "", intakePayload())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAsk {
		t.Fatalf("status = %s", res.Status)
	}
	if lm.calls == 0 {
		t.Error("intro should run through the model")
	}
	if !strings.Contains(res.Reply, "已了解你的两课时数据分类课") {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestChatUnrealisticScenarioReasks(t *testing.T) {
	chat := &Chat{LM: &stubCompleter{responses: []string{"{}"}}}
	session := NewSessionStore().Get("")
	session.IntakeReceived = true
	session.AwaitingScenario = true

	res, err := chat.HandleMessage(context.Background(), session, "学生穿越到魔法世界学习分类", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusAsk || res.Reply != entry.AskRealisticScenario {
		t.Errorf("got %s %q", res.Status, res.Reply)
	}
	if !session.AwaitingScenario {
		t.Error("session should keep awaiting a scenario")
	}
}

func TestChatLongFreeMessageBecomesScenario(t *testing.T) {
	chat := &Chat{LM: &stubCompleter{responses: []string{"{}"}}}
	session := NewSessionStore().Get("")
	session.IntakeReceived = true
	session.AwaitingEntry = true

	res, err := chat.HandleMessage(context.Background(), session, "学生调查校园里每天产生的垃圾并记录一周数据", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusReady || res.EntryPoint != task.EntryScenario {
		t.Errorf("got %s %s", res.Status, res.EntryPoint)
	}
}

func TestChatIntentChange(t *testing.T) {
	chat := &Chat{LM: &stubCompleter{responses: []string{"{}"}}}
	session := NewSessionStore().Get("")
	session.IntakeReceived = true
	session.AwaitingEntry = true

	res, err := chat.HandleMessage(context.Background(), session, "修改意图：让学生理解数据背后的决策", nil)
	if err != nil {
		t.Fatal(err)
	}
	if session.CreativeIntent != "让学生理解数据背后的决策" {
		t.Errorf("creative intent = %q", session.CreativeIntent)
	}
	if !strings.HasPrefix(res.Reply, intentUpdatedPrefix) {
		t.Errorf("reply = %q", res.Reply)
	}
}

func TestDivergence(t *testing.T) {
	if d := Divergence("垃圾分类数据记录", "垃圾分类数据记录"); d != 0 {
		t.Errorf("identical divergence = %v", d)
	}
	if d := Divergence("垃圾分类", "天文观测"); d != 1 {
		t.Errorf("disjoint divergence = %v", d)
	}
	if d := Divergence("", "anything"); d != 0 {
		t.Errorf("empty base divergence = %v", d)
	}
}

func TestClarify(t *testing.T) {
	if got := Clarify(""); got != ClarifyEmpty {
		t.Errorf("empty intent reply = %q", got)
	}
	if got := Clarify("太短"); got != ClarifyVague {
		t.Errorf("short intent reply = %q", got)
	}
	if got := Clarify("让学生理解数据分类的真实应用"); got != "" {
		t.Errorf("usable intent should pass, got %q", got)
	}
}

func TestRouteGeneratingTrigger(t *testing.T) {
	tk := task.New()
	tk.DialogueState = task.DialogueExploring
	if got := Route(tk, "确认选B"); got != task.DialogueGenerating {
		t.Errorf("state = %s", got)
	}
}

func TestRouteShiftToExploring(t *testing.T) {
	tk := task.New()
	tk.DialogueState = task.DialogueGenerating
	tk.Messages = []task.Message{
		{Role: "user", Text: "垃圾分类方案设计"},
		{Role: "assistant", Text: "已生成三个候选场景"},
	}
	if got := Route(tk, "换个思路聊聊天文观测吧"); got != task.DialogueExploring {
		t.Errorf("state = %s", got)
	}
}

func TestHandleTaskMessageCascadeConfirm(t *testing.T) {
	chat := &Chat{LM: &stubCompleter{responses: []string{"{}"}}}
	tk := task.New()
	tk.PendingCascade = map[string]any{"stage": "driving_question"}

	res, err := chat.HandleTaskMessage(context.Background(), tk, "好的，需要")
	if err != nil {
		t.Fatal(err)
	}
	if res.CascadeAction != "confirmed" {
		t.Errorf("cascade action = %q", res.CascadeAction)
	}
	if tk.PendingCascade != nil {
		t.Error("pending cascade should clear")
	}
}

func TestHandleTaskMessageCascadeNegation(t *testing.T) {
	chat := &Chat{LM: &stubCompleter{responses: []string{"{}"}}}
	tk := task.New()
	tk.PendingCascade = map[string]any{"stage": "driving_question"}

	res, err := chat.HandleTaskMessage(context.Background(), tk, "不需要")
	if err != nil {
		t.Fatal(err)
	}
	if res.CascadeAction != "skipped" {
		t.Errorf("cascade action = %q, want skipped", res.CascadeAction)
	}
}

func TestHandleTaskMessageExploring(t *testing.T) {
	lm := &stubCompleter{responses: []string{
		`{"intent": "做一个面向社区的课程", "key_constraints": ["户外"], "anchor_concepts": ["社区"], "needs_confirmation": false, "question": "", "summary": "面向社区的项目课程"}`,
	}}
	chat := &Chat{LM: lm}
	tk := task.New()
	tk.DialogueState = task.DialogueGenerating
	tk.Messages = []task.Message{{Role: "user", Text: "垃圾分类数据记录"}}

	res, err := chat.HandleTaskMessage(context.Background(), tk, "其实我更想带学生走进社区做公益调研项目课程")
	if err != nil {
		t.Fatal(err)
	}
	if res.State != task.DialogueExploring {
		t.Fatalf("state = %s", res.State)
	}
	if res.Reply != "面向社区的项目课程" {
		t.Errorf("reply = %q", res.Reply)
	}
	if len(tk.CreativeContext.KeyConstraints) != 1 || tk.CreativeContext.KeyConstraints[0] != "户外" {
		t.Errorf("key constraints = %v", tk.CreativeContext.KeyConstraints)
	}
	if len(tk.WorkingMemory.Notes) != 1 || !strings.HasPrefix(tk.WorkingMemory.Notes[0], "intent: ") {
		t.Errorf("notes = %v", tk.WorkingMemory.Notes)
	}
}

func TestWorkingMemoryNotesCapped(t *testing.T) {
	tk := task.New()
	for i := 0; i < 15; i++ {
		appendNote(tk, "intent: note")
	}
	if len(tk.WorkingMemory.Notes) != maxWorkingMemoryNotes {
		t.Errorf("notes length = %d", len(tk.WorkingMemory.Notes))
	}
}
