package dialogue

import (
	"context"
	"regexp"
	"strings"

	"courseloop/internal/entry"
	"courseloop/internal/models"
	"courseloop/internal/prompts"
	"courseloop/internal/task"
	"courseloop/internal/validate"
)

// Canned chat strings.
const (
	fallbackEntryQuestion = "你希望从哪里开始？场景 / 工具 / 实验 / 活动 / 驱动问题"
	askToolSeedDetails    = "请补充你想使用的工具和希望学生达成的目标。"
	askDivergence         = "看起来你想调整方向，是否需要修改意图后再选择入口？"
	intentUpdatedPrefix   = "已更新意图："
	cascadeConfirmedReply = "好的，已确认联动调整。"
	cascadeSkippedReply   = "好的，保持现有内容不变。"
	intentRecordedPrefix  = "已记录意图调整："
)

const entryDivergenceThreshold = 0.6

var intentChangeRe = regexp.MustCompile(`(修改意图|调整意图|变更意图|意图改为|意图改成)[:：]?\s*(.*)`)

var yesTerms = []string{"是", "好", "确认", "确定", "可以", "同意", "需要"}
var noTerms = []string{"否", "不", "跳过", "不用", "不需要"}

// ChatStatus tells the caller whether the conversation needs another turn
// or is ready to become a task.
type ChatStatus string

const (
	StatusAsk   ChatStatus = "ask"
	StatusReady ChatStatus = "ready"
)

// ChatResult is the outcome of one pre-task chat turn. When Status is
// StatusReady the entry point and entry data are set and a task can be
// created.
type ChatResult struct {
	Status     ChatStatus
	Reply      string
	EntryPoint task.EntryPoint
	EntryData  map[string]any
	ToolSeed   *task.ToolSeed
	Decision   *task.EntryDecision
}

// Chat handles the pre-task conversation: intake intro, entry point
// resolution, and collection of either a scenario or a tool seed.
type Chat struct {
	LM        models.Completer
	Threshold float64
}

// HandleMessage advances a session by one user turn.
func (c *Chat) HandleMessage(ctx context.Context, session *ChatSession, message string, intake map[string]any) (ChatResult, error) {
	message = strings.TrimSpace(message)

	if !session.IntakeReceived {
		session.Intake = entry.NormalizeIntake(intake)
		session.IntakeReceived = true
		// Only an intake form warrants an intro turn. Without one the first
		// message already carries the user's answer, so it falls through to
		// entry resolution.
		if len(intake) > 0 {
			session.EntryAsked = true
			session.AwaitingEntry = true
			return ChatResult{Status: StatusAsk, Reply: c.introReply(ctx, session)}, nil
		}
	}

	if m := intentChangeRe.FindStringSubmatch(message); m != nil {
		session.CreativeIntent = strings.TrimSpace(m[2])
		if q := Clarify(session.CreativeIntent); q != "" {
			return ChatResult{Status: StatusAsk, Reply: q}, nil
		}
		return ChatResult{
			Status: StatusAsk,
			Reply:  intentUpdatedPrefix + session.CreativeIntent + "。" + fallbackEntryQuestion,
		}, nil
	}

	switch {
	case session.AwaitingScenario:
		return c.handleScenarioTurn(session, message)
	case session.AwaitingToolSeed:
		return c.handleToolSeedTurn(ctx, session, message)
	default:
		return c.handleEntryTurn(ctx, session, message)
	}
}

// introReply completes the intake intro and entry question through the
// model, falling back to canned text when no model answers.
func (c *Chat) introReply(ctx context.Context, session *ChatSession) string {
	intro := fallbackIntakeIntro(session.Intake)
	if reply := c.completePrompt(ctx, "intake_intro", map[string]any{
		"knowledge_point": session.Intake.KnowledgePoint,
		"lesson_count":    session.Intake.LessonCount,
		"age_group":       session.Intake.AgeGroup,
		"classroom_type":  session.Intake.ClassroomType,
	}); reply != "" {
		intro = reply
	}
	question := fallbackEntryQuestion
	if reply := c.completePrompt(ctx, "entry_question", nil); reply != "" {
		question = reply
	}
	return intro + "\n" + question
}

// completePrompt renders a named prompt and runs it through the model.
// Returns "" on any failure so callers keep their canned fallback.
func (c *Chat) completePrompt(ctx context.Context, name string, data map[string]any) string {
	if c.LM == nil {
		return ""
	}
	tmpl, err := prompts.Load(name)
	if err != nil {
		return ""
	}
	prompt, err := tmpl.Render(data)
	if err != nil {
		return ""
	}
	reply, err := c.LM.Complete(ctx, "", prompt)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(reply)
}

func fallbackIntakeIntro(intake entry.Intake) string {
	if intake.KnowledgePoint != "" {
		return "已了解课程背景，围绕「" + intake.KnowledgePoint + "」展开设计。"
	}
	return "已了解课程背景，下面开始设计。"
}

func (c *Chat) handleScenarioTurn(session *ChatSession, message string) (ChatResult, error) {
	if message == "" || !validate.IsRealistic(message) {
		return ChatResult{Status: StatusAsk, Reply: entry.AskRealisticScenario}, nil
	}
	session.AwaitingScenario = false
	return ChatResult{
		Status:     StatusReady,
		Reply:      entry.ScenarioReadyMessage,
		EntryPoint: task.EntryScenario,
		EntryData:  map[string]any{"scenario": message, "constraints": session.Intake.Constraints()},
		Decision:   session.LastDecision,
	}, nil
}

func (c *Chat) handleToolSeedTurn(ctx context.Context, session *ChatSession, message string) (ChatResult, error) {
	partial, err := entry.ExtractToolSeed(ctx, c.LM, session.Intake, session.ToolSeedPartial, message)
	if err == nil {
		session.ToolSeedPartial = partial
	}
	if !entry.ToolSeedComplete(session.ToolSeedPartial) && session.ToolSeedAskCount < entry.MaxToolSeedAsks {
		session.ToolSeedAskCount++
		return ChatResult{Status: StatusAsk, Reply: askToolSeedDetails}, nil
	}

	seed := entry.FinalizeToolSeed(session.Intake, session.ToolSeedPartial, message)
	session.AwaitingToolSeed = false
	return ChatResult{
		Status:     StatusReady,
		Reply:      entry.ToolSeedReadyMessage,
		EntryPoint: task.EntryToolSeed,
		EntryData:  map[string]any{"tool_seed": seed},
		ToolSeed:   seed,
		Decision:   session.LastDecision,
	}, nil
}

func (c *Chat) handleEntryTurn(ctx context.Context, session *ChatSession, message string) (ChatResult, error) {
	// A long message with no entry keywords reads as the scenario itself.
	if entry.LooksLikeScenario(message) {
		if !validate.IsRealistic(message) {
			session.AwaitingScenario = true
			return ChatResult{Status: StatusAsk, Reply: entry.AskRealisticScenario}, nil
		}
		return ChatResult{
			Status:     StatusReady,
			Reply:      entry.ScenarioReadyMessage,
			EntryPoint: task.EntryScenario,
			EntryData:  map[string]any{"scenario": message, "constraints": session.Intake.Constraints()},
		}, nil
	}

	decision, err := entry.Resolve(ctx, c.LM, message)
	if err != nil {
		return ChatResult{}, err
	}
	session.LastDecision = &decision

	// Low confidence asks for clarification before anything else.
	threshold := c.Threshold
	if threshold == 0 {
		threshold = entry.Threshold()
	}
	if decision.Confidence < threshold {
		if q := Clarify(message); q != "" {
			return ChatResult{Status: StatusAsk, Reply: q, Decision: &decision}, nil
		}
		return ChatResult{Status: StatusAsk, Reply: fallbackEntryQuestion, Decision: &decision}, nil
	}

	base := session.CreativeIntent
	if base == "" {
		base = session.Intake.KnowledgePoint
	}
	if base != "" &&
		decision.ModelReason != "strong_signal" &&
		len(decision.RulesHit) == 0 &&
		Divergence(base, message) >= entryDivergenceThreshold {
		return ChatResult{Status: StatusAsk, Reply: askDivergence, Decision: &decision}, nil
	}

	if decision.ChosenEntryPoint == task.EntryToolSeed {
		session.AwaitingToolSeed = true
		return c.handleToolSeedTurn(ctx, session, message)
	}

	// Scenario entry resolves in one turn: synthesize a starter scenario
	// from the intake and hand it straight to task creation.
	starter := entry.SynthesizeStarterScenario(ctx, c.LM, session.Intake)
	if !validate.IsRealistic(starter) {
		session.AwaitingScenario = true
		return ChatResult{Status: StatusAsk, Reply: entry.AskRealisticScenario, Decision: &decision}, nil
	}
	return ChatResult{
		Status:     StatusReady,
		Reply:      entry.ScenarioReadyMessage,
		EntryPoint: task.EntryScenario,
		EntryData:  map[string]any{"scenario": starter, "constraints": session.Intake.Constraints()},
		Decision:   &decision,
	}, nil
}

// TaskChatResult is the outcome of one in-task chat turn.
type TaskChatResult struct {
	Reply         string
	State         task.DialogueState
	CascadeAction string // "", "confirmed", "skipped"
	IntentChanged bool
}

// HandleTaskMessage advances a task-bound conversation by one turn. The
// task is mutated in place; the caller persists it.
func (c *Chat) HandleTaskMessage(ctx context.Context, t *task.Task, message string) (TaskChatResult, error) {
	message = strings.TrimSpace(message)

	if len(t.PendingCascade) > 0 {
		// Negations first: "不需要" must not match the bare "需要".
		if matchesAny(message, noTerms) {
			t.PendingCascade = nil
			return TaskChatResult{Reply: cascadeSkippedReply, State: t.DialogueState, CascadeAction: "skipped"}, nil
		}
		if matchesAny(message, yesTerms) {
			t.PendingCascade = nil
			return TaskChatResult{Reply: cascadeConfirmedReply, State: t.DialogueState, CascadeAction: "confirmed"}, nil
		}
	}

	if m := intentChangeRe.FindStringSubmatch(message); m != nil {
		after := strings.TrimSpace(m[2])
		if q := Clarify(after); q != "" {
			return TaskChatResult{Reply: q, State: t.DialogueState}, nil
		}
		return TaskChatResult{
			Reply:         intentRecordedPrefix + after,
			State:         t.DialogueState,
			IntentChanged: true,
		}, nil
	}

	state := Route(t, message)
	if state == task.DialogueExploring {
		result, err := Explore(ctx, c.LM, t, intakeSummary(t), message)
		if err != nil {
			return TaskChatResult{Reply: result.Reply, State: state}, nil
		}
		t.DialogueState = task.DialogueExploring
		return TaskChatResult{Reply: result.Reply, State: task.DialogueExploring}, nil
	}

	t.DialogueState = task.DialogueGenerating
	return TaskChatResult{Reply: "", State: task.DialogueGenerating}, nil
}

func matchesAny(message string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(message, term) {
			return true
		}
	}
	return false
}

func intakeSummary(t *task.Task) string {
	if t.ToolSeed == nil {
		return ""
	}
	parts := []string{}
	if t.ToolSeed.ToolName != "" {
		parts = append(parts, "工具: "+t.ToolSeed.ToolName)
	}
	if t.ToolSeed.UserIntent != "" {
		parts = append(parts, "目标: "+t.ToolSeed.UserIntent)
	}
	return strings.Join(parts, "，")
}
