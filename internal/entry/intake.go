package entry

import (
	"fmt"
	"strconv"
	"strings"
)

// Intake is the structured course setup gathered before a task exists.
type Intake struct {
	KnowledgePoint string `json:"knowledge_point"`
	LessonCount    int    `json:"lesson_count"`
	AgeGroup       string `json:"age_group"`
	ClassroomType  string `json:"classroom_type"`
}

const minutesPerLesson = 40

var classroomModes = map[string]string{
	"常规教室":   "normal",
	"机房":     "computer_lab",
	"通识课实验室": "general_lab",
}

// NormalizeIntake maps a raw intake payload into a structured Intake.
// Numeric fields tolerate both JSON numbers and strings.
func NormalizeIntake(raw map[string]any) Intake {
	intake := Intake{LessonCount: 1}
	if v, ok := raw["knowledge_point"].(string); ok {
		intake.KnowledgePoint = strings.TrimSpace(v)
	}
	if n := intFrom(raw["lesson_count"]); n > 0 {
		intake.LessonCount = n
	}
	if v, ok := raw["age_group"].(string); ok {
		intake.AgeGroup = strings.TrimSpace(v)
	}
	if v, ok := raw["classroom_type"].(string); ok {
		intake.ClassroomType = strings.TrimSpace(v)
	}
	return intake
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err == nil {
			return parsed
		}
	}
	return 0
}

// ClassroomMode translates the intake classroom label into the mode used by
// generators. Unknown labels pass through unchanged.
func (i Intake) ClassroomMode() string {
	if mode, ok := classroomModes[i.ClassroomType]; ok {
		return mode
	}
	if i.ClassroomType == "" {
		return "normal"
	}
	return i.ClassroomType
}

// DurationMinutes is the total lesson time, 40 minutes per lesson.
func (i Intake) DurationMinutes() int {
	if i.LessonCount <= 0 {
		return minutesPerLesson
	}
	return i.LessonCount * minutesPerLesson
}

// Constraints projects the intake into generation constraints.
func (i Intake) Constraints() map[string]any {
	out := map[string]any{
		"duration":       i.DurationMinutes(),
		"classroom_mode": i.ClassroomMode(),
	}
	if i.KnowledgePoint != "" {
		out["topic"] = i.KnowledgePoint
	}
	if i.AgeGroup != "" {
		out["grade"] = i.AgeGroup
	}
	return out
}

// Summary is a one-line recap used in conversation prompts.
func (i Intake) Summary() string {
	parts := []string{}
	if i.KnowledgePoint != "" {
		parts = append(parts, "知识点: "+i.KnowledgePoint)
	}
	parts = append(parts, fmt.Sprintf("课时: %d (约%d分钟)", i.LessonCount, i.DurationMinutes()))
	if i.AgeGroup != "" {
		parts = append(parts, "学段: "+i.AgeGroup)
	}
	if i.ClassroomType != "" {
		parts = append(parts, "教室: "+i.ClassroomType)
	}
	return strings.Join(parts, "，")
}
