package generation

import (
	"context"
	"time"

	"github.com/trezcool/somo/core/metrics"
)

// ContentGenerator is the AI model turning documents into course material.
// Lessons may cite the source document with `[[source:START-END]]` markers (rune offsets, END exclusive).
type ContentGenerator interface {
	AnalyzeDocument(ctx context.Context, req AnalysisRequest) (DocumentAnalysis, error)
	OutlineCourse(ctx context.Context, req OutlineRequest) (Outline, error)
	WriteLesson(ctx context.Context, req LessonRequest) (LessonDraft, error)
	WriteQuiz(ctx context.Context, req QuizRequest) (QuizDraft, error)
}

type (
	AnalysisRequest struct {
		Title    string
		MimeType string
		Source   string
	}

	DocumentAnalysis struct {
		Title       string   `json:"title"`
		Summary     string   `json:"summary"`
		KeyConcepts []string `json:"key_concepts"`
		Difficulty  string   `json:"difficulty"`
		Audience    string   `json:"audience"`
	}

	OutlineRequest struct {
		Analysis         DocumentAnalysis
		Source           string // empty when outlining from a topic only
		MaxModules       int
		LessonsPerModule int
		Difficulty       string
		Audience         string
	}

	Outline struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Modules     []OutlineModule `json:"modules"`
	}

	OutlineModule struct {
		Title       string          `json:"title"`
		Description string          `json:"description"`
		Lessons     []OutlineLesson `json:"lessons"`
	}

	// OutlineLesson optionally locates its material in the source with the [SourceStart, SourceEnd) rune range.
	OutlineLesson struct {
		Title       string   `json:"title"`
		Summary     string   `json:"summary"`
		Objectives  []string `json:"objectives"`
		SourceStart int      `json:"source_start,omitempty"`
		SourceEnd   int      `json:"source_end,omitempty"`
	}

	LessonRequest struct {
		CourseTitle string
		ModuleTitle string
		Lesson      OutlineLesson
		Source      string
		Difficulty  string
		Audience    string
	}

	LessonDraft struct {
		Content    string   `json:"content"`
		Summary    string   `json:"summary"`
		Objectives []string `json:"objectives"`
	}

	QuizRequest struct {
		LessonTitle string
		Content     string
		Questions   int
		Difficulty  string
	}

	QuizDraft struct {
		Title     string          `json:"title"`
		Questions []QuestionDraft `json:"questions"`
	}

	QuestionDraft struct {
		Prompt      string   `json:"prompt"`
		Options     []string `json:"options"`
		AnswerIndex int      `json:"answer_index"`
		Explanation string   `json:"explanation"`
	}
)

// LessonCount returns the number of lessons across all modules.
func (o Outline) LessonCount() int {
	var n int
	for _, m := range o.Modules {
		n += len(m.Lessons)
	}
	return n
}

// instrumentedGenerator records call counts & latencies of a ContentGenerator.
type instrumentedGenerator struct {
	next ContentGenerator
}

// Instrument wraps `gen` with Prometheus metrics.
func Instrument(gen ContentGenerator) ContentGenerator {
	if _, ok := gen.(instrumentedGenerator); ok {
		return gen
	}
	return instrumentedGenerator{next: gen}
}

func observe(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.AICalls.WithLabelValues(operation, outcome).Inc()
	metrics.AICallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (g instrumentedGenerator) AnalyzeDocument(ctx context.Context, req AnalysisRequest) (res DocumentAnalysis, err error) {
	defer func(start time.Time) { observe("analyze", start, err) }(time.Now())
	return g.next.AnalyzeDocument(ctx, req)
}

func (g instrumentedGenerator) OutlineCourse(ctx context.Context, req OutlineRequest) (res Outline, err error) {
	defer func(start time.Time) { observe("outline", start, err) }(time.Now())
	return g.next.OutlineCourse(ctx, req)
}

func (g instrumentedGenerator) WriteLesson(ctx context.Context, req LessonRequest) (res LessonDraft, err error) {
	defer func(start time.Time) { observe("lesson", start, err) }(time.Now())
	return g.next.WriteLesson(ctx, req)
}

func (g instrumentedGenerator) WriteQuiz(ctx context.Context, req QuizRequest) (res QuizDraft, err error) {
	defer func(start time.Time) { observe("quiz", start, err) }(time.Now())
	return g.next.WriteQuiz(ctx, req)
}
