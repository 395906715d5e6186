package offline

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/generation"
)

const source = `# Learning Go

Go is a statically typed language designed at Google. It compiles fast.

## Variables

Variables declare storage. The keyword var introduces them.

## Functions

Functions group statements. Closures capture surrounding variables.`

func TestGenerator_AnalyzeDocument(t *testing.T) {
	got, err := NewGenerator().AnalyzeDocument(context.Background(), generation.AnalysisRequest{Source: source})
	require.NoError(t, err)
	assert.Equal(t, "Learning Go", got.Title)
	assert.Equal(t, "Go is a statically typed language designed at Google. It compiles fast.", got.Summary)
	assert.Equal(t, []string{"Variables", "Functions"}, got.KeyConcepts)
	assert.Equal(t, course.DifficultyBeginner, got.Difficulty)

	t.Run("title of the request wins", func(t *testing.T) {
		got, err := NewGenerator().AnalyzeDocument(context.Background(), generation.AnalysisRequest{Title: "Go 101", Source: source})
		require.NoError(t, err)
		assert.Equal(t, "Go 101", got.Title)
	})

	t.Run("frequent words without headings", func(t *testing.T) {
		got, err := NewGenerator().AnalyzeDocument(context.Background(), generation.AnalysisRequest{
			Source: "Channels connect goroutines. Channels are typed. Goroutines are cheap.",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"channels", "goroutines", "connect", "typed", "cheap"}, got.KeyConcepts)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewGenerator().AnalyzeDocument(ctx, generation.AnalysisRequest{Source: source})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestGenerator_OutlineCourse(t *testing.T) {
	gen := NewGenerator()
	ctx := context.Background()

	t.Run("headings", func(t *testing.T) {
		analysis, err := gen.AnalyzeDocument(ctx, generation.AnalysisRequest{Source: source})
		require.NoError(t, err)
		got, err := gen.OutlineCourse(ctx, generation.OutlineRequest{Analysis: analysis, Source: source, MaxModules: 8, LessonsPerModule: 6})
		require.NoError(t, err)

		assert.Equal(t, "Learning Go", got.Title)
		require.Len(t, got.Modules, 3)
		assert.Equal(t, "Learning Go", got.Modules[0].Title)
		assert.Equal(t, "Variables", got.Modules[1].Title)
		assert.Equal(t, "Functions", got.Modules[2].Title)
		assert.Equal(t, 3, got.LessonCount())

		para := "Variables declare storage. The keyword var introduces them."
		lesson := got.Modules[1].Lessons[0]
		assert.Equal(t, "Variables", lesson.Title)
		assert.Equal(t, strings.Index(source, para), lesson.SourceStart)
		assert.Equal(t, strings.Index(source, para)+len(para), lesson.SourceEnd)
		assert.Equal(t, para, lesson.Summary)
	})

	t.Run("plain text", func(t *testing.T) {
		plain := "One two three four five six seven.\n\nSecond paragraph here.\n\nThird paragraph here.\n\nFourth paragraph here."
		got, err := gen.OutlineCourse(ctx, generation.OutlineRequest{Source: plain, LessonsPerModule: 1})
		require.NoError(t, err)
		require.Len(t, got.Modules, 2)
		assert.Equal(t, "Part 1", got.Modules[0].Title)
		assert.Equal(t, "Part 2", got.Modules[1].Title)
		assert.Equal(t, "One two three four five six", got.Modules[0].Lessons[0].Title)
		assert.Equal(t, 0, got.Modules[0].Lessons[0].SourceStart)
		assert.Equal(t, strings.Index(plain, "Fourth"), got.Modules[1].Lessons[0].SourceStart)
		assert.Equal(t, len(plain), got.Modules[1].Lessons[0].SourceEnd)
	})

	t.Run("topic only", func(t *testing.T) {
		got, err := gen.OutlineCourse(ctx, generation.OutlineRequest{
			Analysis:   generation.DocumentAnalysis{Title: "Kubernetes", KeyConcepts: []string{"Pods", "Services"}},
			MaxModules: 1,
		})
		require.NoError(t, err)
		require.Len(t, got.Modules, 1)
		assert.Equal(t, "Pods", got.Modules[0].Title)
		require.Len(t, got.Modules[0].Lessons, 2)
		assert.Equal(t, "Understanding Pods", got.Modules[0].Lessons[0].Title)
		assert.Zero(t, got.Modules[0].Lessons[0].SourceEnd)
	})
}

func TestGenerator_WriteLesson(t *testing.T) {
	gen := NewGenerator()
	ctx := context.Background()

	t.Run("cites its source", func(t *testing.T) {
		para := "Functions group statements. Closures capture surrounding variables."
		start := strings.Index(source, para)
		got, err := gen.WriteLesson(ctx, generation.LessonRequest{
			Lesson: generation.OutlineLesson{Title: "Functions", SourceStart: start, SourceEnd: start + len(para)},
			Source: source,
		})
		require.NoError(t, err)
		assert.Equal(t, para+" "+generation.CitationMarker(start, start+len(para)), got.Content)
		assert.Equal(t, para, got.Summary)
		assert.Equal(t, []string{"Explain Functions"}, got.Objectives)

		content, citations, report := generation.ExtractCitations(got.Content, source)
		assert.Equal(t, para+" [1]", content)
		require.Len(t, citations, 1)
		assert.Equal(t, para, citations[0].Excerpt)
		assert.Zero(t, report.Invalid)
	})

	t.Run("without source", func(t *testing.T) {
		got, err := gen.WriteLesson(ctx, generation.LessonRequest{
			CourseTitle: "Kubernetes",
			ModuleTitle: "Pods",
			Lesson:      generation.OutlineLesson{Title: "Understanding Pods", Summary: "What pods are.", Objectives: []string{"Define a pod"}},
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(got.Content, "## Understanding Pods\n\nWhat pods are."))
		assert.Contains(t, got.Content, "- Define a pod")
		assert.Greater(t, len(got.Content), 80)
		assert.Equal(t, []string{"Define a pod"}, got.Objectives)
	})
}

func TestGenerator_WriteQuiz(t *testing.T) {
	content := "Variables declare storage. [1] The keyword var introduces them. Closures capture surrounding variables."
	got, err := NewGenerator().WriteQuiz(context.Background(), generation.QuizRequest{LessonTitle: "Variables", Content: content, Questions: 2})
	require.NoError(t, err)

	assert.Equal(t, "Variables quiz", got.Title)
	require.Len(t, got.Questions, 2)
	assert.Equal(t, generation.QuestionDraft{
		Prompt:      "Fill in the blank: _____ declare storage.",
		Options:     []string{"Variables", "keyword", "introduces", "Closures"},
		AnswerIndex: 0,
		Explanation: "Variables declare storage.",
	}, got.Questions[0])

	for _, q := range got.Questions {
		assert.Contains(t, q.Prompt, "_____")
		require.True(t, q.AnswerIndex >= 0 && q.AnswerIndex < len(q.Options))
		assert.NotContains(t, q.Prompt, q.Options[q.AnswerIndex])
		seen := make(map[string]bool)
		for _, o := range q.Options {
			assert.False(t, seen[strings.ToLower(o)], "duplicate option %q", o)
			seen[strings.ToLower(o)] = true
		}
	}
}
