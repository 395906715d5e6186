package gemini

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/generation"
)

const (
	maxPromptSourceRunes = 60000
	maxLessonSourceRunes = 20000
	lessonContextRunes   = 2000 // around the lesson range
)

const systemPrompt = `You are an instructional designer turning source documents into online courses.
Stay faithful to the source document; never invent facts it does not support.
Always answer with a single JSON document matching the requested schema.`

var (
	stringArray = &genai.Schema{Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeString}}

	analysisSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":        {Type: genai.TypeString},
			"summary":      {Type: genai.TypeString},
			"key_concepts": stringArray,
			"difficulty":   {Type: genai.TypeString, Enum: course.Difficulties},
			"audience":     {Type: genai.TypeString},
		},
		Required: []string{"title", "summary", "key_concepts", "difficulty", "audience"},
	}

	outlineSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title":       {Type: genai.TypeString},
			"description": {Type: genai.TypeString},
			"modules": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":       {Type: genai.TypeString},
						"description": {Type: genai.TypeString},
						"lessons": {
							Type: genai.TypeArray,
							Items: &genai.Schema{
								Type: genai.TypeObject,
								Properties: map[string]*genai.Schema{
									"title":        {Type: genai.TypeString},
									"summary":      {Type: genai.TypeString},
									"objectives":   stringArray,
									"source_start": {Type: genai.TypeInteger},
									"source_end":   {Type: genai.TypeInteger},
								},
								Required: []string{"title", "summary", "objectives"},
							},
						},
					},
					Required: []string{"title", "description", "lessons"},
				},
			},
		},
		Required: []string{"title", "description", "modules"},
	}

	lessonSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"content":    {Type: genai.TypeString},
			"summary":    {Type: genai.TypeString},
			"objectives": stringArray,
		},
		Required: []string{"content", "summary", "objectives"},
	}

	quizSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"title": {Type: genai.TypeString},
			"questions": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"prompt":       {Type: genai.TypeString},
						"options":      stringArray,
						"answer_index": {Type: genai.TypeInteger},
						"explanation":  {Type: genai.TypeString},
					},
					Required: []string{"prompt", "options", "answer_index", "explanation"},
				},
			},
		},
		Required: []string{"title", "questions"},
	}
)

// annotatedSource lists the paragraphs of `source` overlapping [start, end) with their rune offsets,
// so that the model can cite them. At most `max` runes of text are included.
func annotatedSource(source string, start, end, max int) string {
	var b strings.Builder
	var n int
	for _, p := range generation.Paragraphs(source) {
		if end > start && (p.End <= start || p.Start >= end) {
			continue
		}
		if n += len([]rune(p.Text)); n > max {
			break
		}
		_, _ = fmt.Fprintf(&b, "[%d-%d]\n%s\n\n", p.Start, p.End, p.Text)
	}
	return b.String()
}

func analysisPrompt(req generation.AnalysisRequest) string {
	return fmt.Sprintf(`Analyse the following %s document titled %q.
Return its title, a summary of 2 to 4 sentences, up to 10 key concepts (short noun phrases),
its difficulty (beginner, intermediate or advanced) and its intended audience.

DOCUMENT:
%s`, req.MimeType, req.Title, truncate(req.Source, maxPromptSourceRunes))
}

func outlinePrompt(req generation.OutlineRequest) string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Design the outline of a %s course", req.Difficulty)
	if req.Audience != "" {
		_, _ = fmt.Fprintf(&b, " for %s", req.Audience)
	}
	_, _ = fmt.Fprintf(&b, " about %q.\n", req.Analysis.Title)
	if req.Analysis.Summary != "" {
		_, _ = fmt.Fprintf(&b, "Summary: %s\n", req.Analysis.Summary)
	}
	if len(req.Analysis.KeyConcepts) > 0 {
		_, _ = fmt.Fprintf(&b, "Key concepts: %s\n", strings.Join(req.Analysis.KeyConcepts, ", "))
	}
	_, _ = fmt.Fprintf(&b, "Use at most %d modules of at most %d lessons each; every title must be unique.\n",
		req.MaxModules, req.LessonsPerModule)

	if req.Source == "" {
		b.WriteString("There is no source document: base the outline on the topic only and leave source_start & source_end out.\n")
		return b.String()
	}
	b.WriteString("Each paragraph of the source below is preceded by its [start-end] character range.\n")
	b.WriteString("For every lesson, set source_start & source_end to the range of the source it covers.\n\nSOURCE:\n")
	b.WriteString(annotatedSource(req.Source, 0, 0, maxPromptSourceRunes))
	return b.String()
}

func lessonPrompt(req generation.LessonRequest) string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "Write the lesson %q of the module %q of the %s course %q",
		req.Lesson.Title, req.ModuleTitle, req.Difficulty, req.CourseTitle)
	if req.Audience != "" {
		_, _ = fmt.Fprintf(&b, " for %s", req.Audience)
	}
	b.WriteString(".\n")
	if req.Lesson.Summary != "" {
		_, _ = fmt.Fprintf(&b, "Lesson summary: %s\n", req.Lesson.Summary)
	}
	if len(req.Lesson.Objectives) > 0 {
		_, _ = fmt.Fprintf(&b, "Learning objectives: %s\n", strings.Join(req.Lesson.Objectives, "; "))
	}
	b.WriteString("Write the content in markdown, 300 to 800 words, with examples taken from the source.\n")
	b.WriteString("Each paragraph of the source below is preceded by its [start-end] character range.\n")
	_, _ = fmt.Fprintf(&b, "Cite the source right after the sentences relying on it with markers like %s (a range of the source).\n\nSOURCE:\n",
		generation.CitationMarker(120, 480))

	start, end := req.Lesson.SourceStart, req.Lesson.SourceEnd
	if end > start {
		start -= lessonContextRunes
		end += lessonContextRunes
	}
	b.WriteString(annotatedSource(req.Source, start, end, maxLessonSourceRunes))
	return b.String()
}

func quizPrompt(req generation.QuizRequest) string {
	return fmt.Sprintf(`Write a %s multiple choice quiz of %d questions checking the understanding of the lesson %q.
Every question has 3 or 4 distinct options, exactly one of them correct (answer_index is its 0-based index),
and a one sentence explanation of the answer.

LESSON:
%s`, req.Difficulty, req.Questions, req.LessonTitle, truncate(req.Content, maxLessonSourceRunes))
}

func truncate(s string, max int) string {
	return generation.Truncate(s, max)
}
