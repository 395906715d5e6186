package generation

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core/course"
)

// maxUnescapeRounds bounds the unescaping of nested entities in Sanitizer.Text.
const maxUnescapeRounds = 4

var (
	ErrNoLessons = errors.New("no lesson survived validation")

	htmlTagRegex = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)
)

// Sanitizer cleans generated text: titles & short fields are stripped of any markup,
// contents keep safe user-generated HTML when they contain some (markdown is left untouched).
type Sanitizer struct {
	strict *bluemonday.Policy
	ugc    *bluemonday.Policy
}

func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		ugc:    bluemonday.UGCPolicy(),
	}
}

// Text strips all markup from `text` and collapses whitespace.
// Entity-escaped markup is unescaped then stripped too, so no tag is ever returned.
func (s *Sanitizer) Text(text string) string {
	for i := 0; i < maxUnescapeRounds; i++ {
		cleaned := html.UnescapeString(s.strict.Sanitize(text))
		if cleaned == text {
			break
		}
		text = cleaned
	}
	text = htmlTagRegex.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}

// Outline sanitizes the texts of an outline in place and drops the lessons left untitled.
func (s *Sanitizer) Outline(o *Outline) {
	o.Title = s.Text(o.Title)
	o.Description = s.Text(o.Description)
	for i := range o.Modules {
		m := &o.Modules[i]
		m.Title = s.Text(m.Title)
		m.Description = s.Text(m.Description)
		lessons := make([]OutlineLesson, 0, len(m.Lessons))
		for _, l := range m.Lessons {
			l.Title = s.Text(l.Title)
			l.Summary = s.Text(l.Summary)
			l.Objectives = s.texts(l.Objectives)
			if l.Title != "" {
				lessons = append(lessons, l)
			}
		}
		m.Lessons = lessons
	}
}

// Content sanitizes HTML found in `content`.
func (s *Sanitizer) Content(content string) string {
	content = strings.TrimSpace(content)
	if !htmlTagRegex.MatchString(content) {
		return content
	}
	return strings.TrimSpace(s.ugc.Sanitize(content))
}

func (s *Sanitizer) texts(texts []string) []string {
	cleaned := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = s.Text(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}

// ValidationReport counts what validation discarded.
type ValidationReport struct {
	DroppedModules   int
	DroppedLessons   int
	DroppedQuizzes   int
	DroppedQuestions int
}

// ValidateCourse sanitizes the generated course graph in place and drops what is unusable:
// lessons shorter than `minLessonChars` or untitled, invalid questions, empty quizzes and empty modules.
// Returns ErrNoLessons when nothing is left.
func ValidateCourse(c *course.Course, s *Sanitizer, minLessonChars int) (ValidationReport, error) {
	var report ValidationReport

	c.Title = s.Text(c.Title)
	c.Description = s.Text(c.Description)
	if c.Title == "" {
		c.Title = "Untitled course"
	}

	modules := make([]course.Module, 0, len(c.Modules))
	for _, m := range c.Modules {
		m.Title = s.Text(m.Title)
		m.Description = s.Text(m.Description)

		lessons := make([]course.Lesson, 0, len(m.Lessons))
		for _, l := range m.Lessons {
			l.Title = s.Text(l.Title)
			l.Summary = s.Text(l.Summary)
			l.Content = s.Content(l.Content)
			l.Objectives = s.texts(l.Objectives)
			if l.Title == "" || utf8.RuneCountInString(l.Content) < minLessonChars {
				report.DroppedLessons++
				continue
			}
			if l.Quiz != nil {
				dropped := validateQuiz(l.Quiz, s)
				report.DroppedQuestions += dropped
				if len(l.Quiz.Questions) == 0 {
					l.Quiz = nil
					report.DroppedQuizzes++
				} else if l.Quiz.Title == "" {
					l.Quiz.Title = l.Title + " quiz"
				}
			}
			lessons = append(lessons, l)
		}

		if len(lessons) == 0 || m.Title == "" {
			report.DroppedModules++
			report.DroppedLessons += len(lessons)
			continue
		}
		m.Lessons = lessons
		modules = append(modules, m)
	}
	c.Modules = modules

	if c.LessonCount() == 0 {
		return report, ErrNoLessons
	}
	return report, nil
}

// validateQuiz drops the invalid questions of `q` and returns how many were dropped.
func validateQuiz(q *course.Quiz, s *Sanitizer) int {
	q.Title = s.Text(q.Title)

	var dropped int
	prompts := make(map[string]struct{}, len(q.Questions))
	questions := make([]course.Question, 0, len(q.Questions))
	for _, question := range q.Questions {
		question.Prompt = s.Text(question.Prompt)
		question.Explanation = s.Text(question.Explanation)
		options := make([]string, len(question.Options))
		for i, o := range question.Options {
			options[i] = s.Text(o)
		}
		question.Options = options

		key := strings.ToLower(question.Prompt)
		if _, dup := prompts[key]; dup || !isValidQuestion(question) {
			dropped++
			continue
		}
		prompts[key] = struct{}{}
		question.Position = len(questions) + 1
		questions = append(questions, question)
	}
	q.Questions = questions
	return dropped
}

// isValidQuestion checks the prompt is set, there are at least 2 distinct non empty options
// and the answer points to one of them.
func isValidQuestion(q course.Question) bool {
	if q.Prompt == "" || len(q.Options) < 2 {
		return false
	}
	seen := make(map[string]struct{}, len(q.Options))
	for _, o := range q.Options {
		key := strings.ToLower(o)
		if _, dup := seen[key]; dup || o == "" {
			return false
		}
		seen[key] = struct{}{}
	}
	answer := q.Answer()
	return answer >= 0 && answer < len(q.Options)
}
