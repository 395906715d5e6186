package course

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/somo/core"
)

// Difficulties
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

var Difficulties = []string{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced}

const wordsPerMinute = 200

type (
	Course struct {
		ID               string     `json:"id"`
		OwnerID          string     `json:"owner_id"`
		DocumentID       string     `json:"document_id,omitempty"`
		Title            string     `json:"title"`
		Slug             string     `json:"slug"`
		Description      string     `json:"description"`
		Difficulty       string     `json:"difficulty"`
		EstimatedMinutes int        `json:"estimated_minutes"`
		Tags             []string   `json:"tags"`
		IsPublished      bool       `json:"is_published"`
		PublishedAt      *time.Time `json:"published_at,omitempty"` // UTC
		CreatedAt        time.Time  `json:"created_at"`             // UTC
		UpdatedAt        time.Time  `json:"updated_at"`             // UTC
		Modules          []Module   `json:"modules,omitempty"`
	}

	Module struct {
		ID          string   `json:"id"`
		CourseID    string   `json:"course_id"`
		Position    int      `json:"position"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Lessons     []Lesson `json:"lessons"`
	}

	Lesson struct {
		ID               string     `json:"id"`
		ModuleID         string     `json:"module_id"`
		Position         int        `json:"position"`
		Title            string     `json:"title"`
		Summary          string     `json:"summary"`
		Content          string     `json:"content"`
		Objectives       []string   `json:"objectives"`
		EstimatedMinutes int        `json:"estimated_minutes"`
		Citations        []Citation `json:"citations"`
		Quiz             *Quiz      `json:"quiz,omitempty"`
	}

	Quiz struct {
		ID        string     `json:"id"`
		LessonID  string     `json:"lesson_id"`
		Title     string     `json:"title"`
		PassScore int        `json:"pass_score"`
		Questions []Question `json:"questions"`
	}

	Question struct {
		ID          string   `json:"id"`
		QuizID      string   `json:"quiz_id"`
		Position    int      `json:"position"`
		Prompt      string   `json:"prompt"`
		Options     []string `json:"options"`
		AnswerIndex *int     `json:"answer_index,omitempty"` // nil when hidden
		Explanation string   `json:"explanation,omitempty"`
	}

	// Citation points a numbered reference `[n]` of a lesson back to the [Start, End) rune range of the source document.
	Citation struct {
		ID       string `json:"id"`
		LessonID string `json:"lesson_id"`
		Number   int    `json:"number"`
		Start    int    `json:"start"`
		End      int    `json:"end"`
		Excerpt  string `json:"excerpt"`
	}
)

// LessonCount returns the number of lessons across all modules.
func (c Course) LessonCount() int {
	var n int
	for _, m := range c.Modules {
		n += len(m.Lessons)
	}
	return n
}

// Lessons returns all lessons of the course, in module then lesson order.
func (c Course) Lessons() []Lesson {
	lessons := make([]Lesson, 0, c.LessonCount())
	for _, m := range c.Modules {
		lessons = append(lessons, m.Lessons...)
	}
	return lessons
}

// FindLesson returns the lesson with ID `id` and its module index.
func (c Course) FindLesson(id string) (Lesson, int, bool) {
	for mi, m := range c.Modules {
		for _, l := range m.Lessons {
			if l.ID == id {
				return l, mi, true
			}
		}
	}
	return Lesson{}, -1, false
}

// FindQuiz returns the quiz with ID `id` and the ID of its lesson.
func (c Course) FindQuiz(id string) (Quiz, bool) {
	for _, m := range c.Modules {
		for _, l := range m.Lessons {
			if l.Quiz != nil && l.Quiz.ID == id {
				return *l.Quiz, true
			}
		}
	}
	return Quiz{}, false
}

func (c Course) findModule(id string) (Module, bool) {
	for _, m := range c.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return Module{}, false
}

// IsPublishable reports whether the course has at least one module with at least one lesson.
func (c Course) IsPublishable() bool {
	for _, m := range c.Modules {
		if len(m.Lessons) > 0 {
			return true
		}
	}
	return false
}

// WithoutAnswers returns a deep enough copy of the course with the quiz answers & explanations hidden.
func (c Course) WithoutAnswers() Course {
	modules := make([]Module, len(c.Modules))
	for mi, m := range c.Modules {
		lessons := make([]Lesson, len(m.Lessons))
		for li, l := range m.Lessons {
			if l.Quiz != nil {
				q := *l.Quiz
				q.Questions = make([]Question, len(l.Quiz.Questions))
				for qi, question := range l.Quiz.Questions {
					question.AnswerIndex = nil
					question.Explanation = ""
					q.Questions[qi] = question
				}
				l.Quiz = &q
			}
			lessons[li] = l
		}
		m.Lessons = lessons
		modules[mi] = m
	}
	c.Modules = modules
	return c
}

// Answer returns the index of the correct option, -1 when unknown.
func (q Question) Answer() int {
	if q.AnswerIndex == nil {
		return -1
	}
	return *q.AnswerIndex
}

// EstimateMinutes estimates the reading time of `content`, at least 1 minute.
func EstimateMinutes(content string) int {
	words := len(strings.Fields(content))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}

// IntPtr is a helper for optional ints.
func IntPtr(i int) *int { return &i }

// NewCourse contains information needed to create an empty draft Course.
type NewCourse struct {
	Title            string   `json:"title" validate:"required,notblank,max=200"`
	Description      string   `json:"description" validate:"max=5000"`
	Difficulty       string   `json:"difficulty" validate:"omitempty,difficulty"`
	EstimatedMinutes int      `json:"estimated_minutes" validate:"min=0"`
	Tags             []string `json:"tags" validate:"omitempty,coursetags"`
}

func (nc *NewCourse) Validate(validate *validator.Validate) error {
	nc.Title = core.CleanString(nc.Title)
	nc.Description = core.CleanString(nc.Description)
	nc.Difficulty = core.CleanString(nc.Difficulty, true /* lower */)
	nc.Tags = core.CleanStrings(nc.Tags, true /* lower */)
	if nc.Difficulty == "" {
		nc.Difficulty = DifficultyBeginner
	}
	return validate.Struct(nc)
}

// UpdateCourse defines what course metadata may be modified. Empty / nil fields are left unchanged.
type UpdateCourse struct {
	Title            string   `json:"title" validate:"max=200"`
	Description      *string  `json:"description" validate:"omitempty,max=5000"`
	Difficulty       string   `json:"difficulty" validate:"omitempty,difficulty"`
	EstimatedMinutes *int     `json:"estimated_minutes" validate:"omitempty,min=0"`
	Tags             []string `json:"tags" validate:"omitempty,coursetags"`
}

func (uc *UpdateCourse) Validate(validate *validator.Validate) error {
	uc.Title = core.CleanString(uc.Title)
	uc.Difficulty = core.CleanString(uc.Difficulty, true /* lower */)
	if uc.Description != nil {
		desc := core.CleanString(*uc.Description)
		uc.Description = &desc
	}
	if uc.Tags != nil {
		uc.Tags = core.CleanStrings(uc.Tags, true /* lower */)
	}
	return validate.Struct(uc)
}

type NewModule struct {
	Title       string `json:"title" validate:"required,notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (nm *NewModule) Validate(validate *validator.Validate) error {
	nm.Title = core.CleanString(nm.Title)
	nm.Description = core.CleanString(nm.Description)
	return validate.Struct(nm)
}

// UpdateModule modifies a module. Position is 1-based; 0 leaves it unchanged.
type UpdateModule struct {
	Title       string  `json:"title" validate:"max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Position    int     `json:"position" validate:"min=0"`
}

func (um *UpdateModule) Validate(validate *validator.Validate) error {
	um.Title = core.CleanString(um.Title)
	if um.Description != nil {
		desc := core.CleanString(*um.Description)
		um.Description = &desc
	}
	return validate.Struct(um)
}

type NewQuestion struct {
	Prompt      string   `json:"prompt" validate:"required,notblank"`
	Options     []string `json:"options" validate:"min=2,unique,dive,required"`
	AnswerIndex int      `json:"answer_index" validate:"min=0"`
	Explanation string   `json:"explanation"`
}

type NewQuiz struct {
	Title     string        `json:"title"`
	Questions []NewQuestion `json:"questions" validate:"required,min=1,dive"`
}

func (nq NewQuiz) toQuiz(defaultTitle string, passScore int) *Quiz {
	quiz := &Quiz{Title: core.CleanString(nq.Title), PassScore: passScore}
	if quiz.Title == "" {
		quiz.Title = defaultTitle
	}
	for i, q := range nq.Questions {
		quiz.Questions = append(quiz.Questions, Question{
			Position:    i + 1,
			Prompt:      q.Prompt,
			Options:     q.Options,
			AnswerIndex: IntPtr(q.AnswerIndex),
			Explanation: q.Explanation,
		})
	}
	return quiz
}

func cleanQuiz(nq *NewQuiz) {
	if nq == nil {
		return
	}
	nq.Title = core.CleanString(nq.Title)
	for i := range nq.Questions {
		q := &nq.Questions[i]
		q.Prompt = core.CleanString(q.Prompt)
		q.Explanation = core.CleanString(q.Explanation)
		for oi := range q.Options {
			q.Options[oi] = core.CleanString(q.Options[oi])
		}
	}
}

type NewLesson struct {
	Title            string   `json:"title" validate:"required,notblank,max=200"`
	Summary          string   `json:"summary" validate:"max=2000"`
	Content          string   `json:"content" validate:"required,notblank"`
	Objectives       []string `json:"objectives"`
	EstimatedMinutes int      `json:"estimated_minutes" validate:"min=0"`
	Quiz             *NewQuiz `json:"quiz" validate:"omitempty"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.Title = core.CleanString(nl.Title)
	nl.Summary = core.CleanString(nl.Summary)
	nl.Content = core.CleanString(nl.Content)
	nl.Objectives = core.CleanStrings(nl.Objectives)
	cleanQuiz(nl.Quiz)
	if nl.EstimatedMinutes == 0 {
		nl.EstimatedMinutes = EstimateMinutes(nl.Content)
	}
	return validate.Struct(nl)
}

// UpdateLesson modifies a lesson. Empty / nil fields are left unchanged; Position is 1-based.
// A non nil Quiz replaces the current one, RemoveQuiz deletes it.
type UpdateLesson struct {
	Title            string   `json:"title" validate:"max=200"`
	Summary          *string  `json:"summary" validate:"omitempty,max=2000"`
	Content          string   `json:"content"`
	Objectives       []string `json:"objectives"`
	EstimatedMinutes *int     `json:"estimated_minutes" validate:"omitempty,min=0"`
	Position         int      `json:"position" validate:"min=0"`
	Quiz             *NewQuiz `json:"quiz" validate:"omitempty"`
	RemoveQuiz       bool     `json:"remove_quiz"`
}

func (ul *UpdateLesson) Validate(validate *validator.Validate) error {
	ul.Title = core.CleanString(ul.Title)
	ul.Content = core.CleanString(ul.Content)
	if ul.Summary != nil {
		summary := core.CleanString(*ul.Summary)
		ul.Summary = &summary
	}
	if ul.Objectives != nil {
		ul.Objectives = core.CleanStrings(ul.Objectives)
	}
	cleanQuiz(ul.Quiz)
	return validate.Struct(ul)
}

type QueryFilter struct {
	OwnerID    string
	Published  *bool
	Search     string
	Difficulty string
	Tag        string
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Difficulty = core.CleanString(qf.Difficulty, true /* lower */)
	qf.Tag = core.CleanString(qf.Tag, true /* lower */)
}

// OrderingFields maps the API ordering fields to the course columns.
var OrderingFields = map[string]string{
	"title":             "title",
	"difficulty":        "difficulty",
	"estimated_minutes": "estimated_minutes",
	"published_at":      "published_at",
	"created_at":        "created_at",
	"updated_at":        "updated_at",
}
