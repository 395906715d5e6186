package generation

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
)

// Job statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Pipeline phases
const (
	PhaseDocumentAnalysis  = "document_analysis"
	PhaseContentAnalysis   = "content_analysis"
	PhaseContentGeneration = "content_generation"
	PhaseValidation        = "validation"
	PhaseFinalization      = "finalization"
)

var (
	Statuses       = []string{StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled}
	ActiveStatuses = []string{StatusPending, StatusRunning}

	// progress band [start, end] of every phase
	phaseBands = map[string][2]int{
		PhaseDocumentAnalysis:  {0, 15},
		PhaseContentAnalysis:   {15, 35},
		PhaseContentGeneration: {35, 85},
		PhaseValidation:        {85, 95},
		PhaseFinalization:      {95, 100},
	}
)

// PhaseProgress returns the overall progress when `done` out of `total` steps of `phase` are finished.
func PhaseProgress(phase string, done, total int) int {
	band, ok := phaseBands[phase]
	if !ok {
		return 0
	}
	if total <= 0 || done <= 0 {
		return band[0]
	}
	if done > total {
		done = total
	}
	return band[0] + (band[1]-band[0])*done/total
}

type Job struct {
	ID         string     `json:"id"`
	DocumentID string     `json:"document_id"`
	OwnerID    string     `json:"owner_id"`
	Status     string     `json:"status"`
	Phase      string     `json:"phase"`
	Progress   int        `json:"progress"` // 0 - 100
	Message    string     `json:"message"`
	Error      string     `json:"error,omitempty"`
	CourseID   string     `json:"course_id,omitempty"`
	Options    Options    `json:"options"`
	CreatedAt  time.Time  `json:"created_at"`            // UTC
	StartedAt  *time.Time `json:"started_at,omitempty"`  // UTC
	FinishedAt *time.Time `json:"finished_at,omitempty"` // UTC
	UpdatedAt  time.Time  `json:"updated_at"`            // UTC
}

func (j Job) IsActive() bool {
	return core.StringInSlice(j.Status, ActiveStatuses)
}

// Options tune a generation run.
type Options struct {
	MaxModules       int    `json:"max_modules"`
	LessonsPerModule int    `json:"lessons_per_module"`
	QuestionsPerQuiz int    `json:"questions_per_quiz"`
	Difficulty       string `json:"difficulty,omitempty"`
	Audience         string `json:"audience,omitempty"`
	IncludeQuizzes   bool   `json:"include_quizzes"`
}

// NewJob is the payload of a generation request. Zero values fall back to the configured defaults.
type NewJob struct {
	MaxModules       int    `json:"max_modules" validate:"omitempty,min=1,max=20"`
	LessonsPerModule int    `json:"lessons_per_module" validate:"omitempty,min=1,max=12"`
	QuestionsPerQuiz int    `json:"questions_per_quiz" validate:"omitempty,min=1,max=10"`
	Difficulty       string `json:"difficulty" validate:"omitempty,difficulty"`
	Audience         string `json:"audience" validate:"max=200"`
	IncludeQuizzes   *bool  `json:"include_quizzes"`
}

func (nj *NewJob) Validate(validate *validator.Validate) error {
	nj.Difficulty = core.CleanString(nj.Difficulty, true /* lower */)
	nj.Audience = core.CleanString(nj.Audience)
	return validate.Struct(nj)
}

// Options returns the run options, defaults taken from `conf`.
func (nj NewJob) Options(conf core.GenerationConfig) Options {
	opts := Options{
		MaxModules:       conf.MaxModules,
		LessonsPerModule: conf.MaxLessonsPerModule,
		QuestionsPerQuiz: conf.QuestionsPerQuiz,
		Difficulty:       nj.Difficulty,
		Audience:         nj.Audience,
		IncludeQuizzes:   true,
	}
	if nj.MaxModules > 0 {
		opts.MaxModules = nj.MaxModules
	}
	if nj.LessonsPerModule > 0 {
		opts.LessonsPerModule = nj.LessonsPerModule
	}
	if nj.QuestionsPerQuiz > 0 {
		opts.QuestionsPerQuiz = nj.QuestionsPerQuiz
	}
	if nj.IncludeQuizzes != nil {
		opts.IncludeQuizzes = *nj.IncludeQuizzes
	}
	if opts.Difficulty != "" && !core.StringInSlice(opts.Difficulty, course.Difficulties) {
		opts.Difficulty = ""
	}
	return opts
}

type QueryFilter struct {
	OwnerID    string
	DocumentID string
	Statuses   []string
}
