package enrollment

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Statuses
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
)

var Statuses = []string{StatusActive, StatusCompleted}

type (
	Enrollment struct {
		ID               string     `json:"id"`
		UserID           string     `json:"user_id"`
		CourseID         string     `json:"course_id"`
		Status           string     `json:"status"`
		Progress         int        `json:"progress"`               // 0 - 100
		EnrolledAt       time.Time  `json:"enrolled_at"`            // UTC
		CompletedAt      *time.Time `json:"completed_at,omitempty"` // UTC
		LastActivityAt   time.Time  `json:"last_activity_at"`       // UTC
		CompletedLessons []string   `json:"completed_lessons,omitempty"`
	}

	LessonProgress struct {
		EnrollmentID string    `json:"enrollment_id"`
		LessonID     string    `json:"lesson_id"`
		CompletedAt  time.Time `json:"completed_at"` // UTC
	}

	QuizAttempt struct {
		ID           string    `json:"id"`
		EnrollmentID string    `json:"enrollment_id"`
		QuizID       string    `json:"quiz_id"`
		Answers      []int     `json:"answers"`
		Score        int       `json:"score"` // 0 - 100
		Passed       bool      `json:"passed"`
		CreatedAt    time.Time `json:"created_at"` // UTC
	}

	QuestionResult struct {
		QuestionID  string `json:"question_id"`
		Answer      int    `json:"answer"`
		AnswerIndex int    `json:"answer_index"`
		Correct     bool   `json:"correct"`
		Explanation string `json:"explanation,omitempty"`
	}

	QuizResult struct {
		Attempt         QuizAttempt      `json:"attempt"`
		Correct         int              `json:"correct"`
		Total           int              `json:"total"`
		Results         []QuestionResult `json:"results"`
		LessonCompleted bool             `json:"lesson_completed"`
		Enrollment      Enrollment       `json:"enrollment"`
	}

	CourseStats struct {
		CourseID         string  `json:"course_id"`
		CourseTitle      string  `json:"course_title"`
		IsPublished      bool    `json:"is_published"`
		Lessons          int     `json:"lessons"`
		Enrollments      int     `json:"enrollments"`
		Active           int     `json:"active"`
		Completed        int     `json:"completed"`
		CompletionRate   float64 `json:"completion_rate"`  // % of enrollments completed
		AverageProgress  float64 `json:"average_progress"` // %
		AverageQuizScore float64 `json:"average_quiz_score"`
		QuizAttempts     int     `json:"quiz_attempts"`
		QuizPassRate     float64 `json:"quiz_pass_rate"` // % of attempts passed
	}

	Dashboard struct {
		Courses          int           `json:"courses"`
		PublishedCourses int           `json:"published_courses"`
		Enrollments      int           `json:"enrollments"`
		Completed        int           `json:"completed"`
		Stats            []CourseStats `json:"stats"`
	}
)

type SubmitQuiz struct {
	Answers []int `json:"answers" validate:"required,dive,min=0"`
}

func (sq *SubmitQuiz) Validate(validate *validator.Validate) error {
	return validate.Struct(sq)
}

type QueryFilter struct {
	UserID   string
	CourseID string
	Status   string
}
