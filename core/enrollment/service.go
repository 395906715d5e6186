package enrollment

import (
	"context"
	"fmt"
	"math"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/metrics"
	"github.com/trezcool/somo/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("enrollment not found")
	ErrAlreadyEnrolled   = errors.New("already enrolled in this course")
	ErrNotPublished      = errors.New("course is not published")
	ErrQuizNotFound      = errors.New("quiz not found")
	ErrLessonNotInCourse = errors.New("lesson not found in course")
)

const maxStatsRows = 100000

type (
	Repository interface {
		// CreateEnrollment returns ErrAlreadyEnrolled when the user is already enrolled in the course.
		CreateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		GetEnrollment(ctx context.Context, id string) (Enrollment, error)
		FindEnrollment(ctx context.Context, userID, courseID string) (Enrollment, error)
		QueryEnrollments(ctx context.Context, filter *QueryFilter, page core.Page) ([]Enrollment, error)
		// UpdateEnrollment updates the status, progress, completion & activity dates.
		UpdateEnrollment(ctx context.Context, e Enrollment) (Enrollment, error)
		DeleteEnrollment(ctx context.Context, id string) error

		// AddLessonProgress records a completed lesson; created is false when it was already recorded.
		AddLessonProgress(ctx context.Context, p LessonProgress) (created bool, err error)
		ListLessonProgress(ctx context.Context, enrollmentID string) ([]LessonProgress, error)

		CreateQuizAttempt(ctx context.Context, a QuizAttempt) (QuizAttempt, error)
		ListQuizAttempts(ctx context.Context, enrollmentID string) ([]QuizAttempt, error)
		// ListCourseQuizAttempts lists the attempts of every enrollment of the course.
		ListCourseQuizAttempts(ctx context.Context, courseID string) ([]QuizAttempt, error)
	}

	// CourseReader is the part of the course service enrollments rely on.
	CourseReader interface {
		GetByID(ctx context.Context, id string) (course.Course, error)
		GetEditable(ctx context.Context, actor user.User, id string) (course.Course, error)
		QueryOwned(ctx context.Context, ownerID string) ([]course.Course, error)
	}

	ServiceInterface interface {
		Enroll(ctx context.Context, actor user.User, courseID string) (Enrollment, error)
		Unenroll(ctx context.Context, actor user.User, id string) error
		ListMine(ctx context.Context, actor user.User, status string, page core.Page) ([]Enrollment, error)
		Get(ctx context.Context, actor user.User, id string) (Enrollment, error)
		CompleteLesson(ctx context.Context, actor user.User, id, lessonID string) (Enrollment, error)
		SubmitQuiz(ctx context.Context, actor user.User, id, quizID string, sq SubmitQuiz) (QuizResult, error)
		QuizAttempts(ctx context.Context, actor user.User, id string) ([]QuizAttempt, error)
		CourseStats(ctx context.Context, actor user.User, courseID string) (CourseStats, error)
		CreatorDashboard(ctx context.Context, actor user.User) (Dashboard, error)
	}

	Service struct {
		repo      Repository
		courses   CourseReader
		mailSvc   core.EmailService
		passScore int
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

func NewService(repo Repository, courses CourseReader, mailSvc core.EmailService, conf *core.Config) *Service {
	return &Service{
		repo:      repo,
		courses:   courses,
		mailSvc:   mailSvc,
		passScore: conf.Learning.QuizPassScore,
	}
}

// Enroll enrolls `actor` in a published course, once.
func (svc *Service) Enroll(ctx context.Context, actor user.User, courseID string) (Enrollment, error) {
	c, err := svc.courses.GetByID(ctx, courseID)
	if err != nil {
		return Enrollment{}, err
	}
	if !c.IsPublished {
		if c.OwnerID != actor.ID && !actor.IsAdmin() {
			return Enrollment{}, course.ErrNotFound
		}
		return Enrollment{}, ErrNotPublished
	}

	if _, err := svc.repo.FindEnrollment(ctx, actor.ID, c.ID); err == nil {
		return Enrollment{}, ErrAlreadyEnrolled
	} else if errors.Cause(err) != ErrNotFound {
		return Enrollment{}, errors.Wrap(err, "finding enrollment")
	}

	now := core.Now()
	e, err := svc.repo.CreateEnrollment(ctx, Enrollment{
		UserID:         actor.ID,
		CourseID:       c.ID,
		Status:         StatusActive,
		EnrolledAt:     now,
		LastActivityAt: now,
	})
	if err != nil {
		return Enrollment{}, err
	}
	metrics.Enrollments.Inc()

	if actor.Email != "" {
		svc.mailSvc.SendMessages(&core.EmailMessage{
			To:           []mail.Address{{Name: actor.Name, Address: actor.Email}},
			Subject:      fmt.Sprintf("Welcome to %s", c.Title),
			TemplateName: "enrollment_welcome",
			TemplateData: map[string]interface{}{
				"Name":         actor.Name,
				"CourseTitle":  c.Title,
				"EnrollmentID": e.ID,
			},
		})
	}
	return e, nil
}

// getOwn returns the enrollment if it belongs to `actor` (or `actor` is an admin); ErrNotFound otherwise.
func (svc *Service) getOwn(ctx context.Context, actor user.User, id string) (Enrollment, error) {
	e, err := svc.repo.GetEnrollment(ctx, id)
	if err != nil {
		return Enrollment{}, err
	}
	if e.UserID != actor.ID && !actor.IsAdmin() {
		return Enrollment{}, ErrNotFound
	}
	return e, nil
}

func (svc *Service) Unenroll(ctx context.Context, actor user.User, id string) error {
	e, err := svc.getOwn(ctx, actor, id)
	if err != nil {
		return err
	}
	return svc.repo.DeleteEnrollment(ctx, e.ID)
}

func (svc *Service) ListMine(ctx context.Context, actor user.User, status string, page core.Page) ([]Enrollment, error) {
	enrollments, err := svc.repo.QueryEnrollments(ctx, &QueryFilter{UserID: actor.ID, Status: status}, page)
	return enrollments, errors.Wrap(err, "querying enrollments")
}

// Get returns the enrollment with its completed lessons.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Enrollment, error) {
	e, err := svc.getOwn(ctx, actor, id)
	if err != nil {
		return Enrollment{}, err
	}
	return svc.withCompletedLessons(ctx, e)
}

func (svc *Service) withCompletedLessons(ctx context.Context, e Enrollment) (Enrollment, error) {
	progress, err := svc.repo.ListLessonProgress(ctx, e.ID)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "listing lesson progress")
	}
	e.CompletedLessons = make([]string, 0, len(progress))
	for _, p := range progress {
		e.CompletedLessons = append(e.CompletedLessons, p.LessonID)
	}
	return e, nil
}

// CompleteLesson marks a lesson of the enrolled course as completed (idempotent) and recomputes the progress.
func (svc *Service) CompleteLesson(ctx context.Context, actor user.User, id, lessonID string) (Enrollment, error) {
	e, err := svc.getOwn(ctx, actor, id)
	if err != nil {
		return Enrollment{}, err
	}
	c, err := svc.courses.GetByID(ctx, e.CourseID)
	if err != nil {
		return Enrollment{}, errors.Wrap(err, "finding course")
	}
	if _, _, ok := c.FindLesson(lessonID); !ok {
		return Enrollment{}, ErrLessonNotInCourse
	}
	return svc.completeLesson(ctx, e, c, lessonID)
}

func (svc *Service) completeLesson(ctx context.Context, e Enrollment, c course.Course, lessonID string) (Enrollment, error) {
	now := core.Now()
	if _, err := svc.repo.AddLessonProgress(ctx, LessonProgress{
		EnrollmentID: e.ID,
		LessonID:     lessonID,
		CompletedAt:  now,
	}); err != nil {
		return Enrollment{}, errors.Wrap(err, "adding lesson progress")
	}

	e, err := svc.withCompletedLessons(ctx, e)
	if err != nil {
		return Enrollment{}, err
	}
	applyProgress(&e, c, now)

	completed := e.CompletedLessons
	if e, err = svc.repo.UpdateEnrollment(ctx, e); err != nil {
		return Enrollment{}, errors.Wrap(err, "updating enrollment")
	}
	e.CompletedLessons = completed
	return e, nil
}

// applyProgress recomputes the progress of `e` from its completed lessons still part of `c`:
// completed / total lessons, rounded down. The enrollment is completed at 100%.
func applyProgress(e *Enrollment, c course.Course, now time.Time) {
	e.Progress = Progress(len(completedInCourse(e.CompletedLessons, c)), c.LessonCount())
	e.LastActivityAt = now
	if e.Progress >= 100 {
		if e.Status != StatusCompleted {
			e.Status = StatusCompleted
			e.CompletedAt = &now
		}
	} else {
		e.Status = StatusActive
		e.CompletedAt = nil
	}
}

func completedInCourse(lessonIDs []string, c course.Course) []string {
	ids := make([]string, 0, len(lessonIDs))
	for _, id := range lessonIDs {
		if _, _, ok := c.FindLesson(id); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Progress returns completed / total as a percentage rounded down.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	if completed > total {
		completed = total
	}
	return completed * 100 / total
}

// Score returns correct / total as a percentage rounded to the nearest integer.
func Score(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(correct) * 100 / float64(total)))
}

// SubmitQuiz grades the answers of a quiz of the enrolled course.
// A passed quiz completes its lesson.
func (svc *Service) SubmitQuiz(ctx context.Context, actor user.User, id, quizID string, sq SubmitQuiz) (QuizResult, error) {
	e, err := svc.getOwn(ctx, actor, id)
	if err != nil {
		return QuizResult{}, err
	}
	c, err := svc.courses.GetByID(ctx, e.CourseID)
	if err != nil {
		return QuizResult{}, errors.Wrap(err, "finding course")
	}
	quiz, ok := c.FindQuiz(quizID)
	if !ok {
		return QuizResult{}, ErrQuizNotFound
	}
	if len(sq.Answers) != len(quiz.Questions) {
		return QuizResult{}, core.NewValidationError(nil, core.FieldError{
			Field: "answers",
			Error: fmt.Sprintf("expected %d answers, got %d", len(quiz.Questions), len(sq.Answers)),
		})
	}

	result := QuizResult{Total: len(quiz.Questions), Results: make([]QuestionResult, 0, len(quiz.Questions))}
	for i, q := range quiz.Questions {
		correct := sq.Answers[i] == q.Answer()
		if correct {
			result.Correct++
		}
		result.Results = append(result.Results, QuestionResult{
			QuestionID:  q.ID,
			Answer:      sq.Answers[i],
			AnswerIndex: q.Answer(),
			Correct:     correct,
			Explanation: q.Explanation,
		})
	}

	passScore := quiz.PassScore
	if passScore <= 0 {
		passScore = svc.passScore
	}
	score := Score(result.Correct, result.Total)
	attempt, err := svc.repo.CreateQuizAttempt(ctx, QuizAttempt{
		EnrollmentID: e.ID,
		QuizID:       quiz.ID,
		Answers:      sq.Answers,
		Score:        score,
		Passed:       score >= passScore,
		CreatedAt:    core.Now(),
	})
	if err != nil {
		return QuizResult{}, errors.Wrap(err, "creating quiz attempt")
	}
	result.Attempt = attempt

	if attempt.Passed {
		metrics.QuizAttempts.WithLabelValues("passed").Inc()
		if e, err = svc.completeLesson(ctx, e, c, quiz.LessonID); err != nil {
			return QuizResult{}, err
		}
		result.LessonCompleted = true
	} else {
		metrics.QuizAttempts.WithLabelValues("failed").Inc()
		e.LastActivityAt = attempt.CreatedAt
		if e, err = svc.repo.UpdateEnrollment(ctx, e); err != nil {
			return QuizResult{}, errors.Wrap(err, "updating enrollment")
		}
	}
	result.Enrollment = e
	return result, nil
}

func (svc *Service) QuizAttempts(ctx context.Context, actor user.User, id string) ([]QuizAttempt, error) {
	e, err := svc.getOwn(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	attempts, err := svc.repo.ListQuizAttempts(ctx, e.ID)
	return attempts, errors.Wrap(err, "listing quiz attempts")
}

// CourseStats returns the learning analytics of a course owned by `actor` (or any course for admins).
func (svc *Service) CourseStats(ctx context.Context, actor user.User, courseID string) (CourseStats, error) {
	c, err := svc.courses.GetEditable(ctx, actor, courseID)
	if err != nil {
		return CourseStats{}, err
	}
	return svc.courseStats(ctx, c)
}

func (svc *Service) courseStats(ctx context.Context, c course.Course) (CourseStats, error) {
	stats := CourseStats{
		CourseID:    c.ID,
		CourseTitle: c.Title,
		IsPublished: c.IsPublished,
		Lessons:     c.LessonCount(),
	}

	enrollments, err := svc.repo.QueryEnrollments(ctx, &QueryFilter{CourseID: c.ID}, core.Page{Number: 1, Size: maxStatsRows})
	if err != nil {
		return CourseStats{}, errors.Wrap(err, "querying course enrollments")
	}
	var progressSum int
	for _, e := range enrollments {
		stats.Enrollments++
		progressSum += e.Progress
		if e.Status == StatusCompleted {
			stats.Completed++
		} else {
			stats.Active++
		}
	}
	if stats.Enrollments > 0 {
		stats.CompletionRate = percent(stats.Completed, stats.Enrollments)
		stats.AverageProgress = round2(float64(progressSum) / float64(stats.Enrollments))
	}

	attempts, err := svc.repo.ListCourseQuizAttempts(ctx, c.ID)
	if err != nil {
		return CourseStats{}, errors.Wrap(err, "listing course quiz attempts")
	}
	var scoreSum, passed int
	for _, a := range attempts {
		stats.QuizAttempts++
		scoreSum += a.Score
		if a.Passed {
			passed++
		}
	}
	if stats.QuizAttempts > 0 {
		stats.AverageQuizScore = round2(float64(scoreSum) / float64(stats.QuizAttempts))
		stats.QuizPassRate = percent(passed, stats.QuizAttempts)
	}
	return stats, nil
}

// CreatorDashboard aggregates the stats of every course owned by `actor`.
func (svc *Service) CreatorDashboard(ctx context.Context, actor user.User) (Dashboard, error) {
	if !actor.CanAuthor() {
		return Dashboard{}, core.ErrForbidden
	}
	courses, err := svc.courses.QueryOwned(ctx, actor.ID)
	if err != nil {
		return Dashboard{}, err
	}

	dash := Dashboard{Stats: make([]CourseStats, 0, len(courses))}
	for _, c := range courses {
		// listings come without modules
		graph, err := svc.courses.GetByID(ctx, c.ID)
		if err != nil {
			return Dashboard{}, errors.Wrap(err, "finding course")
		}
		stats, err := svc.courseStats(ctx, graph)
		if err != nil {
			return Dashboard{}, err
		}
		dash.Courses++
		if c.IsPublished {
			dash.PublishedCourses++
		}
		dash.Enrollments += stats.Enrollments
		dash.Completed += stats.Completed
		dash.Stats = append(dash.Stats, stats)
	}
	return dash, nil
}

func percent(n, total int) float64 {
	return round2(float64(n) * 100 / float64(total))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
