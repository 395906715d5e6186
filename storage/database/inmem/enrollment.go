package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/enrollment"
)

type enrollmentRepository struct {
	db *DB
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *DB) *enrollmentRepository {
	return &enrollmentRepository{db: db}
}

func cloneEnrollment(e enrollment.Enrollment) enrollment.Enrollment {
	e.CompletedAt = cloneTime(e.CompletedAt)
	e.CompletedLessons = nil
	return e
}

func cloneAttempt(a enrollment.QuizAttempt) enrollment.QuizAttempt {
	a.Answers = append([]int{}, a.Answers...)
	return a
}

func (repo *enrollmentRepository) CreateEnrollment(_ context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, other := range repo.db.enrollments {
		if other.UserID == e.UserID && other.CourseID == e.CourseID {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
	}
	e = cloneEnrollment(e)
	e.ID = uuid.NewString()
	repo.db.enrollments[e.ID] = &e
	return cloneEnrollment(e), nil
}

func (repo *enrollmentRepository) GetEnrollment(_ context.Context, id string) (enrollment.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if e, ok := repo.db.enrollments[id]; ok {
		return cloneEnrollment(*e), nil
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) FindEnrollment(_ context.Context, userID, courseID string) (enrollment.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, e := range repo.db.enrollments {
		if e.UserID == userID && e.CourseID == courseID {
			return cloneEnrollment(*e), nil
		}
	}
	return enrollment.Enrollment{}, enrollment.ErrNotFound
}

func (repo *enrollmentRepository) QueryEnrollments(_ context.Context, filter *enrollment.QueryFilter, page core.Page) ([]enrollment.Enrollment, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	enrollments := make([]enrollment.Enrollment, 0)
	for _, e := range repo.db.enrollments {
		if filter != nil {
			if filter.UserID != "" && e.UserID != filter.UserID {
				continue
			}
			if filter.CourseID != "" && e.CourseID != filter.CourseID {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
		}
		enrollments = append(enrollments, cloneEnrollment(*e))
	}

	orderBy(enrollments, nil, core.DBOrdering{Field: "enrolled_at"}, func(a, b enrollment.Enrollment, _ string) int {
		return cmpTimes(a.EnrolledAt, b.EnrolledAt)
	})
	return paginate(enrollments, page), nil
}

func (repo *enrollmentRepository) UpdateEnrollment(_ context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.enrollments[e.ID]
	if !ok {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	orig.Status = e.Status
	orig.Progress = e.Progress
	orig.CompletedAt = cloneTime(e.CompletedAt)
	orig.LastActivityAt = e.LastActivityAt
	return cloneEnrollment(*orig), nil
}

func (repo *enrollmentRepository) DeleteEnrollment(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.enrollments[id]; !ok {
		return enrollment.ErrNotFound
	}
	repo.db.deleteEnrollment(id)
	return nil
}

// deleteEnrollment cascades to the progress & quiz attempts. The caller holds the write lock.
func (db *DB) deleteEnrollment(id string) {
	delete(db.enrollments, id)
	delete(db.progress, id)
	attempts := db.attempts[:0]
	for _, a := range db.attempts {
		if a.EnrollmentID != id {
			attempts = append(attempts, a)
		}
	}
	db.attempts = attempts
}

func (repo *enrollmentRepository) AddLessonProgress(_ context.Context, p enrollment.LessonProgress) (bool, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.enrollments[p.EnrollmentID]; !ok {
		return false, enrollment.ErrNotFound
	}
	progress, ok := repo.db.progress[p.EnrollmentID]
	if !ok {
		progress = make(map[string]enrollment.LessonProgress)
		repo.db.progress[p.EnrollmentID] = progress
	}
	if _, done := progress[p.LessonID]; done {
		return false, nil
	}
	progress[p.LessonID] = p
	return true, nil
}

func (repo *enrollmentRepository) ListLessonProgress(_ context.Context, enrollmentID string) ([]enrollment.LessonProgress, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	progress := make([]enrollment.LessonProgress, 0, len(repo.db.progress[enrollmentID]))
	for _, p := range repo.db.progress[enrollmentID] {
		progress = append(progress, p)
	}
	orderBy(progress, nil, core.DBOrdering{Field: "completed_at", Ascending: true}, func(a, b enrollment.LessonProgress, _ string) int {
		if c := cmpTimes(a.CompletedAt, b.CompletedAt); c != 0 {
			return c
		}
		return cmpStrings(a.LessonID, b.LessonID)
	})
	return progress, nil
}

func (repo *enrollmentRepository) CreateQuizAttempt(_ context.Context, a enrollment.QuizAttempt) (enrollment.QuizAttempt, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.enrollments[a.EnrollmentID]; !ok {
		return enrollment.QuizAttempt{}, enrollment.ErrNotFound
	}
	a = cloneAttempt(a)
	a.ID = uuid.NewString()
	repo.db.attempts = append(repo.db.attempts, a)
	return cloneAttempt(a), nil
}

func (repo *enrollmentRepository) ListQuizAttempts(_ context.Context, enrollmentID string) ([]enrollment.QuizAttempt, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	attempts := make([]enrollment.QuizAttempt, 0)
	for _, a := range repo.db.attempts {
		if a.EnrollmentID == enrollmentID {
			attempts = append(attempts, cloneAttempt(a))
		}
	}
	return attempts, nil
}

func (repo *enrollmentRepository) ListCourseQuizAttempts(_ context.Context, courseID string) ([]enrollment.QuizAttempt, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	attempts := make([]enrollment.QuizAttempt, 0)
	for _, a := range repo.db.attempts {
		if e, ok := repo.db.enrollments[a.EnrollmentID]; ok && e.CourseID == courseID {
			attempts = append(attempts, cloneAttempt(a))
		}
	}
	return attempts, nil
}
