package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/enrollment"
)

const (
	enrollmentTable = "enrollment"
	progressTable   = "lesson_progress"
	attemptTable    = "quiz_attempt"
)

var (
	enrollmentColumns = []string{"id", "user_id", "course_id", "status", "progress", "enrolled_at", "completed_at", "last_activity_at"}
	progressColumns   = []string{"enrollment_id", "lesson_id", "completed_at"}
	attemptColumns    = []string{"id", "enrollment_id", "quiz_id", "answers", "score", "passed", "created_at"}
)

type (
	enrollmentRow struct {
		ID             string    `db:"id"`
		UserID         string    `db:"user_id"`
		CourseID       string    `db:"course_id"`
		Status         string    `db:"status"`
		Progress       int       `db:"progress"`
		EnrolledAt     time.Time `db:"enrolled_at"`
		CompletedAt    null.Time `db:"completed_at"`
		LastActivityAt time.Time `db:"last_activity_at"`
	}

	progressRow struct {
		EnrollmentID string    `db:"enrollment_id"`
		LessonID     string    `db:"lesson_id"`
		CompletedAt  time.Time `db:"completed_at"`
	}

	attemptRow struct {
		ID           string        `db:"id"`
		EnrollmentID string        `db:"enrollment_id"`
		QuizID       string        `db:"quiz_id"`
		Answers      pq.Int64Array `db:"answers"`
		Score        int           `db:"score"`
		Passed       bool          `db:"passed"`
		CreatedAt    time.Time     `db:"created_at"`
	}
)

func (row enrollmentRow) toEnrollment() enrollment.Enrollment {
	e := enrollment.Enrollment{
		ID:             row.ID,
		UserID:         row.UserID,
		CourseID:       row.CourseID,
		Status:         row.Status,
		Progress:       row.Progress,
		EnrolledAt:     row.EnrolledAt.UTC(),
		LastActivityAt: row.LastActivityAt.UTC(),
	}
	if row.CompletedAt.Valid {
		t := row.CompletedAt.Time.UTC()
		e.CompletedAt = &t
	}
	return e
}

func (row attemptRow) toAttempt() enrollment.QuizAttempt {
	answers := make([]int, 0, len(row.Answers))
	for _, a := range row.Answers {
		answers = append(answers, int(a))
	}
	return enrollment.QuizAttempt{
		ID:           row.ID,
		EnrollmentID: row.EnrollmentID,
		QuizID:       row.QuizID,
		Answers:      answers,
		Score:        row.Score,
		Passed:       row.Passed,
		CreatedAt:    row.CreatedAt.UTC(),
	}
}

type enrollmentRepository struct {
	db *sqlx.DB
}

var _ enrollment.Repository = (*enrollmentRepository)(nil) // interface compliance check

func NewEnrollmentRepository(db *sqlx.DB) *enrollmentRepository {
	return &enrollmentRepository{db: db}
}

func (repo *enrollmentRepository) CreateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	e.ID = uuid.NewString()
	e.CompletedLessons = nil
	q := psql.Insert(enrollmentTable).Columns(enrollmentColumns...).Values(
		e.ID, e.UserID, e.CourseID, e.Status, e.Progress, e.EnrolledAt.UTC(), nullTimePtr(e.CompletedAt), e.LastActivityAt.UTC(),
	)
	if _, err := exec(ctx, repo.db, q); err != nil {
		if isUniqueViolation(err, "enrollment_user_id_course_id_key") {
			return enrollment.Enrollment{}, enrollment.ErrAlreadyEnrolled
		}
		return enrollment.Enrollment{}, errors.Wrap(err, "inserting enrollment")
	}
	return e, nil
}

func (repo *enrollmentRepository) getEnrollment(ctx context.Context, where sq.Eq) (enrollment.Enrollment, error) {
	var row enrollmentRow
	if err := get(ctx, repo.db, &row, psql.Select(enrollmentColumns...).From(enrollmentTable).Where(where)); err != nil {
		return enrollment.Enrollment{}, noRows(err, enrollment.ErrNotFound, "getting enrollment")
	}
	return row.toEnrollment(), nil
}

func (repo *enrollmentRepository) GetEnrollment(ctx context.Context, id string) (enrollment.Enrollment, error) {
	if !validID(id) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return repo.getEnrollment(ctx, sq.Eq{"id": id})
}

func (repo *enrollmentRepository) FindEnrollment(ctx context.Context, userID, courseID string) (enrollment.Enrollment, error) {
	if !validID(userID) || !validID(courseID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	return repo.getEnrollment(ctx, sq.Eq{"user_id": userID, "course_id": courseID})
}

func (repo *enrollmentRepository) QueryEnrollments(ctx context.Context, filter *enrollment.QueryFilter, page core.Page) ([]enrollment.Enrollment, error) {
	q := psql.Select(enrollmentColumns...).From(enrollmentTable)
	if filter != nil {
		if filter.UserID != "" {
			q = q.Where(sq.Eq{"user_id": validIDs(filter.UserID)})
		}
		if filter.CourseID != "" {
			q = q.Where(sq.Eq{"course_id": validIDs(filter.CourseID)})
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
	}
	q = paginate(q.OrderBy(orderBy(nil, core.DBOrdering{Field: "enrolled_at"})...), page)

	var rows []enrollmentRow
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying enrollments")
	}
	enrollments := make([]enrollment.Enrollment, 0, len(rows))
	for _, row := range rows {
		enrollments = append(enrollments, row.toEnrollment())
	}
	return enrollments, nil
}

func (repo *enrollmentRepository) UpdateEnrollment(ctx context.Context, e enrollment.Enrollment) (enrollment.Enrollment, error) {
	if !validID(e.ID) {
		return enrollment.Enrollment{}, enrollment.ErrNotFound
	}
	q := psql.Update(enrollmentTable).SetMap(map[string]interface{}{
		"status":           e.Status,
		"progress":         e.Progress,
		"completed_at":     nullTimePtr(e.CompletedAt),
		"last_activity_at": e.LastActivityAt.UTC(),
	}).Where(sq.Eq{"id": e.ID}).Suffix("RETURNING " + joinColumns(enrollmentColumns))

	var row enrollmentRow
	if err := get(ctx, repo.db, &row, q); err != nil {
		return enrollment.Enrollment{}, noRows(err, enrollment.ErrNotFound, "updating enrollment")
	}
	return row.toEnrollment(), nil
}

// DeleteEnrollment deletes the enrollment; its progress & quiz attempts cascade.
func (repo *enrollmentRepository) DeleteEnrollment(ctx context.Context, id string) error {
	return deleteByID(ctx, repo.db, enrollmentTable, id, enrollment.ErrNotFound)
}

func (repo *enrollmentRepository) AddLessonProgress(ctx context.Context, p enrollment.LessonProgress) (bool, error) {
	if !validID(p.EnrollmentID) {
		return false, enrollment.ErrNotFound
	}
	q := psql.Insert(progressTable).Columns(progressColumns...).
		Values(p.EnrollmentID, p.LessonID, p.CompletedAt.UTC()).
		Suffix("ON CONFLICT (enrollment_id, lesson_id) DO NOTHING")
	n, err := exec(ctx, repo.db, q)
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, enrollment.ErrNotFound
		}
		return false, errors.Wrap(err, "inserting lesson progress")
	}
	return n > 0, nil
}

func (repo *enrollmentRepository) ListLessonProgress(ctx context.Context, enrollmentID string) ([]enrollment.LessonProgress, error) {
	progress := make([]enrollment.LessonProgress, 0)
	if !validID(enrollmentID) {
		return progress, nil
	}
	var rows []progressRow
	q := psql.Select(progressColumns...).From(progressTable).Where(sq.Eq{"enrollment_id": enrollmentID}).OrderBy("completed_at", "lesson_id")
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "listing lesson progress")
	}
	for _, row := range rows {
		progress = append(progress, enrollment.LessonProgress{
			EnrollmentID: row.EnrollmentID,
			LessonID:     row.LessonID,
			CompletedAt:  row.CompletedAt.UTC(),
		})
	}
	return progress, nil
}

func (repo *enrollmentRepository) CreateQuizAttempt(ctx context.Context, a enrollment.QuizAttempt) (enrollment.QuizAttempt, error) {
	if !validID(a.EnrollmentID) {
		return enrollment.QuizAttempt{}, enrollment.ErrNotFound
	}
	a.ID = uuid.NewString()
	answers := make(pq.Int64Array, 0, len(a.Answers))
	for _, ans := range a.Answers {
		answers = append(answers, int64(ans))
	}
	q := psql.Insert(attemptTable).Columns(attemptColumns...).
		Values(a.ID, a.EnrollmentID, a.QuizID, answers, a.Score, a.Passed, a.CreatedAt.UTC())
	if _, err := exec(ctx, repo.db, q); err != nil {
		if isForeignKeyViolation(err) {
			return enrollment.QuizAttempt{}, enrollment.ErrNotFound
		}
		return enrollment.QuizAttempt{}, errors.Wrap(err, "inserting quiz attempt")
	}
	if a.Answers == nil {
		a.Answers = []int{}
	}
	return a, nil
}

func (repo *enrollmentRepository) listAttempts(ctx context.Context, q sq.SelectBuilder) ([]enrollment.QuizAttempt, error) {
	var rows []attemptRow
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "listing quiz attempts")
	}
	attempts := make([]enrollment.QuizAttempt, 0, len(rows))
	for _, row := range rows {
		attempts = append(attempts, row.toAttempt())
	}
	return attempts, nil
}

func (repo *enrollmentRepository) ListQuizAttempts(ctx context.Context, enrollmentID string) ([]enrollment.QuizAttempt, error) {
	q := psql.Select(attemptColumns...).From(attemptTable).
		Where(sq.Eq{"enrollment_id": validIDs(enrollmentID)}).
		OrderBy("created_at", "id")
	return repo.listAttempts(ctx, q)
}

func (repo *enrollmentRepository) ListCourseQuizAttempts(ctx context.Context, courseID string) ([]enrollment.QuizAttempt, error) {
	columns := make([]string, 0, len(attemptColumns))
	for _, col := range attemptColumns {
		columns = append(columns, "a."+col)
	}
	q := psql.Select(columns...).From(attemptTable+" a").
		Join(enrollmentTable+" e ON e.id = a.enrollment_id").
		Where(sq.Eq{"e.course_id": validIDs(courseID)}).
		OrderBy("a.created_at", "a.id")
	return repo.listAttempts(ctx, q)
}
