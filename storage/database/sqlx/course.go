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
	"github.com/trezcool/somo/core/course"
)

const (
	courseTable   = "course"
	moduleTable   = "course_module"
	lessonTable   = "lesson"
	citationTable = "lesson_citation"
	quizTable     = "quiz"
	questionTable = "quiz_question"
)

var (
	courseColumns = []string{
		"id", "owner_id", "document_id", "title", "slug", "description", "difficulty", "estimated_minutes", "tags",
		"is_published", "published_at", "created_at", "updated_at",
	}
	moduleColumns   = []string{"id", "course_id", "position", "title", "description"}
	lessonColumns   = []string{"id", "module_id", "position", "title", "summary", "content", "objectives", "estimated_minutes"}
	citationColumns = []string{"id", "lesson_id", "number", "start_offset", "end_offset", "excerpt"}
	quizColumns     = []string{"id", "lesson_id", "title", "pass_score"}
	questionColumns = []string{"id", "quiz_id", "position", "prompt", "options", "answer_index", "explanation"}
)

type (
	courseRow struct {
		ID               string         `db:"id"`
		OwnerID          string         `db:"owner_id"`
		DocumentID       null.String    `db:"document_id"`
		Title            string         `db:"title"`
		Slug             string         `db:"slug"`
		Description      string         `db:"description"`
		Difficulty       string         `db:"difficulty"`
		EstimatedMinutes int            `db:"estimated_minutes"`
		Tags             pq.StringArray `db:"tags"`
		IsPublished      bool           `db:"is_published"`
		PublishedAt      null.Time      `db:"published_at"`
		CreatedAt        time.Time      `db:"created_at"`
		UpdatedAt        time.Time      `db:"updated_at"`
	}

	moduleRow struct {
		ID          string `db:"id"`
		CourseID    string `db:"course_id"`
		Position    int    `db:"position"`
		Title       string `db:"title"`
		Description string `db:"description"`
	}

	lessonRow struct {
		ID               string         `db:"id"`
		ModuleID         string         `db:"module_id"`
		Position         int            `db:"position"`
		Title            string         `db:"title"`
		Summary          string         `db:"summary"`
		Content          string         `db:"content"`
		Objectives       pq.StringArray `db:"objectives"`
		EstimatedMinutes int            `db:"estimated_minutes"`
	}

	citationRow struct {
		ID       string `db:"id"`
		LessonID string `db:"lesson_id"`
		Number   int    `db:"number"`
		Start    int    `db:"start_offset"`
		End      int    `db:"end_offset"`
		Excerpt  string `db:"excerpt"`
	}

	quizRow struct {
		ID        string `db:"id"`
		LessonID  string `db:"lesson_id"`
		Title     string `db:"title"`
		PassScore int    `db:"pass_score"`
	}

	questionRow struct {
		ID          string         `db:"id"`
		QuizID      string         `db:"quiz_id"`
		Position    int            `db:"position"`
		Prompt      string         `db:"prompt"`
		Options     pq.StringArray `db:"options"`
		AnswerIndex int            `db:"answer_index"`
		Explanation string         `db:"explanation"`
	}
)

func (row courseRow) toCourse() course.Course {
	c := course.Course{
		ID:               row.ID,
		OwnerID:          row.OwnerID,
		DocumentID:       row.DocumentID.String,
		Title:            row.Title,
		Slug:             row.Slug,
		Description:      row.Description,
		Difficulty:       row.Difficulty,
		EstimatedMinutes: row.EstimatedMinutes,
		Tags:             []string(row.Tags),
		IsPublished:      row.IsPublished,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	if row.PublishedAt.Valid {
		t := row.PublishedAt.Time.UTC()
		c.PublishedAt = &t
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}

func nullTimePtr(t *time.Time) null.Time {
	if t == nil {
		return null.Time{}
	}
	return null.TimeFrom(t.UTC())
}

func stringArray(ss []string) pq.StringArray {
	if ss == nil {
		return pq.StringArray{}
	}
	return pq.StringArray(ss)
}

type courseRepository struct {
	db *sqlx.DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *sqlx.DB) *courseRepository {
	return &courseRepository{db: db}
}

// CreateCourse inserts the whole graph in one transaction.
func (repo *courseRepository) CreateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	c.ID = uuid.NewString()
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := psql.Insert(courseTable).Columns(courseColumns...).Values(
			c.ID, c.OwnerID, null.NewString(c.DocumentID, c.DocumentID != ""), c.Title, c.Slug, c.Description,
			c.Difficulty, c.EstimatedMinutes, stringArray(c.Tags), c.IsPublished, nullTimePtr(c.PublishedAt),
			c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
		)
		if _, err := exec(ctx, tx, q); err != nil {
			if isUniqueViolation(err, "course_owner_id_slug_key") {
				return errors.Errorf("duplicate course slug %q", c.Slug)
			}
			return errors.Wrap(err, "inserting course")
		}
		for mi := range c.Modules {
			c.Modules[mi].CourseID = c.ID
			if err := insertModule(ctx, tx, &c.Modules[mi]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return course.Course{}, err
	}
	return c, nil
}

// insertModule inserts the module and its lessons, assigning their IDs.
func insertModule(ctx context.Context, tx queryer, m *course.Module) error {
	m.ID = uuid.NewString()
	q := psql.Insert(moduleTable).Columns(moduleColumns...).Values(m.ID, m.CourseID, m.Position, m.Title, m.Description)
	if _, err := exec(ctx, tx, q); err != nil {
		return errors.Wrap(err, "inserting module")
	}
	for li := range m.Lessons {
		m.Lessons[li].ModuleID = m.ID
		if err := insertLesson(ctx, tx, &m.Lessons[li]); err != nil {
			return err
		}
	}
	if m.Lessons == nil {
		m.Lessons = []course.Lesson{}
	}
	return nil
}

func insertLesson(ctx context.Context, tx queryer, l *course.Lesson) error {
	l.ID = uuid.NewString()
	if l.Objectives == nil {
		l.Objectives = []string{}
	}
	q := psql.Insert(lessonTable).Columns(lessonColumns...).Values(
		l.ID, l.ModuleID, l.Position, l.Title, l.Summary, l.Content, stringArray(l.Objectives), l.EstimatedMinutes,
	)
	if _, err := exec(ctx, tx, q); err != nil {
		return errors.Wrap(err, "inserting lesson")
	}
	if err := insertCitations(ctx, tx, l); err != nil {
		return err
	}
	return insertQuiz(ctx, tx, l)
}

func insertCitations(ctx context.Context, tx queryer, l *course.Lesson) error {
	if l.Citations == nil {
		l.Citations = []course.Citation{}
	}
	if len(l.Citations) == 0 {
		return nil
	}
	q := psql.Insert(citationTable).Columns(citationColumns...)
	for ci := range l.Citations {
		cit := &l.Citations[ci]
		if cit.ID == "" {
			cit.ID = uuid.NewString()
		}
		cit.LessonID = l.ID
		q = q.Values(cit.ID, cit.LessonID, cit.Number, cit.Start, cit.End, cit.Excerpt)
	}
	_, err := exec(ctx, tx, q)
	return errors.Wrap(err, "inserting citations")
}

func insertQuiz(ctx context.Context, tx queryer, l *course.Lesson) error {
	quiz := l.Quiz
	if quiz == nil {
		return nil
	}
	quiz.ID = uuid.NewString()
	quiz.LessonID = l.ID
	q := psql.Insert(quizTable).Columns(quizColumns...).Values(quiz.ID, quiz.LessonID, quiz.Title, quiz.PassScore)
	if _, err := exec(ctx, tx, q); err != nil {
		return errors.Wrap(err, "inserting quiz")
	}
	if len(quiz.Questions) == 0 {
		return nil
	}

	qq := psql.Insert(questionTable).Columns(questionColumns...)
	for qi := range quiz.Questions {
		question := &quiz.Questions[qi]
		question.ID = uuid.NewString()
		question.QuizID = quiz.ID
		qq = qq.Values(question.ID, question.QuizID, question.Position, question.Prompt,
			stringArray(question.Options), question.Answer(), question.Explanation)
	}
	_, err := exec(ctx, tx, qq)
	return errors.Wrap(err, "inserting questions")
}

func (repo *courseRepository) GetCourse(ctx context.Context, id string) (course.Course, error) {
	if !validID(id) {
		return course.Course{}, course.ErrNotFound
	}
	var row courseRow
	if err := get(ctx, repo.db, &row, psql.Select(courseColumns...).From(courseTable).Where(sq.Eq{"id": id})); err != nil {
		return course.Course{}, noRows(err, course.ErrNotFound, "getting course")
	}
	c := row.toCourse()

	var modules []moduleRow
	q := psql.Select(moduleColumns...).From(moduleTable).Where(sq.Eq{"course_id": id}).OrderBy("position", "id")
	if err := selectAll(ctx, repo.db, &modules, q); err != nil {
		return course.Course{}, errors.Wrap(err, "getting modules")
	}
	moduleIDs := make([]string, 0, len(modules))
	for _, m := range modules {
		moduleIDs = append(moduleIDs, m.ID)
	}
	lessons, err := loadLessons(ctx, repo.db, moduleIDs)
	if err != nil {
		return course.Course{}, err
	}

	c.Modules = make([]course.Module, 0, len(modules))
	for _, m := range modules {
		c.Modules = append(c.Modules, toModule(m, lessons[m.ID]))
	}
	return c, nil
}

func toModule(row moduleRow, lessons []course.Lesson) course.Module {
	if lessons == nil {
		lessons = []course.Lesson{}
	}
	return course.Module{
		ID:          row.ID,
		CourseID:    row.CourseID,
		Position:    row.Position,
		Title:       row.Title,
		Description: row.Description,
		Lessons:     lessons,
	}
}

// loadLessons returns the lessons of the modules with their citations & quiz, by module ID, in position order.
func loadLessons(ctx context.Context, q sqlx.QueryerContext, moduleIDs []string) (map[string][]course.Lesson, error) {
	byModule := make(map[string][]course.Lesson, len(moduleIDs))
	if len(moduleIDs) == 0 {
		return byModule, nil
	}

	var rows []lessonRow
	lq := psql.Select(lessonColumns...).From(lessonTable).Where(sq.Eq{"module_id": moduleIDs}).OrderBy("position", "id")
	if err := selectAll(ctx, q, &rows, lq); err != nil {
		return nil, errors.Wrap(err, "getting lessons")
	}
	if len(rows) == 0 {
		return byModule, nil
	}
	lessonIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		lessonIDs = append(lessonIDs, row.ID)
	}

	citations, err := loadCitations(ctx, q, lessonIDs)
	if err != nil {
		return nil, err
	}
	quizzes, err := loadQuizzes(ctx, q, lessonIDs)
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		l := course.Lesson{
			ID:               row.ID,
			ModuleID:         row.ModuleID,
			Position:         row.Position,
			Title:            row.Title,
			Summary:          row.Summary,
			Content:          row.Content,
			Objectives:       []string(row.Objectives),
			EstimatedMinutes: row.EstimatedMinutes,
			Citations:        citations[row.ID],
			Quiz:             quizzes[row.ID],
		}
		if l.Objectives == nil {
			l.Objectives = []string{}
		}
		if l.Citations == nil {
			l.Citations = []course.Citation{}
		}
		byModule[row.ModuleID] = append(byModule[row.ModuleID], l)
	}
	return byModule, nil
}

func loadCitations(ctx context.Context, q sqlx.QueryerContext, lessonIDs []string) (map[string][]course.Citation, error) {
	var rows []citationRow
	cq := psql.Select(citationColumns...).From(citationTable).Where(sq.Eq{"lesson_id": lessonIDs}).OrderBy("number", "id")
	if err := selectAll(ctx, q, &rows, cq); err != nil {
		return nil, errors.Wrap(err, "getting citations")
	}
	byLesson := make(map[string][]course.Citation)
	for _, row := range rows {
		byLesson[row.LessonID] = append(byLesson[row.LessonID], course.Citation{
			ID:       row.ID,
			LessonID: row.LessonID,
			Number:   row.Number,
			Start:    row.Start,
			End:      row.End,
			Excerpt:  row.Excerpt,
		})
	}
	return byLesson, nil
}

func loadQuizzes(ctx context.Context, q sqlx.QueryerContext, lessonIDs []string) (map[string]*course.Quiz, error) {
	var quizRows []quizRow
	if err := selectAll(ctx, q, &quizRows, psql.Select(quizColumns...).From(quizTable).Where(sq.Eq{"lesson_id": lessonIDs})); err != nil {
		return nil, errors.Wrap(err, "getting quizzes")
	}
	byLesson := make(map[string]*course.Quiz, len(quizRows))
	if len(quizRows) == 0 {
		return byLesson, nil
	}

	byID := make(map[string]*course.Quiz, len(quizRows))
	quizIDs := make([]string, 0, len(quizRows))
	for _, row := range quizRows {
		quiz := &course.Quiz{ID: row.ID, LessonID: row.LessonID, Title: row.Title, PassScore: row.PassScore, Questions: []course.Question{}}
		byLesson[row.LessonID] = quiz
		byID[row.ID] = quiz
		quizIDs = append(quizIDs, row.ID)
	}

	var questionRows []questionRow
	qq := psql.Select(questionColumns...).From(questionTable).Where(sq.Eq{"quiz_id": quizIDs}).OrderBy("position", "id")
	if err := selectAll(ctx, q, &questionRows, qq); err != nil {
		return nil, errors.Wrap(err, "getting questions")
	}
	for _, row := range questionRows {
		quiz := byID[row.QuizID]
		quiz.Questions = append(quiz.Questions, course.Question{
			ID:          row.ID,
			QuizID:      row.QuizID,
			Position:    row.Position,
			Prompt:      row.Prompt,
			Options:     []string(row.Options),
			AnswerIndex: course.IntPtr(row.AnswerIndex),
			Explanation: row.Explanation,
		})
	}
	return byLesson, nil
}

func (repo *courseRepository) QueryCourses(ctx context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]course.Course, error) {
	q := psql.Select(courseColumns...).From(courseTable)
	if filter != nil {
		if filter.OwnerID != "" {
			q = q.Where(sq.Eq{"owner_id": validIDs(filter.OwnerID)})
		}
		if filter.Published != nil {
			q = q.Where(sq.Eq{"is_published": *filter.Published})
		}
		if filter.Search != "" {
			pattern := likePattern(filter.Search)
			q = q.Where(sq.Or{sq.ILike{"title": pattern}, sq.ILike{"description": pattern}})
		}
		if filter.Difficulty != "" {
			q = q.Where(sq.Eq{"difficulty": filter.Difficulty})
		}
		if filter.Tag != "" {
			q = q.Where("? = ANY(tags)", filter.Tag)
		}
	}
	q = paginate(q.OrderBy(orderBy(ordering, core.DBOrdering{Field: "created_at"})...), page)

	var rows []courseRow
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying courses")
	}
	courses := make([]course.Course, 0, len(rows))
	for _, row := range rows {
		courses = append(courses, row.toCourse())
	}
	return courses, nil
}

func (repo *courseRepository) SlugExists(ctx context.Context, ownerID, slug, excludedID string) (bool, error) {
	if !validID(ownerID) {
		return false, nil
	}
	q := psql.Select("COUNT(*)").From(courseTable).Where(sq.Eq{"owner_id": ownerID, "slug": slug})
	if validID(excludedID) {
		q = q.Where(sq.NotEq{"id": excludedID})
	}
	var n int
	if err := get(ctx, repo.db, &n, q); err != nil {
		return false, errors.Wrap(err, "checking course slug")
	}
	return n > 0, nil
}

func (repo *courseRepository) UpdateCourse(ctx context.Context, c course.Course) (course.Course, error) {
	if !validID(c.ID) {
		return course.Course{}, course.ErrNotFound
	}
	q := psql.Update(courseTable).SetMap(map[string]interface{}{
		"title":             c.Title,
		"slug":              c.Slug,
		"description":       c.Description,
		"difficulty":        c.Difficulty,
		"estimated_minutes": c.EstimatedMinutes,
		"tags":              stringArray(c.Tags),
		"is_published":      c.IsPublished,
		"published_at":      nullTimePtr(c.PublishedAt),
		"updated_at":        c.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": c.ID}).Suffix("RETURNING " + joinColumns(courseColumns))

	var row courseRow
	if err := get(ctx, repo.db, &row, q); err != nil {
		return course.Course{}, noRows(err, course.ErrNotFound, "updating course")
	}
	return row.toCourse(), nil
}

// DeleteCourse deletes the course graph; enrollments, progress & quiz attempts cascade.
func (repo *courseRepository) DeleteCourse(ctx context.Context, id string) error {
	return deleteByID(ctx, repo.db, courseTable, id, course.ErrNotFound)
}

func deleteByID(ctx context.Context, e sqlx.ExecerContext, table, id string, notFound error) error {
	if !validID(id) {
		return notFound
	}
	n, err := exec(ctx, e, psql.Delete(table).Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrapf(err, "deleting from %s", table)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (repo *courseRepository) CreateModule(ctx context.Context, m course.Module) (course.Module, error) {
	if !validID(m.CourseID) {
		return course.Module{}, course.ErrNotFound
	}
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		return insertModule(ctx, tx, &m)
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return course.Module{}, course.ErrNotFound
		}
		return course.Module{}, err
	}
	return m, nil
}

func (repo *courseRepository) UpdateModule(ctx context.Context, m course.Module) (course.Module, error) {
	if !validID(m.ID) {
		return course.Module{}, course.ErrModuleNotFound
	}
	q := psql.Update(moduleTable).
		SetMap(map[string]interface{}{"title": m.Title, "description": m.Description}).
		Where(sq.Eq{"id": m.ID}).
		Suffix("RETURNING " + joinColumns(moduleColumns))

	var row moduleRow
	if err := get(ctx, repo.db, &row, q); err != nil {
		return course.Module{}, noRows(err, course.ErrModuleNotFound, "updating module")
	}
	lessons, err := loadLessons(ctx, repo.db, []string{row.ID})
	if err != nil {
		return course.Module{}, err
	}
	return toModule(row, lessons[row.ID]), nil
}

// DeleteModule deletes the module and its lessons; their progress & quiz attempts cascade.
func (repo *courseRepository) DeleteModule(ctx context.Context, id string) error {
	return deleteByID(ctx, repo.db, moduleTable, id, course.ErrModuleNotFound)
}

func (repo *courseRepository) ReorderModules(ctx context.Context, courseID string, moduleIDs []string) error {
	if !validID(courseID) {
		return course.ErrNotFound
	}
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var n int
		if err := get(ctx, tx, &n, psql.Select("COUNT(*)").From(courseTable).Where(sq.Eq{"id": courseID})); err != nil {
			return errors.Wrap(err, "checking course")
		}
		if n == 0 {
			return course.ErrNotFound
		}
		for i, id := range moduleIDs {
			if !validID(id) {
				continue
			}
			q := psql.Update(moduleTable).Set("position", i+1).Where(sq.Eq{"id": id, "course_id": courseID})
			if _, err := exec(ctx, tx, q); err != nil {
				return errors.Wrap(err, "reordering modules")
			}
		}
		return nil
	})
}

func (repo *courseRepository) CreateLesson(ctx context.Context, l course.Lesson) (course.Lesson, error) {
	if !validID(l.ModuleID) {
		return course.Lesson{}, course.ErrModuleNotFound
	}
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		return insertLesson(ctx, tx, &l)
	})
	if err != nil {
		if isForeignKeyViolation(err) {
			return course.Lesson{}, course.ErrModuleNotFound
		}
		return course.Lesson{}, err
	}
	return l, nil
}

// UpdateLesson replaces the citations & the quiz of the lesson; the attempts of the old quiz are deleted.
func (repo *courseRepository) UpdateLesson(ctx context.Context, l course.Lesson) (course.Lesson, error) {
	if !validID(l.ID) {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	if l.Objectives == nil {
		l.Objectives = []string{}
	}
	err := withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		q := psql.Update(lessonTable).SetMap(map[string]interface{}{
			"title":             l.Title,
			"summary":           l.Summary,
			"content":           l.Content,
			"objectives":        stringArray(l.Objectives),
			"estimated_minutes": l.EstimatedMinutes,
		}).Where(sq.Eq{"id": l.ID}).Suffix("RETURNING module_id, position")

		var pos struct {
			ModuleID string `db:"module_id"`
			Position int    `db:"position"`
		}
		if err := get(ctx, tx, &pos, q); err != nil {
			return noRows(err, course.ErrLessonNotFound, "updating lesson")
		}
		l.ModuleID = pos.ModuleID
		l.Position = pos.Position

		if _, err := exec(ctx, tx, psql.Delete(citationTable).Where(sq.Eq{"lesson_id": l.ID})); err != nil {
			return errors.Wrap(err, "deleting citations")
		}
		if err := insertCitations(ctx, tx, &l); err != nil {
			return err
		}
		if _, err := exec(ctx, tx, psql.Delete(quizTable).Where(sq.Eq{"lesson_id": l.ID})); err != nil {
			return errors.Wrap(err, "deleting quiz")
		}
		return insertQuiz(ctx, tx, &l)
	})
	if err != nil {
		return course.Lesson{}, err
	}
	return l, nil
}

// DeleteLesson deletes the lesson; its progress & quiz attempts cascade.
func (repo *courseRepository) DeleteLesson(ctx context.Context, id string) error {
	return deleteByID(ctx, repo.db, lessonTable, id, course.ErrLessonNotFound)
}

func (repo *courseRepository) ReorderLessons(ctx context.Context, moduleID string, lessonIDs []string) error {
	if !validID(moduleID) {
		return course.ErrModuleNotFound
	}
	return withTx(ctx, repo.db, func(tx *sqlx.Tx) error {
		var n int
		if err := get(ctx, tx, &n, psql.Select("COUNT(*)").From(moduleTable).Where(sq.Eq{"id": moduleID})); err != nil {
			return errors.Wrap(err, "checking module")
		}
		if n == 0 {
			return course.ErrModuleNotFound
		}
		for i, id := range lessonIDs {
			if !validID(id) {
				continue
			}
			q := psql.Update(lessonTable).Set("position", i+1).Where(sq.Eq{"id": id, "module_id": moduleID})
			if _, err := exec(ctx, tx, q); err != nil {
				return errors.Wrap(err, "reordering lessons")
			}
		}
		return nil
	})
}
