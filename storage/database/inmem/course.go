package inmemdb

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
)

type courseRepository struct {
	db *DB
}

var _ course.Repository = (*courseRepository)(nil) // interface compliance check

func NewCourseRepository(db *DB) *courseRepository {
	return &courseRepository{db: db}
}

func cloneQuiz(q *course.Quiz) *course.Quiz {
	if q == nil {
		return nil
	}
	quiz := *q
	quiz.Questions = make([]course.Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Options = cloneStrings(question.Options)
		if question.AnswerIndex != nil {
			question.AnswerIndex = course.IntPtr(*question.AnswerIndex)
		}
		quiz.Questions[i] = question
	}
	return &quiz
}

func cloneLesson(l course.Lesson) course.Lesson {
	l.Objectives = cloneStrings(l.Objectives)
	l.Citations = append([]course.Citation{}, l.Citations...)
	l.Quiz = cloneQuiz(l.Quiz)
	return l
}

func cloneModule(m course.Module) course.Module {
	lessons := make([]course.Lesson, len(m.Lessons))
	for i, l := range m.Lessons {
		lessons[i] = cloneLesson(l)
	}
	m.Lessons = lessons
	return m
}

func cloneCourse(c course.Course, withModules bool) course.Course {
	c.Tags = cloneStrings(c.Tags)
	c.PublishedAt = cloneTime(c.PublishedAt)
	if !withModules {
		c.Modules = nil
		return c
	}
	modules := make([]course.Module, len(c.Modules))
	for i, m := range c.Modules {
		modules[i] = cloneModule(m)
	}
	c.Modules = modules
	return c
}

// assignLessonIDs gives IDs to the lesson and everything below it.
func assignLessonIDs(l *course.Lesson, moduleID string) {
	l.ID = uuid.NewString()
	l.ModuleID = moduleID
	for ci := range l.Citations {
		l.Citations[ci].ID = uuid.NewString()
		l.Citations[ci].LessonID = l.ID
	}
	assignQuizIDs(l.Quiz, l.ID)
}

func assignQuizIDs(q *course.Quiz, lessonID string) {
	if q == nil {
		return
	}
	q.ID = uuid.NewString()
	q.LessonID = lessonID
	for qi := range q.Questions {
		q.Questions[qi].ID = uuid.NewString()
		q.Questions[qi].QuizID = q.ID
	}
}

func (repo *courseRepository) CreateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, other := range repo.db.courses {
		if other.OwnerID == c.OwnerID && other.Slug == c.Slug {
			return course.Course{}, errors.Errorf("duplicate course slug %q", c.Slug)
		}
	}

	c = cloneCourse(c, true)
	c.ID = uuid.NewString()
	for mi := range c.Modules {
		m := &c.Modules[mi]
		m.ID = uuid.NewString()
		m.CourseID = c.ID
		for li := range m.Lessons {
			assignLessonIDs(&m.Lessons[li], m.ID)
		}
	}
	repo.db.courses[c.ID] = &c
	return cloneCourse(c, true), nil
}

func (repo *courseRepository) GetCourse(_ context.Context, id string) (course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if c, ok := repo.db.courses[id]; ok {
		return cloneCourse(*c, true), nil
	}
	return course.Course{}, course.ErrNotFound
}

func (repo *courseRepository) QueryCourses(_ context.Context, filter *course.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]course.Course, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	courses := make([]course.Course, 0)
	for _, c := range repo.db.courses {
		if matchCourse(*c, filter) {
			courses = append(courses, cloneCourse(*c, false))
		}
	}

	orderBy(courses, ordering, core.DBOrdering{Field: "created_at"}, func(a, b course.Course, column string) int {
		switch column {
		case "title":
			return cmpStrings(a.Title, b.Title)
		case "difficulty":
			return cmpStrings(a.Difficulty, b.Difficulty)
		case "estimated_minutes":
			return cmpInts(a.EstimatedMinutes, b.EstimatedMinutes)
		case "published_at":
			return cmpTimePtrs(a.PublishedAt, b.PublishedAt)
		case "created_at":
			return cmpTimes(a.CreatedAt, b.CreatedAt)
		case "updated_at":
			return cmpTimes(a.UpdatedAt, b.UpdatedAt)
		}
		return 0
	})
	return paginate(courses, page), nil
}

func matchCourse(c course.Course, filter *course.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.OwnerID != "" && c.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Published != nil && c.IsPublished != *filter.Published {
		return false
	}
	if filter.Search != "" && !containsFold(c.Title, filter.Search) && !containsFold(c.Description, filter.Search) {
		return false
	}
	if filter.Difficulty != "" && c.Difficulty != filter.Difficulty {
		return false
	}
	if filter.Tag != "" && !core.StringInSlice(filter.Tag, c.Tags) {
		return false
	}
	return true
}

func (repo *courseRepository) SlugExists(_ context.Context, ownerID, slug, excludedID string) (bool, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, c := range repo.db.courses {
		if c.OwnerID == ownerID && c.Slug == slug && c.ID != excludedID {
			return true, nil
		}
	}
	return false, nil
}

func (repo *courseRepository) UpdateCourse(_ context.Context, c course.Course) (course.Course, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	orig, ok := repo.db.courses[c.ID]
	if !ok {
		return course.Course{}, course.ErrNotFound
	}
	orig.Title = c.Title
	orig.Slug = c.Slug
	orig.Description = c.Description
	orig.Difficulty = c.Difficulty
	orig.EstimatedMinutes = c.EstimatedMinutes
	orig.Tags = cloneStrings(c.Tags)
	orig.IsPublished = c.IsPublished
	orig.PublishedAt = cloneTime(c.PublishedAt)
	orig.UpdatedAt = c.UpdatedAt
	return cloneCourse(*orig, false), nil
}

func (repo *courseRepository) DeleteCourse(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.courses[id]; !ok {
		return course.ErrNotFound
	}
	repo.db.deleteCourse(id)
	return nil
}

// deleteCourse cascades to the enrollments and unlinks the documents & jobs. The caller holds the write lock.
func (db *DB) deleteCourse(id string) {
	delete(db.courses, id)
	for eID, e := range db.enrollments {
		if e.CourseID == id {
			db.deleteEnrollment(eID)
		}
	}
	for _, doc := range db.documents {
		if doc.CourseID == id {
			doc.CourseID = ""
		}
	}
	for _, job := range db.jobs {
		if job.CourseID == id {
			job.CourseID = ""
		}
	}
}

// module returns the module `id` and its course. The caller holds the lock.
func (db *DB) module(id string) (*course.Course, int, bool) {
	for _, c := range db.courses {
		for mi := range c.Modules {
			if c.Modules[mi].ID == id {
				return c, mi, true
			}
		}
	}
	return nil, -1, false
}

// lesson returns the course, module index and lesson index of the lesson `id`. The caller holds the lock.
func (db *DB) lesson(id string) (*course.Course, int, int, bool) {
	for _, c := range db.courses {
		for mi := range c.Modules {
			for li := range c.Modules[mi].Lessons {
				if c.Modules[mi].Lessons[li].ID == id {
					return c, mi, li, true
				}
			}
		}
	}
	return nil, -1, -1, false
}

func (repo *courseRepository) CreateModule(_ context.Context, m course.Module) (course.Module, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, ok := repo.db.courses[m.CourseID]
	if !ok {
		return course.Module{}, course.ErrNotFound
	}
	m = cloneModule(m)
	m.ID = uuid.NewString()
	for li := range m.Lessons {
		assignLessonIDs(&m.Lessons[li], m.ID)
	}
	c.Modules = append(c.Modules, m)
	sortModules(c)
	return cloneModule(m), nil
}

func (repo *courseRepository) UpdateModule(_ context.Context, m course.Module) (course.Module, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, mi, ok := repo.db.module(m.ID)
	if !ok {
		return course.Module{}, course.ErrModuleNotFound
	}
	orig := &c.Modules[mi]
	orig.Title = m.Title
	orig.Description = m.Description
	return cloneModule(*orig), nil
}

func (repo *courseRepository) DeleteModule(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, mi, ok := repo.db.module(id)
	if !ok {
		return course.ErrModuleNotFound
	}
	for _, l := range c.Modules[mi].Lessons {
		repo.db.deleteLessonProgress(l)
	}
	c.Modules = append(c.Modules[:mi], c.Modules[mi+1:]...)
	return nil
}

func (repo *courseRepository) ReorderModules(_ context.Context, courseID string, moduleIDs []string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, ok := repo.db.courses[courseID]
	if !ok {
		return course.ErrNotFound
	}
	for mi := range c.Modules {
		if pos := indexOf(moduleIDs, c.Modules[mi].ID); pos >= 0 {
			c.Modules[mi].Position = pos + 1
		}
	}
	sortModules(c)
	return nil
}

func (repo *courseRepository) CreateLesson(_ context.Context, l course.Lesson) (course.Lesson, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, mi, ok := repo.db.module(l.ModuleID)
	if !ok {
		return course.Lesson{}, course.ErrModuleNotFound
	}
	l = cloneLesson(l)
	assignLessonIDs(&l, l.ModuleID)
	m := &c.Modules[mi]
	m.Lessons = append(m.Lessons, l)
	sortLessons(m)
	return cloneLesson(l), nil
}

func (repo *courseRepository) UpdateLesson(_ context.Context, l course.Lesson) (course.Lesson, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, mi, li, ok := repo.db.lesson(l.ID)
	if !ok {
		return course.Lesson{}, course.ErrLessonNotFound
	}
	orig := &c.Modules[mi].Lessons[li]
	l = cloneLesson(l)
	for ci := range l.Citations {
		if l.Citations[ci].ID == "" {
			l.Citations[ci].ID = uuid.NewString()
			l.Citations[ci].LessonID = l.ID
		}
	}
	// the quiz is replaced as a whole
	if orig.Quiz != nil {
		repo.db.deleteQuizAttempts(orig.Quiz.ID)
	}
	assignQuizIDs(l.Quiz, l.ID)
	l.ModuleID = orig.ModuleID
	l.Position = orig.Position
	*orig = l
	return cloneLesson(l), nil
}

func (repo *courseRepository) DeleteLesson(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, mi, li, ok := repo.db.lesson(id)
	if !ok {
		return course.ErrLessonNotFound
	}
	m := &c.Modules[mi]
	repo.db.deleteLessonProgress(m.Lessons[li])
	m.Lessons = append(m.Lessons[:li], m.Lessons[li+1:]...)
	return nil
}

func (repo *courseRepository) ReorderLessons(_ context.Context, moduleID string, lessonIDs []string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	c, mi, ok := repo.db.module(moduleID)
	if !ok {
		return course.ErrModuleNotFound
	}
	m := &c.Modules[mi]
	for li := range m.Lessons {
		if pos := indexOf(lessonIDs, m.Lessons[li].ID); pos >= 0 {
			m.Lessons[li].Position = pos + 1
		}
	}
	sortLessons(m)
	return nil
}

// deleteLessonProgress cascades the deletion of a lesson. The caller holds the write lock.
func (db *DB) deleteLessonProgress(l course.Lesson) {
	for _, progress := range db.progress {
		delete(progress, l.ID)
	}
	if l.Quiz != nil {
		db.deleteQuizAttempts(l.Quiz.ID)
	}
}

func (db *DB) deleteQuizAttempts(quizID string) {
	attempts := db.attempts[:0]
	for _, a := range db.attempts {
		if a.QuizID != quizID {
			attempts = append(attempts, a)
		}
	}
	db.attempts = attempts
}

func sortModules(c *course.Course) {
	orderBy(c.Modules, nil, core.DBOrdering{Field: "position", Ascending: true}, func(a, b course.Module, _ string) int {
		return cmpInts(a.Position, b.Position)
	})
}

func sortLessons(m *course.Module) {
	orderBy(m.Lessons, nil, core.DBOrdering{Field: "position", Ascending: true}, func(a, b course.Lesson, _ string) int {
		return cmpInts(a.Position, b.Position)
	})
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
