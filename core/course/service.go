package course

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/user"
)

var (
	// errors
	ErrNotFound       = errors.New("course not found")
	ErrModuleNotFound = errors.New("module not found")
	ErrLessonNotFound = errors.New("lesson not found")
	ErrNotPublishable = errors.New("a course needs at least one module with one lesson to be published")
)

const (
	maxSlugAttempts = 1000
	maxOwnedCourses = 10000
)

type (
	Repository interface {
		// CreateCourse inserts the whole course graph atomically and assigns IDs to every node.
		CreateCourse(ctx context.Context, c Course) (Course, error)
		// GetCourse returns the course graph, modules & lessons ordered by position.
		GetCourse(ctx context.Context, id string) (Course, error)
		// QueryCourses applies AND operation on available QueryFilter fields and returns courses without their modules.
		// QueryFilter.Search does a case-insensitive match on Course.Title or Course.Description.
		QueryCourses(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Course, error)
		SlugExists(ctx context.Context, ownerID, slug, excludedID string) (bool, error)
		// UpdateCourse updates the course metadata only.
		UpdateCourse(ctx context.Context, c Course) (Course, error)
		DeleteCourse(ctx context.Context, id string) error

		CreateModule(ctx context.Context, m Module) (Module, error)
		UpdateModule(ctx context.Context, m Module) (Module, error)
		DeleteModule(ctx context.Context, id string) error
		// ReorderModules sets the positions of the course modules to the order of moduleIDs (1-based).
		ReorderModules(ctx context.Context, courseID string, moduleIDs []string) error

		// CreateLesson inserts the lesson with its citations and quiz.
		CreateLesson(ctx context.Context, l Lesson) (Lesson, error)
		// UpdateLesson updates the lesson fields and replaces its quiz (removed when nil).
		UpdateLesson(ctx context.Context, l Lesson) (Lesson, error)
		DeleteLesson(ctx context.Context, id string) error
		ReorderLessons(ctx context.Context, moduleID string, lessonIDs []string) error
	}

	ServiceInterface interface {
		CreateGraph(ctx context.Context, c Course) (Course, error)
		Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Course, error)
		QueryMine(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Course, error)
		QueryOwned(ctx context.Context, ownerID string) ([]Course, error)
		Get(ctx context.Context, actor user.User, id string) (Course, error)
		GetByID(ctx context.Context, id string) (Course, error)
		GetPublished(ctx context.Context, id string) (Course, error)
		GetEditable(ctx context.Context, actor user.User, id string) (Course, error)
		Update(ctx context.Context, actor user.User, id string, uc UpdateCourse) (Course, error)
		Publish(ctx context.Context, actor user.User, id string) (Course, error)
		Unpublish(ctx context.Context, actor user.User, id string) (Course, error)
		Delete(ctx context.Context, actor user.User, id string) error
		DeleteByID(ctx context.Context, id string) error
		AddModule(ctx context.Context, actor user.User, courseID string, nm NewModule) (Module, error)
		UpdateModule(ctx context.Context, actor user.User, courseID, moduleID string, um UpdateModule) (Module, error)
		DeleteModule(ctx context.Context, actor user.User, courseID, moduleID string) error
		AddLesson(ctx context.Context, actor user.User, courseID, moduleID string, nl NewLesson) (Lesson, error)
		UpdateLesson(ctx context.Context, actor user.User, courseID, lessonID string, ul UpdateLesson) (Lesson, error)
		DeleteLesson(ctx context.Context, actor user.User, courseID, lessonID string) error
	}

	Service struct {
		repo      Repository
		passScore int
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{repo: repo, passScore: conf.Learning.QuizPassScore}
}

// uniqueSlug returns the slug of `title`, suffixed with -2, -3, ... until no other course of the owner uses it.
func (svc *Service) uniqueSlug(ctx context.Context, ownerID, title, excludedID string) (string, error) {
	base := core.Slugify(title)
	slug := base
	for i := 2; i < maxSlugAttempts; i++ {
		exists, err := svc.repo.SlugExists(ctx, ownerID, slug, excludedID)
		if err != nil {
			return "", errors.Wrap(err, "checking slug")
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
	return "", errors.Errorf("no free slug for %q", base)
}

// CreateGraph persists a full course graph as an unpublished draft.
// Positions are assigned from the slice order; missing durations and pass scores are filled in.
func (svc *Service) CreateGraph(ctx context.Context, c Course) (Course, error) {
	slug, err := svc.uniqueSlug(ctx, c.OwnerID, c.Title, "")
	if err != nil {
		return Course{}, err
	}
	now := core.Now()
	c.Slug = slug
	c.IsPublished = false
	c.PublishedAt = nil
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.Difficulty == "" {
		c.Difficulty = DifficultyBeginner
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}

	var total int
	for mi := range c.Modules {
		m := &c.Modules[mi]
		m.Position = mi + 1
		for li := range m.Lessons {
			l := &m.Lessons[li]
			l.Position = li + 1
			if l.EstimatedMinutes == 0 {
				l.EstimatedMinutes = EstimateMinutes(l.Content)
			}
			if l.Objectives == nil {
				l.Objectives = []string{}
			}
			if l.Quiz != nil {
				if l.Quiz.PassScore == 0 {
					l.Quiz.PassScore = svc.passScore
				}
				for qi := range l.Quiz.Questions {
					l.Quiz.Questions[qi].Position = qi + 1
				}
			}
			total += l.EstimatedMinutes
		}
	}
	if c.EstimatedMinutes == 0 {
		c.EstimatedMinutes = total
	}

	created, err := svc.repo.CreateCourse(ctx, c)
	return created, errors.Wrap(err, "creating course graph")
}

func (svc *Service) Create(ctx context.Context, actor user.User, nc NewCourse) (Course, error) {
	if !actor.CanAuthor() {
		return Course{}, core.ErrForbidden
	}
	return svc.CreateGraph(ctx, Course{
		OwnerID:          actor.ID,
		Title:            nc.Title,
		Description:      nc.Description,
		Difficulty:       nc.Difficulty,
		EstimatedMinutes: nc.EstimatedMinutes,
		Tags:             nc.Tags,
	})
}

// Query lists the published catalog.
func (svc *Service) Query(ctx context.Context, _ user.User, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Course, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	published := true
	filter.Published = &published
	filter.OwnerID = ""
	courses, err := svc.repo.QueryCourses(ctx, filter, core.FilterOrderings(ordering, OrderingFields), page)
	return courses, errors.Wrap(err, "querying courses")
}

// QueryMine lists the courses owned by `actor`, drafts included.
func (svc *Service) QueryMine(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Course, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	filter.OwnerID = actor.ID
	courses, err := svc.repo.QueryCourses(ctx, filter, core.FilterOrderings(ordering, OrderingFields), page)
	return courses, errors.Wrap(err, "querying own courses")
}

// QueryOwned lists every course of the owner, unpaginated.
func (svc *Service) QueryOwned(ctx context.Context, ownerID string) ([]Course, error) {
	courses, err := svc.repo.QueryCourses(ctx, &QueryFilter{OwnerID: ownerID},
		[]core.DBOrdering{{Field: "created_at", Ascending: true}}, core.Page{Number: 1, Size: maxOwnedCourses})
	return courses, errors.Wrap(err, "querying owned courses")
}

// Get returns the course graph visible to `actor`: published courses for everyone (answers hidden),
// drafts for their owner and admins only.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if c.OwnerID == actor.ID || actor.IsAdmin() {
		return c, nil
	}
	if !c.IsPublished {
		return Course{}, ErrNotFound
	}
	return c.WithoutAnswers(), nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Course, error) {
	return svc.repo.GetCourse(ctx, id)
}

// GetPublished returns the full graph of a published course; ErrNotFound for drafts.
func (svc *Service) GetPublished(ctx context.Context, id string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if !c.IsPublished {
		return Course{}, ErrNotFound
	}
	return c, nil
}

// GetEditable returns the course graph if `actor` owns it or is an admin.
// Courses visible but not editable yield core.ErrForbidden, others ErrNotFound.
func (svc *Service) GetEditable(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.repo.GetCourse(ctx, id)
	if err != nil {
		return Course{}, err
	}
	if c.OwnerID == actor.ID || actor.IsAdmin() {
		return c, nil
	}
	if c.IsPublished {
		return Course{}, core.ErrForbidden
	}
	return Course{}, ErrNotFound
}

func (svc *Service) Update(ctx context.Context, actor user.User, id string, uc UpdateCourse) (Course, error) {
	c, err := svc.GetEditable(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}

	if uc.Title != "" && uc.Title != c.Title {
		slug, err := svc.uniqueSlug(ctx, c.OwnerID, uc.Title, c.ID)
		if err != nil {
			return Course{}, err
		}
		c.Title = uc.Title
		c.Slug = slug
	}
	if uc.Description != nil {
		c.Description = *uc.Description
	}
	if uc.Difficulty != "" {
		c.Difficulty = uc.Difficulty
	}
	if uc.EstimatedMinutes != nil {
		c.EstimatedMinutes = *uc.EstimatedMinutes
	}
	if uc.Tags != nil {
		c.Tags = uc.Tags
	}
	c.UpdatedAt = core.Now()

	if _, err := svc.repo.UpdateCourse(ctx, c); err != nil {
		return Course{}, errors.Wrap(err, "updating course")
	}
	return svc.repo.GetCourse(ctx, c.ID)
}

func (svc *Service) Publish(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.GetEditable(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if !c.IsPublishable() {
		return Course{}, core.NewValidationError(ErrNotPublishable)
	}
	if c.IsPublished {
		return c, nil
	}
	now := core.Now()
	c.IsPublished = true
	c.PublishedAt = &now
	c.UpdatedAt = now
	if _, err := svc.repo.UpdateCourse(ctx, c); err != nil {
		return Course{}, errors.Wrap(err, "publishing course")
	}
	return c, nil
}

func (svc *Service) Unpublish(ctx context.Context, actor user.User, id string) (Course, error) {
	c, err := svc.GetEditable(ctx, actor, id)
	if err != nil {
		return Course{}, err
	}
	if !c.IsPublished {
		return c, nil
	}
	c.IsPublished = false
	c.PublishedAt = nil
	c.UpdatedAt = core.Now()
	if _, err := svc.repo.UpdateCourse(ctx, c); err != nil {
		return Course{}, errors.Wrap(err, "unpublishing course")
	}
	return c, nil
}

func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	c, err := svc.GetEditable(ctx, actor, id)
	if err != nil {
		return err
	}
	return svc.repo.DeleteCourse(ctx, c.ID)
}

func (svc *Service) DeleteByID(ctx context.Context, id string) error {
	return svc.repo.DeleteCourse(ctx, id)
}

func (svc *Service) touch(ctx context.Context, c Course) error {
	c.UpdatedAt = core.Now()
	_, err := svc.repo.UpdateCourse(ctx, c)
	return errors.Wrap(err, "touching course")
}

func (svc *Service) AddModule(ctx context.Context, actor user.User, courseID string, nm NewModule) (Module, error) {
	c, err := svc.GetEditable(ctx, actor, courseID)
	if err != nil {
		return Module{}, err
	}
	m, err := svc.repo.CreateModule(ctx, Module{
		CourseID:    c.ID,
		Position:    len(c.Modules) + 1,
		Title:       nm.Title,
		Description: nm.Description,
	})
	if err != nil {
		return Module{}, errors.Wrap(err, "creating module")
	}
	return m, svc.touch(ctx, c)
}

func (svc *Service) UpdateModule(ctx context.Context, actor user.User, courseID, moduleID string, um UpdateModule) (Module, error) {
	c, err := svc.GetEditable(ctx, actor, courseID)
	if err != nil {
		return Module{}, err
	}
	m, ok := c.findModule(moduleID)
	if !ok {
		return Module{}, ErrModuleNotFound
	}

	if um.Title != "" {
		m.Title = um.Title
	}
	if um.Description != nil {
		m.Description = *um.Description
	}
	lessons := m.Lessons
	if m, err = svc.repo.UpdateModule(ctx, m); err != nil {
		return Module{}, errors.Wrap(err, "updating module")
	}
	m.Lessons = lessons

	if um.Position > 0 && um.Position != m.Position {
		ids := make([]string, 0, len(c.Modules))
		for _, cm := range c.Modules {
			if cm.ID != m.ID {
				ids = append(ids, cm.ID)
			}
		}
		ids = insertAt(ids, m.ID, um.Position-1)
		if err := svc.repo.ReorderModules(ctx, c.ID, ids); err != nil {
			return Module{}, errors.Wrap(err, "reordering modules")
		}
		m.Position = indexOf(ids, m.ID) + 1
	}
	return m, svc.touch(ctx, c)
}

func (svc *Service) DeleteModule(ctx context.Context, actor user.User, courseID, moduleID string) error {
	c, err := svc.GetEditable(ctx, actor, courseID)
	if err != nil {
		return err
	}
	if _, ok := c.findModule(moduleID); !ok {
		return ErrModuleNotFound
	}
	if err := svc.repo.DeleteModule(ctx, moduleID); err != nil {
		return errors.Wrap(err, "deleting module")
	}

	ids := make([]string, 0, len(c.Modules))
	for _, m := range c.Modules {
		if m.ID != moduleID {
			ids = append(ids, m.ID)
		}
	}
	if err := svc.repo.ReorderModules(ctx, c.ID, ids); err != nil {
		return errors.Wrap(err, "compacting module positions")
	}
	return svc.touch(ctx, c)
}

func (svc *Service) AddLesson(ctx context.Context, actor user.User, courseID, moduleID string, nl NewLesson) (Lesson, error) {
	c, err := svc.GetEditable(ctx, actor, courseID)
	if err != nil {
		return Lesson{}, err
	}
	m, ok := c.findModule(moduleID)
	if !ok {
		return Lesson{}, ErrModuleNotFound
	}

	l := Lesson{
		ModuleID:         m.ID,
		Position:         len(m.Lessons) + 1,
		Title:            nl.Title,
		Summary:          nl.Summary,
		Content:          nl.Content,
		Objectives:       nl.Objectives,
		EstimatedMinutes: nl.EstimatedMinutes,
		Citations:        []Citation{},
	}
	if l.Objectives == nil {
		l.Objectives = []string{}
	}
	if nl.Quiz != nil {
		l.Quiz = nl.Quiz.toQuiz(nl.Title+" quiz", svc.passScore)
	}
	if l, err = svc.repo.CreateLesson(ctx, l); err != nil {
		return Lesson{}, errors.Wrap(err, "creating lesson")
	}
	return l, svc.touch(ctx, c)
}

func (svc *Service) UpdateLesson(ctx context.Context, actor user.User, courseID, lessonID string, ul UpdateLesson) (Lesson, error) {
	c, err := svc.GetEditable(ctx, actor, courseID)
	if err != nil {
		return Lesson{}, err
	}
	l, mi, ok := c.FindLesson(lessonID)
	if !ok {
		return Lesson{}, ErrLessonNotFound
	}

	if ul.Title != "" {
		l.Title = ul.Title
	}
	if ul.Summary != nil {
		l.Summary = *ul.Summary
	}
	if ul.Content != "" && ul.Content != l.Content {
		l.Content = ul.Content
		// citations point into the generated content
		l.Citations = []Citation{}
		if ul.EstimatedMinutes == nil {
			l.EstimatedMinutes = EstimateMinutes(l.Content)
		}
	}
	if ul.Objectives != nil {
		l.Objectives = ul.Objectives
	}
	if ul.EstimatedMinutes != nil {
		l.EstimatedMinutes = *ul.EstimatedMinutes
	}
	switch {
	case ul.RemoveQuiz:
		l.Quiz = nil
	case ul.Quiz != nil:
		passScore := svc.passScore
		if l.Quiz != nil {
			passScore = l.Quiz.PassScore
		}
		l.Quiz = ul.Quiz.toQuiz(l.Title+" quiz", passScore)
	}

	if l, err = svc.repo.UpdateLesson(ctx, l); err != nil {
		return Lesson{}, errors.Wrap(err, "updating lesson")
	}

	if ul.Position > 0 && ul.Position != l.Position {
		m := c.Modules[mi]
		ids := make([]string, 0, len(m.Lessons))
		for _, ml := range m.Lessons {
			if ml.ID != l.ID {
				ids = append(ids, ml.ID)
			}
		}
		ids = insertAt(ids, l.ID, ul.Position-1)
		if err := svc.repo.ReorderLessons(ctx, m.ID, ids); err != nil {
			return Lesson{}, errors.Wrap(err, "reordering lessons")
		}
		l.Position = indexOf(ids, l.ID) + 1
	}
	return l, svc.touch(ctx, c)
}

func (svc *Service) DeleteLesson(ctx context.Context, actor user.User, courseID, lessonID string) error {
	c, err := svc.GetEditable(ctx, actor, courseID)
	if err != nil {
		return err
	}
	_, mi, ok := c.FindLesson(lessonID)
	if !ok {
		return ErrLessonNotFound
	}
	if err := svc.repo.DeleteLesson(ctx, lessonID); err != nil {
		return errors.Wrap(err, "deleting lesson")
	}

	m := c.Modules[mi]
	ids := make([]string, 0, len(m.Lessons))
	for _, l := range m.Lessons {
		if l.ID != lessonID {
			ids = append(ids, l.ID)
		}
	}
	if err := svc.repo.ReorderLessons(ctx, m.ID, ids); err != nil {
		return errors.Wrap(err, "compacting lesson positions")
	}
	return svc.touch(ctx, c)
}

// insertAt inserts `id` at index `i` of `ids`, clamped to the slice bounds.
func insertAt(ids []string, id string, i int) []string {
	if i < 0 {
		i = 0
	}
	if i > len(ids) {
		i = len(ids)
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}
