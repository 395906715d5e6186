package course_test

import (
	"context"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/user"
	inmemdb "github.com/trezcool/somo/storage/database/inmem"
	"github.com/trezcool/somo/tests/testutil"
)

type fixture struct {
	svc     *course.Service
	owner   user.User
	other   user.User
	learner user.User
	admin   user.User
}

func setup(t *testing.T) fixture {
	t.Helper()

	conf := testutil.NewConfig(t)
	db := inmemdb.Open()
	users := inmemdb.NewUserRepository(db)
	return fixture{
		svc:     course.NewService(inmemdb.NewCourseRepository(db), conf),
		owner:   testutil.CreateUser(t, users, "Own Er", "owner01", "owner@test.test", "", []string{user.RoleCreator}, true),
		other:   testutil.CreateUser(t, users, "Oth Er", "other01", "other@test.test", "", []string{user.RoleCreator}, true),
		learner: testutil.CreateUser(t, users, "Lea Rner", "learner1", "learner@test.test", "", []string{user.RoleLearner}, true),
		admin:   testutil.CreateUser(t, users, "Ad Min", "admin01", "admin@test.test", "", []string{user.RoleAdmin}, true),
	}
}

func graph(ownerID, title string) course.Course {
	return course.Course{
		OwnerID: ownerID,
		Title:   title,
		Modules: []course.Module{
			{
				Title: "Basics",
				Lessons: []course.Lesson{
					{
						Title:   "Variables",
						Content: strings.Repeat("word ", 450),
						Quiz: &course.Quiz{
							Title: "Variables quiz",
							Questions: []course.Question{
								{Prompt: "Keyword?", Options: []string{"var", "let"}, AnswerIndex: course.IntPtr(0), Explanation: "var declares."},
							},
						},
					},
					{Title: "Constants", Content: "const x = 1", EstimatedMinutes: 4},
				},
			},
			{Title: "Advanced", Lessons: []course.Lesson{{Title: "Generics", Content: "type T any"}}},
		},
	}
}

func TestService_CreateGraph(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go!"))
	require.NoError(t, err)
	assert.Equal(t, "learn-go", c.Slug)
	assert.False(t, c.IsPublished)
	assert.Equal(t, course.DifficultyBeginner, c.Difficulty)
	assert.Equal(t, []string{}, c.Tags)
	require.Len(t, c.Modules, 2)
	assert.Equal(t, 2, c.Modules[1].Position)

	lesson := c.Modules[0].Lessons[0]
	assert.Equal(t, 1, lesson.Position)
	assert.Equal(t, 3, lesson.EstimatedMinutes)
	assert.Equal(t, []string{}, lesson.Objectives)
	require.NotNil(t, lesson.Quiz)
	assert.Equal(t, 70, lesson.Quiz.PassScore)
	assert.Equal(t, 1, lesson.Quiz.Questions[0].Position)
	assert.Equal(t, 2, c.Modules[0].Lessons[1].Position)
	assert.Equal(t, 3+4+1, c.EstimatedMinutes)

	// slugs are unique per owner
	c2, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go"))
	require.NoError(t, err)
	assert.Equal(t, "learn-go-2", c2.Slug)
	c3, err := f.svc.CreateGraph(ctx, graph(f.other.ID, "Learn Go"))
	require.NoError(t, err)
	assert.Equal(t, "learn-go", c3.Slug)
}

func TestService_Create(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.learner, course.NewCourse{Title: "Nope"})
	assert.Equal(t, core.ErrForbidden, err)

	c, err := f.svc.Create(ctx, f.owner, course.NewCourse{Title: "Empty", Tags: []string{"go"}})
	require.NoError(t, err)
	assert.Empty(t, c.Modules)
	assert.Equal(t, []string{"go"}, c.Tags)

	_, err = f.svc.Publish(ctx, f.owner, c.ID)
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, course.ErrNotPublishable, verr.Err)
}

func TestService_Visibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go"))
	require.NoError(t, err)

	t.Run("draft", func(t *testing.T) {
		_, err := f.svc.Get(ctx, f.learner, c.ID)
		assert.Equal(t, course.ErrNotFound, err)
		_, err = f.svc.GetPublished(ctx, c.ID)
		assert.Equal(t, course.ErrNotFound, err)
		_, err = f.svc.GetEditable(ctx, f.other, c.ID)
		assert.Equal(t, course.ErrNotFound, err)
		_, err = f.svc.Get(ctx, f.admin, c.ID)
		assert.NoError(t, err)

		courses, err := f.svc.Query(ctx, f.learner, nil, nil, core.NewPage(1, 10))
		require.NoError(t, err)
		assert.Empty(t, courses)
		courses, err = f.svc.QueryMine(ctx, f.owner, nil, nil, core.NewPage(1, 10))
		require.NoError(t, err)
		assert.Len(t, courses, 1)
	})

	published, err := f.svc.Publish(ctx, f.owner, c.ID)
	require.NoError(t, err)
	assert.True(t, published.IsPublished)
	require.NotNil(t, published.PublishedAt)

	t.Run("published", func(t *testing.T) {
		got, err := f.svc.Get(ctx, f.learner, c.ID)
		require.NoError(t, err)
		question := got.Modules[0].Lessons[0].Quiz.Questions[0]
		assert.Nil(t, question.AnswerIndex)
		assert.Empty(t, question.Explanation)

		got, err = f.svc.Get(ctx, f.owner, c.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Modules[0].Lessons[0].Quiz.Questions[0].Answer())

		_, err = f.svc.GetEditable(ctx, f.other, c.ID)
		assert.Equal(t, core.ErrForbidden, err)
		assert.Equal(t, core.ErrForbidden, f.svc.Delete(ctx, f.other, c.ID))

		courses, err := f.svc.Query(ctx, f.learner, &course.QueryFilter{OwnerID: f.other.ID}, nil, core.NewPage(1, 10))
		require.NoError(t, err)
		assert.Len(t, courses, 1)
	})

	unpublished, err := f.svc.Unpublish(ctx, f.owner, c.ID)
	require.NoError(t, err)
	assert.False(t, unpublished.IsPublished)
	assert.Nil(t, unpublished.PublishedAt)
}

func TestService_Update(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go"))
	require.NoError(t, err)
	_, err = f.svc.CreateGraph(ctx, graph(f.owner.ID, "Go Deeper"))
	require.NoError(t, err)

	desc := "All about Go."
	updated, err := f.svc.Update(ctx, f.owner, c.ID, course.UpdateCourse{
		Title:       "Go Deeper",
		Description: &desc,
		Difficulty:  course.DifficultyAdvanced,
		Tags:        []string{"go", "backend"},
	})
	require.NoError(t, err)
	assert.Equal(t, "go-deeper-2", updated.Slug)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, course.DifficultyAdvanced, updated.Difficulty)
	assert.Equal(t, []string{"go", "backend"}, updated.Tags)
	assert.Len(t, updated.Modules, 2)

	// same title keeps the slug
	updated, err = f.svc.Update(ctx, f.owner, c.ID, course.UpdateCourse{Title: "Go Deeper"})
	require.NoError(t, err)
	assert.Equal(t, "go-deeper-2", updated.Slug)
}

func TestService_Modules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go"))
	require.NoError(t, err)
	basicsID, advancedID := c.Modules[0].ID, c.Modules[1].ID

	m, err := f.svc.AddModule(ctx, f.owner, c.ID, course.NewModule{Title: "Extras"})
	require.NoError(t, err)
	assert.Equal(t, 3, m.Position)

	_, err = f.svc.AddModule(ctx, f.other, c.ID, course.NewModule{Title: "Intruder"})
	assert.Equal(t, course.ErrNotFound, err)

	moved, err := f.svc.UpdateModule(ctx, f.owner, c.ID, m.ID, course.UpdateModule{Title: "Bonus", Position: 1})
	require.NoError(t, err)
	assert.Equal(t, "Bonus", moved.Title)
	assert.Equal(t, 1, moved.Position)

	got, err := f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Modules, 3)
	assert.Equal(t, []string{m.ID, basicsID, advancedID}, []string{got.Modules[0].ID, got.Modules[1].ID, got.Modules[2].ID})
	assert.Equal(t, []int{1, 2, 3}, []int{got.Modules[0].Position, got.Modules[1].Position, got.Modules[2].Position})

	_, err = f.svc.UpdateModule(ctx, f.owner, c.ID, "unknown", course.UpdateModule{Title: "X"})
	assert.Equal(t, course.ErrModuleNotFound, err)

	require.NoError(t, f.svc.DeleteModule(ctx, f.owner, c.ID, basicsID))
	got, err = f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Modules, 2)
	assert.Equal(t, advancedID, got.Modules[1].ID)
	assert.Equal(t, 2, got.Modules[1].Position)
}

func TestService_Lessons(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go"))
	require.NoError(t, err)
	basics := c.Modules[0]

	l, err := f.svc.AddLesson(ctx, f.owner, c.ID, basics.ID, course.NewLesson{
		Title:   "Pointers",
		Content: "A pointer holds an address.",
		Quiz: &course.NewQuiz{Questions: []course.NewQuestion{
			{Prompt: "Operator?", Options: []string{"&", "*"}, AnswerIndex: 1},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, l.Position)
	require.NotNil(t, l.Quiz)
	assert.Equal(t, "Pointers quiz", l.Quiz.Title)
	assert.Equal(t, 70, l.Quiz.PassScore)
	assert.Equal(t, 1, l.Quiz.Questions[0].Answer())

	_, err = f.svc.AddLesson(ctx, f.owner, c.ID, "unknown", course.NewLesson{Title: "X", Content: "x"})
	assert.Equal(t, course.ErrModuleNotFound, err)

	summary := "Addresses."
	updated, err := f.svc.UpdateLesson(ctx, f.owner, c.ID, l.ID, course.UpdateLesson{
		Summary:    &summary,
		Content:    strings.Repeat("word ", 401),
		Position:   1,
		RemoveQuiz: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Pointers", updated.Title)
	assert.Equal(t, summary, updated.Summary)
	assert.Equal(t, 3, updated.EstimatedMinutes)
	assert.Nil(t, updated.Quiz)
	assert.Equal(t, 1, updated.Position)

	got, err := f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	lessons := got.Modules[0].Lessons
	require.Len(t, lessons, 3)
	assert.Equal(t, []string{l.ID, basics.Lessons[0].ID, basics.Lessons[1].ID}, []string{lessons[0].ID, lessons[1].ID, lessons[2].ID})

	_, err = f.svc.UpdateLesson(ctx, f.owner, c.ID, "unknown", course.UpdateLesson{Title: "X"})
	assert.Equal(t, course.ErrLessonNotFound, err)

	require.NoError(t, f.svc.DeleteLesson(ctx, f.owner, c.ID, basics.Lessons[0].ID))
	got, err = f.svc.GetByID(ctx, c.ID)
	require.NoError(t, err)
	lessons = got.Modules[0].Lessons
	require.Len(t, lessons, 2)
	assert.Equal(t, []int{1, 2}, []int{lessons[0].Position, lessons[1].Position})
	assert.Equal(t, basics.Lessons[1].ID, lessons[1].ID)
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.svc.CreateGraph(ctx, graph(f.owner.ID, "Learn Go"))
	require.NoError(t, err)

	assert.Equal(t, course.ErrNotFound, f.svc.Delete(ctx, f.other, c.ID))
	require.NoError(t, f.svc.Delete(ctx, f.admin, c.ID))
	_, err = f.svc.GetByID(ctx, c.ID)
	assert.Equal(t, course.ErrNotFound, err)
}

func TestService_Delete_unlinksDocument(t *testing.T) {
	ctx := context.Background()
	conf := testutil.NewConfig(t)
	repos := inmemdb.NewRepositories(inmemdb.Open())
	svc := course.NewService(repos.Courses, conf)
	owner := testutil.CreateUser(t, repos.Users, "Own Er", "owner01", "owner@test.test", "", []string{user.RoleCreator}, true)

	c, err := svc.CreateGraph(ctx, graph(owner.ID, "Learn Go"))
	require.NoError(t, err)
	doc := testutil.CreateDocument(t, repos.Documents, owner, "Go", document.MimeTypeMarkdown, "# Go")
	doc, err = repos.Documents.UpdateDocumentStatus(ctx, doc.ID, document.StatusProcessed, "", c.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, doc.CourseID)

	require.NoError(t, svc.Delete(ctx, owner, c.ID))
	doc, err = repos.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, doc.CourseID)
	assert.Equal(t, document.StatusProcessed, doc.Status)
}

func TestNewQuestion_Validate(t *testing.T) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	course.InitValidators(validate, translator)

	nl := course.NewLesson{
		Title:   "Pointers",
		Content: "A pointer holds an address.",
		Quiz: &course.NewQuiz{Questions: []course.NewQuestion{
			{Prompt: "Operator?", Options: []string{"&", "*"}, AnswerIndex: 2},
		}},
	}
	assert.Error(t, nl.Validate(validate))

	nl.Quiz.Questions[0].AnswerIndex = 1
	require.NoError(t, nl.Validate(validate))
	assert.Equal(t, 1, nl.EstimatedMinutes)

	nc := course.NewCourse{Title: "Go", Tags: []string{"Go", "bad tag"}}
	assert.Error(t, nc.Validate(validate))
}
