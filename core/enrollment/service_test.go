package enrollment_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/user"
	emailsvc "github.com/trezcool/somo/services/email"
	inmemdb "github.com/trezcool/somo/storage/database/inmem"
	"github.com/trezcool/somo/tests/testutil"
)

type fixture struct {
	svc     *enrollment.Service
	courses *course.Service
	mailSvc *emailsvc.ConsoleServiceMock
	owner   user.User
	learner user.User
	other   user.User
	course  course.Course
}

func setup(t *testing.T) fixture {
	t.Helper()

	conf := testutil.NewConfig(t)
	db := inmemdb.Open()
	users := inmemdb.NewUserRepository(db)
	courses := course.NewService(inmemdb.NewCourseRepository(db), conf)
	mailSvc := emailsvc.NewConsoleServiceMock(conf, testutil.NewLogger(conf))

	f := fixture{
		svc:     enrollment.NewService(inmemdb.NewEnrollmentRepository(db), courses, mailSvc, conf),
		courses: courses,
		mailSvc: mailSvc,
		owner:   testutil.CreateUser(t, users, "Own Er", "owner01", "owner@test.test", "", []string{user.RoleCreator}, true),
		learner: testutil.CreateUser(t, users, "Lea Rner", "learner1", "learner@test.test", "", []string{user.RoleLearner}, true),
		other:   testutil.CreateUser(t, users, "Oth Er", "other01", "other@test.test", "", []string{user.RoleLearner}, true),
	}

	c, err := courses.CreateGraph(context.Background(), course.Course{
		OwnerID: f.owner.ID,
		Title:   "Learn Go",
		Modules: []course.Module{
			{
				Title: "Basics",
				Lessons: []course.Lesson{
					{
						Title:   "Variables",
						Content: "var x int",
						Quiz: &course.Quiz{Questions: []course.Question{
							{Prompt: "Keyword?", Options: []string{"var", "let"}, AnswerIndex: course.IntPtr(0)},
							{Prompt: "Zero value of int?", Options: []string{"nil", "0"}, AnswerIndex: course.IntPtr(1), Explanation: "ints default to 0."},
						}},
					},
					{Title: "Constants", Content: "const x = 1"},
				},
			},
			{Title: "Advanced", Lessons: []course.Lesson{{Title: "Generics", Content: "type T any"}}},
		},
	})
	require.NoError(t, err)
	f.course = c
	return f
}

func (f fixture) lessonIDs() []string {
	return []string{
		f.course.Modules[0].Lessons[0].ID,
		f.course.Modules[0].Lessons[1].ID,
		f.course.Modules[1].Lessons[0].ID,
	}
}

func TestProgressAndScore(t *testing.T) {
	assert.Equal(t, 0, enrollment.Progress(0, 0))
	assert.Equal(t, 33, enrollment.Progress(1, 3))
	assert.Equal(t, 66, enrollment.Progress(2, 3))
	assert.Equal(t, 100, enrollment.Progress(4, 3))

	assert.Equal(t, 0, enrollment.Score(0, 0))
	assert.Equal(t, 67, enrollment.Score(2, 3))
	assert.Equal(t, 50, enrollment.Score(1, 2))
}

func TestService_Enroll(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Enroll(ctx, f.learner, f.course.ID)
	assert.Equal(t, course.ErrNotFound, err)
	_, err = f.svc.Enroll(ctx, f.owner, f.course.ID)
	assert.Equal(t, enrollment.ErrNotPublished, err)

	_, err = f.courses.Publish(ctx, f.owner, f.course.ID)
	require.NoError(t, err)

	e, err := f.svc.Enroll(ctx, f.learner, f.course.ID)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusActive, e.Status)
	assert.Equal(t, 0, e.Progress)

	sent := f.mailSvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "enrollment_welcome", sent[0].TemplateName)
	assert.Equal(t, "learner@test.test", sent[0].To[0].Address)

	_, err = f.svc.Enroll(ctx, f.learner, f.course.ID)
	assert.Equal(t, enrollment.ErrAlreadyEnrolled, err)

	mine, err := f.svc.ListMine(ctx, f.learner, "", core.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, mine, 1)
	mine, err = f.svc.ListMine(ctx, f.learner, enrollment.StatusCompleted, core.NewPage(1, 10))
	require.NoError(t, err)
	assert.Empty(t, mine)

	_, err = f.svc.Get(ctx, f.other, e.ID)
	assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))
	assert.Equal(t, enrollment.ErrNotFound, errors.Cause(f.svc.Unenroll(ctx, f.other, e.ID)))

	require.NoError(t, f.svc.Unenroll(ctx, f.learner, e.ID))
	_, err = f.svc.Get(ctx, f.learner, e.ID)
	assert.Equal(t, enrollment.ErrNotFound, errors.Cause(err))
}

func TestService_Progress(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	lessons := f.lessonIDs()
	quizID := f.course.Modules[0].Lessons[0].Quiz.ID

	_, err := f.courses.Publish(ctx, f.owner, f.course.ID)
	require.NoError(t, err)
	e, err := f.svc.Enroll(ctx, f.learner, f.course.ID)
	require.NoError(t, err)

	_, err = f.svc.CompleteLesson(ctx, f.learner, e.ID, "unknown")
	assert.Equal(t, enrollment.ErrLessonNotInCourse, err)

	e, err = f.svc.CompleteLesson(ctx, f.learner, e.ID, lessons[1])
	require.NoError(t, err)
	assert.Equal(t, 33, e.Progress)
	assert.Equal(t, []string{lessons[1]}, e.CompletedLessons)

	// completing twice changes nothing
	e, err = f.svc.CompleteLesson(ctx, f.learner, e.ID, lessons[1])
	require.NoError(t, err)
	assert.Equal(t, 33, e.Progress)

	t.Run("quiz", func(t *testing.T) {
		_, err := f.svc.SubmitQuiz(ctx, f.learner, e.ID, "unknown", enrollment.SubmitQuiz{Answers: []int{0, 1}})
		assert.Equal(t, enrollment.ErrQuizNotFound, err)

		_, err = f.svc.SubmitQuiz(ctx, f.learner, e.ID, quizID, enrollment.SubmitQuiz{Answers: []int{0}})
		var verr *core.ValidationError
		assert.True(t, errors.As(err, &verr))

		res, err := f.svc.SubmitQuiz(ctx, f.learner, e.ID, quizID, enrollment.SubmitQuiz{Answers: []int{0, 0}})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Correct)
		assert.Equal(t, 2, res.Total)
		assert.Equal(t, 50, res.Attempt.Score)
		assert.False(t, res.Attempt.Passed)
		assert.False(t, res.LessonCompleted)
		assert.Equal(t, 33, res.Enrollment.Progress)
		require.Len(t, res.Results, 2)
		assert.False(t, res.Results[1].Correct)
		assert.Equal(t, 1, res.Results[1].AnswerIndex)
		assert.Equal(t, "ints default to 0.", res.Results[1].Explanation)

		res, err = f.svc.SubmitQuiz(ctx, f.learner, e.ID, quizID, enrollment.SubmitQuiz{Answers: []int{0, 1}})
		require.NoError(t, err)
		assert.Equal(t, 100, res.Attempt.Score)
		assert.True(t, res.Attempt.Passed)
		assert.True(t, res.LessonCompleted)
		assert.Equal(t, 66, res.Enrollment.Progress)

		attempts, err := f.svc.QuizAttempts(ctx, f.learner, e.ID)
		require.NoError(t, err)
		assert.Len(t, attempts, 2)
	})

	e, err = f.svc.CompleteLesson(ctx, f.learner, e.ID, lessons[2])
	require.NoError(t, err)
	assert.Equal(t, 100, e.Progress)
	assert.Equal(t, enrollment.StatusCompleted, e.Status)
	require.NotNil(t, e.CompletedAt)

	got, err := f.svc.Get(ctx, f.learner, e.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, lessons, got.CompletedLessons)

	t.Run("stats", func(t *testing.T) {
		_, err := f.svc.CourseStats(ctx, f.learner, f.course.ID)
		assert.Equal(t, core.ErrForbidden, err)

		stats, err := f.svc.CourseStats(ctx, f.owner, f.course.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.Lessons)
		assert.Equal(t, 1, stats.Enrollments)
		assert.Equal(t, 1, stats.Completed)
		assert.Equal(t, 100.0, stats.CompletionRate)
		assert.Equal(t, 100.0, stats.AverageProgress)
		assert.Equal(t, 2, stats.QuizAttempts)
		assert.Equal(t, 75.0, stats.AverageQuizScore)
		assert.Equal(t, 50.0, stats.QuizPassRate)

		_, err = f.svc.CreatorDashboard(ctx, f.learner)
		assert.Equal(t, core.ErrForbidden, err)

		dash, err := f.svc.CreatorDashboard(ctx, f.owner)
		require.NoError(t, err)
		assert.Equal(t, 1, dash.Courses)
		assert.Equal(t, 1, dash.PublishedCourses)
		assert.Equal(t, 1, dash.Enrollments)
		assert.Equal(t, 1, dash.Completed)
		require.Len(t, dash.Stats, 1)
	})
}
