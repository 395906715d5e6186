//go:build container
// +build container

package sqlxrepos_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/enrollment"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
	sqlxrepos "github.com/trezcool/somo/storage/database/sqlx"
	"github.com/trezcool/somo/tests/testutil"
)

func setup(t *testing.T) sqlxrepos.Repositories {
	conf := testutil.NewConfig(t)
	return sqlxrepos.NewRepositories(testutil.PrepareDB(t, conf))
}

func TestUserRepository(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	alice := testutil.CreateUser(t, repos.Users, "Alice", "alice", "alice@test.test", "s3cret!!", []string{user.RoleCreator}, true, now.Add(-time.Hour))
	bob := testutil.CreateUser(t, repos.Users, "Bob", "bob", "bob@test.test", "", []string{user.RoleLearner}, false, now)

	_, err := repos.Users.CreateUser(ctx, user.User{Username: "alice", CreatedAt: now, UpdatedAt: now})
	assert.Equal(t, user.ErrUsernameExists, err)
	assert.Equal(t, user.ErrEmailExists, repos.Users.CheckUsernameUniqueness(ctx, "carol", "bob@test.test"))
	assert.NoError(t, repos.Users.CheckUsernameUniqueness(ctx, "bob", "bob@test.test", bob))

	got, err := repos.Users.GetUser(ctx, user.GetFilter{UsernameOrEmail: "alice@test.test"})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
	assert.NoError(t, got.CheckPassword("s3cret!!"))
	_, err = repos.Users.GetUser(ctx, user.GetFilter{ID: "not-a-uuid"})
	assert.Equal(t, user.ErrNotFound, err)

	active := true
	users, err := repos.Users.QueryUsers(ctx, &user.QueryFilter{Roles: []string{"creator"}, IsActive: &active}, nil, core.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, alice.ID, users[0].ID)

	users, err = repos.Users.QueryUsers(ctx, &user.QueryFilter{Search: "B"}, []core.DBOrdering{{Field: "name", Ascending: true}}, core.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)

	bob.Name = "Robert"
	bob.LastLogin = now
	bob, err = repos.Users.UpdateUser(ctx, bob)
	require.NoError(t, err)
	got, err = repos.Users.GetUser(ctx, user.GetFilter{ID: bob.ID})
	require.NoError(t, err)
	assert.Equal(t, "Robert", got.Name)
	assert.False(t, got.Active())
	assert.WithinDuration(t, now, got.LastLogin, time.Millisecond)

	require.NoError(t, repos.Users.DeleteUsersByID(ctx, bob.ID, "not-a-uuid"))
	_, err = repos.Users.GetUser(ctx, user.GetFilter{ID: bob.ID})
	assert.Equal(t, user.ErrNotFound, err)
}

func newCourse(ownerID string) course.Course {
	now := core.Now()
	return course.Course{
		OwnerID:    ownerID,
		Title:      "Learning Go",
		Slug:       "learning-go",
		Difficulty: course.DifficultyBeginner,
		Tags:       []string{"go"},
		CreatedAt:  now,
		UpdatedAt:  now,
		Modules: []course.Module{{
			Position: 1,
			Title:    "Basics",
			Lessons: []course.Lesson{{
				Position:  1,
				Title:     "Variables",
				Content:   "Variables hold values [1].",
				Citations: []course.Citation{{Number: 1, Start: 0, End: 9, Excerpt: "Variables"}},
				Quiz: &course.Quiz{Title: "Variables quiz", PassScore: 70, Questions: []course.Question{
					{Position: 1, Prompt: "What holds values?", Options: []string{"Variables", "Comments"}, AnswerIndex: course.IntPtr(0)},
				}},
			}},
		}},
	}
}

func TestCourseRepository(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, repos.Users, "Owner", "owner", "owner@test.test", "", []string{user.RoleCreator}, true)

	c, err := repos.Courses.CreateCourse(ctx, newCourse(owner.ID))
	require.NoError(t, err)
	_, err = repos.Courses.CreateCourse(ctx, newCourse(owner.ID))
	assert.Error(t, err, "duplicate slug")

	got, err := repos.Courses.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Modules, 1)
	lesson := got.Modules[0].Lessons[0]
	assert.Equal(t, "Variables", lesson.Title)
	assert.Equal(t, []course.Citation{{ID: lesson.Citations[0].ID, LessonID: lesson.ID, Number: 1, Start: 0, End: 9, Excerpt: "Variables"}}, lesson.Citations)
	require.NotNil(t, lesson.Quiz)
	assert.Equal(t, 0, lesson.Quiz.Questions[0].Answer())

	exists, err := repos.Courses.SlugExists(ctx, owner.ID, "learning-go", "")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = repos.Courses.SlugExists(ctx, owner.ID, "learning-go", c.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	published := false
	courses, err := repos.Courses.QueryCourses(ctx, &course.QueryFilter{Tag: "go", Published: &published}, nil, core.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Empty(t, courses[0].Modules)

	m, err := repos.Courses.CreateModule(ctx, course.Module{CourseID: c.ID, Position: 2, Title: "Advanced"})
	require.NoError(t, err)
	require.NoError(t, repos.Courses.ReorderModules(ctx, c.ID, []string{m.ID, c.Modules[0].ID}))
	got, err = repos.Courses.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Advanced", got.Modules[0].Title)

	lesson.Quiz = nil
	lesson.Citations = nil
	lesson.Content = "Rewritten."
	updated, err := repos.Courses.UpdateLesson(ctx, lesson)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Position)
	got, err = repos.Courses.GetCourse(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Modules[1].Lessons[0].Quiz)
	assert.Empty(t, got.Modules[1].Lessons[0].Citations)

	doc := testutil.CreateDocument(t, repos.Documents, owner, "Go", document.MimeTypeMarkdown, "# Go")
	_, err = repos.Documents.UpdateDocumentStatus(ctx, doc.ID, document.StatusProcessed, "", c.ID)
	require.NoError(t, err)

	assert.Equal(t, course.ErrLessonNotFound, repos.Courses.DeleteLesson(ctx, uuid.NewString()))
	require.NoError(t, repos.Courses.DeleteCourse(ctx, c.ID))
	_, err = repos.Courses.GetCourse(ctx, c.ID)
	assert.Equal(t, course.ErrNotFound, err)

	// the source document outlives its course
	doc, err = repos.Documents.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, doc.CourseID)
}

func TestEnrollmentRepository(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, repos.Users, "Owner", "owner", "owner@test.test", "", []string{user.RoleCreator}, true)
	learner := testutil.CreateUser(t, repos.Users, "Learner", "learner", "learner@test.test", "", []string{user.RoleLearner}, true)
	c, err := repos.Courses.CreateCourse(ctx, newCourse(owner.ID))
	require.NoError(t, err)
	lesson := c.Modules[0].Lessons[0]

	now := core.Now()
	e, err := repos.Enrollments.CreateEnrollment(ctx, enrollment.Enrollment{
		UserID: learner.ID, CourseID: c.ID, Status: enrollment.StatusActive, EnrolledAt: now, LastActivityAt: now,
	})
	require.NoError(t, err)
	_, err = repos.Enrollments.CreateEnrollment(ctx, enrollment.Enrollment{
		UserID: learner.ID, CourseID: c.ID, Status: enrollment.StatusActive, EnrolledAt: now, LastActivityAt: now,
	})
	assert.Equal(t, enrollment.ErrAlreadyEnrolled, err)

	created, err := repos.Enrollments.AddLessonProgress(ctx, enrollment.LessonProgress{EnrollmentID: e.ID, LessonID: lesson.ID, CompletedAt: now})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repos.Enrollments.AddLessonProgress(ctx, enrollment.LessonProgress{EnrollmentID: e.ID, LessonID: lesson.ID, CompletedAt: now})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = repos.Enrollments.CreateQuizAttempt(ctx, enrollment.QuizAttempt{
		EnrollmentID: e.ID, QuizID: lesson.Quiz.ID, Answers: []int{0}, Score: 100, Passed: true, CreatedAt: now,
	})
	require.NoError(t, err)
	attempts, err := repos.Enrollments.ListCourseQuizAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, []int{0}, attempts[0].Answers)

	e.Status = enrollment.StatusCompleted
	e.Progress = 100
	e.CompletedAt = &now
	e, err = repos.Enrollments.UpdateEnrollment(ctx, e)
	require.NoError(t, err)
	assert.NotNil(t, e.CompletedAt)

	// deleting the lesson cascades to its progress & quiz attempts
	require.NoError(t, repos.Courses.DeleteLesson(ctx, lesson.ID))
	progress, err := repos.Enrollments.ListLessonProgress(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, progress)
	attempts, err = repos.Enrollments.ListQuizAttempts(ctx, e.ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}

func TestJobRepository(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, repos.Users, "Owner", "owner", "owner@test.test", "", []string{user.RoleCreator}, true)
	doc := testutil.CreateDocument(t, repos.Documents, owner, "Go", document.MimeTypeMarkdown, "# Go")

	newJob := func() generation.Job {
		now := core.Now()
		return generation.Job{
			ID: uuid.NewString(), DocumentID: doc.ID, OwnerID: owner.ID, Status: generation.StatusPending,
			Options: generation.Options{MaxModules: 3, IncludeQuizzes: true}, CreatedAt: now, UpdatedAt: now,
		}
	}

	job, err := repos.Jobs.CreateJob(ctx, newJob())
	require.NoError(t, err)
	_, err = repos.Jobs.CreateJob(ctx, newJob())
	assert.Equal(t, generation.ErrJobActive, err)

	_, err = repos.Jobs.UpdateJobProgress(ctx, job.ID, generation.PhaseDocumentAnalysis, 10, "Analyzing")
	assert.Equal(t, generation.ErrJobNotActive, err)
	job, err = repos.Jobs.StartJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)
	assert.Equal(t, generation.Options{MaxModules: 3, IncludeQuizzes: true}, job.Options)

	stale, err := repos.Jobs.FailStaleJobs(ctx, "interrupted by restart")
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, generation.StatusFailed, stale[0].Status)
	assert.Equal(t, "interrupted by restart", stale[0].Error)

	_, err = repos.Jobs.FinishJob(ctx, job.ID, generation.StatusCompleted, "", "")
	assert.Equal(t, generation.ErrJobNotActive, err)
	_, err = repos.Jobs.FinishJob(ctx, uuid.NewString(), generation.StatusCompleted, "", "")
	assert.Equal(t, generation.ErrJobNotFound, err)

	// a new job may start once the previous one is over
	_, err = repos.Jobs.CreateJob(ctx, newJob())
	require.NoError(t, err)
	jobs, err := repos.Jobs.QueryJobs(ctx, &generation.QueryFilter{DocumentID: doc.ID}, core.NewPage(1, 10))
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	doc, err = repos.Documents.UpdateDocumentStatus(ctx, doc.ID, document.StatusFailed, "boom", "")
	require.NoError(t, err)
	assert.Equal(t, "boom", doc.Error)
	require.NoError(t, repos.Documents.DeleteDocument(ctx, doc.ID))
	_, err = repos.Jobs.GetJob(ctx, job.ID)
	assert.Equal(t, generation.ErrJobNotFound, err)
}
