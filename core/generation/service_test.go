package generation_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
	emailsvc "github.com/trezcool/somo/services/email"
	inmemdb "github.com/trezcool/somo/storage/database/inmem"
	"github.com/trezcool/somo/tests/testutil"
)

const source = `# Go basics

Go is a statically typed language. Variables are declared with var.

Functions take parameters and return results.`

// fakeGenerator returns a fixed course; its failures are scripted.
type fakeGenerator struct {
	failAnalysis bool
	failLessons  bool
	failQuizzes  bool

	block   bool // lessons wait for the cancellation of their context
	once    sync.Once
	started chan struct{}
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{started: make(chan struct{})}
}

func (g *fakeGenerator) AnalyzeDocument(_ context.Context, req generation.AnalysisRequest) (generation.DocumentAnalysis, error) {
	if g.failAnalysis {
		return generation.DocumentAnalysis{}, errors.New("model unavailable")
	}
	return generation.DocumentAnalysis{
		Title:       req.Title,
		Summary:     "An introduction to Go.",
		KeyConcepts: []string{"Go", "Functions", "go"},
		Difficulty:  "Intermediate",
	}, nil
}

func (g *fakeGenerator) OutlineCourse(_ context.Context, _ generation.OutlineRequest) (generation.Outline, error) {
	return generation.Outline{
		Title: "Learning Go",
		Modules: []generation.OutlineModule{
			{Title: "Module 1: Basics", Lessons: []generation.OutlineLesson{
				{Title: "Variables"}, {Title: "Functions"}, {Title: "Lesson 3: Variables"},
			}},
			{Title: "Concurrency", Lessons: []generation.OutlineLesson{{Title: "Goroutines"}}},
			{Title: "2. Basics", Lessons: []generation.OutlineLesson{{Title: "Packages"}}},
		},
	}, nil
}

func (g *fakeGenerator) WriteLesson(ctx context.Context, req generation.LessonRequest) (generation.LessonDraft, error) {
	g.once.Do(func() { close(g.started) })
	if g.block {
		<-ctx.Done()
		return generation.LessonDraft{}, ctx.Err()
	}
	if g.failLessons {
		return generation.LessonDraft{}, errors.New("model unavailable")
	}
	content := fmt.Sprintf("This lesson explains %s in detail, with examples %s and more %s.",
		req.Lesson.Title, generation.CitationMarker(0, 11), generation.CitationMarker(0, 100000))
	return generation.LessonDraft{Content: content, Summary: "About " + req.Lesson.Title}, nil
}

func (g *fakeGenerator) WriteQuiz(_ context.Context, req generation.QuizRequest) (generation.QuizDraft, error) {
	if g.failQuizzes {
		return generation.QuizDraft{}, errors.New("model unavailable")
	}
	return generation.QuizDraft{Questions: []generation.QuestionDraft{
		{Prompt: "What is " + req.LessonTitle + "?", Options: []string{"A concept", "A tool"}, AnswerIndex: 0},
		{Prompt: "Is Go typed?", Options: []string{"Yes", "No"}, AnswerIndex: 0},
		{Prompt: "Extra", Options: []string{"Yes", "No"}, AnswerIndex: 1},
	}}, nil
}

type fixture struct {
	conf    *core.Config
	repos   inmemdb.Repositories
	docs    *document.Service
	courses *course.Service
	mail    *emailsvc.ConsoleServiceMock
	gen     *fakeGenerator
	svc     *generation.Service
	creator user.User
	doc     document.Document
}

func setup(t *testing.T) *fixture {
	conf := testutil.NewConfig(t)
	conf.Generation.MinLessonChars = 20
	conf.Generation.MaxLessonsPerModule = 3
	conf.Generation.QuestionsPerQuiz = 2
	logger := testutil.NewLogger(conf)

	f := &fixture{conf: conf, gen: newFakeGenerator()}
	f.repos = inmemdb.NewRepositories(inmemdb.Open())
	f.mail = emailsvc.NewConsoleServiceMock(conf, logger)
	f.docs = document.NewService(f.repos.Documents, conf)
	f.courses = course.NewService(f.repos.Courses, conf)
	users := user.NewService(f.repos.Users, f.mail, conf)
	f.svc = generation.NewService(f.repos.Jobs, f.docs, f.courses, users, f.gen, f.mail, logger, conf)
	t.Cleanup(func() { _ = f.svc.Shutdown(context.Background()) })

	f.creator = testutil.CreateUser(t, f.repos.Users, "Creator", "creator", "creator@test.test", "", []string{user.RoleCreator}, true)
	f.doc = testutil.CreateDocument(t, f.repos.Documents, f.creator, "Go basics", document.MimeTypeMarkdown, source)
	return f
}

func (f *fixture) waitJob(t *testing.T, id string, status string) generation.Job {
	var job generation.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = f.repos.Jobs.GetJob(context.Background(), id)
		return err == nil && job.Status == status
	}, 5*time.Second, 5*time.Millisecond, "job never reached %s", status)
	return job
}

func TestService_Start(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.Start(ctx, f.creator, f.doc.ID, generation.NewJob{})
	require.NoError(t, err)
	assert.Equal(t, generation.StatusPending, job.Status)
	assert.Equal(t, f.creator.ID, job.OwnerID)
	assert.True(t, job.Options.IncludeQuizzes)

	job = f.waitJob(t, job.ID, generation.StatusCompleted)
	require.NoError(t, f.svc.Shutdown(ctx))
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, generation.PhaseFinalization, job.Phase)
	assert.NotNil(t, job.FinishedAt)
	require.NotEmpty(t, job.CourseID)

	c, err := f.courses.GetByID(ctx, job.CourseID)
	require.NoError(t, err)
	assert.Equal(t, "Learning Go", c.Title)
	assert.Equal(t, "learning-go", c.Slug)
	assert.Equal(t, f.doc.ID, c.DocumentID)
	assert.Equal(t, course.DifficultyIntermediate, c.Difficulty)
	assert.Equal(t, []string{"go", "functions"}, c.Tags)
	assert.False(t, c.IsPublished)
	require.Len(t, c.Modules, 2)
	assert.Len(t, c.Modules[0].Lessons, 3, "merged module capped to 3 lessons")
	assert.Equal(t, 4, c.LessonCount())

	l := c.Modules[0].Lessons[0]
	assert.Equal(t, "Variables", l.Title)
	assert.Equal(t, "This lesson explains Variables in detail, with examples [1] and more.", l.Content)
	require.Len(t, l.Citations, 1)
	assert.Equal(t, "# Go basics", l.Citations[0].Excerpt)
	require.NotNil(t, l.Quiz)
	assert.Len(t, l.Quiz.Questions, 2)
	assert.Equal(t, f.conf.Learning.QuizPassScore, l.Quiz.PassScore)

	doc, err := f.docs.GetByID(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusProcessed, doc.Status)
	assert.Equal(t, c.ID, doc.CourseID)

	sent := f.mail.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "creator@test.test", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "Learning Go")
}

func TestService_Start_Permissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	learner := testutil.CreateUser(t, f.repos.Users, "L", "learner", "l@test.test", "", []string{user.RoleLearner}, true)
	other := testutil.CreateUser(t, f.repos.Users, "O", "other", "o@test.test", "", []string{user.RoleCreator}, true)

	_, err := f.svc.Start(ctx, learner, f.doc.ID, generation.NewJob{})
	assert.Equal(t, core.ErrForbidden, err)
	_, err = f.svc.Start(ctx, other, f.doc.ID, generation.NewJob{})
	assert.Equal(t, document.ErrNotFound, err)
	_, err = f.svc.Start(ctx, f.creator, "unknown", generation.NewJob{})
	assert.Equal(t, document.ErrNotFound, err)
}

func TestService_Cancel(t *testing.T) {
	f := setup(t)
	f.gen.block = true
	ctx := context.Background()

	job, err := f.svc.Start(ctx, f.creator, f.doc.ID, generation.NewJob{})
	require.NoError(t, err)
	<-f.gen.started

	_, err = f.svc.Start(ctx, f.creator, f.doc.ID, generation.NewJob{})
	assert.Equal(t, generation.ErrJobActive, errors.Cause(err))

	running, err := f.svc.Get(ctx, f.creator, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusRunning, running.Status)
	assert.Equal(t, generation.PhaseContentGeneration, running.Phase)
	assert.GreaterOrEqual(t, running.Progress, 35)

	cancelled, err := f.svc.Cancel(ctx, f.creator, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCancelled, cancelled.Status)
	require.NoError(t, f.svc.Shutdown(ctx))

	job, err = f.repos.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCancelled, job.Status)
	assert.Empty(t, job.CourseID)

	doc, err := f.docs.GetByID(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusUploaded, doc.Status)

	courses, err := f.courses.QueryOwned(ctx, f.creator.ID)
	require.NoError(t, err)
	assert.Empty(t, courses)

	_, err = f.svc.Cancel(ctx, f.creator, job.ID)
	assert.Equal(t, generation.ErrJobNotActive, err)
}

func TestService_GenerateSync_Failures(t *testing.T) {
	tests := []struct {
		name      string
		configure func(g *fakeGenerator)
		wantError string
	}{
		{
			name:      "analysis failure",
			configure: func(g *fakeGenerator) { g.failAnalysis = true },
			wantError: "document_analysis: analysing document: model unavailable",
		},
		{
			name:      "no lesson written",
			configure: func(g *fakeGenerator) { g.failLessons = true },
			wantError: "the generated content did not pass validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			tt.configure(f.gen)
			ctx := context.Background()

			job, err := f.svc.GenerateSync(ctx, f.doc.ID, generation.NewJob{})
			require.Error(t, err)
			assert.Equal(t, generation.StatusFailed, job.Status)
			assert.Equal(t, tt.wantError, job.Error)

			doc, err := f.docs.GetByID(ctx, f.doc.ID)
			require.NoError(t, err)
			assert.Equal(t, document.StatusFailed, doc.Status)
			assert.Equal(t, tt.wantError, doc.Error)
			assert.Empty(t, f.mail.SentMessages())
		})
	}
}

func TestService_GenerateSync_WithoutQuizzes(t *testing.T) {
	f := setup(t)
	f.gen.failQuizzes = true
	ctx := context.Background()

	job, err := f.svc.GenerateSync(ctx, f.doc.ID, generation.NewJob{MaxModules: 1})
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, job.Status)

	c, err := f.courses.GetByID(ctx, job.CourseID)
	require.NoError(t, err)
	require.Len(t, c.Modules, 1)
	for _, l := range c.Lessons() {
		assert.Nil(t, l.Quiz, "failed quizzes are left out")
	}
}

func TestService_ListAndGet(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	job, err := f.svc.GenerateSync(ctx, f.doc.ID, generation.NewJob{})
	require.NoError(t, err)

	jobs, err := f.svc.ListForDocument(ctx, f.creator, f.doc.ID, core.NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, job.ID, jobs[0].ID)

	jobs, err = f.svc.ListMine(ctx, f.creator, []string{"Completed", "bogus"}, core.NewPage(1, 10))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	jobs, err = f.svc.ListMine(ctx, f.creator, []string{generation.StatusFailed}, core.NewPage(1, 10))
	require.NoError(t, err)
	assert.Empty(t, jobs)

	other := testutil.CreateUser(t, f.repos.Users, "O", "other", "o@test.test", "", []string{user.RoleCreator}, true)
	_, err = f.svc.Get(ctx, other, job.ID)
	assert.Equal(t, generation.ErrJobNotFound, err)
	_, err = f.svc.ListForDocument(ctx, other, f.doc.ID, core.NewPage(1, 10))
	assert.Equal(t, document.ErrNotFound, err)

	admin := testutil.CreateUser(t, f.repos.Users, "A", "admin", "a@test.test", "", []string{user.RoleAdmin}, true)
	got, err := f.svc.Get(ctx, admin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestService_RecoverStale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := f.repos.Jobs.CreateJob(ctx, generation.Job{
		ID: "5a1bd3c3-4d5e-4c1f-8bb8-7f3d6e0d2a11", DocumentID: f.doc.ID, OwnerID: f.creator.ID,
		Status: generation.StatusPending, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	_, err = f.docs.SetStatus(ctx, f.doc.ID, document.StatusProcessing, "", "")
	require.NoError(t, err)

	n, err := f.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := f.repos.Jobs.GetJob(ctx, "5a1bd3c3-4d5e-4c1f-8bb8-7f3d6e0d2a11")
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, job.Status)
	assert.Equal(t, "interrupted by restart", job.Error)

	doc, err := f.docs.GetByID(ctx, f.doc.ID)
	require.NoError(t, err)
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.True(t, strings.Contains(doc.Error, "restart"))

	n, err = f.svc.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
