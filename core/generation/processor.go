package generation

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/metrics"
	"github.com/trezcool/somo/core/user"
)

const (
	maxCourseTags  = 10
	maxTagRunes    = 30
	finalizeWindow = 30 * time.Second
)

type (
	// DocumentStore is the part of the document service the pipeline relies on.
	DocumentStore interface {
		GetByID(ctx context.Context, id string) (document.Document, error)
		SetStatus(ctx context.Context, id, status, errMsg, courseID string) (document.Document, error)
	}

	// CourseStore is the part of the course service the pipeline relies on.
	CourseStore interface {
		CreateGraph(ctx context.Context, c course.Course) (course.Course, error)
		DeleteByID(ctx context.Context, id string) error
	}

	UserReader interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	// Processor runs the document to course pipeline of a job.
	Processor struct {
		jobs      Repository
		docs      DocumentStore
		courses   CourseStore
		users     UserReader
		gen       ContentGenerator
		mailSvc   core.EmailService
		logger    core.Logger
		sanitizer *Sanitizer
		conf      core.GenerationConfig
	}

	// run holds the state of one pipeline execution.
	run struct {
		job      Job
		doc      document.Document
		source   string
		analysis DocumentAnalysis
		outline  Outline
		course   course.Course
	}
)

func NewProcessor(
	jobs Repository,
	docs DocumentStore,
	courses CourseStore,
	users UserReader,
	gen ContentGenerator,
	mailSvc core.EmailService,
	logger core.Logger,
	conf core.GenerationConfig,
) *Processor {
	return &Processor{
		jobs:      jobs,
		docs:      docs,
		courses:   courses,
		users:     users,
		gen:       Instrument(gen),
		mailSvc:   mailSvc,
		logger:    logger,
		sanitizer: NewSanitizer(),
		conf:      conf,
	}
}

// Run executes the pipeline of the pending job `jobID` and returns the finished job.
// A job cancelled before it starts is returned untouched.
func (p *Processor) Run(ctx context.Context, jobID string) (Job, error) {
	job, err := p.jobs.StartJob(ctx, jobID)
	if err != nil {
		if errors.Cause(err) == ErrJobNotActive {
			return p.jobs.GetJob(ctx, jobID)
		}
		return Job{}, errors.Wrap(err, "starting job")
	}

	metrics.JobsActive.Inc()
	defer metrics.JobsActive.Dec()
	start := time.Now()
	defer func() { metrics.JobDuration.Observe(time.Since(start).Seconds()) }()

	extras := map[string]interface{}{"job_id": job.ID, "document_id": job.DocumentID}
	p.logger.Info("generation started", extras)

	r := &run{job: job}
	if err := p.process(ctx, r); err != nil {
		return p.fail(ctx, r, err)
	}
	p.logger.Info("generation completed", extras, map[string]interface{}{"course_id": r.course.ID})
	return r.job, nil
}

func (p *Processor) process(ctx context.Context, r *run) error {
	phases := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{PhaseDocumentAnalysis, p.analyzeDocument},
		{PhaseContentAnalysis, p.analyzeContent},
		{PhaseContentGeneration, p.generateContent},
		{PhaseValidation, p.validate},
		{PhaseFinalization, p.finalize},
	}
	for _, phase := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		err := phase.fn(ctx, r)
		metrics.PhaseDuration.WithLabelValues(phase.name).Observe(time.Since(start).Seconds())
		if err != nil {
			return errors.Wrap(err, phase.name)
		}
	}
	return nil
}

// report records the progress of the running job. It fails with ErrJobNotActive once the job was cancelled.
func (p *Processor) report(ctx context.Context, r *run, phase string, progress int, message string) error {
	job, err := p.jobs.UpdateJobProgress(ctx, r.job.ID, phase, progress, message)
	if err != nil {
		return err
	}
	r.job = job
	return nil
}

func (p *Processor) analyzeDocument(ctx context.Context, r *run) error {
	if err := p.report(ctx, r, PhaseDocumentAnalysis, PhaseProgress(PhaseDocumentAnalysis, 0, 1), "Analysing document"); err != nil {
		return err
	}

	doc, err := p.docs.GetByID(ctx, r.job.DocumentID)
	if err != nil {
		return errors.Wrap(err, "finding document")
	}
	r.doc = doc
	r.source = Truncate(doc.Content, p.conf.MaxDocumentChars)

	analysis, err := p.gen.AnalyzeDocument(ctx, AnalysisRequest{Title: doc.Title, MimeType: doc.MimeType, Source: r.source})
	if err != nil {
		return errors.Wrap(err, "analysing document")
	}
	if strings.TrimSpace(analysis.Title) == "" {
		analysis.Title = doc.Title
	}
	r.analysis = analysis

	return p.report(ctx, r, PhaseDocumentAnalysis, PhaseProgress(PhaseDocumentAnalysis, 1, 1), "Document analysed")
}

func (p *Processor) analyzeContent(ctx context.Context, r *run) error {
	if err := p.report(ctx, r, PhaseContentAnalysis, PhaseProgress(PhaseContentAnalysis, 0, 1), "Outlining course"); err != nil {
		return err
	}

	opts := r.job.Options
	outline, err := p.gen.OutlineCourse(ctx, OutlineRequest{
		Analysis:         r.analysis,
		Source:           r.source,
		MaxModules:       opts.MaxModules,
		LessonsPerModule: opts.LessonsPerModule,
		Difficulty:       p.difficulty(r),
		Audience:         p.audience(r),
	})
	if err != nil {
		return errors.Wrap(err, "outlining course")
	}

	outline, dedup := DedupOutline(outline, p.conf.DedupThreshold)
	metrics.DuplicatesDropped.WithLabelValues("module").Add(float64(dedup.MergedModules))
	metrics.DuplicatesDropped.WithLabelValues("lesson").Add(float64(dedup.DroppedLessons))
	outline = CapOutline(outline, opts.MaxModules, opts.LessonsPerModule)
	if outline.LessonCount() == 0 {
		return errors.New("the outline has no lesson")
	}
	r.outline = outline

	msg := fmt.Sprintf("Outlined %d modules and %d lessons", len(outline.Modules), outline.LessonCount())
	return p.report(ctx, r, PhaseContentAnalysis, PhaseProgress(PhaseContentAnalysis, 1, 1), msg)
}

func (p *Processor) generateContent(ctx context.Context, r *run) error {
	opts := r.job.Options
	title := strings.TrimSpace(r.outline.Title)
	if title == "" {
		title = r.analysis.Title
	}
	description := strings.TrimSpace(r.outline.Description)
	if description == "" {
		description = r.analysis.Summary
	}

	r.course = course.Course{
		OwnerID:     r.job.OwnerID,
		DocumentID:  r.doc.ID,
		Title:       title,
		Description: description,
		Difficulty:  p.difficulty(r),
		Tags:        tagsFromConcepts(r.analysis.KeyConcepts),
		Modules:     make([]course.Module, 0, len(r.outline.Modules)),
	}

	total := r.outline.LessonCount()
	var done int
	for _, om := range r.outline.Modules {
		m := course.Module{Title: om.Title, Description: om.Description}
		for _, ol := range om.Lessons {
			msg := fmt.Sprintf("Writing lesson %d of %d: %s", done+1, total, ol.Title)
			if err := p.report(ctx, r, PhaseContentGeneration, PhaseProgress(PhaseContentGeneration, done, total), msg); err != nil {
				return err
			}

			lesson, err := p.writeLesson(ctx, r, om, ol)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				// a lesson the model could not write is left out, validation fails the job if none is left
				p.logger.Warn("lesson skipped", err, map[string]interface{}{"job_id": r.job.ID, "lesson": ol.Title})
			} else {
				if opts.IncludeQuizzes && opts.QuestionsPerQuiz > 0 {
					lesson.Quiz = p.writeQuiz(ctx, r, lesson)
				}
				m.Lessons = append(m.Lessons, lesson)
			}
			done++
		}
		r.course.Modules = append(r.course.Modules, m)
	}

	msg := fmt.Sprintf("Wrote %d lessons", r.course.LessonCount())
	return p.report(ctx, r, PhaseContentGeneration, PhaseProgress(PhaseContentGeneration, total, total), msg)
}

func (p *Processor) writeLesson(ctx context.Context, r *run, om OutlineModule, ol OutlineLesson) (course.Lesson, error) {
	draft, err := p.gen.WriteLesson(ctx, LessonRequest{
		CourseTitle: r.course.Title,
		ModuleTitle: om.Title,
		Lesson:      ol,
		Source:      r.source,
		Difficulty:  r.course.Difficulty,
		Audience:    p.audience(r),
	})
	if err != nil {
		return course.Lesson{}, errors.Wrapf(err, "writing lesson %q", ol.Title)
	}

	content, citations, cites := ExtractCitations(draft.Content, r.source)
	metrics.CitationsExtracted.WithLabelValues("kept").Add(float64(cites.Kept))
	metrics.CitationsExtracted.WithLabelValues("invalid").Add(float64(cites.Invalid))

	summary := strings.TrimSpace(draft.Summary)
	if summary == "" {
		summary = ol.Summary
	}
	objectives := draft.Objectives
	if len(objectives) == 0 {
		objectives = ol.Objectives
	}
	return course.Lesson{
		Title:            ol.Title,
		Summary:          summary,
		Content:          content,
		Objectives:       objectives,
		EstimatedMinutes: course.EstimateMinutes(content),
		Citations:        citations,
	}, nil
}

// writeQuiz returns nil when the quiz could not be generated: the lesson is kept without a quiz.
func (p *Processor) writeQuiz(ctx context.Context, r *run, l course.Lesson) *course.Quiz {
	draft, err := p.gen.WriteQuiz(ctx, QuizRequest{
		LessonTitle: l.Title,
		Content:     l.Content,
		Questions:   r.job.Options.QuestionsPerQuiz,
		Difficulty:  r.course.Difficulty,
	})
	if err != nil {
		p.logger.Warn("quiz skipped", err, map[string]interface{}{"job_id": r.job.ID, "lesson": l.Title})
		return nil
	}

	quiz := &course.Quiz{Title: draft.Title, Questions: make([]course.Question, 0, len(draft.Questions))}
	for i, q := range draft.Questions {
		if i >= r.job.Options.QuestionsPerQuiz {
			break
		}
		quiz.Questions = append(quiz.Questions, course.Question{
			Position:    i + 1,
			Prompt:      q.Prompt,
			Options:     q.Options,
			AnswerIndex: course.IntPtr(q.AnswerIndex),
			Explanation: q.Explanation,
		})
	}
	return quiz
}

func (p *Processor) validate(ctx context.Context, r *run) error {
	if err := p.report(ctx, r, PhaseValidation, PhaseProgress(PhaseValidation, 0, 1), "Validating course"); err != nil {
		return err
	}

	report, err := ValidateCourse(&r.course, p.sanitizer, p.conf.MinLessonChars)
	metrics.ItemsDiscarded.WithLabelValues("module").Add(float64(report.DroppedModules))
	metrics.ItemsDiscarded.WithLabelValues("lesson").Add(float64(report.DroppedLessons))
	metrics.ItemsDiscarded.WithLabelValues("quiz").Add(float64(report.DroppedQuizzes))
	metrics.ItemsDiscarded.WithLabelValues("question").Add(float64(report.DroppedQuestions))
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("Validated %d modules and %d lessons", len(r.course.Modules), r.course.LessonCount())
	return p.report(ctx, r, PhaseValidation, PhaseProgress(PhaseValidation, 1, 1), msg)
}

func (p *Processor) finalize(ctx context.Context, r *run) error {
	if err := p.report(ctx, r, PhaseFinalization, PhaseProgress(PhaseFinalization, 0, 1), "Saving course"); err != nil {
		return err
	}

	c, err := p.courses.CreateGraph(ctx, r.course)
	if err != nil {
		return errors.Wrap(err, "saving course")
	}

	// from here on the job must not be interrupted half way
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeWindow)
	defer cancel()

	msg := fmt.Sprintf("Course %q is ready", c.Title)
	if _, err := p.jobs.UpdateJobProgress(fctx, r.job.ID, PhaseFinalization, 100, msg); err != nil && errors.Cause(err) != ErrJobNotActive {
		return p.discard(fctx, c, errors.Wrap(err, "updating job progress"))
	}
	job, err := p.jobs.FinishJob(fctx, r.job.ID, StatusCompleted, "", c.ID)
	if err != nil {
		// cancelled while saving: the course must not outlive the job
		return p.discard(fctx, c, errors.Wrap(err, "finishing job"))
	}
	r.job = job
	r.course = c
	metrics.JobsTotal.WithLabelValues(StatusCompleted).Inc()

	if _, err := p.docs.SetStatus(fctx, r.doc.ID, document.StatusProcessed, "", c.ID); err != nil {
		p.logger.Error("setting document status", err, map[string]interface{}{"job_id": r.job.ID})
	}
	p.notifyOwner(fctx, r)
	return nil
}

func (p *Processor) discard(ctx context.Context, c course.Course, err error) error {
	if dErr := p.courses.DeleteByID(ctx, c.ID); dErr != nil {
		p.logger.Error("deleting course of unfinished job", dErr, map[string]interface{}{"course_id": c.ID})
	}
	return err
}

func (p *Processor) notifyOwner(ctx context.Context, r *run) {
	owner, err := p.users.GetByID(ctx, r.job.OwnerID)
	if err != nil {
		p.logger.Error("finding job owner", err, map[string]interface{}{"job_id": r.job.ID})
		return
	}
	if owner.Email == "" {
		return
	}
	p.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: owner.Name, Address: owner.Email}},
		Subject:      fmt.Sprintf("Your course %q is ready", r.course.Title),
		TemplateName: "course_ready",
		TemplateData: map[string]interface{}{
			"Name":          owner.Name,
			"CourseTitle":   r.course.Title,
			"DocumentTitle": r.doc.Title,
			"Modules":       len(r.course.Modules),
			"Lessons":       r.course.LessonCount(),
			"CourseID":      r.course.ID,
		},
	})
}

// fail records the failure of the job and of its document, unless the job was cancelled meanwhile.
func (p *Processor) fail(ctx context.Context, r *run, cause error) (Job, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeWindow)
	defer cancel()

	msg := failureMessage(ctx, cause)
	job, err := p.jobs.FinishJob(fctx, r.job.ID, StatusFailed, msg, "")
	if err != nil {
		if errors.Cause(err) == ErrJobNotActive {
			// cancelled by the user, who already got the document back
			job, gErr := p.jobs.GetJob(fctx, r.job.ID)
			if gErr != nil {
				return Job{}, errors.Wrap(gErr, "finding cancelled job")
			}
			return job, nil
		}
		p.logger.Error("failing job", err, map[string]interface{}{"job_id": r.job.ID})
		return r.job, cause
	}
	metrics.JobsTotal.WithLabelValues(StatusFailed).Inc()

	if _, err := p.docs.SetStatus(fctx, r.job.DocumentID, document.StatusFailed, msg, ""); err != nil {
		p.logger.Error("setting document status", err, map[string]interface{}{"job_id": r.job.ID})
	}
	p.logger.Warn("generation failed", cause, map[string]interface{}{"job_id": r.job.ID, "phase": job.Phase})
	return job, cause
}

func failureMessage(ctx context.Context, cause error) string {
	switch {
	case errors.Cause(cause) == context.DeadlineExceeded || ctx.Err() == context.DeadlineExceeded:
		return "generation timed out"
	case errors.Cause(cause) == context.Canceled || ctx.Err() == context.Canceled:
		return "generation interrupted"
	case errors.Cause(cause) == ErrNoLessons:
		return "the generated content did not pass validation"
	}
	return cause.Error()
}

func (p *Processor) difficulty(r *run) string {
	if r.job.Options.Difficulty != "" {
		return r.job.Options.Difficulty
	}
	if d := strings.ToLower(strings.TrimSpace(r.analysis.Difficulty)); core.StringInSlice(d, course.Difficulties) {
		return d
	}
	return course.DifficultyBeginner
}

func (p *Processor) audience(r *run) string {
	if r.job.Options.Audience != "" {
		return r.job.Options.Audience
	}
	return r.analysis.Audience
}

// tagsFromConcepts turns key concepts into course tags.
func tagsFromConcepts(concepts []string) []string {
	tags := make([]string, 0, maxCourseTags)
	for _, concept := range concepts {
		tag := core.Slugify(concept)
		if tag == "untitled" {
			continue
		}
		if runes := []rune(tag); len(runes) > maxTagRunes {
			tag = strings.Trim(string(runes[:maxTagRunes]), "-")
		}
		if tag == "" || core.StringInSlice(tag, tags) {
			continue
		}
		tags = append(tags, tag)
		if len(tags) == maxCourseTags {
			break
		}
	}
	return tags
}
