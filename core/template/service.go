package template

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/course"
	"github.com/trezcool/somo/core/generation"
	"github.com/trezcool/somo/core/user"
)

var ErrNotFound = errors.New("template not found")

const maxTagRunes = 30

type (
	// CourseCreator persists course graphs.
	CourseCreator interface {
		CreateGraph(ctx context.Context, c course.Course) (course.Course, error)
	}

	ServiceInterface interface {
		List() []Template
		Get(id string) (Template, error)
		Generate(ctx context.Context, id string, g Generate) (Outline, error)
		Instantiate(ctx context.Context, actor user.User, id string, g Generate) (course.Course, error)
	}

	Service struct {
		catalog *Catalog
		courses CourseCreator
		gen     generation.ContentGenerator
		san     *generation.Sanitizer
		logger  core.Logger
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

// NewService creates the template service. `gen` may be nil, AI seeding then falls back to the canned outlines.
func NewService(catalog *Catalog, courses CourseCreator, gen generation.ContentGenerator, logger core.Logger) *Service {
	if gen != nil {
		gen = generation.Instrument(gen)
	}
	return &Service{catalog: catalog, courses: courses, gen: gen, san: generation.NewSanitizer(), logger: logger}
}

func (svc *Service) List() []Template {
	return svc.catalog.List()
}

func (svc *Service) Get(id string) (Template, error) {
	t, ok := svc.catalog.Get(id)
	if !ok {
		return Template{}, ErrNotFound
	}
	return t, nil
}

// Generate renders the template `id` for the topic. When asked to, the AI generator rewrites
// the module descriptions & lesson titles; the canned outline is returned when it fails.
func (svc *Service) Generate(ctx context.Context, id string, g Generate) (Outline, error) {
	t, err := svc.Get(id)
	if err != nil {
		return Outline{}, err
	}
	o, err := canned(t, g)
	if err != nil {
		return Outline{}, err
	}
	if !g.SeedWithAI || svc.gen == nil {
		return o, nil
	}

	seeded, err := svc.seed(ctx, t, o)
	if err != nil {
		if ctx.Err() != nil {
			return Outline{}, ctx.Err()
		}
		svc.logger.Warn("template seeding failed, using the canned outline", err, map[string]interface{}{"template": t.ID, "topic": g.Topic})
		return o, nil
	}
	return seeded, nil
}

func canned(t Template, g Generate) (Outline, error) {
	audience := g.Audience
	if audience == "" {
		audience = defaultAudience
	}
	vars := placeholders{Topic: g.Topic, Audience: audience}
	o := Outline{
		TemplateID:  t.ID,
		Topic:       g.Topic,
		Audience:    audience,
		Title:       fmt.Sprintf("%s: %s", g.Topic, t.Name),
		Description: t.Description,
		Difficulty:  t.Difficulty,
		Modules:     make([]generation.OutlineModule, 0, len(t.Modules)),
	}
	for _, mt := range t.Modules {
		title, err := render(mt.Title, vars)
		if err != nil {
			return Outline{}, err
		}
		desc, err := render(mt.Description, vars)
		if err != nil {
			return Outline{}, err
		}
		m := generation.OutlineModule{Title: title, Description: desc, Lessons: make([]generation.OutlineLesson, 0, len(mt.Lessons))}
		for _, lt := range mt.Lessons {
			lesson, err := render(lt, vars)
			if err != nil {
				return Outline{}, err
			}
			m.Lessons = append(m.Lessons, generation.OutlineLesson{Title: lesson})
		}
		o.Modules = append(o.Modules, m)
	}
	return o, nil
}

// seed keeps the canned module titles and takes the descriptions & lesson titles proposed by the generator.
func (svc *Service) seed(ctx context.Context, t Template, o Outline) (Outline, error) {
	concepts := make([]string, len(o.Modules))
	maxLessons := 0
	for i, m := range o.Modules {
		concepts[i] = m.Title
		if len(m.Lessons) > maxLessons {
			maxLessons = len(m.Lessons)
		}
	}
	ai, err := svc.gen.OutlineCourse(ctx, generation.OutlineRequest{
		Analysis: generation.DocumentAnalysis{
			Title:       o.Topic,
			Summary:     o.Description,
			KeyConcepts: concepts,
			Difficulty:  o.Difficulty,
			Audience:    o.Audience,
		},
		MaxModules:       len(o.Modules),
		LessonsPerModule: maxLessons,
		Difficulty:       o.Difficulty,
		Audience:         o.Audience,
	})
	if err != nil {
		return Outline{}, err
	}
	svc.san.Outline(&ai)
	if len(ai.Modules) == 0 {
		return Outline{}, errors.New("empty outline")
	}

	seeded := o
	seeded.AISeeded = true
	seeded.Modules = make([]generation.OutlineModule, len(o.Modules))
	for i, m := range o.Modules {
		m.Lessons = append([]generation.OutlineLesson(nil), m.Lessons...)
		if i < len(ai.Modules) {
			if ai.Modules[i].Description != "" {
				m.Description = ai.Modules[i].Description
			}
			if lessons := titled(ai.Modules[i].Lessons, maxLessons); len(lessons) > 0 {
				m.Lessons = lessons
			}
		}
		seeded.Modules[i] = m
	}
	if ai.Description != "" {
		seeded.Description = ai.Description
	}
	return seeded, nil
}

// titled returns at most `max` lessons having a title, with their title & summary only.
func titled(lessons []generation.OutlineLesson, max int) []generation.OutlineLesson {
	res := make([]generation.OutlineLesson, 0, len(lessons))
	for _, l := range lessons {
		if l.Title == "" {
			continue
		}
		if len(res) == max {
			break
		}
		res = append(res, generation.OutlineLesson{Title: l.Title, Summary: l.Summary, Objectives: l.Objectives})
	}
	return res
}

// Instantiate persists the rendered template as a draft course of the actor. Lessons hold placeholder content.
func (svc *Service) Instantiate(ctx context.Context, actor user.User, id string, g Generate) (course.Course, error) {
	if !actor.CanAuthor() {
		return course.Course{}, core.ErrForbidden
	}
	t, err := svc.Get(id)
	if err != nil {
		return course.Course{}, err
	}
	o, err := svc.Generate(ctx, id, g)
	if err != nil {
		return course.Course{}, err
	}

	c := course.Course{
		OwnerID:     actor.ID,
		Title:       o.Title,
		Description: o.Description,
		Difficulty:  o.Difficulty,
		Tags:        tags(o.Topic, t.ID),
		Modules:     make([]course.Module, 0, len(o.Modules)),
	}
	for _, om := range o.Modules {
		m := course.Module{Title: om.Title, Description: om.Description, Lessons: make([]course.Lesson, 0, len(om.Lessons))}
		for _, ol := range om.Lessons {
			m.Lessons = append(m.Lessons, course.Lesson{
				Title:            ol.Title,
				Summary:          ol.Summary,
				Content:          placeholderContent(ol),
				Objectives:       ol.Objectives,
				EstimatedMinutes: t.LessonMinutes,
				Citations:        []course.Citation{},
			})
		}
		c.Modules = append(c.Modules, m)
	}

	created, err := svc.courses.CreateGraph(ctx, c)
	return created, errors.Wrap(err, "instantiating template")
}

func placeholderContent(l generation.OutlineLesson) string {
	content := "## " + l.Title + "\n\n"
	if l.Summary != "" {
		content += l.Summary + "\n\n"
	}
	return content + "_Draft: write this lesson._"
}

func tags(topic, templateID string) []string {
	slug := []rune(core.Slugify(topic))
	if len(slug) > maxTagRunes {
		slug = slug[:maxTagRunes]
	}
	if tag := strings.Trim(string(slug), "-"); tag != "" && tag != templateID {
		return []string{tag, templateID}
	}
	return []string{templateID}
}
