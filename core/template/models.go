package template

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/generation"
)

const defaultAudience = "learners"

type (
	// Template is a reusable course skeleton. Titles & descriptions may use the {{.Topic}} and {{.Audience}} placeholders.
	Template struct {
		ID            string           `json:"id" yaml:"id"`
		Name          string           `json:"name" yaml:"name"`
		Description   string           `json:"description" yaml:"description"`
		Difficulty    string           `json:"difficulty" yaml:"difficulty"`
		LessonMinutes int              `json:"lesson_minutes" yaml:"lesson_minutes"`
		Modules       []ModuleTemplate `json:"modules" yaml:"modules"`
	}

	ModuleTemplate struct {
		Title       string   `json:"title" yaml:"title"`
		Description string   `json:"description" yaml:"description"`
		Lessons     []string `json:"lessons" yaml:"lessons"`
	}

	// Outline is a template rendered for a topic.
	Outline struct {
		TemplateID  string                     `json:"template_id"`
		Topic       string                     `json:"topic"`
		Audience    string                     `json:"audience"`
		Title       string                     `json:"title"`
		Description string                     `json:"description"`
		Difficulty  string                     `json:"difficulty"`
		AISeeded    bool                       `json:"ai_seeded"`
		Modules     []generation.OutlineModule `json:"modules"`
	}
)

// LessonCount returns the number of lessons across all modules.
func (t Template) LessonCount() int {
	var n int
	for _, m := range t.Modules {
		n += len(m.Lessons)
	}
	return n
}

// Generate contains the information needed to render a template.
type Generate struct {
	Topic      string `json:"topic" validate:"required,notblank,max=200"`
	Audience   string `json:"audience" validate:"max=200"`
	SeedWithAI bool   `json:"seed_with_ai"`
}

func (g *Generate) Validate(validate *validator.Validate) error {
	g.Topic = core.CleanString(g.Topic)
	g.Audience = core.CleanString(g.Audience)
	if err := validate.Struct(g); err != nil {
		return err
	}
	if g.Audience == "" {
		g.Audience = defaultAudience
	}
	return nil
}
