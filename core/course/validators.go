package course

import (
	"regexp"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/somo/core"
)

var (
	difficultyTag  = "difficulty"
	difficultyText = "difficulty must be one of beginner, intermediate or advanced"

	maxTags        = 10
	courseTagsTag  = "coursetags"
	courseTagsText = "at most 10 tags made of lowercase letters, digits and dashes (30 characters max) are allowed"
	tagRegex       = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,29}$`)

	answerRangeTag  = "answerrange"
	answerRangeText = "answer_index must point to one of the options"
)

// InitValidators registers the course validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(difficultyTag, difficultyValidation)
	core.RegisterCustomTranslation(validate, translator, difficultyTag, difficultyText)

	_ = validate.RegisterValidation(courseTagsTag, courseTagsValidation)
	core.RegisterCustomTranslation(validate, translator, courseTagsTag, courseTagsText)

	validate.RegisterStructValidation(questionStructValidation, NewQuestion{})
	core.RegisterCustomTranslation(validate, translator, answerRangeTag, answerRangeText)
}

func difficultyValidation(fl validator.FieldLevel) bool {
	return core.StringInSlice(fl.Field().String(), Difficulties)
}

func courseTagsValidation(fl validator.FieldLevel) bool {
	tags, ok := fl.Field().Interface().([]string)
	if !ok || len(tags) > maxTags {
		return false
	}
	for _, tag := range tags {
		if !tagRegex.MatchString(tag) {
			return false
		}
	}
	return true
}

// questionStructValidation checks that the answer index is within the options.
func questionStructValidation(sl validator.StructLevel) {
	q := sl.Current().Interface().(NewQuestion)
	if q.AnswerIndex >= len(q.Options) {
		sl.ReportError(q.AnswerIndex, "answer_index", "AnswerIndex", answerRangeTag, "")
	}
}
