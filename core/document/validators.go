package document

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/somo/core"
)

var (
	mimeTypeTag  = "mimetype"
	mimeTypeText = "only text/plain and text/markdown documents are supported"
)

// InitValidators registers the document validators & translations.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(mimeTypeTag, mimeTypeValidation)
	core.RegisterCustomTranslation(validate, translator, mimeTypeTag, mimeTypeText)
}

func mimeTypeValidation(fl validator.FieldLevel) bool {
	return core.StringInSlice(fl.Field().String(), MimeTypes)
}
