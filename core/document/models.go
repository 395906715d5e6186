package document

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/somo/core"
)

// Statuses
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Mime types
const (
	MimeTypeText     = "text/plain"
	MimeTypeMarkdown = "text/markdown"
)

var (
	Statuses  = []string{StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed}
	MimeTypes = []string{MimeTypeText, MimeTypeMarkdown}
)

type Document struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	MimeType  string    `json:"mime_type"`
	Content   string    `json:"content,omitempty"`
	CharCount int       `json:"char_count"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CourseID  string    `json:"course_id,omitempty"`
	CreatedAt time.Time `json:"created_at"` // UTC
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// WithoutContent returns a copy of the document stripped of its content, for listings.
func (d Document) WithoutContent() Document {
	d.Content = ""
	return d
}

func (d Document) IsMarkdown() bool {
	return d.MimeType == MimeTypeMarkdown
}

// NewDocument contains information needed to submit a new Document.
type NewDocument struct {
	Title    string `json:"title" validate:"required,notblank,max=200"`
	MimeType string `json:"mime_type" validate:"omitempty,mimetype"`
	Content  string `json:"content" validate:"required,notblank"`
}

func (nd *NewDocument) Validate(_ context.Context, validate *validator.Validate, maxChars int) error {
	nd.Title = core.CleanString(nd.Title)
	nd.MimeType = core.CleanString(nd.MimeType, true /* lower */)
	nd.Content = core.CleanString(nd.Content)
	if nd.MimeType == "" {
		nd.MimeType = MimeTypeText
	}

	if err := validate.Struct(nd); err != nil {
		return err
	}
	if maxChars > 0 && utf8.RuneCountInString(nd.Content) > maxChars {
		return core.NewValidationError(nil, core.FieldError{
			Field: "content",
			Error: fmt.Sprintf("content cannot exceed %d characters", maxChars),
		})
	}
	return nil
}

type QueryFilter struct {
	OwnerID string
	Search  string
	Status  string
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}

// OrderingFields maps the API ordering fields to the document columns.
var OrderingFields = map[string]string{
	"title":      "title",
	"status":     "status",
	"char_count": "char_count",
	"created_at": "created_at",
	"updated_at": "updated_at",
}
