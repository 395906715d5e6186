package document

import (
	"context"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/user"
)

var (
	// errors
	ErrNotFound   = errors.New("document not found")
	ErrProcessing = errors.New("document is being processed")
)

type (
	Repository interface {
		CreateDocument(ctx context.Context, doc Document) (Document, error)
		GetDocument(ctx context.Context, id string) (Document, error)
		// QueryDocuments applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on Document.Title.
		QueryDocuments(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Document, error)
		UpdateDocumentStatus(ctx context.Context, id, status, errMsg, courseID string) (Document, error)
		DeleteDocument(ctx context.Context, id string) error
	}

	ServiceInterface interface {
		Create(ctx context.Context, actor user.User, nd NewDocument) (Document, error)
		Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Document, error)
		Get(ctx context.Context, actor user.User, id string) (Document, error)
		GetByID(ctx context.Context, id string) (Document, error)
		Delete(ctx context.Context, actor user.User, id string) error
		SetStatus(ctx context.Context, id, status, errMsg, courseID string) (Document, error)
		MaxChars() int
	}

	Service struct {
		repo     Repository
		maxChars int
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{repo: repo, maxChars: conf.Generation.MaxDocumentChars}
}

func (svc *Service) MaxChars() int { return svc.maxChars }

// Create stores an already validated NewDocument on behalf of `actor`.
func (svc *Service) Create(ctx context.Context, actor user.User, nd NewDocument) (Document, error) {
	if !actor.CanAuthor() {
		return Document{}, core.ErrForbidden
	}
	now := core.Now()
	doc := Document{
		OwnerID:   actor.ID,
		Title:     nd.Title,
		MimeType:  nd.MimeType,
		Content:   nd.Content,
		CharCount: utf8.RuneCountInString(nd.Content),
		Status:    StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateDocument(ctx, doc)
}

// Query lists the documents of `actor`; admins may list everyone's.
func (svc *Service) Query(ctx context.Context, actor user.User, filter *QueryFilter, ordering []core.DBOrdering, page core.Page) ([]Document, error) {
	if filter == nil {
		filter = new(QueryFilter)
	}
	if !actor.IsAdmin() {
		filter.OwnerID = actor.ID
	}
	docs, err := svc.repo.QueryDocuments(ctx, filter, core.FilterOrderings(ordering, OrderingFields), page)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	for i := range docs {
		docs[i] = docs[i].WithoutContent()
	}
	return docs, nil
}

// Get returns the document if `actor` owns it or is an admin; ErrNotFound otherwise.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Document, error) {
	doc, err := svc.repo.GetDocument(ctx, id)
	if err != nil {
		return Document{}, err
	}
	if doc.OwnerID != actor.ID && !actor.IsAdmin() {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (svc *Service) GetByID(ctx context.Context, id string) (Document, error) {
	return svc.repo.GetDocument(ctx, id)
}

func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	doc, err := svc.Get(ctx, actor, id)
	if err != nil {
		return err
	}
	if doc.Status == StatusProcessing {
		return ErrProcessing
	}
	return svc.repo.DeleteDocument(ctx, doc.ID)
}

func (svc *Service) SetStatus(ctx context.Context, id, status, errMsg, courseID string) (Document, error) {
	if !core.StringInSlice(status, Statuses) {
		return Document{}, errors.Errorf("invalid document status %q", status)
	}
	return svc.repo.UpdateDocumentStatus(ctx, id, status, errMsg, courseID)
}
