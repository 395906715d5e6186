package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/document"
)

const documentTable = "document"

var documentColumns = []string{
	"id", "owner_id", "title", "mime_type", "content", "char_count", "status", "error", "course_id", "created_at", "updated_at",
}

type documentRow struct {
	ID        string      `db:"id"`
	OwnerID   string      `db:"owner_id"`
	Title     string      `db:"title"`
	MimeType  string      `db:"mime_type"`
	Content   string      `db:"content"`
	CharCount int         `db:"char_count"`
	Status    string      `db:"status"`
	Error     string      `db:"error"`
	CourseID  null.String `db:"course_id"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

func (row documentRow) toDocument() document.Document {
	return document.Document{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Title:     row.Title,
		MimeType:  row.MimeType,
		Content:   row.Content,
		CharCount: row.CharCount,
		Status:    row.Status,
		Error:     row.Error,
		CourseID:  row.CourseID.String,
		CreatedAt: row.CreatedAt.UTC(),
		UpdatedAt: row.UpdatedAt.UTC(),
	}
}

type documentRepository struct {
	db *sqlx.DB
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *sqlx.DB) *documentRepository {
	return &documentRepository{db: db}
}

func (repo *documentRepository) CreateDocument(ctx context.Context, doc document.Document) (document.Document, error) {
	doc.ID = uuid.NewString()
	q := psql.Insert(documentTable).Columns(documentColumns...).Values(
		doc.ID, doc.OwnerID, doc.Title, doc.MimeType, doc.Content, doc.CharCount, doc.Status, doc.Error,
		null.NewString(doc.CourseID, doc.CourseID != ""), doc.CreatedAt.UTC(), doc.UpdatedAt.UTC(),
	)
	if _, err := exec(ctx, repo.db, q); err != nil {
		return document.Document{}, errors.Wrap(err, "inserting document")
	}
	return doc, nil
}

func (repo *documentRepository) GetDocument(ctx context.Context, id string) (document.Document, error) {
	if !validID(id) {
		return document.Document{}, document.ErrNotFound
	}
	var row documentRow
	if err := get(ctx, repo.db, &row, psql.Select(documentColumns...).From(documentTable).Where(sq.Eq{"id": id})); err != nil {
		return document.Document{}, noRows(err, document.ErrNotFound, "getting document")
	}
	return row.toDocument(), nil
}

func (repo *documentRepository) QueryDocuments(ctx context.Context, filter *document.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]document.Document, error) {
	q := psql.Select(documentColumns...).From(documentTable)
	if filter != nil {
		if filter.OwnerID != "" {
			q = q.Where(sq.Eq{"owner_id": validIDs(filter.OwnerID)})
		}
		if filter.Status != "" {
			q = q.Where(sq.Eq{"status": filter.Status})
		}
		if filter.Search != "" {
			q = q.Where(sq.ILike{"title": likePattern(filter.Search)})
		}
	}
	q = paginate(q.OrderBy(orderBy(ordering, core.DBOrdering{Field: "created_at"})...), page)

	var rows []documentRow
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]document.Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, row.toDocument())
	}
	return docs, nil
}

// UpdateDocumentStatus keeps the course of the document when `courseID` is empty.
func (repo *documentRepository) UpdateDocumentStatus(ctx context.Context, id, status, errMsg, courseID string) (document.Document, error) {
	if !validID(id) {
		return document.Document{}, document.ErrNotFound
	}
	set := map[string]interface{}{
		"status":     status,
		"error":      errMsg,
		"updated_at": core.Now(),
	}
	if courseID != "" {
		set["course_id"] = courseID
	}
	q := psql.Update(documentTable).SetMap(set).Where(sq.Eq{"id": id}).Suffix("RETURNING " + joinColumns(documentColumns))

	var row documentRow
	if err := get(ctx, repo.db, &row, q); err != nil {
		return document.Document{}, noRows(err, document.ErrNotFound, "updating document status")
	}
	return row.toDocument(), nil
}

// DeleteDocument deletes the document and its jobs; its courses are detached.
func (repo *documentRepository) DeleteDocument(ctx context.Context, id string) error {
	if !validID(id) {
		return document.ErrNotFound
	}
	n, err := exec(ctx, repo.db, psql.Delete(documentTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if n == 0 {
		return document.ErrNotFound
	}
	return nil
}
