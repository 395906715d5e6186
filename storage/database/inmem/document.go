package inmemdb

import (
	"context"

	"github.com/google/uuid"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/document"
)

type documentRepository struct {
	db *DB
}

var _ document.Repository = (*documentRepository)(nil) // interface compliance check

func NewDocumentRepository(db *DB) *documentRepository {
	return &documentRepository{db: db}
}

func (repo *documentRepository) CreateDocument(_ context.Context, doc document.Document) (document.Document, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	doc.ID = uuid.NewString()
	d := doc
	repo.db.documents[doc.ID] = &d
	return doc, nil
}

func (repo *documentRepository) GetDocument(_ context.Context, id string) (document.Document, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if doc, ok := repo.db.documents[id]; ok {
		return *doc, nil
	}
	return document.Document{}, document.ErrNotFound
}

func (repo *documentRepository) QueryDocuments(_ context.Context, filter *document.QueryFilter, ordering []core.DBOrdering, page core.Page) ([]document.Document, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	docs := make([]document.Document, 0)
	for _, doc := range repo.db.documents {
		if filter != nil {
			if filter.OwnerID != "" && doc.OwnerID != filter.OwnerID {
				continue
			}
			if filter.Status != "" && doc.Status != filter.Status {
				continue
			}
			if filter.Search != "" && !containsFold(doc.Title, filter.Search) {
				continue
			}
		}
		docs = append(docs, *doc)
	}

	orderBy(docs, ordering, core.DBOrdering{Field: "created_at"}, func(a, b document.Document, column string) int {
		switch column {
		case "title":
			return cmpStrings(a.Title, b.Title)
		case "status":
			return cmpStrings(a.Status, b.Status)
		case "char_count":
			return cmpInts(a.CharCount, b.CharCount)
		case "created_at":
			return cmpTimes(a.CreatedAt, b.CreatedAt)
		case "updated_at":
			return cmpTimes(a.UpdatedAt, b.UpdatedAt)
		}
		return 0
	})
	return paginate(docs, page), nil
}

func (repo *documentRepository) UpdateDocumentStatus(_ context.Context, id, status, errMsg, courseID string) (document.Document, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	doc, ok := repo.db.documents[id]
	if !ok {
		return document.Document{}, document.ErrNotFound
	}
	doc.Status = status
	doc.Error = errMsg
	if courseID != "" {
		doc.CourseID = courseID
	}
	doc.UpdatedAt = core.Now()
	return *doc, nil
}

func (repo *documentRepository) DeleteDocument(_ context.Context, id string) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.documents[id]; !ok {
		return document.ErrNotFound
	}
	repo.db.deleteDocument(id)
	return nil
}

// deleteDocument cascades to the jobs and detaches the courses. The caller holds the write lock.
func (db *DB) deleteDocument(id string) {
	delete(db.documents, id)
	for jobID, job := range db.jobs {
		if job.DocumentID == id {
			delete(db.jobs, jobID)
		}
	}
	for _, c := range db.courses {
		if c.DocumentID == id {
			c.DocumentID = ""
		}
	}
}
