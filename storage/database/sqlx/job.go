package sqlxrepos

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/generation"
)

const jobTable = "processing_job"

var jobColumns = []string{
	"id", "document_id", "owner_id", "status", "phase", "progress", "message", "error", "course_id", "options",
	"created_at", "started_at", "finished_at", "updated_at",
}

type jobRow struct {
	ID         string         `db:"id"`
	DocumentID string         `db:"document_id"`
	OwnerID    string         `db:"owner_id"`
	Status     string         `db:"status"`
	Phase      string         `db:"phase"`
	Progress   int            `db:"progress"`
	Message    string         `db:"message"`
	Error      string         `db:"error"`
	CourseID   null.String    `db:"course_id"`
	Options    types.JSONText `db:"options"`
	CreatedAt  time.Time      `db:"created_at"`
	StartedAt  null.Time      `db:"started_at"`
	FinishedAt null.Time      `db:"finished_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (row jobRow) toJob() (generation.Job, error) {
	job := generation.Job{
		ID:         row.ID,
		DocumentID: row.DocumentID,
		OwnerID:    row.OwnerID,
		Status:     row.Status,
		Phase:      row.Phase,
		Progress:   row.Progress,
		Message:    row.Message,
		Error:      row.Error,
		CourseID:   row.CourseID.String,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if err := row.Options.Unmarshal(&job.Options); err != nil {
		return generation.Job{}, errors.Wrap(err, "decoding job options")
	}
	if row.StartedAt.Valid {
		t := row.StartedAt.Time.UTC()
		job.StartedAt = &t
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time.UTC()
		job.FinishedAt = &t
	}
	return job, nil
}

func toJobs(rows []jobRow) ([]generation.Job, error) {
	jobs := make([]generation.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type jobRepository struct {
	db *sqlx.DB
}

var _ generation.Repository = (*jobRepository)(nil) // interface compliance check

func NewJobRepository(db *sqlx.DB) *jobRepository {
	return &jobRepository{db: db}
}

// CreateJob relies on the partial unique index on the active jobs of a document.
func (repo *jobRepository) CreateJob(ctx context.Context, job generation.Job) (generation.Job, error) {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return generation.Job{}, errors.Wrap(err, "encoding job options")
	}
	q := psql.Insert(jobTable).Columns(jobColumns...).Values(
		job.ID, job.DocumentID, job.OwnerID, job.Status, job.Phase, job.Progress, job.Message, job.Error,
		null.NewString(job.CourseID, job.CourseID != ""), types.JSONText(opts),
		job.CreatedAt.UTC(), nullTimePtr(job.StartedAt), nullTimePtr(job.FinishedAt), job.UpdatedAt.UTC(),
	)
	if _, err := exec(ctx, repo.db, q); err != nil {
		if isUniqueViolation(err, "processing_job_active_uidx") {
			return generation.Job{}, generation.ErrJobActive
		}
		return generation.Job{}, errors.Wrap(err, "inserting job")
	}
	return job, nil
}

func (repo *jobRepository) GetJob(ctx context.Context, id string) (generation.Job, error) {
	if !validID(id) {
		return generation.Job{}, generation.ErrJobNotFound
	}
	var row jobRow
	if err := get(ctx, repo.db, &row, psql.Select(jobColumns...).From(jobTable).Where(sq.Eq{"id": id})); err != nil {
		return generation.Job{}, noRows(err, generation.ErrJobNotFound, "getting job")
	}
	return row.toJob()
}

func (repo *jobRepository) QueryJobs(ctx context.Context, filter *generation.QueryFilter, page core.Page) ([]generation.Job, error) {
	q := psql.Select(jobColumns...).From(jobTable)
	if filter != nil {
		if filter.OwnerID != "" {
			q = q.Where(sq.Eq{"owner_id": validIDs(filter.OwnerID)})
		}
		if filter.DocumentID != "" {
			q = q.Where(sq.Eq{"document_id": validIDs(filter.DocumentID)})
		}
		if len(filter.Statuses) > 0 {
			q = q.Where(sq.Eq{"status": filter.Statuses})
		}
	}
	q = paginate(q.OrderBy(orderBy(nil, core.DBOrdering{Field: "created_at"})...), page)

	var rows []jobRow
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying jobs")
	}
	return toJobs(rows)
}

// transition updates the job `id` when its status is one of `from`.
// Fails with ErrJobNotActive when the job exists with another status.
func (repo *jobRepository) transition(ctx context.Context, id string, from []string, set map[string]interface{}) (generation.Job, error) {
	if !validID(id) {
		return generation.Job{}, generation.ErrJobNotFound
	}
	set["updated_at"] = core.Now()
	q := psql.Update(jobTable).SetMap(set).
		Where(sq.Eq{"id": id, "status": from}).
		Suffix("RETURNING " + joinColumns(jobColumns))

	var row jobRow
	err := get(ctx, repo.db, &row, q)
	if err == nil {
		return row.toJob()
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return generation.Job{}, errors.Wrap(err, "updating job")
	}
	if _, err := repo.GetJob(ctx, id); err != nil {
		return generation.Job{}, err
	}
	return generation.Job{}, generation.ErrJobNotActive
}

func (repo *jobRepository) StartJob(ctx context.Context, id string) (generation.Job, error) {
	return repo.transition(ctx, id, []string{generation.StatusPending}, map[string]interface{}{
		"status":     generation.StatusRunning,
		"started_at": core.Now(),
	})
}

func (repo *jobRepository) UpdateJobProgress(ctx context.Context, id, phase string, progress int, message string) (generation.Job, error) {
	return repo.transition(ctx, id, []string{generation.StatusRunning}, map[string]interface{}{
		"phase":    phase,
		"progress": progress,
		"message":  message,
	})
}

func finishSet(status, errMsg, courseID string) map[string]interface{} {
	set := map[string]interface{}{
		"status":      status,
		"error":       errMsg,
		"finished_at": core.Now(),
	}
	if courseID != "" {
		set["course_id"] = courseID
	}
	if status == generation.StatusCompleted {
		set["progress"] = 100
	}
	return set
}

func (repo *jobRepository) FinishJob(ctx context.Context, id, status, errMsg, courseID string) (generation.Job, error) {
	return repo.transition(ctx, id, generation.ActiveStatuses, finishSet(status, errMsg, courseID))
}

func (repo *jobRepository) FailStaleJobs(ctx context.Context, errMsg string) ([]generation.Job, error) {
	set := finishSet(generation.StatusFailed, errMsg, "")
	set["updated_at"] = core.Now()
	q := psql.Update(jobTable).SetMap(set).
		Where(sq.Eq{"status": generation.ActiveStatuses}).
		Suffix("RETURNING " + joinColumns(jobColumns))

	var rows []jobRow
	if err := selectAll(ctx, repo.db, &rows, q); err != nil {
		return nil, errors.Wrap(err, "failing stale jobs")
	}
	return toJobs(rows)
}
