package inmemdb

import (
	"context"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/generation"
)

type jobRepository struct {
	db *DB
}

var _ generation.Repository = (*jobRepository)(nil) // interface compliance check

func NewJobRepository(db *DB) *jobRepository {
	return &jobRepository{db: db}
}

func cloneJob(job generation.Job) generation.Job {
	job.StartedAt = cloneTime(job.StartedAt)
	job.FinishedAt = cloneTime(job.FinishedAt)
	return job
}

func (repo *jobRepository) CreateJob(_ context.Context, job generation.Job) (generation.Job, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	for _, other := range repo.db.jobs {
		if other.DocumentID == job.DocumentID && other.IsActive() {
			return generation.Job{}, generation.ErrJobActive
		}
	}
	job = cloneJob(job)
	repo.db.jobs[job.ID] = &job
	return cloneJob(job), nil
}

func (repo *jobRepository) GetJob(_ context.Context, id string) (generation.Job, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	if job, ok := repo.db.jobs[id]; ok {
		return cloneJob(*job), nil
	}
	return generation.Job{}, generation.ErrJobNotFound
}

func (repo *jobRepository) QueryJobs(_ context.Context, filter *generation.QueryFilter, page core.Page) ([]generation.Job, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	jobs := make([]generation.Job, 0)
	for _, job := range repo.db.jobs {
		if filter != nil {
			if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
				continue
			}
			if filter.DocumentID != "" && job.DocumentID != filter.DocumentID {
				continue
			}
			if len(filter.Statuses) > 0 && !core.StringInSlice(job.Status, filter.Statuses) {
				continue
			}
		}
		jobs = append(jobs, cloneJob(*job))
	}

	orderBy(jobs, nil, core.DBOrdering{Field: "created_at"}, func(a, b generation.Job, _ string) int {
		return cmpTimes(a.CreatedAt, b.CreatedAt)
	})
	return paginate(jobs, page), nil
}

// activeJob returns the job `id` if it has one of `statuses`. The caller holds the write lock.
func (repo *jobRepository) activeJob(id string, statuses ...string) (*generation.Job, error) {
	job, ok := repo.db.jobs[id]
	if !ok {
		return nil, generation.ErrJobNotFound
	}
	if !core.StringInSlice(job.Status, statuses) {
		return nil, generation.ErrJobNotActive
	}
	return job, nil
}

func (repo *jobRepository) StartJob(_ context.Context, id string) (generation.Job, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	job, err := repo.activeJob(id, generation.StatusPending)
	if err != nil {
		return generation.Job{}, err
	}
	now := core.Now()
	job.Status = generation.StatusRunning
	job.StartedAt = &now
	job.UpdatedAt = now
	return cloneJob(*job), nil
}

func (repo *jobRepository) UpdateJobProgress(_ context.Context, id, phase string, progress int, message string) (generation.Job, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	job, err := repo.activeJob(id, generation.StatusRunning)
	if err != nil {
		return generation.Job{}, err
	}
	job.Phase = phase
	job.Progress = progress
	job.Message = message
	job.UpdatedAt = core.Now()
	return cloneJob(*job), nil
}

func (repo *jobRepository) FinishJob(_ context.Context, id, status, errMsg, courseID string) (generation.Job, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	job, err := repo.activeJob(id, generation.ActiveStatuses...)
	if err != nil {
		return generation.Job{}, err
	}
	finish(job, status, errMsg, courseID)
	return cloneJob(*job), nil
}

func finish(job *generation.Job, status, errMsg, courseID string) {
	now := core.Now()
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = &now
	job.UpdatedAt = now
	if courseID != "" {
		job.CourseID = courseID
	}
	if status == generation.StatusCompleted {
		job.Progress = 100
	}
}

func (repo *jobRepository) FailStaleJobs(_ context.Context, errMsg string) ([]generation.Job, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	jobs := make([]generation.Job, 0)
	for _, job := range repo.db.jobs {
		if job.IsActive() {
			finish(job, generation.StatusFailed, errMsg, "")
			jobs = append(jobs, cloneJob(*job))
		}
	}
	return jobs, nil
}
