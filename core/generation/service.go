package generation

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/somo/core"
	"github.com/trezcool/somo/core/document"
	"github.com/trezcool/somo/core/metrics"
	"github.com/trezcool/somo/core/user"
)

const staleJobMessage = "interrupted by restart"

var (
	// errors
	ErrJobNotFound  = errors.New("generation job not found")
	ErrJobActive    = errors.New("the document already has an active generation job")
	ErrJobNotActive = errors.New("the generation job is not active")
)

type (
	Repository interface {
		// CreateJob fails with ErrJobActive when the document already has a pending or running job.
		CreateJob(ctx context.Context, job Job) (Job, error)
		GetJob(ctx context.Context, id string) (Job, error)
		// QueryJobs returns the newest jobs first.
		QueryJobs(ctx context.Context, filter *QueryFilter, page core.Page) ([]Job, error)
		// StartJob moves a pending job to running; ErrJobNotActive otherwise.
		StartJob(ctx context.Context, id string) (Job, error)
		// UpdateJobProgress fails with ErrJobNotActive unless the job is running.
		UpdateJobProgress(ctx context.Context, id, phase string, progress int, message string) (Job, error)
		// FinishJob sets the final status of an active job; ErrJobNotActive otherwise.
		FinishJob(ctx context.Context, id, status, errMsg, courseID string) (Job, error)
		// FailStaleJobs marks every active job failed and returns them.
		FailStaleJobs(ctx context.Context, errMsg string) ([]Job, error)
	}

	ServiceInterface interface {
		Start(ctx context.Context, actor user.User, documentID string, nj NewJob) (Job, error)
		Get(ctx context.Context, actor user.User, id string) (Job, error)
		ListForDocument(ctx context.Context, actor user.User, documentID string, page core.Page) ([]Job, error)
		ListMine(ctx context.Context, actor user.User, statuses []string, page core.Page) ([]Job, error)
		Cancel(ctx context.Context, actor user.User, id string) (Job, error)
		RecoverStale(ctx context.Context) (int, error)
		GenerateSync(ctx context.Context, documentID string, nj NewJob) (Job, error)
		Shutdown(ctx context.Context) error
	}

	Service struct {
		repo      Repository
		docs      DocumentStore
		processor *Processor
		runner    *Runner
		logger    core.Logger
		conf      core.GenerationConfig
	}
)

var _ ServiceInterface = (*Service)(nil) // interface compliance check

func NewService(
	repo Repository,
	docs DocumentStore,
	courses CourseStore,
	users UserReader,
	gen ContentGenerator,
	mailSvc core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Service {
	gc := conf.Generation
	return &Service{
		repo:      repo,
		docs:      docs,
		processor: NewProcessor(repo, docs, courses, users, gen, mailSvc, logger, gc),
		runner:    NewRunner(gc.Workers, gc.JobTimeout, logger),
		logger:    logger,
		conf:      gc,
	}
}

// enqueue creates the pending job of `doc` and flags the document as processing.
func (svc *Service) enqueue(ctx context.Context, doc document.Document, nj NewJob) (Job, error) {
	if doc.Status == document.StatusProcessing {
		return Job{}, ErrJobActive
	}

	now := core.Now()
	job, err := svc.repo.CreateJob(ctx, Job{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		OwnerID:    doc.OwnerID,
		Status:     StatusPending,
		Message:    "Waiting for a worker",
		Options:    nj.Options(svc.conf),
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return Job{}, err
	}

	if _, err := svc.docs.SetStatus(ctx, doc.ID, document.StatusProcessing, "", ""); err != nil {
		if _, fErr := svc.repo.FinishJob(context.WithoutCancel(ctx), job.ID, StatusFailed, "document unavailable", ""); fErr != nil {
			svc.logger.Error("failing job", fErr, map[string]interface{}{"job_id": job.ID})
		}
		return Job{}, errors.Wrap(err, "setting document status")
	}
	return job, nil
}

// Start queues the generation of a course from the document `documentID` and returns the pending job.
func (svc *Service) Start(ctx context.Context, actor user.User, documentID string, nj NewJob) (Job, error) {
	if !actor.CanAuthor() {
		return Job{}, core.ErrForbidden
	}
	doc, err := svc.docs.GetByID(ctx, documentID)
	if err != nil {
		return Job{}, err
	}
	if doc.OwnerID != actor.ID && !actor.IsAdmin() {
		return Job{}, document.ErrNotFound
	}

	job, err := svc.enqueue(ctx, doc, nj)
	if err != nil {
		return Job{}, err
	}

	err = svc.runner.Submit(job.ID, func(ctx context.Context) {
		if _, err := svc.processor.Run(ctx, job.ID); err != nil {
			svc.logger.Debug("job ended with error", err, map[string]interface{}{"job_id": job.ID})
		}
	})
	if err != nil {
		fctx := context.WithoutCancel(ctx)
		if _, fErr := svc.repo.FinishJob(fctx, job.ID, StatusFailed, err.Error(), ""); fErr != nil {
			svc.logger.Error("failing job", fErr, map[string]interface{}{"job_id": job.ID})
		}
		if _, dErr := svc.docs.SetStatus(fctx, doc.ID, document.StatusUploaded, "", ""); dErr != nil {
			svc.logger.Error("setting document status", dErr, map[string]interface{}{"job_id": job.ID})
		}
		return Job{}, errors.Wrap(err, "submitting job")
	}

	svc.logger.Info("generation queued", actor, map[string]interface{}{"job_id": job.ID, "document_id": doc.ID})
	return job, nil
}

// Get returns the job if `actor` owns it or is an admin; ErrJobNotFound otherwise.
func (svc *Service) Get(ctx context.Context, actor user.User, id string) (Job, error) {
	job, err := svc.repo.GetJob(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if job.OwnerID != actor.ID && !actor.IsAdmin() {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (svc *Service) ListForDocument(ctx context.Context, actor user.User, documentID string, page core.Page) ([]Job, error) {
	doc, err := svc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != actor.ID && !actor.IsAdmin() {
		return nil, document.ErrNotFound
	}
	jobs, err := svc.repo.QueryJobs(ctx, &QueryFilter{DocumentID: doc.ID}, page)
	return jobs, errors.Wrap(err, "querying jobs")
}

func (svc *Service) ListMine(ctx context.Context, actor user.User, statuses []string, page core.Page) ([]Job, error) {
	filter := &QueryFilter{OwnerID: actor.ID}
	for _, s := range core.CleanStrings(statuses, true /* lower */) {
		if core.StringInSlice(s, Statuses) {
			filter.Statuses = append(filter.Statuses, s)
		}
	}
	jobs, err := svc.repo.QueryJobs(ctx, filter, page)
	return jobs, errors.Wrap(err, "querying jobs")
}

// Cancel stops an active job: the job ends cancelled and its document can be processed again.
func (svc *Service) Cancel(ctx context.Context, actor user.User, id string) (Job, error) {
	job, err := svc.Get(ctx, actor, id)
	if err != nil {
		return Job{}, err
	}
	if !job.IsActive() {
		return Job{}, ErrJobNotActive
	}

	// the job row is settled before the worker notices, so a late completion cannot win
	job, err = svc.repo.FinishJob(ctx, job.ID, StatusCancelled, "cancelled by user", "")
	if err != nil {
		return Job{}, err
	}
	metrics.JobsTotal.WithLabelValues(StatusCancelled).Inc()

	if _, err := svc.docs.SetStatus(context.WithoutCancel(ctx), job.DocumentID, document.StatusUploaded, "", ""); err != nil {
		svc.logger.Error("setting document status", err, map[string]interface{}{"job_id": job.ID})
	}
	svc.runner.Cancel(job.ID)

	svc.logger.Info("generation cancelled", actor, map[string]interface{}{"job_id": job.ID})
	return job, nil
}

// RecoverStale fails the jobs a previous process left pending or running, and their documents.
func (svc *Service) RecoverStale(ctx context.Context) (int, error) {
	jobs, err := svc.repo.FailStaleJobs(ctx, staleJobMessage)
	if err != nil {
		return 0, errors.Wrap(err, "failing stale jobs")
	}
	for _, job := range jobs {
		if _, err := svc.docs.SetStatus(ctx, job.DocumentID, document.StatusFailed, staleJobMessage, ""); err != nil {
			svc.logger.Error("setting document status", err, map[string]interface{}{"job_id": job.ID})
		}
		metrics.JobsTotal.WithLabelValues(StatusFailed).Inc()
	}
	if len(jobs) > 0 {
		svc.logger.Warn("stale generation jobs failed", map[string]interface{}{"count": len(jobs)})
	}
	return len(jobs), nil
}

// GenerateSync runs the whole pipeline for `documentID` in the calling goroutine, on behalf of the document owner.
func (svc *Service) GenerateSync(ctx context.Context, documentID string, nj NewJob) (Job, error) {
	doc, err := svc.docs.GetByID(ctx, documentID)
	if err != nil {
		return Job{}, err
	}
	job, err := svc.enqueue(ctx, doc, nj)
	if err != nil {
		return Job{}, err
	}
	if svc.conf.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.conf.JobTimeout)
		defer cancel()
	}
	return svc.processor.Run(ctx, job.ID)
}

// Shutdown waits for the jobs in flight; see Runner.Shutdown.
func (svc *Service) Shutdown(ctx context.Context) error {
	return svc.runner.Shutdown(ctx)
}
