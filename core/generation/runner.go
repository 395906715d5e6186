package generation

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/trezcool/somo/core"
)

var ErrRunnerClosed = errors.New("generation runner is shut down")

// Runner runs jobs in the background on a bounded pool of workers.
// Every job gets its own cancellable context, bounded by the job timeout once a worker picks it up.
type Runner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  core.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	cancels map[string]context.CancelFunc
}

func NewRunner(workers int, timeout time.Duration, logger core.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Runner{
		sem:     semaphore.NewWeighted(int64(workers)),
		timeout: timeout,
		logger:  logger,
		baseCtx: ctx,
		stop:    stop,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit queues `fn` for the job `jobID`. It returns immediately.
func (r *Runner) Submit(jobID string, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRunnerClosed
	}
	if _, ok := r.cancels[jobID]; ok {
		return errors.Errorf("job %s already submitted", jobID)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	r.cancels[jobID] = cancel
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer r.forget(jobID)

		if err := r.sem.Acquire(ctx, 1); err != nil {
			// cancelled or shut down while waiting for a worker
			r.logger.Warn("job dropped before start", map[string]interface{}{"job_id": jobID, "reason": err.Error()})
			return
		}
		defer r.sem.Release(1)

		jobCtx := ctx
		if r.timeout > 0 {
			var cancelTimeout context.CancelFunc
			jobCtx, cancelTimeout = context.WithTimeout(ctx, r.timeout)
			defer cancelTimeout()
		}

		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("job panicked", errors.Errorf("%v", rec), map[string]interface{}{"job_id": jobID})
			}
		}()
		fn(jobCtx)
	}()
	return nil
}

func (r *Runner) forget(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.cancels[jobID]; ok {
		cancel()
		delete(r.cancels, jobID)
	}
}

// Cancel cancels the context of the job; false when the job is not known to the runner.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of submitted jobs not finished yet.
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}

// Shutdown stops accepting jobs and waits for the submitted ones.
// When `ctx` is done first, the remaining jobs are cancelled and ctx.Err() is returned.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.stop()
		return nil
	case <-ctx.Done():
		r.stop()
		<-done
		return ctx.Err()
	}
}
