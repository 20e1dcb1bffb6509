package depot

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// TaskRunner runs best-effort steps after the main transaction has committed.
// Tasks never report back to the caller; failures are logged and observed.
type TaskRunner struct {
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  Logger
	obs     Observer
	wg      sync.WaitGroup
}

// NewTaskRunner creates a TaskRunner that runs at most concurrency tasks at once,
// each bounded by timeout.
func NewTaskRunner(concurrency int64, timeout time.Duration, logger Logger, obs Observer) *TaskRunner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &TaskRunner{
		sem:     semaphore.NewWeighted(concurrency),
		timeout: timeout,
		logger:  logger,
		obs:     obs,
	}
}

// Go dispatches fn without blocking. The task keeps running when ctx is
// cancelled, but inherits its values.
func (r *TaskRunner) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	base := context.WithoutCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		if err := r.sem.Acquire(base, 1); err != nil {
			r.logger.Error("task not started", "task", name, "error", err)
			r.obs.RecordTask(name, err)
			return
		}
		defer r.sem.Release(1)

		tctx, cancel := context.WithTimeout(base, r.timeout)
		defer cancel()

		err := fn(tctx)
		r.obs.RecordTask(name, err)
		if err != nil {
			r.logger.Warn("background task failed", "task", name, "error", err)
			return
		}
		r.logger.Debug("background task done", "task", name)
	}()
}

// Wait blocks until every dispatched task has finished.
func (r *TaskRunner) Wait() {
	r.wg.Wait()
}
