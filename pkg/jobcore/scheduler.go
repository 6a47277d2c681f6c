package jobcore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxRetries   = 3
	retryDelay   = 30 * time.Second
	retryBaseGap = 1000 * time.Millisecond
)

// Per-job-name mutexes are process-wide, not per-scheduler: two schedulers
// driving the same job name (e.g. one over the shared pool, one over the
// isolated secondary pool) still get at most one live execution of that name.
// Created lazily on first use.
var (
	jobLocksMu sync.Mutex
	jobLocks   = make(map[string]*sync.Mutex)
)

func jobLock(name string) *sync.Mutex {
	jobLocksMu.Lock()
	defer jobLocksMu.Unlock()
	l, ok := jobLocks[name]
	if !ok {
		l = &sync.Mutex{}
		jobLocks[name] = l
	}
	return l
}

// Scheduler owns a connection pool and a registered job list.
type Scheduler struct {
	pool *pgxpool.Pool
	jobs []Job
}

func NewScheduler(pool *pgxpool.Pool) *Scheduler {
	return &Scheduler{pool: pool}
}

func (s *Scheduler) AddJob(job Job) {
	s.jobs = append(s.jobs, job)
}

// RunAllSequential runs each registered job once in insertion order, stopping
// at the first error.
func (s *Scheduler) RunAllSequential(ctx context.Context) error {
	for _, job := range s.jobs {
		slog.Info("starting job", "job", job.Name())
		if err := job.Execute(ctx, s.pool); err != nil {
			return err
		}
		slog.Info("completed job", "job", job.Name())
	}
	return nil
}

// RunRecurring runs job forever, acquiring its named mutex before each
// attempt, retrying up to maxRetries times spaced retryDelay apart on
// failure, then sleeping interval before the next round.
func (s *Scheduler) RunRecurring(ctx context.Context, job Job, interval time.Duration) {
	lock := jobLock(job.Name())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lock.Lock()
		slog.Info("starting recurring job", "job", job.Name())

		for attempt := 1; ; attempt++ {
			err := job.Execute(ctx, s.pool)
			if err == nil {
				slog.Info("completed recurring job", "job", job.Name())
				break
			}
			if attempt < maxRetries {
				slog.Warn("recurring job attempt failed, retrying",
					"job", job.Name(), "attempt", attempt, "max_attempts", maxRetries,
					"error", err, "retry_in", retryDelay)
				select {
				case <-ctx.Done():
					lock.Unlock()
					return
				case <-time.After(retryDelay):
				}
				continue
			}
			slog.Error("recurring job failed after max attempts",
				"job", job.Name(), "attempts", maxRetries, "error", err)
			break
		}

		lock.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// RunContinuous runs job forever, looping immediately after a successful
// execution and sleeping checkInterval whenever the job reports no_work or
// any other error.
func (s *Scheduler) RunContinuous(ctx context.Context, job Job, checkInterval time.Duration) {
	lock := jobLock(job.Name())

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lock.Lock()
		slog.Debug("checking for work", "job", job.Name())
		err := job.Execute(ctx, s.pool)
		lock.Unlock()

		switch {
		case err == nil:
			continue
		case IsNoWork(err):
			slog.Debug("no work available", "job", job.Name(), "sleep", checkInterval)
		default:
			slog.Error("error in continuous job", "job", job.Name(), "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(checkInterval):
		}
	}
}

// WithRetry runs op up to maxRetries times with a linearly increasing delay
// of 1000*attempt milliseconds between attempts, wrapping the final failure
// with operationName.
func WithRetry[T any](ctx context.Context, operationName string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		delay := time.Duration(attempt) * retryBaseGap
		slog.Warn("attempt failed, retrying", "operation", operationName,
			"attempt", attempt, "max_attempts", maxRetries, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, ExternalAPIErr("failed %s after %d retries: %v", operationName, maxRetries, lastErr)
}
