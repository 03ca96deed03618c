package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loopline-io/loopline/internal/observability"
)

// Worker runs one queue: it polls for ready jobs, dispatches them to the
// registered processor on a bounded number of slots, and owns the
// retry/dead-letter decision. Every queue shares this harness; the queues
// differ only in name, processor, and tuning.
type Worker struct {
	queue        string
	cfg          QueueConfig
	store        *Store
	process      Processor
	pollInterval time.Duration
	metrics      *observability.Metrics
	logger       *slog.Logger

	wg sync.WaitGroup
}

// NewWorker builds a worker for one queue.
func NewWorker(log *slog.Logger, store *Store, queue string, cfg QueueConfig, pollInterval time.Duration, process Processor, metrics *observability.Metrics) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Worker{
		queue:        queue,
		cfg:          cfg,
		store:        store,
		process:      process,
		pollInterval: pollInterval,
		metrics:      metrics,
		logger:       log.With(slog.String("service", "worker"), slog.String("queue", queue)),
	}
}

// Run claims and processes jobs until ctx is canceled, then returns without
// waiting for in-flight jobs; call Drain for that.
func (w *Worker) Run(ctx context.Context) {
	slots := make(chan struct{}, w.cfg.Concurrency)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", slog.Int("concurrency", w.cfg.Concurrency))
	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		job, err := w.store.Claim(ctx, w.queue, w.cfg.StaleAfter)
		if err != nil {
			<-slots
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("claim job", slog.Any("error", err))
			w.sleep(ctx, ticker)
			continue
		}
		if job == nil {
			<-slots
			w.sleep(ctx, ticker)
			continue
		}

		w.wg.Add(1)
		go func(job *Job) {
			defer w.wg.Done()
			defer func() { <-slots }()
			w.execute(job)
		}(job)
	}
}

func (w *Worker) sleep(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-ticker.C:
	}
}

// execute runs one job to completion. It uses a fresh context so a canceled
// run loop does not abort a job mid-flight; Drain bounds the tail instead.
func (w *Worker) execute(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	started := time.Now()
	err := w.safeProcess(ctx, job.Payload)
	w.metrics.ObserveJobDuration(w.queue, time.Since(started).Seconds())

	if err == nil {
		if err := w.store.Complete(ctx, job.ID); err != nil {
			w.logger.Error("complete job", slog.String("job_id", job.ID), slog.Any("error", err))
		}
		w.metrics.JobResult(w.queue, "completed")
		return
	}

	dead := job.Attempts >= job.MaxAttempts || IsNonRetryable(err)
	if dead {
		w.metrics.JobResult(w.queue, "dead")
		w.logger.Error("job dead-lettered",
			slog.String("job_id", job.ID),
			slog.Int("attempts", job.Attempts),
			slog.Any("error", err))
	} else {
		w.metrics.JobResult(w.queue, "retry")
		w.logger.Warn("job failed, will retry",
			slog.String("job_id", job.ID),
			slog.Int("attempt", job.Attempts),
			slog.Any("error", err))
	}
	if failErr := w.store.Fail(ctx, job, err, w.cfg.BackoffBase); failErr != nil {
		w.logger.Error("record job failure", slog.String("job_id", job.ID), slog.Any("error", failErr))
	}
}

// safeProcess converts a processor panic into a job failure instead of
// killing the worker process.
func (w *Worker) safeProcess(ctx context.Context, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NonRetryable(panicError{value: r})
		}
	}()
	return w.process(ctx, payload)
}

type panicError struct{ value any }

func (e panicError) Error() string { return fmt.Sprintf("processor panic: %v", e.value) }

// Drain waits for in-flight jobs, up to the timeout. It reports false when
// the timeout elapsed with jobs still running; the caller should then exit
// non-zero and let stale-claim redelivery pick the work back up.
func (w *Worker) Drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
