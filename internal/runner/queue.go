package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/repairops/internal/logfields"
	"git.home.luguber.info/inful/repairops/internal/metrics"
)

// ErrQueueFull is returned when the bounded job queue rejects an enqueue.
var ErrQueueFull = fmt.Errorf("task queue is full")

// Queue is a bounded FIFO consumed by a fixed worker pool.
type Queue struct {
	jobs     chan *Job
	workers  int
	runner   *Runner
	recorder metrics.Recorder

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

// NewQueue builds a queue of the given capacity and worker count.
func NewQueue(maxSize, workers int, r *Runner, rec metrics.Recorder) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Queue{
		jobs:     make(chan *Job, maxSize),
		workers:  workers,
		runner:   r,
		recorder: rec,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled;
// a job caught mid-flight is aborted as CANCELLED by the runner.
func (q *Queue) Start(ctx context.Context) {
	slog.Info("Starting task workers", slog.Int("workers", q.workers), slog.Int("capacity", cap(q.jobs)))
	for i := 0; i < q.workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.work(ctx, name)
		}()
	}
}

func (q *Queue) work(ctx context.Context, name string) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.recorder.SetQueueDepth(len(q.jobs))
			slog.Info("Job picked up",
				logfields.Worker(name),
				logfields.TaskID(job.TaskID),
				slog.String("kind", string(job.Kind)))
			q.runner.RunJob(ctx, job)
		}
	}
}

// Enqueue adds a job without blocking. A full queue is an error the
// caller surfaces as 503.
func (q *Queue) Enqueue(job *Job) error {
	q.mu.Lock()
	stopping := q.stopping
	q.mu.Unlock()
	if stopping {
		return fmt.Errorf("task queue is shutting down")
	}

	select {
	case q.jobs <- job:
		q.recorder.SetQueueDepth(len(q.jobs))
		q.recorder.IncTaskReceived(string(job.Kind))
		return nil
	default:
		return ErrQueueFull
	}
}

// Depth returns the number of waiting jobs.
func (q *Queue) Depth() int { return len(q.jobs) }

// Stop refuses new jobs and waits for workers to exit, bounded by ctx.
// The caller cancels the Start context first so workers abort promptly.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopping = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Task workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
