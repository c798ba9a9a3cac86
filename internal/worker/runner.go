package worker

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Runner executes detached background tasks with bounded concurrency.
// Tasks are fire and forget: submitting never blocks the caller beyond
// acquiring a slot goroutine, outcomes are logged only, and a panicking
// task takes down nothing but itself. Tasks get their own context
// detached from the request, bounded by the task timeout.
type Runner struct {
	sem     chan struct{}
	timeout time.Duration

	wg       sync.WaitGroup
	mu       sync.Mutex
	draining bool
}

func NewRunner(concurrency int, timeout time.Duration) *Runner {
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Runner{
		sem:     make(chan struct{}, concurrency),
		timeout: timeout,
	}
}

// Submit schedules fn to run on its own goroutine. When the runner is
// draining the task is dropped with a log line; a full runner queues on
// the semaphore inside the spawned goroutine, not in the caller.
func (r *Runner) Submit(name string, fn func(ctx context.Context)) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		slog.Warn("background task dropped, runner draining", "task", name)
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("background task panicked", "task", name, "panic", rec, "stack", string(debug.Stack()))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		start := time.Now()
		fn(ctx)
		slog.Debug("background task finished", "task", name, "duration", time.Since(start))
	}()
}

// Drain stops accepting tasks and waits for running ones, up to wait.
func (r *Runner) Drain(wait time.Duration) {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(wait):
		slog.Warn("drain timed out with background tasks still running")
	}
}
