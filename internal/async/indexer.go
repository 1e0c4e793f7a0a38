package async

import (
	"context"
	"sync"
	"time"
)

// TaskFunc is the work a Runner executes in the background.
type TaskFunc func(ctx context.Context, progress *Progress) error

// Runner runs one background task with progress tracking and a bounded
// stop. It never blocks the caller: Start returns immediately, and Stop
// waits at most its timeout for the task to wind down cooperatively
// before giving up on it.
type Runner struct {
	progress *Progress

	// Task is the work to run; injectable for testing.
	Task TaskFunc

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}

	mu      sync.Mutex
	running bool
	err     error
}

// NewRunner creates a runner for the given task.
func NewRunner(task TaskFunc) *Runner {
	return &Runner{
		progress: NewProgress(),
		Task:     task,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the progress tracker for this runner.
func (r *Runner) Progress() *Progress {
	return r.progress
}

// IsRunning returns true while the task is executing.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins the task in a background goroutine. Calling Start on a
// running or finished runner is a no-op.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	select {
	case <-r.doneCh:
		r.mu.Unlock()
		return
	default:
	}
	r.running = true
	r.mu.Unlock()

	go r.run(ctx)
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.doneCh)
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if r.Task == nil {
		r.progress.SetReady()
		return
	}

	err := r.Task(ctx, r.progress)
	switch {
	case err == nil:
		r.progress.SetReady()
	case ctx.Err() != nil:
		r.progress.SetStopped()
	default:
		r.progress.SetError(err.Error())
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
	}
}

// Stop signals the task to stop and waits up to timeout for it to
// finish. Returns false when the task did not wind down in time; the
// caller must then treat whatever the task was writing as suspect.
func (r *Runner) Stop(timeout time.Duration) bool {
	r.stopOnce.Do(func() { close(r.stopCh) })

	select {
	case <-r.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Wait blocks until the task completes and returns its error.
func (r *Runner) Wait() error {
	<-r.doneCh
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done exposes completion for select loops.
func (r *Runner) Done() <-chan struct{} {
	return r.doneCh
}
