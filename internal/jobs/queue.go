// Package jobs runs background work on a bounded queue. Delivery is
// at-least-once from the caller's point of view only in the sense that task
// bodies must re-validate state before acting; a task that never ran (queue
// overflow, shutdown) is simply retried by the next trigger.
package jobs

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of background work. The context is cancelled when the
// queue shuts down.
type Task func(ctx context.Context)

type job struct {
	kind string
	run  Task
}

type Queue struct {
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewQueue starts workers goroutines draining a queue of the given size.
func NewQueue(workers, size int) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:   make(chan job, size),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue submits a task and returns immediately. A full queue drops the
// task with a log line instead of blocking the request; the caller's next
// trigger (dashboard load, explicit sync) re-enqueues naturally.
func (q *Queue) Enqueue(kind string, run Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		slog.Warn("job rejected, queue shut down", "kind", kind)
		return false
	}
	select {
	case q.jobs <- job{kind: kind, run: run}:
		return true
	default:
		slog.Warn("job dropped, queue full", "kind", kind)
		return false
	}
}

// Shutdown stops accepting work, cancels the worker context and waits for
// in-flight tasks to finish.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.runGuarded(j)
	}
}

// runGuarded keeps a panicking task from taking the worker down.
func (q *Queue) runGuarded(j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("background job panicked", "kind", j.kind, "panic", r)
		}
	}()
	j.run(q.ctx)
}
