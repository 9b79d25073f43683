// Package tasks runs best-effort side effects (read receipts, replies) off
// the request path on a bounded worker pool.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/whatsapp-gateway/internal/metrics"
	"go.uber.org/zap"
)

type Func func(ctx context.Context) error

type task struct {
	name string
	fn   Func
}

type Runner struct {
	log     *zap.Logger
	queue   chan task
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts workers goroutines draining a queue of queueSize tasks. Each task
// runs under its own timeout, detached from the request that submitted it.
func New(log *zap.Logger, workers, queueSize int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	r := &Runner{
		log:     log.Named("tasks"),
		queue:   make(chan task, queueSize),
		timeout: timeout,
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Submit enqueues fn without blocking. It returns false when the queue is
// full or the runner is closed; the drop is logged and counted.
func (r *Runner) Submit(name string, fn Func) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.log.Warn("task dropped, runner closed", zap.String("task", name))
		metrics.TasksTotal.WithLabelValues(name, "dropped").Inc()
		return false
	}

	select {
	case r.queue <- task{name: name, fn: fn}:
		return true
	default:
		r.log.Warn("task dropped, queue full", zap.String("task", name), zap.Int("capacity", cap(r.queue)))
		metrics.TasksTotal.WithLabelValues(name, "dropped").Inc()
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to end.
func (r *Runner) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for t := range r.queue {
		r.run(t)
	}
}

func (r *Runner) run(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	start := time.Now()
	err := safeCall(ctx, t.fn)
	if err != nil {
		r.log.Error("task failed",
			zap.String("task", t.name),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		)
		metrics.TasksTotal.WithLabelValues(t.name, "error").Inc()
		return
	}
	metrics.TasksTotal.WithLabelValues(t.name, "ok").Inc()
}

func safeCall(ctx context.Context, fn Func) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(ctx)
}
