// Package worker runs reconciliation refreshes taken off the task queue.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/racesync/internal/adapters/mq/queue"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 2
	defaultTaskTimeout  = 30 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

// Refresher fetches one collection from the server and replaces the local copy.
type Refresher interface {
	Refresh(ctx context.Context, task queue.Task) error
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, task queue.Task) error

// Refresh calls f.
func (f RefresherFunc) Refresh(ctx context.Context, task queue.Task) error { return f(ctx, task) } //nolint:gocritic // hugeParam: Task is passed by value for channel semantics

// Queue defines how workers receive tasks.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Task
}

// Worker processes refresh tasks.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current task.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing refresh tasks.
type InMemoryWorker struct {
	queue       Queue
	refresher   Refresher
	name        string
	taskTimeout time.Duration

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, refresher Refresher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:       q,
		refresher:   refresher,
		name:        "worker",
		taskTimeout: defaultTaskTimeout,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
		logger:      logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	tasks := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case task, ok := <-tasks:
			if !ok {
				return
			}
			if err := w.process(ctx, task); err != nil {
				w.logger.Warn(ctx, "refresh failed",
					logger.String("task", task.ID),
					logger.String("collection", string(task.Collection)),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process runs one task and reports its outcome to the task's Done hook.
func (w *InMemoryWorker) process(ctx context.Context, task queue.Task) (err error) { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
			metrics.RecordWorkerTask("panic")
		}
		task.Finish(err)
	}()

	if !task.EnqueuedAt.IsZero() {
		w.logger.Debug(ctx, "refresh dequeued",
			logger.String("collection", string(task.Collection)),
			logger.Duration("queued_for", time.Since(task.EnqueuedAt)),
		)
	}

	tctx, cancel := context.WithTimeout(ctx, w.taskTimeout)
	defer cancel()

	if err = w.refresher.Refresh(tctx, task); err != nil {
		metrics.RecordWorkerTask("error")
		return err
	}
	metrics.RecordWorkerTask("ok")
	return nil
}

// Pool manages multiple workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a new worker pool. Worker options apply to every worker.
func NewPool(workerCount int, q Queue, refresher Refresher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, refresher, wopts...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Shutdown closes the queue and waits for the workers to finish.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return firstErr
}
