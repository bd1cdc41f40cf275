package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/adapters/mq/queue"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// DefaultReconcileDelay is the wait between a mutation and its refresh.
const DefaultReconcileDelay = time.Second

// Handle tracks one scheduled refresh of a collection.
type Handle struct {
	collection model.Collection
	release    func()

	mu      sync.Mutex
	timer   clock.Timer
	fired   bool
	stopped bool

	once sync.Once
	done chan struct{}
	err  error
}

func newHandle(c model.Collection, release func(*Handle)) *Handle {
	h := &Handle{collection: c, done: make(chan struct{})}
	h.release = func() { release(h) }
	return h
}

// Collection returns the collection the handle refreshes.
func (h *Handle) Collection() model.Collection { return h.collection }

// Done is closed once the refresh ran, failed or was stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the outcome after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the handle resolves or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the refresh if its timer has not fired yet. It reports whether
// the refresh was prevented.
func (h *Handle) Stop() bool {
	h.mu.Lock()
	if h.fired || h.stopped {
		h.mu.Unlock()
		return false
	}
	h.stopped = true
	t := h.timer
	h.mu.Unlock()

	if t != nil {
		t.Stop()
	}
	h.release()
	h.resolve(ErrCanceled)
	return true
}

func (h *Handle) resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Scheduler defers full refreshes of a collection and hands them to the task
// queue when they are due. At most one refresh is pending per collection.
type Scheduler struct {
	ctx    context.Context
	clock  clock.WithDelayedExecution
	queue  queue.Queue
	delay  time.Duration
	logger logger.Logger

	mu      sync.Mutex
	pending map[model.Collection]*Handle
}

// NewScheduler creates a scheduler that enqueues onto q after delay.
func NewScheduler(ctx context.Context, q queue.Queue, clk clock.WithDelayedExecution, delay time.Duration, l logger.Logger) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if delay < 0 {
		delay = DefaultReconcileDelay
	}
	if l == nil {
		l = logger.Get().Named("reconcile")
	}
	return &Scheduler{
		ctx:     ctx,
		clock:   clk,
		queue:   q,
		delay:   delay,
		logger:  l,
		pending: make(map[model.Collection]*Handle),
	}
}

// Schedule arms a refresh of c. While one is pending its handle is returned
// instead of arming another.
func (s *Scheduler) Schedule(c model.Collection) *Handle {
	s.mu.Lock()
	if h, ok := s.pending[c]; ok {
		s.mu.Unlock()
		metrics.RecordReconcileCoalesced(string(c))
		return h
	}
	h := newHandle(c, s.release)
	s.pending[c] = h
	s.mu.Unlock()

	metrics.RecordReconcileScheduled(string(c))

	// Arm outside s.mu: fake clocks run the callback under their own lock.
	t := s.clock.AfterFunc(s.delay, func() { s.fire(h) })
	h.mu.Lock()
	h.timer = t
	stopped := h.stopped
	h.mu.Unlock()
	if stopped {
		t.Stop()
	}
	return h
}

// Pending reports whether a refresh of c is armed and not yet due.
func (s *Scheduler) Pending(c model.Collection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[c]
	return ok
}

// CancelAll stops every pending refresh.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.pending))
	for c, h := range s.pending {
		handles = append(handles, h)
		delete(s.pending, c)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

func (s *Scheduler) release(h *Handle) {
	s.mu.Lock()
	if s.pending[h.collection] == h {
		delete(s.pending, h.collection)
	}
	s.mu.Unlock()
}

// fire must not block: it may run under a fake clock's lock.
func (s *Scheduler) fire(h *Handle) {
	s.release(h)

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.fired = true
	h.mu.Unlock()

	task := queue.Task{ID: uuid.NewString(), Collection: h.collection, Done: h.resolve}
	if err := s.queue.Enqueue(s.ctx, task); err != nil {
		metrics.RecordReconcileRun(string(h.collection), "dropped")
		s.logger.Warn(s.ctx, "refresh not queued",
			logger.String("collection", string(h.collection)),
			logger.Error(err),
		)
		h.resolve(fmt.Errorf("queue refresh of %s: %w", h.collection, err))
	}
}
