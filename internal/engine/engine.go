// Package engine keeps local mirrors of the server's races and applications
// responsive: mutations apply optimistically, settle against the server, and are
// corrected by delayed authoritative refreshes.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/adapters/mq/queue"
	"github.com/okian/racesync/internal/adapters/mq/worker"
	"github.com/okian/racesync/internal/adapters/repository"
	"github.com/okian/racesync/internal/domain/dedupe"
	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/domain/retry"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// Default engine configuration constants.
const (
	defaultRequestTimeout = 10 * time.Second
	defaultWorkers        = 2
	defaultQueueCapacity  = 64
)

// Engine owns the stores and wires the gate, controller and scheduler around them.
type Engine struct {
	backend    Backend
	clock      clock.WithDelayedExecution
	logger     logger.Logger
	retry      *retry.Policy
	classifier *failure.Classifier

	reconcileDelay time.Duration
	verifyDelay    time.Duration
	requestTimeout time.Duration
	workers        int
	queueCapacity  int

	races *repository.Store[model.Race]
	apps  *repository.Store[model.Application]

	gate       *AuthGate
	controller *Controller
	scheduler  *Scheduler
	queue      *queue.InMemoryQueue
	pool       *worker.Pool

	ctx       context.Context
	cancel    context.CancelFunc
	started   atomic.Bool
	closeOnce sync.Once
	unwatch   func()
}

// New creates an engine over backend. Call Start to run refreshes.
func New(backend Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:        backend,
		clock:          clock.RealClock{},
		logger:         logger.Get().Named("engine"),
		reconcileDelay: DefaultReconcileDelay,
		verifyDelay:    DefaultVerifyDelay,
		requestTimeout: defaultRequestTimeout,
		workers:        defaultWorkers,
		queueCapacity:  defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.classifier == nil {
		e.classifier = failure.New()
	}
	if e.retry == nil {
		e.retry = retry.New(retry.WithOperation("auth_token"), retry.WithClock(e.clock))
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.races = repository.New(string(model.CollectionRaces), repository.WithOrder(model.RaceOrder()))
	e.apps = repository.New[model.Application](string(model.CollectionApplications))
	e.gate = NewAuthGate(backend, e.retry, e.classifier, e.clock, e.logger.Named("authgate"))
	e.queue = queue.NewInMemoryQueue(queue.WithCapacity(e.queueCapacity))
	e.scheduler = NewScheduler(e.ctx, e.queue, e.clock, e.reconcileDelay, e.logger.Named("reconcile"))
	e.controller = &Controller{
		ctx:            e.ctx,
		backend:        backend,
		gate:           e.gate,
		classifier:     e.classifier,
		scheduler:      e.scheduler,
		races:          e.races,
		apps:           e.apps,
		clock:          e.clock,
		inflight:       dedupe.NewInMemoryDeduper(),
		logger:         e.logger.Named("mutation"),
		requestTimeout: e.requestTimeout,
		verifyDelay:    e.verifyDelay,
	}
	e.pool = worker.NewPool(e.workers, e.queue, e, worker.WithLogger(e.logger.Named("worker")), worker.WithTaskTimeout(e.requestTimeout))
	e.unwatch = e.gate.OnChange(e.sessionChanged)
	return e
}

// Start runs the refresh workers.
func (e *Engine) Start() {
	if e.started.CompareAndSwap(false, true) {
		e.pool.Start(e.ctx)
	}
}

// Close stops pending refreshes, waits for in-flight mutations and shuts the
// workers down. Stores reject writes afterwards.
func (e *Engine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		e.controller.closed.Store(true)
		e.unwatch()
		e.scheduler.CancelAll()
		if werr := e.controller.Wait(ctx); werr != nil {
			err = fmt.Errorf("wait for mutations: %w", werr)
		}
		// Mutations that settled while waiting may have armed new refreshes.
		e.scheduler.CancelAll()
		if e.started.Load() {
			if perr := e.pool.Shutdown(ctx); perr != nil && err == nil {
				err = perr
			}
		} else {
			_ = e.queue.Close()
		}
		e.cancel()
		e.races.Close()
		e.apps.Close()
	})
	return err
}

// Login signs in, retrying transient failures.
func (e *Engine) Login(ctx context.Context, email, role string) (Session, error) {
	return e.gate.Login(ctx, email, role)
}

// Restore reopens a session from a previously issued token.
func (e *Engine) Restore(raw string) (Session, error) { return e.gate.Restore(raw) }

// Logout drops the session and collapses both stores.
func (e *Engine) Logout() { e.gate.Logout() }

// Session returns the current session, if any.
func (e *Engine) Session() (Session, bool) { return e.gate.Current() }

// Gate exposes the auth gate.
func (e *Engine) Gate() *AuthGate { return e.gate }

// sessionChanged collapses both stores when a session ends, including when
// another sign-in replaces it.
func (e *Engine) sessionChanged(active bool) {
	if active {
		return
	}
	e.scheduler.CancelAll()
	e.races.Replace(nil)
	e.apps.Replace(nil)
}

// Load fetches both collections concurrently and replaces the stores.
func (e *Engine) Load(ctx context.Context) error {
	const op = "Load"
	tok, epoch, err := e.gate.Token(op)
	if err != nil {
		return err
	}

	var (
		races []model.Race
		apps  []model.Application
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		races, err = e.backend.ListRaces(gctx, tok)
		return err
	})
	g.Go(func() error {
		var err error
		apps, err = e.backend.ListApplications(gctx, tok)
		return err
	})
	if err := g.Wait(); err != nil {
		return e.classifier.ClassifyError(op, err)
	}
	if !e.gate.Valid(epoch) {
		return ErrDiscarded
	}
	e.races.Replace(races)
	e.apps.Replace(apps)
	return nil
}

// Refresh fetches one collection and replaces its store. It runs on the workers.
func (e *Engine) Refresh(ctx context.Context, task queue.Task) error { //nolint:gocritic // hugeParam: Task is passed by value for channel semantics
	op := "Refresh " + string(task.Collection)
	start := time.Now()
	err := e.refresh(ctx, op, task.Collection)

	outcome := outcomeOf(err)
	metrics.RecordReconcileRun(string(task.Collection), outcome)
	metrics.RecordReconcileLatency(string(task.Collection), float64(time.Since(start).Milliseconds()))
	return err
}

func (e *Engine) refresh(ctx context.Context, op string, c model.Collection) error {
	tok, epoch, err := e.gate.Token(op)
	if err != nil {
		if signInRequired(err) {
			return ErrDiscarded
		}
		return err
	}
	switch c {
	case model.CollectionRaces:
		items, err := e.backend.ListRaces(ctx, tok)
		if err != nil {
			return e.classifier.ClassifyError(op, err)
		}
		if !e.gate.Valid(epoch) {
			return ErrDiscarded
		}
		e.races.Replace(items)
	case model.CollectionApplications:
		items, err := e.backend.ListApplications(ctx, tok)
		if err != nil {
			return e.classifier.ClassifyError(op, err)
		}
		if !e.gate.Valid(epoch) {
			return ErrDiscarded
		}
		e.apps.Replace(items)
	default:
		return fmt.Errorf("%s: unknown collection %q", op, c)
	}
	return nil
}

// Reconcile schedules a refresh of c after the reconcile delay.
func (e *Engine) Reconcile(c model.Collection) *Handle { return e.scheduler.Schedule(c) }

// Scheduler exposes the reconciliation scheduler.
func (e *Engine) Scheduler() *Scheduler { return e.scheduler }

// Races returns the races in display order.
func (e *Engine) Races() []model.Race { return e.races.List() }

// Applications returns the applications in insertion order.
func (e *Engine) Applications() []model.Application { return e.apps.List() }

// RaceStore exposes the race store for subscriptions.
func (e *Engine) RaceStore() *repository.Store[model.Race] { return e.races }

// ApplicationStore exposes the application store for subscriptions.
func (e *Engine) ApplicationStore() *repository.Store[model.Application] { return e.apps }

// RaceName resolves raceID for display. Dangling references render as unknown.
func (e *Engine) RaceName(raceID string) string {
	r, err := e.races.Get(raceID)
	if err != nil {
		return model.UnknownRaceName
	}
	return r.Name
}

// CreateRace optimistically adds a race.
func (e *Engine) CreateRace(draft model.RaceDraft) (*Pending[model.Race], error) {
	return e.controller.CreateRace(draft)
}

// UpdateRace optimistically patches a race.
func (e *Engine) UpdateRace(id string, patch model.RacePatch) (*Pending[model.Race], error) {
	return e.controller.UpdateRace(id, patch)
}

// DeleteRace optimistically removes a race.
func (e *Engine) DeleteRace(id string) (*Pending[model.Race], error) {
	return e.controller.DeleteRace(id)
}

// DeleteApplication optimistically withdraws an application.
func (e *Engine) DeleteApplication(id string) (*Pending[model.Application], error) {
	return e.controller.DeleteApplication(id)
}

// Register submits a registration and verifies it.
func (e *Engine) Register(form model.RegistrationForm) (*Pending[model.Application], error) {
	return e.controller.Register(form)
}

// Wait blocks until in-flight mutations settled.
func (e *Engine) Wait(ctx context.Context) error { return e.controller.Wait(ctx) }
