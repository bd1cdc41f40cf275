package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/adapters/repository"
	"github.com/okian/racesync/internal/domain/dedupe"
	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// Operation labels used in user-facing messages.
const (
	OpCreateRace        = "Create race"
	OpUpdateRace        = "Update race"
	OpDeleteRace        = "Delete race"
	OpDeleteApplication = "Delete application"
	OpRegister          = "Register"
)

// Backend is the server API the engine drives.
type Backend interface {
	TokenIssuer
	ListRaces(ctx context.Context, token string) ([]model.Race, error)
	CreateRace(ctx context.Context, token string, draft model.RaceDraft) (model.Race, error)
	PatchRace(ctx context.Context, token, id string, patch model.RacePatch) (model.Race, error)
	DeleteRace(ctx context.Context, token, id string) error
	ListApplications(ctx context.Context, token string) ([]model.Application, error)
	CreateApplication(ctx context.Context, token string, form model.RegistrationForm) (model.Application, error)
	DeleteApplication(ctx context.Context, token, id string) error
}

// Pending is the handle of a mutation whose request is still in flight. The
// optimistic change is already visible in the store when it is returned.
type Pending[T any] struct {
	entity T

	done   chan struct{}
	result T
	err    error
}

func newPending[T any](entity T) *Pending[T] {
	return &Pending[T]{entity: entity, done: make(chan struct{})}
}

// Entity returns the optimistic entity applied to the store.
func (p *Pending[T]) Entity() T { return p.entity }

// Done is closed once the request settled and the store was confirmed or rolled back.
func (p *Pending[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the mutation settles. It returns the server's version of the
// entity, or a *failure.Error after rollback, or ErrDiscarded.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *Pending[T]) resolve(v T, err error) {
	p.result, p.err = v, err
	close(p.done)
}

// Controller applies mutations optimistically and settles them against the server.
type Controller struct {
	ctx        context.Context
	backend    Backend
	gate       *AuthGate
	classifier *failure.Classifier
	scheduler  *Scheduler
	races      *repository.Store[model.Race]
	apps       *repository.Store[model.Application]
	clock      clock.Clock
	inflight   dedupe.Deduper
	logger     logger.Logger

	requestTimeout time.Duration
	verifyDelay    time.Duration

	wg     sync.WaitGroup
	closed atomic.Bool
}

// begin checks the controller is open and the gate holds a session.
func (c *Controller) begin(op string) (string, uint64, error) {
	if c.closed.Load() {
		return "", 0, ErrClosed
	}
	return c.gate.Token(op)
}

// CreateRace adds a race under a temporary id and posts it. On success the
// temporary entry stays until the scheduled refresh replaces it.
func (c *Controller) CreateRace(draft model.RaceDraft) (*Pending[model.Race], error) {
	const op = OpCreateRace
	if err := draft.Validate(); err != nil {
		return nil, failure.Validation(op, err)
	}
	tok, epoch, err := c.begin(op)
	if err != nil {
		return nil, err
	}

	race := model.Race{ID: model.NewTempID(c.clock.Now()), Name: draft.Name, Distance: draft.Distance}
	c.races.Upsert(race)

	p := newPending(race)
	settle(c, op, model.CollectionRaces, func(ctx context.Context) (model.Race, error) {
		ctx, cancel := c.request(ctx)
		defer cancel()
		created, err := c.backend.CreateRace(ctx, tok, draft)
		if !c.gate.Valid(epoch) {
			return model.Race{}, ErrDiscarded
		}
		if err != nil {
			c.races.Remove(race.ID)
			return model.Race{}, c.classifier.ClassifyError(op, err)
		}
		c.scheduler.Schedule(model.CollectionRaces)
		if created.Name == "" {
			created.Name, created.Distance = race.Name, race.Distance
		}
		return created, nil
	}, p)
	return p, nil
}

// UpdateRace applies patch to race id and sends it. A failed request restores
// the previous version.
func (c *Controller) UpdateRace(id string, patch model.RacePatch) (*Pending[model.Race], error) {
	const op = OpUpdateRace
	if model.IsTempID(id) {
		return nil, failure.Validation(op, ErrTemporaryEntity)
	}
	if err := patch.Validate(); err != nil {
		return nil, failure.Validation(op, err)
	}
	tok, epoch, err := c.begin(op)
	if err != nil {
		return nil, err
	}
	snap := c.races.Snapshot()
	current, err := snap.Get(id)
	if err != nil {
		return nil, failure.Validation(op, err)
	}

	updated := patch.Apply(current)
	c.races.Upsert(updated)

	p := newPending(updated)
	settle(c, op, model.CollectionRaces, func(ctx context.Context) (model.Race, error) {
		ctx, cancel := c.request(ctx)
		defer cancel()
		got, err := c.backend.PatchRace(ctx, tok, id, patch)
		if !c.gate.Valid(epoch) {
			return model.Race{}, ErrDiscarded
		}
		if err != nil {
			c.races.Reinstate(snap, id)
			return model.Race{}, c.classifier.ClassifyError(op, err)
		}
		c.scheduler.Schedule(model.CollectionRaces)
		if got.ID == "" {
			got = updated
		}
		return got, nil
	}, p)
	return p, nil
}

// DeleteRace removes race id and sends the delete. A failed request restores it
// at its previous position.
func (c *Controller) DeleteRace(id string) (*Pending[model.Race], error) {
	const op = OpDeleteRace
	return deleteEntity(c, op, id, c.races, model.CollectionRaces, c.backend.DeleteRace)
}

// DeleteApplication withdraws application id.
func (c *Controller) DeleteApplication(id string) (*Pending[model.Application], error) {
	const op = OpDeleteApplication
	return deleteEntity(c, op, id, c.apps, model.CollectionApplications, c.backend.DeleteApplication)
}

func deleteEntity[T repository.Entity](
	c *Controller,
	op, id string,
	store *repository.Store[T],
	collection model.Collection,
	send func(ctx context.Context, token, id string) error,
) (*Pending[T], error) {
	if model.IsTempID(id) {
		return nil, failure.Validation(op, ErrTemporaryEntity)
	}
	tok, epoch, err := c.begin(op)
	if err != nil {
		return nil, err
	}
	snap := store.Snapshot()
	current, err := snap.Get(id)
	if err != nil {
		return nil, failure.Validation(op, err)
	}

	store.Remove(id)

	p := newPending(current)
	settle(c, op, collection, func(ctx context.Context) (T, error) {
		ctx, cancel := c.request(ctx)
		defer cancel()
		var zero T
		err := send(ctx, tok, id)
		if !c.gate.Valid(epoch) {
			return zero, ErrDiscarded
		}
		if err != nil {
			store.Reinstate(snap, id)
			return zero, c.classifier.ClassifyError(op, err)
		}
		c.scheduler.Schedule(collection)
		return current, nil
	}, p)
	return p, nil
}

// request bounds a single server call by the request timeout.
func (c *Controller) request(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.requestTimeout)
}

// settle runs the mutation on its own goroutine under the engine lifetime and
// resolves p with its outcome. run bounds each server call with request.
func settle[T any](c *Controller, op string, collection model.Collection, run func(ctx context.Context) (T, error), p *Pending[T]) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := c.ctx

		start := time.Now()
		v, err := run(ctx)
		outcome := outcomeOf(err)
		metrics.RecordMutation(string(collection), op, outcome)
		metrics.RecordMutationLatency(op, float64(time.Since(start).Milliseconds()))

		switch outcome {
		case "ok":
			c.logger.Debug(ctx, "mutation confirmed", logger.String("op", op))
		case "discarded":
			c.logger.Debug(ctx, "mutation discarded", logger.String("op", op))
		default:
			c.logger.Warn(ctx, "mutation rolled back", logger.String("op", op), logger.Error(err))
		}
		p.resolve(v, err)
	}()
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrDiscarded):
		return "discarded"
	default:
		return "failed"
	}
}

// Wait blocks until every in-flight mutation settled or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
