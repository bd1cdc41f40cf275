package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/racesync/internal/domain/dedupe"
	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// DefaultVerifyDelay is the wait between a registration and its verification read.
const DefaultVerifyDelay = DefaultReconcileDelay

// Register submits form for the signed-in user. The speculative application is
// visible at once; after the verify delay the caller's applications are fetched
// and the registration succeeds only if the server now lists it.
func (c *Controller) Register(form model.RegistrationForm) (*Pending[model.Application], error) {
	const op = OpRegister
	if err := form.Validate(); err != nil {
		return nil, failure.Validation(op, err)
	}
	tok, epoch, err := c.begin(op)
	if err != nil {
		return nil, err
	}
	session, _ := c.gate.Current()
	requester := model.Requester{Email: session.Email, FirstName: form.FirstName, LastName: form.LastName}

	key := dedupe.Key(form.RaceID, requester.Email, requester.FirstName, requester.LastName)
	if c.inflight.SeenAndRecord(c.ctx, key) {
		return nil, failure.Validation(op, ErrRegistrationInFlight)
	}

	speculative := form.Application(model.NewTempID(c.clock.Now()), requester.Email)
	c.apps.Upsert(speculative)

	p := newPending(speculative)
	settle(c, op, model.CollectionApplications, func(ctx context.Context) (model.Application, error) {
		defer c.inflight.Unrecord(context.WithoutCancel(ctx), key)

		reqCtx, cancel := c.request(ctx)
		_, err := c.backend.CreateApplication(reqCtx, tok, form)
		cancel()
		if err != nil {
			if !c.gate.Valid(epoch) {
				return model.Application{}, ErrDiscarded
			}
			c.apps.Remove(speculative.ID)
			return model.Application{}, c.classifier.ClassifyError(op, err)
		}
		return c.verify(ctx, op, tok, epoch, form.RaceID, requester, speculative.ID)
	}, p)
	return p, nil
}

// verify waits the verify delay, re-reads the caller's applications and replaces
// the store with them. A missing entry fails even though the write succeeded.
// ctx is the engine lifetime; the read gets its own request timeout.
func (c *Controller) verify(ctx context.Context, op, tok string, epoch uint64, raceID string, requester model.Requester, tempID string) (model.Application, error) {
	if err := c.sleep(ctx, c.verifyDelay); err != nil {
		metrics.RecordVerification("error")
		if !c.gate.Valid(epoch) {
			return model.Application{}, ErrDiscarded
		}
		c.apps.Remove(tempID)
		c.scheduler.Schedule(model.CollectionApplications)
		return model.Application{}, c.classifier.ClassifyError(op, err)
	}
	if !c.gate.Valid(epoch) {
		return model.Application{}, ErrDiscarded
	}

	reqCtx, cancel := c.request(ctx)
	fetched, err := c.backend.ListApplications(reqCtx, tok)
	cancel()
	if !c.gate.Valid(epoch) {
		return model.Application{}, ErrDiscarded
	}
	if err != nil {
		metrics.RecordVerification("error")
		c.apps.Remove(tempID)
		c.scheduler.Schedule(model.CollectionApplications)
		return model.Application{}, c.classifier.ClassifyError(op, err)
	}
	c.apps.Replace(fetched)

	for _, a := range fetched {
		if a.RaceID == raceID && requester.Owns(a) {
			metrics.RecordVerification("confirmed")
			return a, nil
		}
	}
	metrics.RecordVerification("missing")
	c.logger.Warn(ctx, "registration acknowledged but not listed",
		logger.String("race_id", raceID),
		logger.Int("fetched", len(fetched)),
	)
	return model.Application{}, failure.Generic(op, MsgNotConfirmed, fmt.Errorf("%w: race %s", ErrNotConfirmed, raceID))
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// IsNotConfirmed reports whether err is a registration that verification missed.
func IsNotConfirmed(err error) bool { return errors.Is(err, ErrNotConfirmed) }
