// Package retry retries operations that fail with transient network errors,
// waiting an exponentially growing delay between attempts.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/pkg/metrics"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = 500 * time.Millisecond
	DefaultFactor   = 1.5
)

// Policy decides whether and when to retry a failed call.
type Policy struct {
	op       string
	attempts int
	delay    time.Duration
	factor   float64
	retryIf  func(error) bool
	clock    clock.Clock
	notify   func(attempt int, err error, wait time.Duration)
}

// New creates a policy with defaults: 3 attempts, 500ms initial delay, factor 1.5,
// retrying only transient network failures.
func New(opts ...Option) *Policy {
	p := &Policy{
		op:       "call",
		attempts: DefaultAttempts,
		delay:    DefaultDelay,
		factor:   DefaultFactor,
		retryIf:  failure.IsTransient,
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempts returns the maximum number of attempts.
func (p *Policy) Attempts() int { return p.attempts }

// Delays returns the waits between consecutive attempts.
func (p *Policy) Delays() []time.Duration {
	b := p.backOff()
	out := make([]time.Duration, 0, p.attempts-1)
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return out
		}
		out = append(out, d)
	}
}

func (p *Policy) backOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.delay
	eb.RandomizationFactor = 0
	eb.Multiplier = p.factor
	eb.MaxInterval = time.Duration(math.MaxInt64)
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithMaxRetries(eb, uint64(p.attempts-1))
}

// Do runs fn until it succeeds, fails with a non-retryable error, or attempts run out.
// A non-retryable error is returned as is. Exhaustion wraps ErrExhausted and the last error.
func (p *Policy) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn under policy p and returns its value.
func Do[T any](ctx context.Context, p *Policy, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	b := p.backOff()
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !p.retryIf(err) {
			return zero, err
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if p.notify != nil {
			p.notify(attempt, err, wait)
		}
		metrics.RecordRetryAttempt(p.op)
		if werr := p.sleep(ctx, wait); werr != nil {
			return zero, fmt.Errorf("%w: %w", werr, err)
		}
	}
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	t := p.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
