package retry

import (
	"time"

	"k8s.io/utils/clock"
)

// Option configures a Policy.
type Option func(*Policy)

// WithOperation labels retries in metrics.
func WithOperation(op string) Option {
	return func(p *Policy) {
		if op != "" {
			p.op = op
		}
	}
}

// WithAttempts sets the maximum number of attempts, including the first.
func WithAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithDelay sets the wait before the second attempt.
func WithDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.delay = d
		}
	}
}

// WithBackoffFactor sets the multiplier applied to the delay after each wait.
func WithBackoffFactor(f float64) Option {
	return func(p *Policy) {
		if f >= 1 {
			p.factor = f
		}
	}
}

// WithRetryIf sets the predicate deciding which errors are retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) {
		if fn != nil {
			p.retryIf = fn
		}
	}
}

// WithClock sets the clock used for waiting.
func WithClock(c clock.Clock) Option {
	return func(p *Policy) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithNotify registers a hook called before each wait.
func WithNotify(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(p *Policy) {
		p.notify = fn
	}
}
