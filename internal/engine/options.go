package engine

import (
	"time"

	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/retry"
	"github.com/okian/racesync/pkg/logger"
)

// Option configures the Engine.
type Option func(*Engine)

// WithClock sets the clock driving temporary ids, reconciliation and verification.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRetryPolicy sets the policy used for the credential handshake.
func WithRetryPolicy(p *retry.Policy) Option {
	return func(e *Engine) {
		if p != nil {
			e.retry = p
		}
	}
}

// WithClassifier sets the error classifier.
func WithClassifier(c *failure.Classifier) Option {
	return func(e *Engine) {
		if c != nil {
			e.classifier = c
		}
	}
}

// WithReconcileDelay sets the wait before a post-mutation refresh.
func WithReconcileDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.reconcileDelay = d
		}
	}
}

// WithVerifyDelay sets the wait before a registration is verified.
func WithVerifyDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.verifyDelay = d
		}
	}
}

// WithRequestTimeout bounds every backend request.
func WithRequestTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.requestTimeout = d
		}
	}
}

// WithWorkers sets how many refreshes may run at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueCapacity bounds the refresh task queue.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueCapacity = n
		}
	}
}
