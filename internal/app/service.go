// Package service wires the backend client and the sync engine into a process
// with a start/stop lifecycle.
package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/okian/racesync/internal/adapters/http/client"
	"github.com/okian/racesync/internal/config"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/domain/retry"
	"github.com/okian/racesync/internal/engine"
	"github.com/okian/racesync/pkg/logger"
)

// ErrNotStarted is returned by calls that need a running engine.
var ErrNotStarted = errors.New("service not started")

// Service owns the backend client and the engine built on top of it.
type Service struct {
	mu sync.RWMutex

	// Backend
	queryURL   string
	commandURL string
	httpClient *http.Client

	// Engine configuration
	requestTimeout time.Duration
	reconcileDelay time.Duration
	verifyDelay    time.Duration
	retryAttempts  int
	retryDelay     time.Duration
	retryBackoff   float64
	workerCount    int
	queueSize      int

	// State
	client  *client.Client
	engine  *engine.Engine
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithBackend sets the query and command base URLs.
func WithBackend(queryURL, commandURL string) Option {
	return func(s *Service) {
		if queryURL != "" {
			s.queryURL = queryURL
		}
		if commandURL != "" {
			s.commandURL = commandURL
		}
	}
}

// WithHTTPClient sets the HTTP client used for backend calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithRequestTimeout bounds every backend request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithReconcileDelay sets the wait before a post-mutation refresh.
func WithReconcileDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.reconcileDelay = d
		}
	}
}

// WithVerifyDelay sets the wait before a registration is verified.
func WithVerifyDelay(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.verifyDelay = d
		}
	}
}

// WithAuthRetry shapes the credential handshake retries.
func WithAuthRetry(attempts int, delay time.Duration, backoff float64) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.retryAttempts = attempts
		}
		if delay > 0 {
			s.retryDelay = delay
		}
		if backoff >= 1 {
			s.retryBackoff = backoff
		}
	}
}

// WithWorkerCount sets the number of refresh workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the refresh queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// FromConfig maps a loaded configuration onto service options.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithBackend(cfg.QueryURL, cfg.CommandURL),
		WithRequestTimeout(cfg.RequestTimeout()),
		WithReconcileDelay(cfg.ReconcileDelay()),
		WithVerifyDelay(cfg.VerifyDelay()),
		WithAuthRetry(cfg.AuthRetryAttempts, cfg.AuthRetryDelay(), cfg.AuthRetryBackoff),
		WithWorkerCount(cfg.RefreshWorkers),
		WithQueueSize(cfg.RefreshQueueSize),
	}
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		queryURL:       "http://localhost:8081",
		commandURL:     "http://localhost:8081",
		requestTimeout: 10 * time.Second,
		reconcileDelay: engine.DefaultReconcileDelay,
		verifyDelay:    engine.DefaultVerifyDelay,
		retryAttempts:  retry.DefaultAttempts,
		retryDelay:     retry.DefaultDelay,
		retryBackoff:   retry.DefaultFactor,
		workerCount:    2,
		queueSize:      64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the client and the engine and starts the refresh workers.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting racesync service...",
		logger.String("query_url", s.queryURL),
		logger.String("command_url", s.commandURL),
	)

	clientOpts := []client.Option{
		client.WithTimeout(s.requestTimeout),
		client.WithLogger(s.logger.Named("client")),
	}
	if s.httpClient != nil {
		clientOpts = append(clientOpts, client.WithHTTPClient(s.httpClient))
	}
	s.client = client.New(s.queryURL, s.commandURL, clientOpts...)

	policy := retry.New(
		retry.WithOperation("auth_token"),
		retry.WithAttempts(s.retryAttempts),
		retry.WithDelay(s.retryDelay),
		retry.WithBackoffFactor(s.retryBackoff),
	)
	s.engine = engine.New(s.client,
		engine.WithLogger(s.logger.Named("engine")),
		engine.WithRetryPolicy(policy),
		engine.WithRequestTimeout(s.requestTimeout),
		engine.WithReconcileDelay(s.reconcileDelay),
		engine.WithVerifyDelay(s.verifyDelay),
		engine.WithWorkers(s.workerCount),
		engine.WithQueueCapacity(s.queueSize),
	)
	s.engine.Start()

	s.started = true
	s.logger.Info(ctx, "racesync service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Duration("reconcileDelay", s.reconcileDelay),
	)
	return nil
}

// Stop waits for in-flight mutations and shuts the engine down.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping racesync service...")
	err := s.engine.Close(ctx)
	s.started = false
	s.logger.Info(ctx, "racesync service stopped")
	return err
}

// Engine returns the running engine.
func (s *Service) Engine() (*engine.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.engine, nil
}

// SignIn opens a session and loads both collections.
func (s *Service) SignIn(ctx context.Context, email, role string) (engine.Session, error) {
	e, err := s.Engine()
	if err != nil {
		return engine.Session{}, err
	}
	session, err := e.Login(ctx, email, role)
	if err != nil {
		return engine.Session{}, err
	}
	if err := e.Load(ctx); err != nil {
		return session, err
	}
	return session, nil
}

// Settle waits for in-flight mutations and then for the pending refreshes of
// every collection.
func (s *Service) Settle(ctx context.Context) error {
	e, err := s.Engine()
	if err != nil {
		return err
	}
	if err := e.Wait(ctx); err != nil {
		return err
	}
	for _, c := range []model.Collection{model.CollectionRaces, model.CollectionApplications} {
		if !e.Scheduler().Pending(c) {
			continue
		}
		if err := e.Reconcile(c).Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
	}
	if s.started {
		_, active := s.engine.Session()
		stats["signedIn"] = active
		stats["races"] = s.engine.RaceStore().Len()
		stats["applications"] = s.engine.ApplicationStore().Len()
	}
	return stats
}
