package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/racesync/internal/adapters/http/api"
	"github.com/okian/racesync/internal/adapters/http/swagger"
	"github.com/okian/racesync/internal/config"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func seedRaces() []model.Race {
	return []model.Race{
		{ID: "b6f8e1a2-0c1d-4b7e-9a51-1f0c2d3e4a01", Name: "Berlin Marathon", Distance: model.DistanceMarathon},
		{ID: "b6f8e1a2-0c1d-4b7e-9a51-1f0c2d3e4a02", Name: "Lisbon Half", Distance: model.DistanceHalfMarathon},
		{ID: "b6f8e1a2-0c1d-4b7e-9a51-1f0c2d3e4a03", Name: "Zurich City Run", Distance: model.Distance10K},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if err := logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := serve(ctx, cfg, log); err != nil {
		log.Error(ctx, "mock backend stopped", logger.Error(err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	backend := api.NewServer(
		api.WithSecret(cfg.JWTSecret),
		api.WithLag(cfg.BackendLag()),
		api.WithRaces(seedRaces()...),
		api.WithLogger(log.Named("backend")),
	)

	mux := http.NewServeMux()
	backend.Register(mux)
	swagger.Register(ctx, mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.BackendAddr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting mock backend",
			logger.String("addr", cfg.BackendAddr),
			logger.Duration("lag", cfg.BackendLag()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%w: %w", api.ErrServe, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(ctx, "shutting down mock backend...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	backend.Settle()
	log.Info(ctx, "mock backend stopped")
	return nil
}
