package api

import (
	"strings"
	"time"

	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
)

// Option configures the Server.
type Option func(*Server)

// WithSecret sets the HS256 signing secret.
func WithSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithLag delays query-side visibility of writes. Zero projects synchronously.
func WithLag(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.lag = d
		}
	}
}

// WithClock sets the clock used for token timestamps and projection lag.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithUsers adds accounts to the seeded set.
func WithUsers(users ...User) Option {
	return func(s *Server) {
		for _, u := range users {
			s.users[strings.ToLower(u.Email)] = u
		}
	}
}

// WithRaces seeds races visible on both sides without lag.
func WithRaces(races ...model.Race) Option {
	return func(s *Server) {
		for _, r := range races {
			s.races[r.ID] = r
			s.raceView.Upsert(r)
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}
