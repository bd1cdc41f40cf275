package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/domain/failure"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/internal/domain/retry"
	"github.com/okian/racesync/internal/domain/token"
	"github.com/okian/racesync/pkg/logger"
	"github.com/okian/racesync/pkg/metrics"
)

// TokenIssuer exchanges an email and role for a bearer token.
type TokenIssuer interface {
	IssueToken(ctx context.Context, email, role string) (string, error)
}

// Session is the credential currently held by the gate.
type Session struct {
	Token     string
	Email     string
	Role      string
	ExpiresAt time.Time
}

// Admin reports whether the session may write races.
func (s Session) Admin() bool { return s.Role == model.RoleAdministrator }

// AuthGate holds the credential every engine call is gated on. Each sign-in or
// sign-out starts a new epoch; work started under an older epoch is discarded.
type AuthGate struct {
	issuer     TokenIssuer
	retry      *retry.Policy
	classifier *failure.Classifier
	clock      clock.PassiveClock
	logger     logger.Logger

	mu      sync.RWMutex
	session *Session
	epoch   uint64

	subMu     sync.Mutex
	listeners map[int]func(active bool)
	nextID    int
}

// NewAuthGate creates a gate with no session.
func NewAuthGate(issuer TokenIssuer, policy *retry.Policy, classifier *failure.Classifier, clk clock.PassiveClock, l logger.Logger) *AuthGate {
	if policy == nil {
		policy = retry.New(retry.WithOperation("auth_token"))
	}
	if classifier == nil {
		classifier = failure.New()
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	if l == nil {
		l = logger.Get().Named("authgate")
	}
	return &AuthGate{
		issuer:     issuer,
		retry:      policy,
		classifier: classifier,
		clock:      clk,
		logger:     l,
		listeners:  make(map[int]func(bool)),
	}
}

// Login requests a token, retrying transient network failures, and opens a session.
func (g *AuthGate) Login(ctx context.Context, email, role string) (Session, error) {
	const op = "Sign in"
	raw, err := retry.Do(ctx, g.retry, func(ctx context.Context) (string, error) {
		return g.issuer.IssueToken(ctx, email, role)
	})
	if err != nil {
		fe := g.classifier.ClassifyError(op, err)
		g.logger.Warn(ctx, "sign in failed",
			logger.String("email", email),
			logger.String("category", string(fe.Category)),
			logger.Error(err),
		)
		return Session{}, fe
	}
	s, err := g.open(raw)
	if err != nil {
		return Session{}, g.classifier.ClassifyError(op, fmt.Errorf("%w: %w", failure.ErrMalformedResponse, err))
	}
	g.logger.Info(ctx, "signed in", logger.String("email", s.Email), logger.String("role", s.Role))
	return s, nil
}

// Restore opens a session from a previously issued token.
func (g *AuthGate) Restore(raw string) (Session, error) {
	const op = "Restore session"
	s, err := g.open(raw)
	if err != nil {
		return Session{}, &failure.Error{
			Category: failure.CategoryCredential,
			Message:  failure.MsgCredential,
			Tone:     failure.ToneError,
			Op:       op,
			Err:      err,
		}
	}
	return s, nil
}

func (g *AuthGate) open(raw string) (Session, error) {
	claims, err := token.Inspect(raw)
	if err != nil {
		return Session{}, err
	}
	if claims.Expired(g.clock.Now()) {
		return Session{}, token.ErrExpired
	}
	s := Session{Token: raw, Email: claims.Email(), Role: claims.Role, ExpiresAt: claims.Expiry()}

	g.mu.Lock()
	replaced := g.session != nil
	g.session = &s
	g.epoch++
	g.mu.Unlock()

	metrics.UpdateSessionActive(true)
	if replaced {
		g.notify(false)
	}
	g.notify(true)
	return s, nil
}

// Logout drops the session. Listeners are told to collapse their state.
func (g *AuthGate) Logout() {
	g.mu.Lock()
	had := g.session != nil
	g.session = nil
	g.epoch++
	g.mu.Unlock()

	metrics.UpdateSessionActive(false)
	if had {
		g.logger.Info(context.Background(), "signed out")
	}
	g.notify(false)
}

// Current returns the session if one is held and not expired.
func (g *AuthGate) Current() (Session, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.session == nil || g.expiredLocked() {
		return Session{}, false
	}
	return *g.session, true
}

// Token returns the bearer token and the epoch it belongs to, or a sign-in
// failure for op. An expired session is closed.
func (g *AuthGate) Token(op string) (string, uint64, error) {
	g.mu.RLock()
	s, epoch, expired := g.session, g.epoch, g.expiredLocked()
	g.mu.RUnlock()

	switch {
	case s == nil:
		return "", 0, failure.SignInRequired(op)
	case expired:
		g.logger.Info(context.Background(), "session expired", logger.String("email", s.Email))
		g.Logout()
		return "", 0, failure.SignInRequired(op)
	}
	return s.Token, epoch, nil
}

// Valid reports whether epoch is still the live session.
func (g *AuthGate) Valid(epoch uint64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session != nil && g.epoch == epoch
}

// OnChange registers fn to run after every sign-in and sign-out. A sign-in over
// a held session reports the sign-out first.
func (g *AuthGate) OnChange(fn func(active bool)) (unsubscribe func()) {
	g.subMu.Lock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	g.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.subMu.Lock()
			delete(g.listeners, id)
			g.subMu.Unlock()
		})
	}
}

func (g *AuthGate) notify(active bool) {
	g.subMu.Lock()
	fns := make([]func(bool), 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.subMu.Unlock()
	for _, fn := range fns {
		fn(active)
	}
}

func (g *AuthGate) expiredLocked() bool {
	if g.session == nil || g.session.ExpiresAt.IsZero() {
		return false
	}
	return !g.clock.Now().Before(g.session.ExpiresAt)
}

// signInRequired reports whether err is the gate's missing-credential failure.
func signInRequired(err error) bool {
	return errors.Is(err, failure.ErrNoCredential)
}
