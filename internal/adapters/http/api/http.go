// Package api serves an in-memory race registration backend with a command side
// and a lagging query side, matching the REST contract the engine consumes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/okian/racesync/internal/adapters/repository"
	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
)

// Default server configuration constants.
const (
	maxBodyBytes = 1 << 20
)

// Error texts returned in {"error": ...} bodies.
const (
	msgUserNotFound      = "Invalid credentials - user not found"
	msgInvalidRole       = "Invalid role for user"
	msgUnauthorized      = "Unauthorized"
	msgForbidden         = "Forbidden"
	msgInvalidDistance   = "Invalid distance"
	msgRaceNotFound      = "Race not found"
	msgAppNotFound       = "Application not found"
	msgAlreadyRegistered = "Already registered for this race"
	msgMalformedBody     = "Malformed request body"
)

// User is an account known to the credential endpoint.
type User struct {
	Email     string
	Role      string
	FirstName string
	LastName  string
}

// DefaultUsers returns the seeded accounts.
func DefaultUsers() []User {
	return []User{
		{Email: "admin@example.com", Role: model.RoleAdministrator, FirstName: "Ada", LastName: "Admin"},
		{Email: "runner@example.com", Role: model.RoleApplicant, FirstName: "Rita", LastName: "Runner"},
		{Email: "jogger@example.com", Role: model.RoleApplicant, FirstName: "Joe", LastName: "Jogger"},
	}
}

// Server is the mock backend. Writes are acknowledged against the command side at
// once and become visible on the query side after the configured lag.
type Server struct {
	secret []byte
	ttl    time.Duration
	lag    time.Duration
	clock  clock.WithDelayedExecution
	logger logger.Logger

	users map[string]User

	mu       sync.Mutex
	races    map[string]model.Race
	apps     map[string]model.Application
	faults   map[string][]fault
	projects sync.WaitGroup

	raceView *repository.Store[model.Race]
	appView  *repository.Store[model.Application]
}

// NewServer creates a backend with the seeded users and no races.
func NewServer(opts ...Option) *Server {
	s := &Server{
		secret:   []byte("dev-shared-secret-change-me"),
		clock:    clock.RealClock{},
		logger:   logger.Get().Named("backend"),
		users:    make(map[string]User),
		races:    make(map[string]model.Race),
		apps:     make(map[string]model.Application),
		faults:   make(map[string][]fault),
		raceView: repository.New[model.Race]("backend_races"),
		appView:  repository.New[model.Application]("backend_applications"),
	}
	for _, u := range DefaultUsers() {
		s.users[strings.ToLower(u.Email)] = u
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	s.handle(mux, "GET /healthz", "healthz", s.HandleHealth)
	s.handle(mux, "POST /auth/token", "auth_token", s.HandleIssueToken)

	anyone := []string{model.RoleAdministrator, model.RoleApplicant}
	admin := []string{model.RoleAdministrator}

	s.handle(mux, "GET /api/v1/races", "races", s.authenticate(s.HandleListRaces, anyone...))
	s.handle(mux, "POST /api/v1/races", "races", s.authenticate(s.HandleCreateRace, admin...))
	s.handle(mux, "PATCH /api/v1/races/{id}", "race", s.authenticate(s.HandlePatchRace, admin...))
	s.handle(mux, "DELETE /api/v1/races/{id}", "race", s.authenticate(s.HandleDeleteRace, admin...))

	s.handle(mux, "GET /api/v1/applications", "applications", s.authenticate(s.HandleListApplications, anyone...))
	s.handle(mux, "POST /api/v1/applications", "applications", s.authenticate(s.HandleCreateApplication, anyone...))
	s.handle(mux, "DELETE /api/v1/applications/{id}", "application", s.authenticate(s.HandleDeleteApplication, anyone...))
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Settle blocks until every scheduled projection has been applied. Only useful
// with the real clock.
func (s *Server) Settle() { s.projects.Wait() }

func (s *Server) handle(mux *http.ServeMux, pattern, endpoint string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, MetricsMiddleware(s.withFaults(pattern, h), endpoint))
}

// commit checks a write against the command side and applies it in the same
// critical section, then schedules its projection onto the query side. A
// rejected write applies nothing; a dropped request passes check and applies
// neither side.
func (s *Server) commit(ctx context.Context, check func() error, command func(), project func()) error {
	s.mu.Lock()
	if check != nil {
		if err := check(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if dropped(ctx) {
		s.mu.Unlock()
		s.logger.Debug(ctx, "write acknowledged and dropped")
		return nil
	}
	command()
	s.mu.Unlock()

	if s.lag <= 0 {
		project()
		return nil
	}
	s.projects.Add(1)
	s.clock.AfterFunc(s.lag, func() {
		defer s.projects.Done()
		project()
	})
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeRejection renders an error returned by a commit check.
func writeRejection(w http.ResponseWriter, err error) {
	var rej *rejection
	if errors.As(err, &rej) {
		writeError(w, rej.status, rej.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
