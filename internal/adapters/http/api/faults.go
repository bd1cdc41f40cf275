package api

import (
	"context"
	"net/http"

	"github.com/okian/racesync/pkg/logger"
)

type fault struct {
	status int
	body   any
	drop   bool
}

type dropKey struct{}

func dropped(ctx context.Context) bool {
	v, _ := ctx.Value(dropKey{}).(bool)
	return v
}

// FailNext makes the next request matching pattern (as passed to Register, e.g.
// "DELETE /api/v1/races/{id}") answer with status and body instead of running.
// A []byte body is written verbatim; anything else is encoded as JSON.
func (s *Server) FailNext(pattern string, status int, body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[pattern] = append(s.faults[pattern], fault{status: status, body: body})
}

// DropNext makes the next request matching pattern succeed without applying its
// write, like an asynchronous pipeline that loses an accepted command.
func (s *Server) DropNext(pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[pattern] = append(s.faults[pattern], fault{drop: true})
}

func (s *Server) takeFault(pattern string) (fault, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.faults[pattern]
	if len(queued) == 0 {
		return fault{}, false
	}
	f := queued[0]
	if len(queued) == 1 {
		delete(s.faults, pattern)
	} else {
		s.faults[pattern] = queued[1:]
	}
	return f, true
}

func (s *Server) withFaults(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := s.takeFault(pattern)
		switch {
		case !ok:
			next(w, r)
		case f.drop:
			next(w, r.WithContext(context.WithValue(r.Context(), dropKey{}, true)))
		default:
			s.logger.Debug(r.Context(), "injected failure",
				logger.String("route", pattern),
				logger.Int("status", f.status),
			)
			writeFault(w, f)
		}
	}
}

func writeFault(w http.ResponseWriter, f fault) {
	raw, ok := f.body.([]byte)
	if !ok {
		writeJSON(w, f.status, f.body)
		return
	}
	w.WriteHeader(f.status)
	_, _ = w.Write(raw)
}
