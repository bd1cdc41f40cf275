package api

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/okian/racesync/internal/domain/token"
	"github.com/okian/racesync/pkg/logger"
)

type tokenRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type claimsKey struct{}

func claimsFrom(ctx context.Context) *token.Claims {
	c, _ := ctx.Value(claimsKey{}).(*token.Claims)
	return c
}

// HandleIssueToken handles POST /auth/token.
func (s *Server) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}
	u, ok := s.users[strings.ToLower(strings.TrimSpace(req.Email))]
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUserNotFound)
		return
	}
	if u.Role != req.Role {
		writeError(w, http.StatusUnauthorized, msgInvalidRole)
		return
	}
	signed, err := token.Issue(s.secret, u.Email, u.Role, s.clock.Now(), s.ttl)
	if err != nil {
		s.logger.Error(r.Context(), "issue token", logger.Error(err))
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}
	s.logger.Info(r.Context(), "token issued", logger.String("email", u.Email), logger.String("role", u.Role))
	writeJSON(w, http.StatusOK, tokenResponse{Token: signed})
}

// authenticate verifies the bearer token and admits only the given roles.
func (s *Server) authenticate(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := token.FromHeader(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		claims, err := token.Verify(s.secret, raw, s.clock.Now())
		if err != nil {
			s.logger.Debug(r.Context(), "token rejected", logger.Error(err))
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		if !slices.Contains(roles, claims.Role) {
			writeError(w, http.StatusForbidden, msgForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}
