package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
)

type createdResponse struct {
	ID string `json:"id"`
}

// HandleListApplications handles GET /api/v1/applications from the query side.
// Administrators see every application; applicants see their own.
func (s *Server) HandleListApplications(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	all := s.appView.List()
	if claims.Role == model.RoleAdministrator {
		writeJSON(w, http.StatusOK, all)
		return
	}
	own := make([]model.Application, 0, len(all))
	for _, a := range all {
		if strings.EqualFold(a.Email, claims.Email()) {
			own = append(own, a)
		}
	}
	writeJSON(w, http.StatusOK, own)
}

// HandleCreateApplication handles POST /api/v1/applications. The command is
// acknowledged with 202 and the new id.
func (s *Server) HandleCreateApplication(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	var form model.RegistrationForm
	if err := readJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}
	if err := form.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, validationText(err))
		return
	}

	app := form.Application(uuid.NewString(), claims.Email())
	app.UserID = userID(claims.Email())
	err := s.commit(r.Context(),
		func() error {
			if _, ok := s.races[form.RaceID]; !ok {
				return reject(http.StatusNotFound, msgRaceNotFound)
			}
			for _, a := range s.apps {
				if a.RaceID == form.RaceID && strings.EqualFold(a.Email, claims.Email()) {
					return reject(http.StatusConflict, msgAlreadyRegistered)
				}
			}
			return nil
		},
		func() { s.apps[app.ID] = app },
		func() { s.appView.Upsert(app) },
	)
	if err != nil {
		writeRejection(w, err)
		return
	}
	s.logger.Info(r.Context(), "application accepted",
		logger.String("application_id", app.ID),
		logger.String("race_id", app.RaceID),
	)
	writeJSON(w, http.StatusAccepted, createdResponse{ID: app.ID})
}

// HandleDeleteApplication handles DELETE /api/v1/applications/{id}. Applicants may
// only withdraw their own applications.
func (s *Server) HandleDeleteApplication(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	id := r.PathValue("id")

	err := s.commit(r.Context(),
		func() error {
			app, ok := s.apps[id]
			switch {
			case !ok:
				return reject(http.StatusNotFound, msgAppNotFound)
			case claims.Role != model.RoleAdministrator && !strings.EqualFold(app.Email, claims.Email()):
				return reject(http.StatusForbidden, msgForbidden)
			}
			return nil
		},
		func() { delete(s.apps, id) },
		func() { s.appView.Remove(id) },
	)
	if err != nil {
		writeRejection(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// userID derives a stable account id from the email.
func userID(email string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+strings.ToLower(email))).String()
}
