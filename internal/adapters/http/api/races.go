package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/okian/racesync/internal/domain/model"
	"github.com/okian/racesync/pkg/logger"
)

// HandleListRaces handles GET /api/v1/races from the query side.
func (s *Server) HandleListRaces(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.raceView.List())
}

// HandleCreateRace handles POST /api/v1/races.
func (s *Server) HandleCreateRace(w http.ResponseWriter, r *http.Request) {
	var draft model.RaceDraft
	if err := readJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}
	if err := draft.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, validationText(err))
		return
	}
	race := model.Race{ID: uuid.NewString(), Name: draft.Name, Distance: draft.Distance}
	_ = s.commit(r.Context(), nil,
		func() { s.races[race.ID] = race },
		func() { s.raceView.Upsert(race) },
	)
	s.logger.Info(r.Context(), "race created", logger.String("race_id", race.ID))
	writeJSON(w, http.StatusCreated, race)
}

// HandlePatchRace handles PATCH /api/v1/races/{id}.
func (s *Server) HandlePatchRace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch model.RacePatch
	if err := readJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, validationText(err))
		return
	}

	var updated model.Race
	err := s.commit(r.Context(),
		func() error {
			current, ok := s.races[id]
			if !ok {
				return reject(http.StatusNotFound, msgRaceNotFound)
			}
			updated = patch.Apply(current)
			return nil
		},
		func() { s.races[id] = updated },
		func() {
			if _, err := s.raceView.Get(id); err == nil {
				s.raceView.Upsert(updated)
			}
		},
	)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// HandleDeleteRace handles DELETE /api/v1/races/{id}. Applications referencing
// the race are left in place.
func (s *Server) HandleDeleteRace(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.commit(r.Context(),
		func() error {
			if _, ok := s.races[id]; !ok {
				return reject(http.StatusNotFound, msgRaceNotFound)
			}
			return nil
		},
		func() { delete(s.races, id) },
		func() { s.raceView.Remove(id) },
	)
	if err != nil {
		writeRejection(w, err)
		return
	}
	s.logger.Info(r.Context(), "race deleted", logger.String("race_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func validationText(err error) string {
	if errors.Is(err, model.ErrUnknownDistance) {
		return msgInvalidDistance
	}
	return err.Error()
}
