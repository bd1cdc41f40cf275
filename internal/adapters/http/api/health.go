package api

import (
	"net/http"
)

type healthResponse struct {
	Status       string `json:"status"`
	Races        int    `json:"races"`
	Applications int    `json:"applications"`
}

// HandleHealth handles GET /healthz with the query-side collection sizes.
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Races:        s.raceView.Len(),
		Applications: s.appView.Len(),
	})
}
