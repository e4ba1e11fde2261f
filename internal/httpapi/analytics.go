package httpapi

import (
	"encoding/json"
	"net/http"

	"goflare.io/surge/internal/batch"
)

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var e batch.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if e.Type == "" {
		writeError(w, http.StatusBadRequest, "Missing event type")
		return
	}
	s.deps.Analytics.Track(e)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
