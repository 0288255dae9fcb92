package server

import (
	"encoding/json"
	"net/http"

	"github.com/prasertk/setpulse/internal/domain"
)

// TriggerResponse is the reply to a manual refresh trigger.
type TriggerResponse struct {
	Accepted bool   `json:"accepted"`
	CycleID  string `json:"cycle_id,omitempty"`
	Message  string `json:"message"`
}

// handleTriggerRefresh starts a manual full refresh.
// POST /api/refresh/trigger
//
// A trigger while a cycle is in flight is rejected with 409; the caller can
// watch the running cycle on the stream instead.
func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	cycleID, accepted := s.orch.TriggerCycle(domain.TriggerManual, nil)
	if !accepted {
		s.writeJSON(w, http.StatusConflict, TriggerResponse{
			Accepted: false,
			Message:  "a refresh cycle is already in flight",
		})
		return
	}

	s.log.Info().Str("cycle_id", cycleID).Msg("Manual refresh triggered")
	s.writeJSON(w, http.StatusAccepted, TriggerResponse{
		Accepted: true,
		CycleID:  cycleID,
		Message:  "refresh cycle started",
	})
}

// RefreshStatusResponse is the freshness view the dashboard polls.
type RefreshStatusResponse struct {
	Refreshing bool                     `json:"refreshing"`
	Datasets   []domain.FreshnessRecord `json:"datasets"`
}

// handleRefreshStatus returns every dataset's freshness record verbatim.
// GET /api/refresh/status
func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	records, err := s.freshness.All(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read freshness records")
		http.Error(w, "failed to read freshness records", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []domain.FreshnessRecord{}
	}

	s.writeJSON(w, http.StatusOK, RefreshStatusResponse{
		Refreshing: s.orch.Running(),
		Datasets:   records,
	})
}

// handleHealth is the liveness probe.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.QuickCheck(r.Context()); err != nil {
		s.log.Error().Err(err).Msg("Health check failed")
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
