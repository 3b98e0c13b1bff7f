package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const healthCheckTimeout = 5 * time.Second

// handleHealth reports healthy when the runs database passes its integrity check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": version,
		"service": "greenfolio",
	}

	if s.runsDB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := s.runsDB.HealthCheck(ctx); err != nil {
			s.log.Error().Err(err).Msg("Health check failed")
			response["status"] = "unhealthy"
			response["error"] = err.Error()
			s.writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
