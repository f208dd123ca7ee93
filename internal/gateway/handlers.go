package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database"`
	Relay    string `json:"relay"`
}

// handleHealth reports service health with store and relay reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{Status: "ok", Service: "comms-api"}

	health.Database = "connected"
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error().Err(err).Msg("store health check failed")
		health.Database = "disconnected"
	}

	health.Relay = "connected"
	if err := s.relay.Ping(ctx); err != nil {
		s.log.Error().Err(err).Msg("relay health check failed")
		health.Relay = "disconnected"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
