package internal

import (
	"encoding/json"
	"net/http"
)

// HandleHealth is an unauthenticated liveness probe for load balancers.
func HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleStats reports operator-facing aggregate counts. Never exposes a
// room code, session id, or player name — just sizes.
func HandleStats(registry *Registry, hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := registry.Stats()
		stats["connections"] = hub.ConnectionCount()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}
}
