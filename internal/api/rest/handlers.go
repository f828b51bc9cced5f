package rest

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the JSON body of every non-2xx response
type errorResponse struct {
	Error string `json:"error"`
}

// HealthHandler answers liveness probes from peers and the failure detector
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
