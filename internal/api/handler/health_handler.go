package handler

import "net/http"

// HealthHandler serves the liveness probe endpoint.
type HealthHandler struct {
	service string
}

func NewHealthHandler(service string) *HealthHandler { return &HealthHandler{service: service} }

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": h.service})
}
