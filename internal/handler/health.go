package handler

import (
	"net/http"
)

type HealthHandler struct {
	version string
	store   string
}

func NewHealthHandler(version, store string) *HealthHandler {
	return &HealthHandler{version: version, store: store}
}

// GET /v1/health
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version, "jobStore": h.store})
}

// GET /v1/version
func (h *HealthHandler) Version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}
