package handler

import (
	"net/http"

	"github.com/brokercrm/chat-ingest/internal/store"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store store.Store
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(st store.Store) *HealthHandler {
	return &HealthHandler{store: st}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
