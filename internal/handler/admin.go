package handler

import (
	"encoding/json"
	"net/http"

	"github.com/brokercrm/chat-ingest/internal/middleware"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// allowedSettings are the persisted configuration keys writable over the API.
var allowedSettings = map[string]bool{
	model.SettingChannelSecret: true,
	model.SettingChannelToken:  true,
}

// AdminHandler serves the mirror rebuild and settings update operations.
type AdminHandler struct {
	store  store.Store
	ingest *service.IngestService
	logger *logger.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(st store.Store, in *service.IngestService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{store: st, ingest: in, logger: log}
}

// RebuildMirror handles POST /api/v1/admin/mirror/rebuild?handle=
func (h *AdminHandler) RebuildMirror(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if err := middleware.ValidateHandle(handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := h.ingest.RebuildMirror(r.Context(), handle)
	if err != nil {
		h.logger.Error("mirror rebuild failed")
		writeError(w, http.StatusInternalServerError, "mirror rebuild failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"handle": handle, "entries": n})
}

// UpdateSettings handles PUT /api/v1/admin/settings
func (h *AdminHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	updated := make([]string, 0, len(req))
	for key, value := range req {
		if !allowedSettings[key] {
			writeError(w, http.StatusBadRequest, "unknown setting "+key)
			return
		}
		if err := h.store.PutSetting(r.Context(), key, value); err != nil {
			h.logger.Error("failed to persist setting")
			writeError(w, http.StatusInternalServerError, "failed to persist setting")
			return
		}
		updated = append(updated, key)
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": updated})
}
