package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brokercrm/chat-ingest/internal/middleware"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// ConversationHandler serves the staff-facing conversation reads, mark-read
// and outbound replies.
type ConversationHandler struct {
	store    store.Store
	ingest   *service.IngestService
	outbound *service.OutboundService
	logger   *logger.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(st store.Store, in *service.IngestService, out *service.OutboundService, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{store: st, ingest: in, outbound: out, logger: log}
}

// Messages handles GET /api/v1/conversation?handle=&limit=&offset=
func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := r.URL.Query().Get("handle")
	if err := middleware.ValidateHandle(handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	msgs, total, err := h.store.ListConversation(ctx, handle, limit, offset)
	if err != nil {
		h.logger.Error("failed to list conversation")
		writeError(w, http.StatusInternalServerError, "failed to list conversation")
		return
	}
	writeJSON(w, http.StatusOK, &model.ConversationPage{
		Messages: msgs,
		Total:    total,
		HasMore:  int64(offset+len(msgs)) < total,
	})
}

// List handles GET /api/v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListConversations(r.Context())
	if err != nil {
		h.logger.Error("failed to list conversations")
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

// MarkRead handles POST /api/v1/conversations/{handle}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if err := middleware.ValidateHandle(handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.ingest.MarkRead(r.Context(), handle)
	if err != nil {
		h.logger.Error("failed to mark conversation read")
		writeError(w, http.StatusInternalServerError, "failed to mark conversation read")
		return
	}
	writeJSON(w, http.StatusOK, &model.MarkReadResponse{Updated: updated})
}

// Send handles POST /api/v1/conversations/{handle}/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	handle := chi.URLParam(r, "handle")
	if err := middleware.ValidateHandle(handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.outbound.Send(ctx, handle, middleware.GetStaffID(ctx), req.Text)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("failed to send message")
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, &model.SendMessageResponse{Message: msg})
}
