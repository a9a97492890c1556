package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brokercrm/chat-ingest/internal/middleware"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// CustomerHandler serves read-only customer and lead views.
type CustomerHandler struct {
	store  store.Store
	logger *logger.Logger
}

// NewCustomerHandler creates a customer handler.
func NewCustomerHandler(st store.Store, log *logger.Logger) *CustomerHandler {
	return &CustomerHandler{store: st, logger: log}
}

// Get handles GET /api/v1/customers/{id}
func (h *CustomerHandler) Get(w http.ResponseWriter, r *http.Request) {
	cust, err := h.store.GetCustomerByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, cust)
}

// Lookup handles GET /api/v1/customers?handle=
func (h *CustomerHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("handle")
	if err := middleware.ValidateHandle(handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cust, err := h.store.GetCustomerByIdentifier(r.Context(), model.IdentifierLine, handle)
	if err != nil {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	writeJSON(w, http.StatusOK, cust)
}

// Leads handles GET /api/v1/leads
func (h *CustomerHandler) Leads(w http.ResponseWriter, r *http.Request) {
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

	leads, total, err := h.store.ListLeads(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list leads")
		writeError(w, http.StatusInternalServerError, "failed to list leads")
		return
	}
	writeJSON(w, http.StatusOK, &model.LeadPage{Leads: leads, Total: total})
}
