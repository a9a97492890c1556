package handler

import (
	"net/http"
	"strconv"

	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/pkg/logger"
)

// IncrementalHandler serves typed diffs with content checksums.
type IncrementalHandler struct {
	feed *service.FeedService
	log  *logger.Logger
}

// NewIncrementalHandler creates an incremental-diff handler.
func NewIncrementalHandler(feed *service.FeedService, log *logger.Logger) *IncrementalHandler {
	return &IncrementalHandler{feed: feed, log: log}
}

// Get handles GET /api/v1/incremental?version=&type=conversations|messages&handle=
func (h *IncrementalHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	clientVersion := int64(0)
	if v := r.URL.Query().Get("version"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed >= 0 {
			clientVersion = parsed
		}
	}

	diffType := r.URL.Query().Get("type")
	if diffType == "" {
		diffType = "messages"
	}
	if diffType != "messages" && diffType != "conversations" {
		writeError(w, http.StatusBadRequest, "type must be conversations or messages")
		return
	}

	resp, err := h.feed.Incremental(ctx, clientVersion, diffType, r.URL.Query().Get("handle"))
	if err != nil {
		h.log.Error("failed to build incremental diff")
		writeError(w, http.StatusInternalServerError, "failed to build incremental diff")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
