// Package handler provides HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/pkg/logger"
	"github.com/brokercrm/chat-ingest/pkg/metrics"
)

// signatureHeader carries the platform's HMAC signature.
const signatureHeader = "X-Line-Signature"

// maxWebhookBody bounds the accepted request body.
const maxWebhookBody = 1 << 20

// WebhookHandler receives inbound platform event batches.
//
// A non-200 response is reserved solely for signature verification failure.
// Everything past the signature gate reports HTTP 200, with per-event
// failures inside the body, so the platform never enters a retry storm.
type WebhookHandler struct {
	verifier *line.SignatureVerifier
	ingest   *service.IngestService
	log      *logger.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(verifier *line.SignatureVerifier, ingest *service.IngestService, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, ingest: ingest, log: log}
}

// Receive handles POST /webhook/line
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := uuid.New().String()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		body = nil
	}

	if !h.verifier.Verify(ctx, body, r.Header.Get(signatureHeader)) {
		metrics.WebhookBatchesTotal.WithLabelValues("rejected").Inc()
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	var req line.WebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		// Authenticated but malformed; still 200 to suppress retries.
		h.log.Warn("undecodable webhook body",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
		metrics.WebhookBatchesTotal.WithLabelValues("malformed").Inc()
		writeJSON(w, http.StatusOK, &model.WebhookResponse{
			Status:        "invalid_payload",
			ExecutionID:   executionID,
			EventsResults: []model.EventResult{},
		})
		return
	}

	resp := h.ingest.ProcessBatch(ctx, executionID, req.Events)
	metrics.WebhookBatchesTotal.WithLabelValues("accepted").Inc()
	writeJSON(w, http.StatusOK, resp)
}
