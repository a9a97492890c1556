package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
	"github.com/brokercrm/chat-ingest/pkg/metrics"
)

// OutboundService sends staff replies: platform delivery first, then the
// dual-store record. Delivery failure is terminal on the message (status
// failed, no automatic retry) and surfaced to the staff UI.
type OutboundService struct {
	store  store.Store
	ingest *IngestService
	line   line.Client
	log    *logger.Logger
}

// NewOutboundService creates an outbound service.
func NewOutboundService(st store.Store, in *IngestService, lc line.Client, log *logger.Logger) *OutboundService {
	return &OutboundService{store: st, ingest: in, line: lc, log: log}
}

// Send delivers a staff reply to the customer behind handle and records it.
// The returned message carries status sent or failed; a failed status is not
// an error from the caller's perspective.
func (s *OutboundService) Send(ctx context.Context, handle, staffID, text string) (*model.ChatMessage, error) {
	cust, err := s.store.GetCustomerByIdentifier(ctx, model.IdentifierLine, handle)
	if err != nil {
		return nil, fmt.Errorf("unknown conversation %q: %w", handle, err)
	}

	status := model.StatusSent
	var deliveryErr error
	if deliveryErr = s.line.PushText(ctx, handle, text); deliveryErr != nil {
		status = model.StatusFailed
		s.log.Error("platform delivery failed, message recorded as failed",
			zap.String("handle", handle),
			zap.String("staff_id", staffID),
			zap.Error(deliveryErr),
		)
		metrics.OutboundPushTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.OutboundPushTotal.WithLabelValues("ok").Inc()
	}

	msg := &model.ChatMessage{
		ID:           uuid.Must(uuid.NewV7()).String(),
		CustomerID:   cust.ID,
		StaffID:      &staffID,
		SenderHandle: handle,
		Kind:         model.KindText,
		Content:      text,
		SentAt:       time.Now(),
		FromCustomer: false,
		Status:       status,
	}
	if deliveryErr != nil {
		msg.Meta = model.MergeMeta(nil, "delivery_error", deliveryErr.Error())
	}

	if err := s.ingest.WriteMessage(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
