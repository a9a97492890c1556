package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/mirror"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/notify"
	"github.com/brokercrm/chat-ingest/internal/store"
	"github.com/brokercrm/chat-ingest/pkg/logger"
	"github.com/brokercrm/chat-ingest/pkg/metrics"
)

// referralPattern recognizes referral-code-shaped text: 3-10 alphanumerics.
// Best-effort classification; a match never suppresses message persistence.
var referralPattern = regexp.MustCompile(`^[A-Za-z0-9]{3,10}$`)

const referralSkipKeyword = "skip"

// defaultFollowUpDelay is the follow-up contact date scheduled on follow.
const defaultFollowUpDelay = 72 * time.Hour

// IngestService processes inbound webhook batches: it resolves identities,
// dispatches events by kind, and coordinates the dual-store message write.
type IngestService struct {
	store    store.Store
	mirror   mirror.Mirror
	identity *IdentityService
	notifier notify.Notifier
	log      *logger.Logger
}

// NewIngestService creates an ingest service.
func NewIngestService(st store.Store, mr mirror.Mirror, id *IdentityService, nt notify.Notifier, log *logger.Logger) *IngestService {
	return &IngestService{store: st, mirror: mr, identity: id, notifier: nt, log: log}
}

// ProcessBatch handles every event of a webhook batch independently. A
// failure in one event is recorded in its result and does not stop the rest;
// the caller always reports HTTP success upstream.
func (s *IngestService) ProcessBatch(ctx context.Context, executionID string, events []line.Event) *model.WebhookResponse {
	results := make([]model.EventResult, 0, len(events))
	for i, ev := range events {
		err := s.processEvent(ctx, ev)
		result := model.EventResult{Index: i, Type: ev.Type, OK: err == nil}
		if err != nil {
			result.Error = err.Error()
			s.log.Error("event processing failed",
				zap.String("execution_id", executionID),
				zap.Int("event_index", i),
				zap.String("event_type", ev.Type),
				zap.String("handle", ev.Source.UserID),
				zap.Error(err),
			)
		}
		metrics.RecordEvent(ev.Type, err == nil)
		results = append(results, result)
	}
	return &model.WebhookResponse{
		Status:          "ok",
		ExecutionID:     executionID,
		EventsProcessed: len(events),
		EventsResults:   results,
	}
}

func (s *IngestService) processEvent(ctx context.Context, ev line.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()

	switch ev.Kind() {
	case line.EventMessage:
		return s.handleMessage(ctx, ev)
	case line.EventFollow:
		return s.handleFollow(ctx, ev)
	case line.EventUnfollow:
		return s.handleUnfollow(ctx, ev)
	default:
		s.log.Debug("unhandled event kind", zap.String("type", ev.Type))
		return nil
	}
}

func (s *IngestService) handleMessage(ctx context.Context, ev line.Event) error {
	handle := ev.Source.UserID
	cust, err := s.identity.Resolve(ctx, handle)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", handle, err)
	}

	kind, content := classifyContent(ev.Message)

	if kind == model.KindText {
		s.annotateReferral(ctx, cust, content)
	}

	msg := &model.ChatMessage{
		ID:           uuid.Must(uuid.NewV7()).String(),
		CustomerID:   cust.ID,
		SenderHandle: handle,
		Kind:         kind,
		Content:      content,
		SentAt:       ev.Time(time.Now()),
		FromCustomer: true,
		Status:       model.StatusUnread,
		Meta:         messageMeta(ev),
	}
	return s.WriteMessage(ctx, msg)
}

// WriteMessage is the dual-store write coordinator.
//
// Ordering policy: mirror first under a provisional id to minimize UI
// latency, then the authoritative relational write (the only step allowed to
// fail the operation), then re-key the mirror entry under the authoritative
// id. Mirror failures leave the mirror stale but never affect the
// authoritative outcome.
func (s *IngestService) WriteMessage(ctx context.Context, msg *model.ChatMessage) error {
	tempID := "pending-" + uuid.New().String()
	provisional := mirror.FromMessage(msg)
	provisional.ID = tempID
	provisional.Version = 0

	mirrored := true
	if err := s.mirror.Publish(ctx, msg.SenderHandle, provisional); err != nil {
		mirrored = false
		s.log.Warn("provisional mirror write failed, UI may lag",
			zap.String("handle", msg.SenderHandle),
			zap.Error(err),
		)
		metrics.RecordMirrorWrite("provisional", err)
	} else {
		metrics.RecordMirrorWrite("provisional", nil)
	}

	if err := s.createWithStatusFallback(ctx, msg); err != nil {
		return fmt.Errorf("authoritative write: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(direction(msg), string(msg.Kind)).Inc()
	metrics.FeedVersion.Set(float64(msg.Version))

	if mirrored {
		if err := s.mirror.Supersede(ctx, msg.SenderHandle, tempID, mirror.FromMessage(msg)); err != nil {
			s.log.Warn("mirror supersede failed, mirror entry stays provisional",
				zap.String("handle", msg.SenderHandle),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			metrics.RecordMirrorWrite("supersede", err)
		} else {
			metrics.RecordMirrorWrite("supersede", nil)
		}
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.EventMessageCreated,
		Handle:     msg.SenderHandle,
		CustomerID: msg.CustomerID,
		MessageID:  msg.ID,
		Version:    msg.Version,
	})
	return nil
}

// createWithStatusFallback inserts the message, retrying once with the
// known-safe status when the storage layer rejects the attempted value.
func (s *IngestService) createWithStatusFallback(ctx context.Context, msg *model.ChatMessage) error {
	err := s.store.CreateMessage(ctx, msg)
	if !errors.Is(err, store.ErrInvalidStatus) {
		return err
	}
	s.log.Warn("status rejected by storage, retrying with fallback",
		zap.String("attempted", string(msg.Status)),
		zap.String("fallback", string(model.StatusFallback)),
	)
	msg.Status = model.StatusFallback
	return s.store.CreateMessage(ctx, msg)
}

// SetStatus transitions a message's status with the same enum fallback.
func (s *IngestService) SetStatus(ctx context.Context, messageID string, status model.MessageStatus) error {
	err := s.store.UpdateMessageStatus(ctx, messageID, status)
	if !errors.Is(err, store.ErrInvalidStatus) {
		return err
	}
	s.log.Warn("status rejected by storage, retrying with fallback",
		zap.String("message_id", messageID),
		zap.String("attempted", string(status)),
		zap.String("fallback", string(model.StatusFallback)),
	)
	return s.store.UpdateMessageStatus(ctx, messageID, model.StatusFallback)
}

// MarkRead transitions a conversation's unread messages to read and returns
// how many changed.
func (s *IngestService) MarkRead(ctx context.Context, handle string) (int, error) {
	unread, err := s.store.ListUnread(ctx, handle)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, m := range unread {
		if err := s.SetStatus(ctx, m.ID, model.StatusRead); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// RebuildMirror re-projects a handle's recent authoritative messages into the
// mirror.
func (s *IngestService) RebuildMirror(ctx context.Context, handle string) (int, error) {
	msgs, _, err := s.store.ListConversation(ctx, handle, 100, 0)
	if err != nil {
		return 0, err
	}
	entries := make([]mirror.Entry, 0, len(msgs))
	for i := range msgs {
		entries = append(entries, mirror.FromMessage(&msgs[i]))
	}
	if err := s.mirror.Rebuild(ctx, handle, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (s *IngestService) handleFollow(ctx context.Context, ev line.Event) error {
	handle := ev.Source.UserID
	cust, err := s.identity.Resolve(ctx, handle)
	if err != nil {
		return fmt.Errorf("resolve %q: %w", handle, err)
	}

	followUp := time.Now().Add(defaultFollowUpDelay)
	cust.Reachable = true
	cust.FollowUpAt = &followUp
	if err := s.store.UpdateCustomer(ctx, cust); err != nil {
		return err
	}

	pending, err := s.store.HasPendingLead(ctx, cust.ID, handle)
	if err != nil {
		return err
	}
	if !pending {
		leadErr := s.store.CreateLead(ctx, &model.Lead{
			ID:         uuid.Must(uuid.NewV7()).String(),
			CustomerID: cust.ID,
			Handle:     handle,
			Status:     model.LeadPending,
			Origin:     "line",
			Note:       "Followed the official account",
		})
		if leadErr != nil {
			return leadErr
		}
	}

	if err := s.store.AppendActivity(ctx, &model.Activity{
		CustomerID: cust.ID,
		Kind:       model.ActivityFollowed,
	}); err != nil {
		return err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.EventCustomerUpdated,
		Handle:     handle,
		CustomerID: cust.ID,
	})
	return nil
}

func (s *IngestService) handleUnfollow(ctx context.Context, ev line.Event) error {
	handle := ev.Source.UserID
	cust, err := s.store.GetCustomerByIdentifier(ctx, model.IdentifierLine, handle)
	if errors.Is(err, store.ErrNotFound) {
		// Unfollow from a handle we never saw; nothing to mark.
		s.log.Info("unfollow from unknown handle ignored", zap.String("handle", handle))
		return nil
	}
	if err != nil {
		return err
	}

	cust.Reachable = false
	if err := s.store.UpdateCustomer(ctx, cust); err != nil {
		return err
	}
	if err := s.store.AppendActivity(ctx, &model.Activity{
		CustomerID: cust.ID,
		Kind:       model.ActivityUnfollowed,
	}); err != nil {
		return err
	}

	s.notifier.Notify(ctx, notify.Event{
		Kind:       notify.EventCustomerUpdated,
		Handle:     handle,
		CustomerID: cust.ID,
	})
	return nil
}

// annotateReferral records referral-code-shaped text on the customer record.
// Failures here are logged only; annotation must never block persistence of
// the message itself.
func (s *IngestService) annotateReferral(ctx context.Context, cust *model.Customer, text string) {
	trimmed := strings.TrimSpace(text)
	skipped := strings.EqualFold(trimmed, referralSkipKeyword)
	if !skipped && !referralPattern.MatchString(trimmed) {
		return
	}

	if skipped {
		cust.SourceMeta = model.MergeMeta(cust.SourceMeta, "referral_code", "")
		cust.SourceMeta = model.MergeMeta(cust.SourceMeta, "referral_skipped", true)
	} else {
		cust.SourceMeta = model.MergeMeta(cust.SourceMeta, "referral_code", trimmed)
	}

	if err := s.store.UpdateCustomer(ctx, cust); err != nil {
		s.log.Warn("referral annotation failed", zap.String("customer_id", cust.ID), zap.Error(err))
		return
	}
	detail := map[string]string{"code": trimmed}
	if skipped {
		detail = map[string]string{"skipped": "true"}
	}
	if err := s.store.AppendActivity(ctx, &model.Activity{
		CustomerID: cust.ID,
		Kind:       model.ActivityReferralCode,
		Detail:     detailJSON(detail),
	}); err != nil {
		s.log.Warn("referral activity append failed", zap.Error(err))
	}
}

// classifyContent maps the platform message payload onto the stored kind and
// serialized content.
func classifyContent(m *line.MessagePayload) (model.MessageKind, string) {
	if m == nil {
		return model.KindSystem, ""
	}
	kind, known := m.ContentKind()
	if !known {
		data, _ := json.Marshal(m)
		return model.KindSystem, string(data)
	}
	switch kind {
	case "text":
		return model.KindText, m.Text
	case "media":
		data, _ := json.Marshal(map[string]string{"id": m.ID, "type": m.Type, "fileName": m.FileName})
		return model.KindMedia, string(data)
	case "sticker":
		data, _ := json.Marshal(map[string]string{"packageId": m.PackageID, "stickerId": m.StickerID})
		return model.KindSticker, string(data)
	case "location":
		data, _ := json.Marshal(map[string]any{
			"title":     m.Title,
			"address":   m.Address,
			"latitude":  m.Latitude,
			"longitude": m.Longitude,
		})
		return model.KindLocation, string(data)
	}
	return model.KindSystem, ""
}

func messageMeta(ev line.Event) json.RawMessage {
	meta := map[string]any{
		"event_type":    ev.Type,
		"raw_timestamp": ev.Timestamp,
	}
	if ev.Message != nil {
		meta["line_message_id"] = ev.Message.ID
		meta["line_message_type"] = ev.Message.Type
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return b
}

func direction(m *model.ChatMessage) string {
	if m.FromCustomer {
		return "inbound"
	}
	return "outbound"
}
