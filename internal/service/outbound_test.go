package service

import (
	"context"
	"errors"
	"testing"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/model"
)

func newOutboundEnv(lc *fakeLineClient) (*ingestEnv, *OutboundService) {
	env := newIngestEnv()
	return env, NewOutboundService(env.store, env.svc, lc, testLogger())
}

func TestSendRecordsOutboundMessage(t *testing.T) {
	lc := &fakeLineClient{}
	env, out := newOutboundEnv(lc)
	ctx := context.Background()

	// Conversation exists from an earlier inbound message.
	env.svc.ProcessBatch(ctx, "exec", []line.Event{textEvent("U123", "Hello")})

	msg, err := out.Send(ctx, "U123", "staff-7", "Hi, how can we help?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != model.StatusSent {
		t.Errorf("expected sent status, got %s", msg.Status)
	}
	if msg.FromCustomer {
		t.Error("outbound message must not be from-customer")
	}
	if msg.StaffID == nil || *msg.StaffID != "staff-7" {
		t.Errorf("expected staff id recorded, got %v", msg.StaffID)
	}
	if len(lc.pushed) != 1 || lc.pushed[0] != "U123:Hi, how can we help?" {
		t.Errorf("unexpected delivery: %v", lc.pushed)
	}

	// The reply took a feed version after the inbound message.
	msgs, _ := env.store.ChangesSince(ctx, 1, "U123", 10)
	if len(msgs) != 1 || msgs[0].ID != msg.ID {
		t.Errorf("expected reply in change feed: %+v", msgs)
	}

	// Mirror carries the reply too.
	entries, _ := env.mirror.Recent(ctx, "U123", 10)
	if len(entries) != 2 {
		t.Errorf("expected 2 mirror entries, got %d", len(entries))
	}
}

func TestSendDeliveryFailureIsRecordedNotReturned(t *testing.T) {
	lc := &fakeLineClient{pushErr: errors.New("rate limited")}
	env, out := newOutboundEnv(lc)
	ctx := context.Background()

	env.svc.ProcessBatch(ctx, "exec", []line.Event{textEvent("U123", "Hello")})

	msg, err := out.Send(ctx, "U123", "staff-7", "Hi")
	if err != nil {
		t.Fatalf("delivery failure must not surface as a send error, got %v", err)
	}
	if msg.Status != model.StatusFailed {
		t.Errorf("expected failed status, got %s", msg.Status)
	}
	if msg.Meta == nil {
		t.Error("expected delivery error recorded in meta")
	}

	msgs, _ := env.store.ChangesSince(ctx, 1, "U123", 10)
	if len(msgs) != 1 || msgs[0].Status != model.StatusFailed {
		t.Errorf("failed message must still persist: %+v", msgs)
	}
}

func TestSendToUnknownConversationFails(t *testing.T) {
	_, out := newOutboundEnv(&fakeLineClient{})

	if _, err := out.Send(context.Background(), "Unever", "staff-7", "Hi"); err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}
