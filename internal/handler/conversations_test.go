package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/brokercrm/chat-ingest/internal/line"
	"github.com/brokercrm/chat-ingest/internal/middleware"
	"github.com/brokercrm/chat-ingest/internal/mirror"
	"github.com/brokercrm/chat-ingest/internal/model"
	"github.com/brokercrm/chat-ingest/internal/notify"
	"github.com/brokercrm/chat-ingest/internal/service"
	"github.com/brokercrm/chat-ingest/internal/store"
)

type pushRecorder struct {
	offlineClient
	pushed int
}

func (p *pushRecorder) PushText(ctx context.Context, to, text string) error {
	p.pushed++
	return nil
}

func newConversationRouter(st store.Store, lc line.Client) http.Handler {
	log := testLogger()
	identity := service.NewIdentityService(st, lc, log)
	ingest := service.NewIngestService(st, mirror.NewMemory(), identity, notify.Nop{}, log)
	outbound := service.NewOutboundService(st, ingest, lc, log)
	h := NewConversationHandler(st, ingest, outbound, log)

	r := chi.NewRouter()
	r.Get("/conversation", h.Messages)
	r.Get("/conversations", h.List)
	r.Post("/conversations/{handle}/read", h.MarkRead)
	r.Post("/conversations/{handle}/messages", h.Send)
	return r
}

func seedConversation(t *testing.T, st *store.MemoryStore, lc line.Client, handle string, texts ...string) {
	t.Helper()
	log := testLogger()
	identity := service.NewIdentityService(st, lc, log)
	ingest := service.NewIngestService(st, mirror.NewMemory(), identity, notify.Nop{}, log)
	for _, text := range texts {
		resp := ingest.ProcessBatch(context.Background(), "seed", []line.Event{{
			Type:    "message",
			Source:  line.Source{Type: "user", UserID: handle},
			Message: &line.MessagePayload{ID: "m", Type: "text", Text: text},
		}})
		if !resp.EventsResults[0].OK {
			t.Fatalf("seed failed: %+v", resp.EventsResults[0])
		}
	}
}

func TestMessagesRequiresHandle(t *testing.T) {
	router := newConversationRouter(store.NewMemory(), offlineClient{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversation", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without handle, got %d", rec.Code)
	}
}

func TestMessagesPagination(t *testing.T) {
	st := store.NewMemory()
	lc := offlineClient{}
	seedConversation(t, st, lc, "U1", "one", "two", "three")
	router := newConversationRouter(st, lc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversation?handle=U1&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var page model.ConversationPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 || len(page.Messages) != 2 || !page.HasMore {
		t.Errorf("unexpected page: total=%d len=%d hasMore=%v", page.Total, len(page.Messages), page.HasMore)
	}
	// Newest first.
	if page.Messages[0].Content != "three" {
		t.Errorf("expected newest message first, got %q", page.Messages[0].Content)
	}
}

func TestMarkReadEndpoint(t *testing.T) {
	st := store.NewMemory()
	lc := offlineClient{}
	seedConversation(t, st, lc, "U1", "one", "two")
	router := newConversationRouter(st, lc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/U1/read", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp model.MarkReadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Updated != 2 {
		t.Errorf("expected 2 updated, got %d", resp.Updated)
	}
	unread, _ := st.ListUnread(context.Background(), "U1")
	if len(unread) != 0 {
		t.Errorf("expected no unread left, got %d", len(unread))
	}
}

func TestSendEndpoint(t *testing.T) {
	st := store.NewMemory()
	lc := &pushRecorder{}
	seedConversation(t, st, lc, "U1", "hello")
	router := newConversationRouter(st, lc)

	body := strings.NewReader(`{"text":"We got your request"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/U1/messages", body)
	req = req.WithContext(context.WithValue(req.Context(), middleware.StaffIDKey, "staff-9"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp model.SendMessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Message == nil || resp.Message.Status != model.StatusSent {
		t.Fatalf("unexpected message: %+v", resp.Message)
	}
	if resp.Message.StaffID == nil || *resp.Message.StaffID != "staff-9" {
		t.Errorf("expected staff id from auth context, got %v", resp.Message.StaffID)
	}
	if lc.pushed != 1 {
		t.Errorf("expected 1 push, got %d", lc.pushed)
	}
}

func TestSendToUnknownHandle(t *testing.T) {
	router := newConversationRouter(store.NewMemory(), &pushRecorder{})

	req := httptest.NewRequest(http.MethodPost, "/conversations/Unever/messages", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown conversation, got %d", rec.Code)
	}
}

// brokenWriteStore fails every message insert while reads keep working.
type brokenWriteStore struct {
	*store.MemoryStore
}

func (s *brokenWriteStore) CreateMessage(ctx context.Context, m *model.ChatMessage) error {
	return errors.New("insert failed")
}

func TestSendStoreFailureReturns500(t *testing.T) {
	base := store.NewMemory()
	lc := &pushRecorder{}
	seedConversation(t, base, lc, "U1", "hello")
	router := newConversationRouter(&brokenWriteStore{MemoryStore: base}, lc)

	req := httptest.NewRequest(http.MethodPost, "/conversations/U1/messages", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	// A write failure on a known conversation is a server error, not a 404.
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for store failure, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSendRejectsEmptyText(t *testing.T) {
	st := store.NewMemory()
	lc := &pushRecorder{}
	seedConversation(t, st, lc, "U1", "hello")
	router := newConversationRouter(st, lc)

	req := httptest.NewRequest(http.MethodPost, "/conversations/U1/messages", strings.NewReader(`{"text":""}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty text, got %d", rec.Code)
	}
}

func TestListConversations(t *testing.T) {
	st := store.NewMemory()
	lc := offlineClient{}
	seedConversation(t, st, lc, "U1", "a")
	seedConversation(t, st, lc, "U2", "b")
	router := newConversationRouter(st, lc)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Conversations []model.ConversationSummary `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Conversations) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(resp.Conversations))
	}
	if resp.Conversations[0].Handle != "U2" {
		t.Errorf("expected most recent conversation first, got %s", resp.Conversations[0].Handle)
	}
}
