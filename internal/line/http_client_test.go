package line

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticToken string

func (s staticToken) ChannelToken(ctx context.Context) (string, error) {
	return string(s), nil
}

func TestGetProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/bot/profile/U123" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		json.NewEncoder(w).Encode(Profile{UserID: "U123", DisplayName: "Alice"})
	}))
	defer srv.Close()

	c := NewHTTPClient(staticToken("tok"), testLogger()).WithBaseURL(srv.URL)
	p, err := c.GetProfile(context.Background(), "U123")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.DisplayName != "Alice" {
		t.Errorf("unexpected profile: %+v", p)
	}
}

func TestPushText(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/bot/message/push" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(staticToken("tok"), testLogger()).WithBaseURL(srv.URL)
	if err := c.PushText(context.Background(), "U123", "hello"); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got["to"] != "U123" {
		t.Errorf("unexpected payload: %v", got)
	}
}

func TestPushTextSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(staticToken("tok"), testLogger()).WithBaseURL(srv.URL)
	if err := c.PushText(context.Background(), "U123", "hello"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestPushTextWithoutToken(t *testing.T) {
	c := NewHTTPClient(staticToken(""), testLogger())
	if err := c.PushText(context.Background(), "U123", "hello"); err == nil {
		t.Fatal("expected error when no token is configured")
	}
}
