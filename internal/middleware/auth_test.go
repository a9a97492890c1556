package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject, role string, expiry time.Duration) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func authProbe() (http.Handler, *string, *string) {
	var staffID, role string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		staffID = GetStaffID(r.Context())
		role = GetRole(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return Auth(testSecret)(inner), &staffID, &role
}

func TestAuthAcceptsValidToken(t *testing.T) {
	h, staffID, role := authProbe()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "staff-1", "admin", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *staffID != "staff-1" || *role != "admin" {
		t.Errorf("context not populated: staff=%q role=%q", *staffID, *role)
	}
}

func TestAuthRejects(t *testing.T) {
	cases := map[string]string{
		"missing header": "",
		"not bearer":     "Basic abc",
		"garbage token":  "Bearer not-a-jwt",
		"wrong secret":   "Bearer " + signToken(t, "other-secret", "staff-1", "agent", time.Hour),
		"expired token":  "Bearer " + signToken(t, testSecret, "staff-1", "agent", -time.Hour),
	}

	for name, header := range cases {
		h, _, _ := authProbe()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestRequireRole(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Auth(testSecret)(RequireRole("admin")(inner))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "staff-1", "agent", time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("agent hitting admin route: expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "staff-2", "admin", time.Hour))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin hitting admin route: expected 200, got %d", rec.Code)
	}
}
