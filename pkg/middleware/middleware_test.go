package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanvitalp/road-to-next/pkg/auth"
	"github.com/alanvitalp/road-to-next/pkg/contextkeys"
)

func authTestHandler(t *testing.T, wantUser string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := GetPrincipal(r)
		if wantUser == "" {
			if p != nil {
				t.Errorf("expected no principal, got %+v", p)
			}
		} else if p == nil || p.UserID != wantUser {
			t.Errorf("expected principal %q, got %+v", wantUser, p)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware(t *testing.T) {
	authenticator := auth.NewStaticAuthenticator(map[string]auth.Principal{
		"tok-1": {UserID: "u1"},
	})

	tests := []struct {
		name       string
		header     string
		optional   bool
		wantStatus int
		wantUser   string
	}{
		{"valid token", "Bearer tok-1", false, http.StatusOK, "u1"},
		{"missing header", "", false, http.StatusUnauthorized, ""},
		{"missing header optional", "", true, http.StatusOK, ""},
		{"malformed header", "tok-1", false, http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic tok-1", false, http.StatusUnauthorized, ""},
		{"unknown token", "Bearer nope", false, http.StatusUnauthorized, ""},
		{"unknown token optional", "Bearer nope", true, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewAuthMiddleware(authenticator, tt.optional)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			m.Handler(authTestHandler(t, tt.wantUser)).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequestIDGenerates(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(contextkeys.RequestIDKey).(string)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if seen == "" {
		t.Fatal("expected a generated request id in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header %q does not match context id %q", got, seen)
	}
}

func TestRequestIDHonorsInbound(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Errorf("expected inbound id echoed, got %q", got)
	}
}
