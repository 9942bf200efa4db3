package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractTokenParsesBearerHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer abc123")
	if got := extractToken(req); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}

func TestExtractTokenRejectsMalformedHeader(t *testing.T) {
	cases := []string{"", "abc123", "Basic abc123", "Bearer"}
	for _, h := range cases {
		req := httptest.NewRequest("GET", "/", nil)
		if h != "" {
			req.Header.Set("Authorization", h)
		}
		if got := extractToken(req); got != "" {
			t.Fatalf("header %q: expected empty token, got %q", h, got)
		}
	}
}

func TestRequireAuthCaseInsensitiveScheme(t *testing.T) {
	am := NewAuthMiddleware("secret")
	req := httptest.NewRequest("POST", "/burst", nil)
	req.Header.Set("Authorization", "bearer secret")
	rec := httptest.NewRecorder()
	called := false
	am.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(200)
	})(rec, req)
	if !called {
		t.Fatal("expected handler to be called for valid token with lowercase scheme")
	}
}
