package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bobmcallan/pfreturns/internal/common"
)

func preflight(t *testing.T, s *Server, path, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodOptions, path, nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCORS_AnyOrigin(t *testing.T) {
	s := newTestServer(t, panicCalculator{}, nil)

	for _, path := range []string{"/", "/tools", "/health", "/status", "/metrics"} {
		rec := preflight(t, s, path, "https://chat.example.com")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://chat.example.com" {
			t.Errorf("%s: expected origin echo, got %q", path, got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-API-Key" {
			t.Errorf("%s: unexpected allow headers %q", path, got)
		}
	}

	rec := preflight(t, s, "/", "")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected * without Origin, got %q", got)
	}
}

func TestCORS_RestrictedOrigins(t *testing.T) {
	s := newTestServer(t, panicCalculator{}, func(c *common.Config) {
		c.CORS.AllowedOrigins = []string{"https://app.example.com"}
	})

	rec := preflight(t, s, "/", "https://app.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected allowed origin echo, got %q", got)
	}

	rec = preflight(t, s, "/", "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "null" {
		t.Errorf("expected null for disallowed origin, got %q", got)
	}
	if rec.Header().Get("Access-Control-Max-Age") != "" {
		t.Error("expected no max age for disallowed origin")
	}
}

func TestCorrelationID(t *testing.T) {
	s := newTestServer(t, panicCalculator{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "abc123" {
		t.Errorf("expected propagated correlation id, got %q", got)
	}

	rec = get(t, s, "/health")
	if got := rec.Header().Get("X-Correlation-ID"); len(got) != 8 {
		t.Errorf("expected generated 8 char correlation id, got %q", got)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := recoveryMiddleware(common.NewSilentLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tools", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
}

func TestRouteLabel(t *testing.T) {
	if routeLabel("/health") != "/health" {
		t.Error("known route should keep its path")
	}
	if routeLabel("/x/y/z") != "other" {
		t.Error("unknown route should collapse to other")
	}
}
