package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

// okHandler responds 200 and records whether it ran
func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuthDisabledWithoutAKey(t *testing.T) {
	var called bool
	handler := APIKeyAuth(AuthConfig{APIKey: "", Logger: zap.NewNop()})(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/crawl/start", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if !called {
		t.Error("Expected the handler to run when auth is disabled")
	}
}

func TestAPIKeyAuthSkipsHealthEndpoints(t *testing.T) {
	var called bool
	handler := APIKeyAuth(AuthConfig{APIKey: "secret", Logger: zap.NewNop()})(okHandler(&called))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if !called {
		t.Error("Expected health checks to bypass authentication")
	}
}

func TestAPIKeyAuthRejectsMissingAndWrongKeys(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{name: "no key at all"},
		{name: "wrong key", header: "X-API-Key", value: "not-the-secret"},
		{name: "wrong bearer token", header: "Authorization", value: "Bearer not-the-secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := APIKeyAuth(AuthConfig{APIKey: "secret", Logger: zap.NewNop()})(okHandler(&called))

			req := httptest.NewRequest(http.MethodPost, "/crawl/start", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rec.Code)
			}
			if called {
				t.Error("Handler must not run without a valid key")
			}
		})
	}
}

func TestAPIKeyAuthAcceptsHeaderAndBearer(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
	}{
		{name: "api key header", header: "X-API-Key", value: "secret"},
		{name: "bearer token", header: "Authorization", value: "Bearer secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			handler := APIKeyAuth(AuthConfig{APIKey: "secret", Logger: zap.NewNop()})(okHandler(&called))

			req := httptest.NewRequest(http.MethodPost, "/crawl/start", nil)
			req.Header.Set(tt.header, tt.value)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rec.Code)
			}
			if !called {
				t.Error("Expected the handler to run with a valid key")
			}
		})
	}
}

func TestCORSEchoesAllowedOrigins(t *testing.T) {
	handler := CORS([]string{"https://dashboard.example.test"})(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "https://dashboard.example.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dashboard.example.test" {
		t.Errorf("Expected the origin to be echoed, got %q", got)
	}
}

func TestCORSIgnoresUnknownOrigins(t *testing.T) {
	handler := CORS([]string{"https://dashboard.example.test"})(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "https://evil.example.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no allow-origin header, got %q", got)
	}
}

func TestCORSAnswersPreflightWithoutTheHandler(t *testing.T) {
	var called bool
	handler := CORS([]string{"*"})(okHandler(&called))

	req := httptest.NewRequest(http.MethodOptions, "/crawl/start", nil)
	req.Header.Set("Origin", "https://anywhere.example.test")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if called {
		t.Error("Preflight requests must not reach the handler")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("Expected the allowed methods header on preflight")
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler(nil))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestRequestIDGeneratesWhenMissing(t *testing.T) {
	var fromContext string
	handler := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	echoed := rec.Header().Get("X-Request-ID")
	if echoed == "" {
		t.Fatal("Expected a generated request ID in the response header")
	}
	if fromContext != echoed {
		t.Errorf("Context carries %q, response header %q", fromContext, echoed)
	}
}

func TestRequestIDKeepsTheInboundValue(t *testing.T) {
	handler := RequestID()(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("X-Request-ID", "trace-4711")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "trace-4711" {
		t.Errorf("Expected the inbound request ID to survive, got %q", got)
	}
}

func TestRequestIDFromContextFallback(t *testing.T) {
	if got := RequestIDFromContext(context.Background()); got != "unknown" {
		t.Errorf("Expected %q for a bare context, got %q", "unknown", got)
	}
}
