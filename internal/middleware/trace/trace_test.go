package trace

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tripledger/internal/log"
)

func newTestLogger(buf *bytes.Buffer) *log.Logger {
	return log.New(log.Config{Level: slog.LevelDebug, Format: "json", Output: buf})
}

func TestMiddlewareLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	m := NewMiddleware(newTestLogger(&buf), func(*http.Request) string { return "198.51.100.4" })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(m.Middleware)
	r.Get("/expenses/{id}", func(w http.ResponseWriter, r *http.Request) {
		if log.FromContext(r.Context()).Component() == "unknown" {
			t.Error("handler did not receive the request logger")
		}
		if got := RoutePattern(r); got != "/expenses/{id}" {
			t.Errorf("RoutePattern() = %q, want /expenses/{id}", got)
		}
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/expenses/e1", nil))

	if m.TotalRequests() != 1 {
		t.Fatalf("TotalRequests() = %d, want 1", m.TotalRequests())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry[log.FieldStatusCode] != float64(404) {
		t.Errorf("status_code = %v, want 404", entry[log.FieldStatusCode])
	}
	if entry[log.FieldClientIP] != "198.51.100.4" {
		t.Errorf("client_ip = %v", entry[log.FieldClientIP])
	}
	if entry[log.FieldRequestID] == "" || entry[log.FieldRequestID] == nil {
		t.Error("request_id missing")
	}
	if entry["level"] != "WARN" {
		t.Errorf("level = %v, want WARN for a 4xx", entry["level"])
	}
}

func TestRoutePatternUnmatched(t *testing.T) {
	if got := RoutePattern(httptest.NewRequest(http.MethodGet, "/x", nil)); got != "unmatched" {
		t.Errorf("RoutePattern() = %q, want unmatched", got)
	}
}
