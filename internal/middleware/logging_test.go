package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(logger))
	r.Get("/api/routes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/routes/r1", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, &buf)
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want %q", entry["method"], "GET")
	}
	if entry["path"] != "/api/routes/r1" {
		t.Errorf("path = %v, want %q", entry["path"], "/api/routes/r1")
	}
	if entry["route"] != "/api/routes/{id}" {
		t.Errorf("route = %v, want %q", entry["route"], "/api/routes/{id}")
	}
	if status, ok := entry["status"].(float64); !ok || status != 200 {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want >= 0", entry["duration_ms"])
	}
}

// TestLoggingMiddleware_IncludesUserIDFromSessionMiddleware は
// 下流のSessionMiddlewareが解決したユーザーIDがログに含まれることを検証する。
func TestLoggingMiddleware_IncludesUserIDFromSessionMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger)(
		NewSessionMiddleware(validSessionRepo("log-session", "user-123"))(okHandler()),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "log-session"})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseLogEntry(t, &buf)
	if entry["user_id"] != "user-123" {
		t.Errorf("user_id = %v, want %q", entry["user_id"], "user-123")
	}
}

// TestLoggingMiddleware_NoUserID_OmitsField はユーザーIDがない場合にフィールドが出力されないことを検証する。
func TestLoggingMiddleware_NoUserID_OmitsField(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	NewLoggingMiddleware(logger)(okHandler()).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	entry := parseLogEntry(t, &buf)
	if _, ok := entry["user_id"]; ok {
		t.Errorf("user_id should be omitted for unauthenticated request, got %v", entry["user_id"])
	}
}

// TestLoggingMiddleware_LevelByStatus はステータスコードに応じたログレベルで出力されることを検証する。
func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		statusCode int
		wantLevel  string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusConflict, "WARN"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusBadGateway, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.statusCode), func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

			handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

			entry := parseLogEntry(t, &buf)
			if status := int(entry["status"].(float64)); status != tt.statusCode {
				t.Errorf("status = %d, want %d", status, tt.statusCode)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %q", entry["level"], tt.wantLevel)
			}
		})
	}
}

// TestLoggingMiddleware_BodyWriteCapture はWriteHeaderなしの書き込みが200として記録されることを検証する。
func TestLoggingMiddleware_BodyWriteCapture(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	entry := parseLogEntry(t, &buf)
	if status := int(entry["status"].(float64)); status != 200 {
		t.Errorf("status = %d, want 200", status)
	}
}

// --- メトリクスミドルウェア ---

type httpCall struct {
	method string
	route  string
	status int
}

type recordingHTTPRecorder struct {
	mu    sync.Mutex
	calls []httpCall
}

func (r *recordingHTTPRecorder) RecordHTTPRequest(method, route string, statusCode int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, httpCall{method: method, route: route, status: statusCode})
}

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	rec := &recordingHTTPRecorder{}

	r := chi.NewRouter()
	r.Use(NewMetricsMiddleware(rec))
	r.Delete("/api/routes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/routes/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	if len(rec.calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(rec.calls))
	}
	if got := rec.calls[0]; got != (httpCall{http.MethodDelete, "/api/routes/{id}", http.StatusConflict}) {
		t.Errorf("first call = %+v", got)
	}
	if got := rec.calls[1]; got.route != "unmatched" || got.status != http.StatusNotFound {
		t.Errorf("second call = %+v, want unmatched 404", got)
	}
}
