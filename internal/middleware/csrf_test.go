package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/rutas/internal/model"
)

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestCSRFMiddleware_SafeMethods_PassThroughWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			handlerCalled := false
			handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handlerCalled = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(method, "/api/routes", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if !handlerCalled {
				t.Error("handler should be called for safe method")
			}
			if w.Result().StatusCode != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
			}
		})
	}
}

func TestCSRFMiddleware_StateMutatingMethods_Validation(t *testing.T) {
	tests := []struct {
		name       string
		cookie     string
		header     string
		wantStatus int
	}{
		{"no cookie", "", "token", http.StatusForbidden},
		{"no header", "token", "", http.StatusForbidden},
		{"mismatch", "token-a", "token-b", http.StatusForbidden},
		{"valid", "token-a", "token-a", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}))

				req := httptest.NewRequest(method, "/api/routes/r1", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				w := httptest.NewRecorder()

				handler.ServeHTTP(w, req)

				resp := w.Result()
				if resp.StatusCode != tt.wantStatus {
					t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
				}
				if tt.wantStatus == http.StatusForbidden {
					var body ErrorResponseBody
					if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
						t.Fatalf("failed to decode body: %v", err)
					}
					if body.Code != model.ErrCodeCSRFFailed {
						t.Errorf("code = %q, want %q", body.Code, model.ErrCodeCSRFFailed)
					}
				}
			})
		}
	}
}

func TestCSRFMiddleware_GETRequest_SetsCSRFCookie(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{CookieDomain: "example.com"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	csrfCookie := findCookie(w.Result(), csrfCookieName)
	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set on GET request")
	}
	if len(csrfCookie.Value) != 64 {
		t.Errorf("CSRF token length = %d, want 64 hex chars", len(csrfCookie.Value))
	}
	if csrfCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("CSRF cookie SameSite = %v, want %v", csrfCookie.SameSite, http.SameSiteLaxMode)
	}
	if csrfCookie.HttpOnly {
		t.Error("CSRF cookie should NOT be HttpOnly (frontend needs to read it)")
	}
	if csrfCookie.Path != "/" {
		t.Errorf("CSRF cookie Path = %q, want %q", csrfCookie.Path, "/")
	}
}

func TestCSRFMiddleware_GETRequest_ExistingCookie_DoesNotReplace(t *testing.T) {
	handler := NewCSRFMiddleware(CSRFConfig{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if findCookie(w.Result(), csrfCookieName) != nil {
		t.Error("CSRF cookie should not be re-set when already present")
	}
}

// --- CSRFトークン取得エンドポイントのテスト ---

func TestCSRFTokenHandler_SetsTokenCookieAndReturnsJSON(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{CookieSecure: true})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	csrfCookie := findCookie(resp, csrfCookieName)
	if csrfCookie == nil {
		t.Fatal("expected CSRF cookie to be set")
	}
	if body.Token == "" || csrfCookie.Value != body.Token {
		t.Errorf("cookie value = %q, response token = %q; should match", csrfCookie.Value, body.Token)
	}
	if !csrfCookie.Secure {
		t.Error("cookie should be Secure when configured")
	}
}

func TestCSRFTokenHandler_ExistingCookie_ReturnsSameToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing-csrf-token"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token != "existing-csrf-token" {
		t.Errorf("token = %q, want %q", body.Token, "existing-csrf-token")
	}
}
