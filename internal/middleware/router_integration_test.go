package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// newAdminRouter はアプリと同じ順序でミドルウェアを組んだルーターを返す。
// 削除されたルートIDはdeletedに記録される。
func newAdminRouter(t *testing.T, deleted *[]string) http.Handler {
	t.Helper()
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     100,
		GeneralBurst:    100,
		DeleteRate:      0.001,
		DeleteBurst:     1,
		CleanupInterval: time.Minute,
	})
	t.Cleanup(rl.Stop)

	csrfConfig := CSRFConfig{}
	r := chi.NewRouter()
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(validSessionRepo("admin-session", "user-admin")))
		r.Use(rl.GeneralMiddleware())
		r.Use(NewCSRFMiddleware(csrfConfig))

		r.Get("/api/session", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
		r.With(rl.RouteDeleteMiddleware()).Delete("/api/routes/{id}", func(w http.ResponseWriter, r *http.Request) {
			*deleted = append(*deleted, chi.URLParam(r, "id"))
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

// fetchCSRFToken はトークン取得エンドポイントからトークンとCookieを得る。
func fetchCSRFToken(t *testing.T, h http.Handler) (string, *http.Cookie) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("csrf-token status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode token: %v", err)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			return body.Token, c
		}
	}
	t.Fatal("csrf-token response should set the token cookie")
	return "", nil
}

// TestRouterIntegration_IssuedTokenAuthorizesDelete は発行されたトークンで削除が通ることを検証する。
func TestRouterIntegration_IssuedTokenAuthorizesDelete(t *testing.T) {
	var deleted []string
	h := newAdminRouter(t, &deleted)
	token, cookie := fetchCSRFToken(t, h)

	if token != cookie.Value {
		t.Fatalf("body token %q does not match cookie %q", token, cookie.Value)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/routes/teide-01", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "admin-session"})
	req.AddCookie(cookie)
	req.Header.Set(csrfHeaderName, token)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if len(deleted) != 1 || deleted[0] != "teide-01" {
		t.Errorf("deleted = %v, want [teide-01]", deleted)
	}
}

// TestRouterIntegration_Rejections は各ミドルウェアが拒否する条件を検証する。
func TestRouterIntegration_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		target     string
		session    bool
		csrf       string // Cookieとヘッダーに設定する値。空なら設定しない
		header     string // ヘッダーのみ異なる値にする場合
		wantStatus int
	}{
		{"session without cookie", http.MethodGet, "/api/session", false, "", "", http.StatusUnauthorized},
		{"session with cookie", http.MethodGet, "/api/session", true, "", "", http.StatusOK},
		{"delete before session check", http.MethodDelete, "/api/routes/r1", false, "tok", "", http.StatusUnauthorized},
		{"delete without csrf", http.MethodDelete, "/api/routes/r1", true, "", "", http.StatusForbidden},
		{"delete with mismatched header", http.MethodDelete, "/api/routes/r1", true, "tok", "other", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var deleted []string
			h := newAdminRouter(t, &deleted)

			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.session {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "admin-session"})
			}
			if tt.csrf != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.csrf})
				header := tt.csrf
				if tt.header != "" {
					header = tt.header
				}
				req.Header.Set(csrfHeaderName, header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.method == http.MethodDelete && len(deleted) != 0 {
				t.Errorf("rejected delete reached the handler: %v", deleted)
			}
		})
	}
}

// TestRouterIntegration_DeleteLimitIsSeparate は削除の制限超過が参照系に影響しないことを検証する。
func TestRouterIntegration_DeleteLimitIsSeparate(t *testing.T) {
	var deleted []string
	h := newAdminRouter(t, &deleted)
	token, cookie := fetchCSRFToken(t, h)

	send := func(method, target string) int {
		req := httptest.NewRequest(method, target, nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "admin-session"})
		req.AddCookie(cookie)
		req.Header.Set(csrfHeaderName, token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if got := send(http.MethodDelete, "/api/routes/r1"); got != http.StatusNoContent {
		t.Fatalf("first delete status = %d, want %d", got, http.StatusNoContent)
	}
	if got := send(http.MethodDelete, "/api/routes/r2"); got != http.StatusTooManyRequests {
		t.Errorf("second delete status = %d, want %d", got, http.StatusTooManyRequests)
	}
	if got := send(http.MethodGet, "/api/session"); got != http.StatusOK {
		t.Errorf("session status after delete limit = %d, want %d", got, http.StatusOK)
	}
}
