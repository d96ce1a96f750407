package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/rutas/internal/middleware"
	"github.com/hitoshi/rutas/internal/model"
)

type mockAccountService struct {
	withdrawFn func(ctx context.Context, userID, sessionID string) error
}

func (m *mockAccountService) Withdraw(ctx context.Context, userID, sessionID string) error {
	return m.withdrawFn(ctx, userID, sessionID)
}

func withdrawRequest(sessionID, userID string) *http.Request {
	req := httptest.NewRequest(http.MethodDelete, "/api/account", nil)
	return req.WithContext(middleware.ContextWithSession(req.Context(), sessionID, userID))
}

func TestAccountHandler_Withdraw_Success(t *testing.T) {
	var gotUser, gotSession string
	svc := &mockAccountService{
		withdrawFn: func(ctx context.Context, userID, sessionID string) error {
			gotUser, gotSession = userID, sessionID
			return nil
		},
	}
	releaser := &mockReleaser{}
	h := NewAccountHandler(svc, releaser, AuthHandlerConfig{CookieSecure: true})

	w := httptest.NewRecorder()
	h.Withdraw(w, withdrawRequest("sess-1", "user-1"))

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if gotUser != "user-1" || gotSession != "sess-1" {
		t.Errorf("Withdraw(%q, %q), want (user-1, sess-1)", gotUser, gotSession)
	}
	if len(releaser.released) != 1 || releaser.released[0] != "sess-1" {
		t.Errorf("released = %v, want [sess-1]", releaser.released)
	}

	cookie := findCookieInResponse(w, middleware.SessionCookieName)
	if cookie == nil {
		t.Fatal("session cookie should be cleared")
	}
	if cookie.MaxAge >= 0 || !cookie.Secure || !cookie.HttpOnly {
		t.Errorf("cookie = %+v, want expired secure HttpOnly cookie", cookie)
	}
}

func TestAccountHandler_Withdraw_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"user not found", model.NewUserNotFoundError(), http.StatusNotFound, model.ErrCodeUserNotFound},
		{"store failure", errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAccountService{
				withdrawFn: func(ctx context.Context, userID, sessionID string) error {
					return tt.err
				},
			}
			releaser := &mockReleaser{}
			h := NewAccountHandler(svc, releaser, AuthHandlerConfig{})

			w := httptest.NewRecorder()
			h.Withdraw(w, withdrawRequest("sess-1", "user-1"))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := decodeErrorBody(t, w.Result()); got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if len(releaser.released) != 0 {
				t.Error("workspace should not be released on failure")
			}
			if findCookieInResponse(w, middleware.SessionCookieName) != nil {
				t.Error("session cookie should be kept on failure")
			}
		})
	}
}

func TestAccountHandler_Withdraw_WithoutUserReturns401(t *testing.T) {
	svc := &mockAccountService{
		withdrawFn: func(ctx context.Context, userID, sessionID string) error {
			t.Fatal("service should not be called")
			return nil
		},
	}
	h := NewAccountHandler(svc, nil, AuthHandlerConfig{})

	w := httptest.NewRecorder()
	h.Withdraw(w, httptest.NewRequest(http.MethodDelete, "/api/account", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func findCookieInResponse(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
