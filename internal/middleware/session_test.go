package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/rutas/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func validSessionRepo(sessionID, userID string) *mockSessionRepository {
	return &mockSessionRepository{
		findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
			if id == sessionID {
				return &model.Session{
					ID:        sessionID,
					UserID:    userID,
					ExpiresAt: time.Now().Add(1 * time.Hour),
				}, nil
			}
			return nil, nil
		},
	}
}

// --- テスト ---

func TestSessionMiddleware_ValidSession_InjectsSessionAndUserID(t *testing.T) {
	mw := NewSessionMiddleware(validSessionRepo("valid-session-id", "user-123"))

	var capturedUserID, capturedSessionID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		capturedUserID, err = UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedSessionID, err = SessionIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session-id"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if capturedUserID != "user-123" {
		t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
	}
	if capturedSessionID != "valid-session-id" {
		t.Errorf("sessionID = %q, want %q", capturedSessionID, "valid-session-id")
	}
}

func TestSessionMiddleware_Rejections_Return401JSON(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		repo   *mockSessionRepository
	}{
		{"no cookie", nil, &mockSessionRepository{}},
		{"empty cookie", &http.Cookie{Name: SessionCookieName, Value: ""}, &mockSessionRepository{}},
		// 期限切れのセッションはリポジトリがnilを返す
		{"expired session", &http.Cookie{Name: SessionCookieName, Value: "expired"}, &mockSessionRepository{}},
		{"repository error", &http.Cookie{Name: SessionCookieName, Value: "some"}, &mockSessionRepository{
			findByIDFn: func(ctx context.Context, id string) (*model.Session, error) {
				return nil, context.DeadlineExceeded
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSessionMiddleware(tt.repo)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != model.ErrCodeUnauthorized {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthorized)
			}
		})
	}
}

func TestUserIDFromContext_NoValue_ReturnsError(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing user ID in context")
	}
	if _, err := SessionIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing session ID in context")
	}
}

func TestContextWithSession_RoundTrip(t *testing.T) {
	ctx := ContextWithSession(context.Background(), "sess-1", "user-456")

	userID, err := UserIDFromContext(ctx)
	if err != nil || userID != "user-456" {
		t.Errorf("UserIDFromContext() = %q, %v", userID, err)
	}
	sessionID, err := SessionIDFromContext(ctx)
	if err != nil || sessionID != "sess-1" {
		t.Errorf("SessionIDFromContext() = %q, %v", sessionID, err)
	}
}
