package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/workspace"
)

type mockWorkspaceAcquirer struct {
	acquireFn func(ctx context.Context, sessionID string) (*workspace.Workspace, error)
}

func (m *mockWorkspaceAcquirer) Acquire(ctx context.Context, sessionID string) (*workspace.Workspace, error) {
	return m.acquireFn(ctx, sessionID)
}

var _ WorkspaceAcquirer = (*workspace.Registry)(nil)

func TestWorkspaceMiddleware_InjectsWorkspace(t *testing.T) {
	acq := &mockWorkspaceAcquirer{acquireFn: func(ctx context.Context, sessionID string) (*workspace.Workspace, error) {
		return &workspace.Workspace{SessionID: sessionID}, nil
	}}

	var got *workspace.Workspace
	handler := NewWorkspaceMiddleware(acq)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = WorkspaceFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
	req = req.WithContext(ContextWithSession(req.Context(), "sess-ws", "user-ws"))
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
	if got == nil || got.SessionID != "sess-ws" {
		t.Errorf("workspace = %+v, want session sess-ws", got)
	}
}

func TestWorkspaceMiddleware_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"session gone", workspace.ErrSessionNotFound, http.StatusUnauthorized, model.ErrCodeUnauthorized},
		{"registry closed", workspace.ErrClosed, http.StatusServiceUnavailable, model.ErrCodeUnavailable},
		{"resolver failure", errors.New("db down"), http.StatusInternalServerError, model.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acq := &mockWorkspaceAcquirer{acquireFn: func(context.Context, string) (*workspace.Workspace, error) {
				return nil, tt.err
			}}
			handler := NewWorkspaceMiddleware(acq)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/routes", nil)
			req = req.WithContext(ContextWithSession(req.Context(), "sess", "user"))
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestWorkspaceMiddleware_NoSessionInContext_Returns401(t *testing.T) {
	acq := &mockWorkspaceAcquirer{acquireFn: func(context.Context, string) (*workspace.Workspace, error) {
		t.Fatal("Acquire should not be called")
		return nil, nil
	}}

	w := httptest.NewRecorder()
	NewWorkspaceMiddleware(acq)(okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/routes", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestWorkspaceFromContext_Missing_ReturnsNil(t *testing.T) {
	if ws := WorkspaceFromContext(context.Background()); ws != nil {
		t.Errorf("WorkspaceFromContext() = %+v, want nil", ws)
	}
}
