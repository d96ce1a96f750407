package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/workspace"
)

var workspaceContextKey = contextKey("workspace")

// WorkspaceAcquirer はセッションのワークスペースを取得する。
// workspace.Registryが実装する。
type WorkspaceAcquirer interface {
	Acquire(ctx context.Context, sessionID string) (*workspace.Workspace, error)
}

// NewWorkspaceMiddleware はセッションのワークスペースを取得し、
// リクエストコンテキストに注入するミドルウェアを返す。
// SessionMiddlewareの後に配置する。
func NewWorkspaceMiddleware(acquirer WorkspaceAcquirer) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID, err := SessionIDFromContext(r.Context())
			if err != nil {
				writeUnauthorized(w)
				return
			}

			ws, err := acquirer.Acquire(r.Context(), sessionID)
			switch {
			case errors.Is(err, workspace.ErrSessionNotFound):
				writeUnauthorized(w)
				return
			case errors.Is(err, workspace.ErrClosed):
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUnavailableError())
				return
			case err != nil:
				slog.Error("failed to acquire workspace",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			ctx := context.WithValue(r.Context(), workspaceContextKey, ws)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WorkspaceFromContext はリクエストコンテキストからワークスペースを取得する。
// WorkspaceMiddlewareを通過していない場合はnilを返す。
func WorkspaceFromContext(ctx context.Context) *workspace.Workspace {
	ws, _ := ctx.Value(workspaceContextKey).(*workspace.Workspace)
	return ws
}

// ContextWithWorkspace はコンテキストにワークスペースを注入する。テスト用。
func ContextWithWorkspace(ctx context.Context, ws *workspace.Workspace) context.Context {
	return context.WithValue(ctx, workspaceContextKey, ws)
}
