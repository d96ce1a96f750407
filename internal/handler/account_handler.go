package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/rutas/internal/middleware"
	"github.com/hitoshi/rutas/internal/model"
)

// AccountService はアカウント操作のサービスインターフェース。
// user.Serviceが実装する。
type AccountService interface {
	Withdraw(ctx context.Context, userID, sessionID string) error
}

// AccountHandler はアカウント関連のHTTPハンドラー。
type AccountHandler struct {
	service  AccountService
	releaser WorkspaceReleaser
	config   AuthHandlerConfig
}

// NewAccountHandler はAccountHandlerを生成する。releaserはnilでもよい。
func NewAccountHandler(service AccountService, releaser WorkspaceReleaser, config AuthHandlerConfig) *AccountHandler {
	return &AccountHandler{
		service:  service,
		releaser: releaser,
		config:   config,
	}
}

// Withdraw はDELETE /api/account のハンドラー。
// 退会後にワークスペースを破棄し、セッションCookieを削除して204を返す。
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	sessionID, _ := middleware.SessionIDFromContext(r.Context())

	if err := h.service.Withdraw(r.Context(), userID, sessionID); err != nil {
		handleServiceError(w, err)
		return
	}

	if h.releaser != nil && sessionID != "" {
		h.releaser.Release(sessionID)
	}
	expireCookie(w, middleware.SessionCookieName, h.config.CookieDomain, h.config.CookieSecure)
	w.WriteHeader(http.StatusNoContent)
}
