package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/rutas/internal/middleware"
	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/profilesync"
	"github.com/hitoshi/rutas/internal/security"
)

// ProfileSession はセッションハンドラーが必要とするSynchronizerの操作。
type ProfileSession interface {
	State() model.SessionState
	UpdateProfile(ctx context.Context, p model.Profile) error
}

// SessionLocator はリクエストに対応するProfileSessionを返す。見つからない場合はnil。
type SessionLocator func(ctx context.Context) ProfileSession

// WorkspaceSession はWorkspaceMiddlewareが注入したワークスペースのSynchronizerを返す。
func WorkspaceSession(ctx context.Context) ProfileSession {
	ws := middleware.WorkspaceFromContext(ctx)
	if ws == nil || ws.Session == nil {
		return nil
	}
	return ws.Session
}

// ProfileValidator はプロフィールが保存可能かを検査する。
// security.ProfileValidatorが実装する。
type ProfileValidator interface {
	Validate(p model.Profile) error
}

// SessionHandler はセッション状態とプロフィール更新のHTTPハンドラー。
type SessionHandler struct {
	locate    SessionLocator
	validator ProfileValidator
}

// NewSessionHandler はSessionHandlerを生成する。
// locateがnilの場合はWorkspaceSessionを使用する。validatorはnilでもよい。
func NewSessionHandler(locate SessionLocator, validator ProfileValidator) *SessionHandler {
	if locate == nil {
		locate = WorkspaceSession
	}
	return &SessionHandler{locate: locate, validator: validator}
}

// GetSession は現在のセッション状態を返す。
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session := h.locate(r.Context())
	if session == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, session.State())
}

// UpdateProfile はプロフィールをリモートにマージ書き込みし、更新後のセッション状態を返す。
// PUT /api/session/profile
func (h *SessionHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	session := h.locate(r.Context())
	if session == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	// 1. JSONオブジェクトのみ受け付ける
	var profile model.Profile
	if err := decodeJSON(w, r, &profile); err != nil {
		handleServiceError(w, model.NewInvalidProfileError("JSONオブジェクトではありません"))
		return
	}
	if profile == nil {
		handleServiceError(w, model.NewInvalidProfileError("nullは指定できません"))
		return
	}

	// 2. マークアップを含むプロフィールは書き換えずに拒否する
	if h.validator != nil {
		if err := h.validator.Validate(profile); err != nil {
			var markupErr *security.MarkupError
			if errors.As(err, &markupErr) {
				handleServiceError(w, model.NewInvalidProfileError(markupErr.Path+" にマークアップが含まれています"))
				return
			}
			handleServiceError(w, model.NewInvalidProfileError(err.Error()))
			return
		}
	}

	// 3. 送信された内容のまま書き込み
	err := session.UpdateProfile(r.Context(), profile)
	switch {
	case err == nil:
	case errors.Is(err, profilesync.ErrNoIdentity):
		handleServiceError(w, model.NewNotLoggedInError())
		return
	case errors.Is(err, profilesync.ErrClosed):
		handleServiceError(w, model.NewUnavailableError())
		return
	default:
		slog.Warn("profile update failed", slog.String("error", err.Error()))
		handleServiceError(w, model.NewProfileWriteFailedError())
		return
	}

	writeJSON(w, http.StatusOK, session.State())
}
