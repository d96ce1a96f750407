package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rutas/internal/middleware"
	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/notice"
	"github.com/hitoshi/rutas/internal/roster"
)

// RouteRoster はルートハンドラーが必要とするManagerの操作。
type RouteRoster interface {
	Load(ctx context.Context) error
	SetFilter(f roster.Filter)
	Filter() roster.Filter
	ViewWith(f roster.Filter) []model.Route
	Messages() notice.Messages
	Delete(ctx context.Context, id string) (roster.Outcome, error)
}

// RosterLocator はリクエストに対応するRouteRosterを返す。見つからない場合はnil。
type RosterLocator func(ctx context.Context) RouteRoster

// WorkspaceRoster はWorkspaceMiddlewareが注入したワークスペースのルート一覧を返す。
func WorkspaceRoster(ctx context.Context) RouteRoster {
	ws := middleware.WorkspaceFromContext(ctx)
	if ws == nil || ws.Routes == nil {
		return nil
	}
	return ws.Routes
}

// routeListResponse はルート一覧のAPIレスポンス。
type routeListResponse struct {
	Routes   []model.Route   `json:"routes"`
	Total    int             `json:"total"`
	Filter   roster.Filter   `json:"filter"`
	Messages notice.Messages `json:"messages"`
}

// deleteRouteResponse はルート削除のAPIレスポンス。
type deleteRouteResponse struct {
	ID       string          `json:"id"`
	Outcome  roster.Outcome  `json:"outcome"`
	Messages notice.Messages `json:"messages"`
}

// filterRequest は絞り込み条件の保存リクエストのボディ。
type filterRequest struct {
	Filtro   string `json:"filtro"`
	Criterio string `json:"criterio"`
}

// RouteHandler はルート一覧のHTTPハンドラー。
type RouteHandler struct {
	locate RosterLocator
}

// NewRouteHandler はRouteHandlerを生成する。locateがnilの場合はWorkspaceRosterを使用する。
func NewRouteHandler(locate RosterLocator) *RouteHandler {
	if locate == nil {
		locate = WorkspaceRoster
	}
	return &RouteHandler{locate: locate}
}

// ListRoutes は絞り込んだルート一覧を返す。
// GET /api/routes?filtro=guia&criterio=Ana
//
// filtroが指定されない場合はワークスペースに保存されている条件を使用する。
// クエリで指定した条件は保存しない。
func (h *RouteHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	rr := h.locate(r.Context())
	if rr == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	filter := rr.Filter()
	q := r.URL.Query()
	if q.Has("filtro") {
		mode, err := roster.ParseMode(q.Get("filtro"))
		if err != nil {
			handleServiceError(w, model.NewInvalidFilterError(q.Get("filtro")))
			return
		}
		filter = roster.Filter{Mode: mode, Criterion: q.Get("criterio")}
	}

	writeJSON(w, http.StatusOK, listResponse(rr, filter))
}

// SetFilter は絞り込み条件を保存し、その条件での一覧を返す。
// PUT /api/routes/filter
func (h *RouteHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	rr := h.locate(r.Context())
	if rr == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req filterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}
	mode, err := roster.ParseMode(req.Filtro)
	if err != nil {
		handleServiceError(w, model.NewInvalidFilterError(req.Filtro))
		return
	}

	filter := roster.Filter{Mode: mode, Criterion: req.Criterio}
	rr.SetFilter(filter)

	writeJSON(w, http.StatusOK, listResponse(rr, filter))
}

// Reload はコレクション全体を再取得する。
// POST /api/routes/reload
//
// 取得に失敗した場合もmessages.errorに表示用のメッセージを入れて200を返す。
func (h *RouteHandler) Reload(w http.ResponseWriter, r *http.Request) {
	rr := h.locate(r.Context())
	if rr == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	if err := rr.Load(r.Context()); err != nil {
		if errors.Is(err, roster.ErrClosed) {
			handleServiceError(w, model.NewUnavailableError())
			return
		}
		slog.Warn("route reload failed", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, listResponse(rr, rr.Filter()))
}

// DeleteRoute はルートを削除する。
// DELETE /api/routes/{id}
//
// 一覧にないIDは何もせず200を返す。受講者が登録済みの場合は409、
// リモート削除に失敗した場合は502を返す。
func (h *RouteHandler) DeleteRoute(w http.ResponseWriter, r *http.Request) {
	rr := h.locate(r.Context())
	if rr == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	id := chi.URLParam(r, "id")
	outcome, err := rr.Delete(r.Context(), id)
	if errors.Is(err, roster.ErrClosed) {
		handleServiceError(w, model.NewUnavailableError())
		return
	}

	switch outcome {
	case roster.OutcomeBlocked:
		handleServiceError(w, model.NewRouteEnrolledError(roster.MsgHasStudents))
	case roster.OutcomeFailed:
		handleServiceError(w, model.NewRouteDeleteFailedError(roster.MsgDeleteFailed))
	default:
		writeJSON(w, http.StatusOK, deleteRouteResponse{
			ID:       id,
			Outcome:  outcome,
			Messages: rr.Messages(),
		})
	}
}

func listResponse(rr RouteRoster, filter roster.Filter) routeListResponse {
	routes := rr.ViewWith(filter)
	return routeListResponse{
		Routes:   routes,
		Total:    len(routes),
		Filter:   filter,
		Messages: rr.Messages(),
	}
}
