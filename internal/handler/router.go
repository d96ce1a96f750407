package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/rutas/internal/middleware"
)

// mountAuthRoutes はOAuthフローとセッション管理のルートを/auth配下に登録する。
func mountAuthRoutes(r chi.Router, h *AuthHandler) {
	r.Route("/auth", func(r chi.Router) {
		// OAuthフロー
		r.Get("/google/login", h.Login)
		r.Get("/google/callback", h.Callback)

		// セッション管理
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
	})
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 運用エンドポイント
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	HTTPRecorder   middleware.HTTPRecorder

	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	Workspaces        middleware.WorkspaceAcquirer
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService       AuthServiceInterface
	WorkspaceReleaser WorkspaceReleaser
	AuthConfig        AuthHandlerConfig

	// 退会（nilの場合は/api/accountを登録しない）
	AccountService AccountService

	// ワークスペース内の操作（nilの場合はコンテキストのワークスペースを使用）
	Sessions         SessionLocator
	Rosters          RosterLocator
	ProfileValidator ProfileValidator
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Metrics → Logging → Recovery → SecurityHeaders → CORS
//	/api/*: Session → Workspace → RateLimit(General) → CSRF
//
// 認証ルート（/auth/*）と運用エンドポイントはセッションを要求しない。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.WorkspaceReleaser, deps.AuthConfig)
	sessionHandler := NewSessionHandler(deps.Sessions, deps.ProfileValidator)
	routeHandler := NewRouteHandler(deps.Rosters)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	mountAuthRoutes(r, authHandler)
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(middleware.NewWorkspaceMiddleware(deps.Workspaces))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Route("/api/session", func(r chi.Router) {
			r.Get("/", sessionHandler.GetSession)
			r.Put("/profile", sessionHandler.UpdateProfile)
		})

		if deps.AccountService != nil {
			accountHandler := NewAccountHandler(deps.AccountService, deps.WorkspaceReleaser, deps.AuthConfig)
			r.Delete("/api/account", accountHandler.Withdraw)
		}

		r.Route("/api/routes", func(r chi.Router) {
			r.Get("/", routeHandler.ListRoutes)
			r.Put("/filter", routeHandler.SetFilter)
			r.Post("/reload", routeHandler.Reload)
			// 削除専用のレート制限を追加
			r.With(deps.RateLimiter.RouteDeleteMiddleware()).Delete("/{id}", routeHandler.DeleteRoute)
		})
	})

	return r
}
