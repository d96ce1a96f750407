package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/rutas/internal/auth"
	"github.com/hitoshi/rutas/internal/authstate"
	"github.com/hitoshi/rutas/internal/config"
	"github.com/hitoshi/rutas/internal/database"
	"github.com/hitoshi/rutas/internal/docstore"
	"github.com/hitoshi/rutas/internal/handler"
	"github.com/hitoshi/rutas/internal/logger"
	"github.com/hitoshi/rutas/internal/metrics"
	"github.com/hitoshi/rutas/internal/middleware"
	"github.com/hitoshi/rutas/internal/profilesync"
	"github.com/hitoshi/rutas/internal/repository"
	"github.com/hitoshi/rutas/internal/roster"
	"github.com/hitoshi/rutas/internal/security"
	"github.com/hitoshi/rutas/internal/user"
	"github.com/hitoshi/rutas/internal/worker/cleanup"
	"github.com/hitoshi/rutas/internal/workspace"
)

const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, nil)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. ログレベルを反映する。不明な値はinfoで継続する
	level, err := logger.ParseLevel(cfg.LogLevel)
	logger.SetupDefault(w, level)
	if err != nil {
		slog.Warn("invalid LOG_LEVEL, falling back to info", slog.String("error", err.Error()))
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("docstore", cfg.DocstoreDriver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openAuthDB は認証テーブルを持つPostgreSQLへ接続し、疎通を確認する。
func openAuthDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openDocstore はDOCSTORE_DRIVERに応じたドキュメントストアを開く。
// DSNがDATABASE_URLと同じ場合は認証用の接続を共有する。
// 戻り値のclose関数はストア専用に開いた接続のみを閉じる。
func openDocstore(ctx context.Context, cfg *config.Config, authDB *sql.DB) (docstore.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.DocstoreDriver {
	case config.DocstoreSQLite:
		db, err := database.OpenSQLite(cfg.DocstoreDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := docstore.InitSQLite(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize sqlite docstore: %w", err)
		}
		return docstore.NewSQLiteStore(db), db.Close, nil

	case config.DocstorePostgres:
		if cfg.DocstoreDSN == "" || cfg.DocstoreDSN == cfg.DatabaseURL {
			return docstore.NewPostgresStore(authDB), noop, nil
		}
		db, err := database.Open(cfg.DocstoreDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to connect to docstore database: %w", err)
		}
		return docstore.NewPostgresStore(db), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported docstore driver %q", cfg.DocstoreDriver)
	}
}

// components はserveモードで組み立てた依存関係。
type components struct {
	router      http.Handler
	workspaces  *workspace.Registry
	rateLimiter *middleware.RateLimiter
	cleanupJob  *cleanup.CleanupJob
}

// buildComponents は設定と接続済みのストアから全依存関係をワイヤリングする。
func buildComponents(cfg *config.Config, db *sql.DB, store docstore.Store, log *slog.Logger) (*components, error) {
	mode, err := profilesync.ParseLocalStateMode(cfg.ProfileLocalState)
	if err != nil {
		return nil, fmt.Errorf("invalid PROFILE_LOCAL_STATE: %w", err)
	}

	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	linkRepo := repository.NewPostgresProviderLinkRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. 認証と認証状態のハブ
	hub := authstate.NewHub(log)
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, linkRepo, sessionRepo, hub,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 4. セッションごとのワークスペース
	instrumented := docstore.NewInstrumented(store, collector)
	workspaces := workspace.NewRegistry(authService, hub, instrumented, workspace.Config{
		IdleTimeout: cfg.WorkspaceIdleTimeout,
		Profile: profilesync.Config{
			Collection: cfg.ProfilesCollection,
			LocalState: mode,
		},
		Roster: roster.Config{
			Collection: cfg.RoutesCollection,
			NoticeTTL:  cfg.NoticeTTL,
		},
	}, log, collector)

	// 5. 退会
	accountService := user.NewService(userRepo, sessionRepo, instrumented, hub, user.Config{
		ProfilesCollection: cfg.ProfilesCollection,
	})

	// 6. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitDelete),
	)
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         log,
		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		HTTPRecorder:   collector,

		SessionFinder:     sessionRepo,
		Workspaces:        workspaces,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService:       authService,
		WorkspaceReleaser: workspaces,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},
		AccountService: accountService,

		ProfileValidator: security.NewProfileValidator(),
	})

	return &components{
		router:      router,
		workspaces:  workspaces,
		rateLimiter: rateLimiter,
		cleanupJob:  cleanup.NewCleanupJob(db, log, collector),
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とHTTPサーバー、ワークスペース、
// バックグラウンドジョブの順に停止する。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := openAuthDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Info("database connection established")

	// 2. ドキュメントストア
	store, closeStore, err := openDocstore(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("failed to open docstore: %w", err)
	}
	defer closeStore()

	// 3. 依存関係のワイヤリング
	c, err := buildComponents(cfg, db, store, log)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      c.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. サーバーとバックグラウンドジョブを起動
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return c.workspaces.Run(gctx, cfg.WorkspaceReapInterval)
	})

	g.Go(func() error {
		return c.cleanupJob.Loop(gctx, cfg.SessionCleanupInterval)
	})

	// 5. グレースフルシャットダウン
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		c.workspaces.Close()
		c.rateLimiter.Stop()

		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// APIサーバーとは別プロセスで期限切れセッションの削除のみを定期実行する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openAuthDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	job := cleanup.NewCleanupJob(db, slog.Default(), nil)
	if err := job.Loop(ctx, cfg.SessionCleanupInterval); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	st, err := database.Migrate(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(st.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
