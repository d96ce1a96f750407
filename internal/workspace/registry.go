// Package workspace はブラウザセッションごとのダッシュボード状態を管理する。
//
// 1つのワークスペースはプロフィール同期（profilesync.Synchronizer）と
// ルート一覧（roster.Manager）を1つずつ保持する。最初のAPI呼び出しで作成され、
// ログアウト、アイドルタイムアウト、シャットダウンのいずれかで破棄される。
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/rutas/internal/authstate"
	"github.com/hitoshi/rutas/internal/docstore"
	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/profilesync"
	"github.com/hitoshi/rutas/internal/roster"
)

// DefaultIdleTimeout は未使用のワークスペースを破棄するまでの既定時間。
const DefaultIdleTimeout = 30 * time.Minute

var (
	// ErrSessionNotFound はセッションが存在しないか期限切れの場合に返される。
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrClosed はClose後にAcquireした場合に返される。
	ErrClosed = errors.New("workspace registry is closed")
)

// IdentityResolver はセッションIDから認証済みIdentityを解決する。
// auth.Serviceが実装する。
type IdentityResolver interface {
	IdentityForSession(ctx context.Context, sessionID string) (*model.Identity, error)
}

// StateHub はワークスペースが購読する認証状態のハブ。
type StateHub interface {
	Seed(key string, identity *model.Identity)
	Forget(key string)
	Source(key string) *authstate.KeySource
}

// Recorder はワークスペース内のコンポーネントの結果と稼働数を記録する。
type Recorder interface {
	profilesync.Recorder
	roster.Recorder
	SetActiveWorkspaces(n int)
}

// Config はRegistryの設定。
type Config struct {
	IdleTimeout time.Duration
	Profile     profilesync.Config
	Roster      roster.Config
}

// Workspace は1セッション分のダッシュボード状態。
type Workspace struct {
	SessionID string
	Session   *profilesync.Synchronizer
	Routes    *roster.Manager

	lastUsed time.Time
}

func (w *Workspace) close() {
	w.Session.Close()
	w.Routes.Close()
}

// Registry はセッションIDごとのワークスペースを管理する。
type Registry struct {
	resolver IdentityResolver
	hub      StateHub
	store    docstore.Store
	cfg      Config
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	group singleflight.Group

	mu         sync.Mutex
	workspaces map[string]*Workspace
	closed     bool
}

// NewRegistry はRegistryを生成する。loggerがnilの場合はslog.Default()を使用する。
// recorderはnilでもよい。
func NewRegistry(resolver IdentityResolver, hub StateHub, store docstore.Store, cfg Config, logger *slog.Logger, recorder Recorder) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		resolver:   resolver,
		hub:        hub,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
		now:        time.Now,
		workspaces: make(map[string]*Workspace),
	}
}

// Acquire はセッションのワークスペースを返す。存在しない場合は作成する。
//
// 作成時はセッションのIdentityを解決してハブに登録し、Synchronizerの購読と
// ルート一覧の初回取得を行う。初回取得の失敗はワークスペースのエラーメッセージ
// として保持され、Acquire自体は成功する。
func (r *Registry) Acquire(ctx context.Context, sessionID string) (*Workspace, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}

	if ws, err := r.lookup(sessionID); ws != nil || err != nil {
		return ws, err
	}

	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		if ws, err := r.lookup(sessionID); ws != nil || err != nil {
			return ws, err
		}
		return r.create(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Workspace), nil
}

// lookup は既存のワークスペースを返し、最終利用時刻を更新する。
func (r *Registry) lookup(sessionID string) (*Workspace, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	ws, ok := r.workspaces[sessionID]
	if !ok {
		return nil, nil
	}
	ws.lastUsed = r.now()
	return ws, nil
}

func (r *Registry) create(ctx context.Context, sessionID string) (*Workspace, error) {
	// 1. セッションのIdentityを解決
	identity, err := r.resolver.IdentityForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}
	if identity == nil {
		return nil, ErrSessionNotFound
	}

	logger := r.logger.With(slog.String("session_key", maskKey(sessionID)))

	// 2. プロセス再起動後でも現在の認証状態が配信されるようにハブへ登録
	r.hub.Seed(sessionID, identity)

	// 3. プロフィール同期を開始
	var (
		syncRecorder   profilesync.Recorder
		rosterRecorder roster.Recorder
	)
	if r.recorder != nil {
		syncRecorder = r.recorder
		rosterRecorder = r.recorder
	}
	synchronizer := profilesync.New(r.store, r.cfg.Profile, logger, syncRecorder)
	if err := synchronizer.Start(r.hub.Source(sessionID)); err != nil {
		synchronizer.Close()
		return nil, fmt.Errorf("failed to start profile synchronizer: %w", err)
	}

	// 4. ルート一覧の初回取得。リクエストのキャンセルで一覧が空のまま残らないようにする
	routes := roster.NewManager(r.store, r.cfg.Roster, logger, rosterRecorder)
	if err := routes.Load(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("initial route load failed", slog.String("error", err.Error()))
	}

	ws := &Workspace{
		SessionID: sessionID,
		Session:   synchronizer,
		Routes:    routes,
		lastUsed:  r.now(),
	}

	// 5. 登録
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ws.close()
		return nil, ErrClosed
	}
	r.workspaces[sessionID] = ws
	active := len(r.workspaces)
	r.mu.Unlock()

	r.reportActive(active)
	logger.Info("workspace created", slog.String("uid", identity.UID))
	return ws, nil
}

// Release はワークスペースを破棄し、ハブの認証状態の記録を削除する。
// ワークスペースが存在しない場合はfalseを返す。
func (r *Registry) Release(sessionID string) bool {
	r.mu.Lock()
	ws, ok := r.workspaces[sessionID]
	if ok {
		delete(r.workspaces, sessionID)
	}
	active := len(r.workspaces)
	r.mu.Unlock()

	r.hub.Forget(sessionID)
	if !ok {
		return false
	}

	ws.close()
	r.reportActive(active)
	r.logger.Info("workspace released", slog.String("session_key", maskKey(sessionID)))
	return true
}

// ReapIdle はnow時点でアイドルタイムアウトを超えたワークスペースを破棄し、件数を返す。
func (r *Registry) ReapIdle(now time.Time) int {
	r.mu.Lock()
	var idle []*Workspace
	for id, ws := range r.workspaces {
		if now.Sub(ws.lastUsed) >= r.cfg.IdleTimeout {
			idle = append(idle, ws)
			delete(r.workspaces, id)
		}
	}
	active := len(r.workspaces)
	r.mu.Unlock()

	if len(idle) == 0 {
		return 0
	}

	for _, ws := range idle {
		r.hub.Forget(ws.SessionID)
		ws.close()
	}
	r.reportActive(active)
	r.logger.Info("idle workspaces reaped", slog.Int("count", len(idle)))
	return len(idle)
}

// Run はintervalごとにReapIdleを実行する。ctxがキャンセルされると終了する。
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.ReapIdle(r.now())
		}
	}
}

// Len は稼働中のワークスペース数を返す。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Close は全ワークスペースを破棄する。以降のAcquireはErrClosedを返す。冪等。
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for id, ws := range all {
		r.hub.Forget(id)
		ws.close()
	}
	r.reportActive(0)
	r.logger.Info("workspace registry closed", slog.Int("released", len(all)))
}

func (r *Registry) reportActive(n int) {
	if r.recorder != nil {
		r.recorder.SetActiveWorkspaces(n)
	}
}

// maskKey はセッションIDをログ出力用に短縮する。
func maskKey(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return key
}
