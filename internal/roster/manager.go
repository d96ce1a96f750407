// Package roster はルート一覧の取得、絞り込み、削除を管理する。
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/rutas/internal/docstore"
	"github.com/hitoshi/rutas/internal/model"
	"github.com/hitoshi/rutas/internal/notice"
)

// ユーザー向けメッセージ
const (
	MsgLoadFailed   = "Ocurrió un error al obtener las rutas."
	MsgHasStudents  = "No se puede eliminar la ruta porque hay estudiantes inscritos."
	MsgDeleteFailed = "Ocurrió un error al eliminar la ruta."
	MsgDeleted      = "Ruta eliminada con éxito"
)

// DefaultCollection はルートを保存するコレクション名。
const DefaultCollection = "routes"

// ErrClosed はClose済みのManagerに対する操作で返される。
var ErrClosed = errors.New("roster: manager is closed")

// Outcome は削除操作の結果を表す。
type Outcome string

const (
	// OutcomeDeleted はリモートとローカルの両方から削除されたことを示す。
	OutcomeDeleted Outcome = "deleted"
	// OutcomeNotFound はローカルの一覧にIDが存在せず、何もしなかったことを示す。
	OutcomeNotFound Outcome = "not_found"
	// OutcomeBlocked は受講者が登録済みのため削除を拒否したことを示す。
	OutcomeBlocked Outcome = "blocked"
	// OutcomeFailed はリモート削除に失敗したことを示す。
	OutcomeFailed Outcome = "failed"
)

// Store はManagerが使用するドキュメントストアの操作。
type Store interface {
	List(ctx context.Context, collection string) ([]docstore.Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// Recorder はルート操作の結果を記録するインターフェース。
type Recorder interface {
	RecordRouteDelete(outcome string)
	RecordRouteLoad(count int, err error)
}

// Config はManagerの設定。
type Config struct {
	Collection string
	NoticeTTL  time.Duration
}

// Manager は1ワークスペース分のルート一覧を保持する。
// 一覧は取得時のスナップショットであり、ストアとの継続的な同期は行わない。
type Manager struct {
	store    Store
	cfg      Config
	board    *notice.Board
	logger   *slog.Logger
	recorder Recorder

	mu         sync.RWMutex
	routes     []model.Route
	filter     Filter
	loadFailed bool
	closed     bool
}

// NewManager はManagerを生成する。loggerがnilの場合はslog.Default()を使用する。
// recorderはnilでもよい。
func NewManager(store Store, cfg Config, logger *slog.Logger, recorder Recorder) *Manager {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		cfg:      cfg,
		board:    notice.NewBoard(cfg.NoticeTTL),
		logger:   logger,
		recorder: recorder,
		routes:   []model.Route{},
	}
}

// Load はコレクション全体を一括取得し、ローカルの一覧を置き換える。
// 取得に失敗した場合はエラーメッセージを表示し、一覧は変更しない。
func (m *Manager) Load(ctx context.Context) error {
	docs, err := m.store.List(ctx, m.cfg.Collection)
	if m.recorder != nil {
		m.recorder.RecordRouteLoad(len(docs), err)
	}
	if err != nil {
		m.logger.Error("failed to fetch routes",
			slog.String("collection", m.cfg.Collection),
			slog.String("error", err.Error()),
		)

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed {
			return ErrClosed
		}
		m.loadFailed = true
		m.board.Pin(notice.KindError, MsgLoadFailed)
		return fmt.Errorf("failed to load routes: %w", err)
	}

	routes := make([]model.Route, 0, len(docs))
	for _, doc := range docs {
		routes = append(routes, model.RouteFromDocument(doc.ID, doc.Data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.routes = routes
	if m.loadFailed {
		m.loadFailed = false
		m.board.Clear(notice.KindError)
	}

	m.logger.Debug("routes loaded", slog.Int("count", len(routes)))
	return nil
}

// SetFilter は絞り込み条件を保存する。
func (m *Manager) SetFilter(f Filter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = f
}

// Filter は保存されている絞り込み条件を返す。
func (m *Manager) Filter() Filter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// View は保存されている条件で絞り込んだ一覧を返す。呼び出しのたびに全件から再計算する。
func (m *Manager) View() []model.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Apply(m.routes, m.filter)
}

// ViewWith は指定した条件で絞り込んだ一覧を返す。保存されている条件は変更しない。
func (m *Manager) ViewWith(f Filter) []model.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Apply(m.routes, f)
}

// Routes は取得順の一覧のコピーを返す。
func (m *Manager) Routes() []model.Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Route, len(m.routes))
	copy(out, m.routes)
	return out
}

// Messages は現在表示中のメッセージを返す。
func (m *Manager) Messages() notice.Messages {
	return m.board.Snapshot()
}

// Delete はIDで指定したルートを削除する。
//
// ローカルの一覧にない場合は何もしない。受講者が登録済みの場合はリモート呼び出しを行わずに拒否する。
// リモート削除に成功した場合のみローカルの一覧から取り除く。
func (m *Manager) Delete(ctx context.Context, id string) (Outcome, error) {
	log := m.logger.With(slog.String("route_id", id))

	// 1. ローカルの一覧から検索
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return OutcomeNotFound, ErrClosed
	}
	route, found := m.find(id)
	m.mu.RUnlock()

	if !found {
		log.Debug("route not in local list, ignoring delete")
		m.record(OutcomeNotFound)
		return OutcomeNotFound, nil
	}

	// 2. 受講者登録済みのルートは削除しない
	if route.HasEnrolledStudents() {
		m.board.Post(notice.KindError, MsgHasStudents)
		m.record(OutcomeBlocked)
		return OutcomeBlocked, nil
	}

	// 3. リモート削除
	if err := m.store.Delete(ctx, m.cfg.Collection, id); err != nil {
		log.Error("failed to delete route", slog.String("error", err.Error()))
		m.board.Post(notice.KindError, MsgDeleteFailed)
		m.record(OutcomeFailed)
		return OutcomeFailed, fmt.Errorf("failed to delete route %s: %w", id, err)
	}

	// 4. ローカルの一覧から除去（Close済みの場合は状態を更新しない）
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.record(OutcomeDeleted)
		return OutcomeDeleted, nil
	}
	m.remove(id)
	m.mu.Unlock()

	m.board.Post(notice.KindSuccess, MsgDeleted)
	m.record(OutcomeDeleted)
	log.Info("route deleted")
	return OutcomeDeleted, nil
}

// Close はメッセージのタイマーを停止する。実行中の操作の完了後も状態は更新されない。
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.board.Close()
}

func (m *Manager) find(id string) (model.Route, bool) {
	for _, r := range m.routes {
		if r.ID == id {
			return r, true
		}
	}
	return model.Route{}, false
}

// remove は一覧を置き換える。既存のスライスは共有されている可能性があるため変更しない。
func (m *Manager) remove(id string) {
	out := make([]model.Route, 0, len(m.routes))
	for _, r := range m.routes {
		if r.ID != id {
			out = append(out, r)
		}
	}
	m.routes = out
}

func (m *Manager) record(outcome Outcome) {
	if m.recorder != nil {
		m.recorder.RecordRouteDelete(string(outcome))
	}
}
