// Package authstate はセッションごとの認証状態の変化を購読者へ配信するハブを提供する。
//
// authパッケージがログイン/ログアウト時にPublishし、profilesyncの
// Synchronizerが OnSessionChange で購読する。
package authstate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/rutas/internal/model"
)

// Callback は認証状態の変化を受け取る関数。identityがnilの場合はログアウトを表す。
type Callback func(identity *model.Identity)

// Hub はセッションキーごとの現在のIdentityと購読者を管理する。
// 購読者ごとに専用のgoroutineがあり、変化は発生順に1件ずつ配信される。
type Hub struct {
	mu         sync.Mutex
	identities map[string]*model.Identity
	subs       map[string]map[uint64]*subscriber
	nextID     uint64
	logger     *slog.Logger
}

// NewHub はHubを生成する。loggerがnilの場合はslog.Default()を使用する。
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		identities: make(map[string]*model.Identity),
		subs:       make(map[string]map[uint64]*subscriber),
		logger:     logger,
	}
}

// Publish はセッションの認証状態を記録し、全購読者へ配信する。
func (h *Hub) Publish(key string, identity *model.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.identities[key] = cloneIdentity(identity)
	for _, s := range h.subs[key] {
		s.push(cloneIdentity(identity))
	}
}

// Seed はキーに記録がない場合のみIdentityを記録する。配信は行わない。
// プロセス再起動後に永続化済みのセッションから状態を復元するために使用する。
func (h *Hub) Seed(key string, identity *model.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.identities[key]; ok {
		return
	}
	h.identities[key] = cloneIdentity(identity)
}

// Forget はキーの記録を削除する。購読者には影響しない。
func (h *Hub) Forget(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.identities, key)
}

// Current はキーに記録されている現在のIdentityを返す。
func (h *Hub) Current(key string) *model.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return cloneIdentity(h.identities[key])
}

// OnSessionChange はキーの認証状態の変化を購読する。
// 現在の状態（nilの場合もある）は呼び出し元のgoroutineで配信され、その配信が
// 終わってから戻る。以降の変化は専用のgoroutineから発生順に配信される。
// 戻り値の関数で購読を解除する。解除は冪等であり、解除後に新たな配信は開始されない。
func (h *Hub) OnSessionChange(key string, fn Callback) (unsubscribe func()) {
	s := newSubscriber(fn, h.logger.With(slog.String("session_key", maskKey(key))))

	// 登録と現在値の取得を同じロック内で行い、以降のPublishはキューに積まれる
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]*subscriber)
	}
	h.subs[key][id] = s
	current := cloneIdentity(h.identities[key])
	h.mu.Unlock()

	s.deliver(current)
	go s.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], id)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			s.stop()
		})
	}
}

// SubscriberCount はキーの購読者数を返す。
func (h *Hub) SubscriberCount(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

// Source はキーを固定した購読元を返す。
func (h *Hub) Source(key string) *KeySource {
	return &KeySource{hub: h, key: key}
}

// KeySource は単一セッションの認証状態の購読元。
type KeySource struct {
	hub *Hub
	key string
}

// OnSessionChange はHub.OnSessionChangeをキー固定で呼び出す。
func (k *KeySource) OnSessionChange(fn func(*model.Identity)) func() {
	return k.hub.OnSessionChange(k.key, fn)
}

// subscriber は1購読者分の配信キュー。
type subscriber struct {
	fn     Callback
	logger *slog.Logger

	mu      sync.Mutex
	queue   []*model.Identity
	stopped bool

	wake chan struct{}
	done chan struct{}
}

func newSubscriber(fn Callback, logger *slog.Logger) *subscriber {
	return &subscriber{
		fn:     fn,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) push(identity *model.Identity) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, identity)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()
	close(s.done)
}

// next はキューの先頭を取り出す。停止済みまたは空の場合はfalseを返す。
func (s *subscriber) next() (*model.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || len(s.queue) == 0 {
		return nil, false
	}
	identity := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return identity, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			identity, ok := s.next()
			if !ok {
				break
			}
			s.deliver(identity)
		}
	}
}

// deliver はコールバックを呼び出す。パニックは配信goroutineを止めないようログに記録する。
func (s *subscriber) deliver(identity *model.Identity) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("auth state callback panicked",
				slog.String("error", fmt.Sprint(r)),
			)
		}
	}()
	s.fn(identity)
}

func cloneIdentity(identity *model.Identity) *model.Identity {
	if identity == nil {
		return nil
	}
	c := *identity
	return &c
}

// maskKey はセッションキーをログ出力用に短縮する。
func maskKey(key string) string {
	if len(key) > 8 {
		return key[:8] + "..."
	}
	return key
}
