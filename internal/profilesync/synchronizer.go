// Package profilesync は認証状態の変化に追従してプロフィールドキュメントを同期し、
// {identity, profile, isLogged} のセッション状態を公開する。
package profilesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/rutas/internal/docstore"
	"github.com/hitoshi/rutas/internal/model"
)

// DefaultCollection はプロフィールを保存するコレクション名。
const DefaultCollection = "users"

var (
	// ErrNoIdentity は認証済みのユーザーがいない状態でプロフィールを更新しようとした場合に返される。
	ErrNoIdentity = errors.New("profilesync: no authenticated user")
	// ErrAlreadyStarted はStartが2回以上呼ばれた場合に返される。
	ErrAlreadyStarted = errors.New("profilesync: already started")
	// ErrClosed はClose済みのSynchronizerに対する操作で返される。
	ErrClosed = errors.New("profilesync: closed")
)

// LocalStateMode はプロフィール更新後のローカル状態の決め方を表す。
type LocalStateMode string

const (
	// LocalStateReplace は書き込んだ内容でローカルのプロフィールを置き換える。
	// リモートはマージされるため、リモートにだけ残るキーが生じ得る。
	LocalStateReplace LocalStateMode = "replace"
	// LocalStateMerge はリモートと同じくローカルのプロフィールにもキーを上書きする。
	LocalStateMerge LocalStateMode = "merge"
)

// ParseLocalStateMode は文字列をLocalStateModeに変換する。空文字列はLocalStateReplaceになる。
func ParseLocalStateMode(s string) (LocalStateMode, error) {
	switch LocalStateMode(s) {
	case "", LocalStateReplace:
		return LocalStateReplace, nil
	case LocalStateMerge:
		return LocalStateMerge, nil
	default:
		return "", fmt.Errorf("unknown profile local state mode: %q", s)
	}
}

// 同期結果（メトリクスのラベル）
const (
	OutcomeLoggedIn    = "logged_in"
	OutcomeNoProfile   = "no_profile"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeLoggedOut   = "logged_out"

	UpdateOK         = "ok"
	UpdateNoIdentity = "no_identity"
	UpdateFailed     = "failed"
)

// Store はSynchronizerが使用するドキュメントストアの操作。
type Store interface {
	Get(ctx context.Context, collection, id string) (*docstore.Document, error)
	Set(ctx context.Context, collection, id string, data map[string]any, opts docstore.SetOptions) error
}

// Source は認証状態の変化の購読元。
// 登録直後に現在の状態を配信し、戻り値の関数で購読を解除する。
type Source interface {
	OnSessionChange(fn func(*model.Identity)) (unsubscribe func())
}

// Recorder は同期とプロフィール更新の結果を記録するインターフェース。
type Recorder interface {
	RecordProfileSync(outcome string)
	RecordProfileUpdate(outcome string)
}

// Observer はセッション状態の変化を受け取る関数。
type Observer func(model.SessionState)

// Config はSynchronizerの設定。
type Config struct {
	Collection string
	LocalState LocalStateMode
}

// Synchronizer は1セッション分のセッション状態を保持する。
//
// 状態遷移: LoggedOut → (identity受信) → Resolving → {LoggedIn | LoggedOut}、
// LoggedIn → (identity消失) → LoggedOut。取得失敗時の再試行は行わない。
type Synchronizer struct {
	store    Store
	cfg      Config
	logger   *slog.Logger
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       model.SessionState
	gen         uint64
	resolving   bool
	written     []model.Profile // 取得中に成功した書き込み。取得結果の上に適用する
	version     uint64
	started     bool
	closed      bool
	unsubscribe func()
	observers   map[uint64]Observer
	nextObs     uint64

	notifyMu sync.Mutex
	notified uint64
}

// New はSynchronizerを生成する。初期状態はログアウト状態。
// loggerがnilの場合はslog.Default()を使用する。recorderはnilでもよい。
func New(store Store, cfg Config, logger *slog.Logger, recorder Recorder) *Synchronizer {
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	if cfg.LocalState == "" {
		cfg.LocalState = LocalStateReplace
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		store:     store,
		cfg:       cfg,
		logger:    logger,
		recorder:  recorder,
		ctx:       ctx,
		cancel:    cancel,
		state:     model.LoggedOutState(),
		observers: make(map[uint64]Observer),
	}
}

// Start は認証状態の購読を開始する。1つのSynchronizerにつき1回だけ呼び出せる。
func (s *Synchronizer) Start(source Source) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	unsubscribe := source.OnSessionChange(s.onIdentity)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unsubscribe()
		return ErrClosed
	}
	s.unsubscribe = unsubscribe
	return nil
}

// Close は購読を解除し、実行中のプロフィール取得の完了を待つ。冪等。
// Close後に完了した取得や書き込みの結果は状態に反映されない。
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.observers = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.wg.Wait()
}

// State は現在のセッション状態のコピーを返す。
func (s *Synchronizer) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe はセッション状態の変化を購読する。登録時に現在の状態が1回通知される。
// 戻り値の関数で購読を解除する。
func (s *Synchronizer) Subscribe(fn Observer) (cancel func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return func() {}
	}
	s.nextObs++
	id := s.nextObs
	s.observers[id] = fn
	current := s.state.Clone()
	s.mu.Unlock()

	fn(current)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// SetProfile はローカルのプロフィールのみを置き換える。リモートへの書き込みは行わない。
func (s *Synchronizer) SetProfile(p model.Profile) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state.Profile = p.Clone()
	version, snapshot, observers := s.publishLocked()
	s.mu.Unlock()

	s.notify(version, snapshot, observers)
}

// UpdateProfile はプロフィールをリモートにマージ書き込みし、成功後にローカル状態を更新する。
//
// ローカル状態はLocalStateReplaceの場合pそのもの、LocalStateMergeの場合は現在の
// プロフィールにpを上書きしたものになる。ユーザーがいない場合は書き込みを行わず
// ErrNoIdentityを返す。書き込みに失敗した場合、ローカル状態は変更しない。
func (s *Synchronizer) UpdateProfile(ctx context.Context, p model.Profile) error {
	// 1. 現在のユーザーを確認
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	var identity *model.Identity
	if s.state.Identity != nil {
		id := *s.state.Identity
		identity = &id
	}
	s.mu.Unlock()

	if identity == nil {
		s.logger.Error("profile update without authenticated user")
		s.record(UpdateNoIdentity, true)
		return ErrNoIdentity
	}

	log := s.logger.With(slog.String("uid", identity.UID))

	// 2. リモートにマージ書き込み
	err := s.store.Set(ctx, s.cfg.Collection, identity.UID, map[string]any(p.Clone()), docstore.SetOptions{Merge: true})
	if err != nil {
		log.Error("failed to update profile", slog.String("error", err.Error()))
		s.record(UpdateFailed, true)
		return fmt.Errorf("failed to update profile: %w", err)
	}

	// 3. ローカル状態を更新（書き込み中にユーザーが変わった場合は更新しない）
	s.mu.Lock()
	if s.closed || s.state.Identity == nil || s.state.Identity.UID != identity.UID {
		s.mu.Unlock()
		log.Warn("identity changed during profile update, local state not updated")
		s.record(UpdateOK, true)
		return nil
	}
	s.state.Profile = s.applyWrite(s.state.Profile, p)
	if s.resolving {
		s.written = append(s.written, p.Clone())
	}
	version, snapshot, observers := s.publishLocked()
	s.mu.Unlock()

	s.notify(version, snapshot, observers)
	s.record(UpdateOK, true)
	log.Info("profile updated")
	return nil
}

// onIdentity は認証状態の変化を処理する。
func (s *Synchronizer) onIdentity(identity *model.Identity) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	s.resolving = identity != nil
	s.written = nil
	if identity != nil {
		c := *identity
		identity = &c
	}

	// ログアウトは同期的に反映する
	if identity == nil {
		s.state = model.LoggedOutState()
		version, snapshot, observers := s.publishLocked()
		s.mu.Unlock()

		s.notify(version, snapshot, observers)
		s.record(OutcomeLoggedOut, false)
		return
	}

	// 同じユーザーの再通知ではプロフィールを保持したまま再取得する
	if s.state.Identity != nil && s.state.Identity.UID == identity.UID {
		s.state.Identity = identity
	} else {
		s.state = model.SessionState{Identity: identity, Profile: model.Profile{}}
	}
	version, snapshot, observers := s.publishLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	s.notify(version, snapshot, observers)
	go s.resolve(gen, identity)
}

// resolve はプロフィールドキュメントを取得して状態を確定する。
// 取得中に新しい認証イベントが届いた場合、結果は破棄する。
// 取得中に成功したUpdateProfileの内容は、取得したプロフィールの上に適用し直す。
func (s *Synchronizer) resolve(gen uint64, identity *model.Identity) {
	defer s.wg.Done()

	log := s.logger.With(slog.String("uid", identity.UID))
	next := model.SessionState{Identity: identity, Profile: model.Profile{}}

	var outcome string
	doc, err := s.store.Get(s.ctx, s.cfg.Collection, identity.UID)
	switch {
	case err != nil:
		outcome = OutcomeFetchFailed
		log.Warn("failed to fetch profile", slog.String("error", err.Error()))
	case doc == nil:
		outcome = OutcomeNoProfile
		log.Info("profile document not found")
	default:
		outcome = OutcomeLoggedIn
		next.Profile = model.Profile(doc.Data).Clone()
		next.IsLogged = true
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		s.mu.Unlock()
		log.Debug("discarding superseded profile fetch")
		return
	}
	for _, p := range s.written {
		next.Profile = s.applyWrite(next.Profile, p)
	}
	s.resolving = false
	s.written = nil
	s.state = next
	version, snapshot, observers := s.publishLocked()
	s.mu.Unlock()

	s.notify(version, snapshot, observers)
	s.record(outcome, false)
}

// applyWrite は書き込んだpをローカルのプロフィールに反映した結果を返す。
func (s *Synchronizer) applyWrite(current, p model.Profile) model.Profile {
	if s.cfg.LocalState == LocalStateMerge {
		return current.Merge(p)
	}
	return p.Clone()
}

// publishLocked は状態のバージョンを進め、通知に必要な値を返す。s.muを保持して呼び出すこと。
func (s *Synchronizer) publishLocked() (uint64, model.SessionState, []Observer) {
	s.version++
	observers := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	return s.version, s.state.Clone(), observers
}

// notify はオブザーバーに状態を通知する。既に新しいバージョンを通知済みの場合は何もしない。
func (s *Synchronizer) notify(version uint64, snapshot model.SessionState, observers []Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if version <= s.notified {
		return
	}
	s.notified = version
	for _, fn := range observers {
		fn(snapshot.Clone())
	}
}

func (s *Synchronizer) record(outcome string, update bool) {
	if s.recorder == nil {
		return
	}
	if update {
		s.recorder.RecordProfileUpdate(outcome)
		return
	}
	s.recorder.RecordProfileSync(outcome)
}
