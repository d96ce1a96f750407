// Package notice はユーザー向けの一時メッセージ（エラー/成功）を保持する。
package notice

import (
	"sync"
	"time"
)

// DefaultTTL はメッセージを自動で消去するまでの既定の時間。
const DefaultTTL = 3 * time.Second

// Kind はメッセージの種類を表す。
type Kind string

const (
	// KindError はエラーメッセージ。
	KindError Kind = "error"
	// KindSuccess は成功メッセージ。
	KindSuccess Kind = "success"
)

// Messages はある時点のメッセージの内容。空文字列は表示なしを表す。
type Messages struct {
	Error   string `json:"error"`
	Success string `json:"success"`
}

// Board はエラーと成功の2つの独立したメッセージ枠を持つ。
// Postしたメッセージは TTL 経過後に自動で消去される。
type Board struct {
	mu     sync.Mutex
	ttl    time.Duration
	slots  map[Kind]*slot
	closed bool
}

type slot struct {
	text  string
	gen   uint64
	timer *time.Timer
}

// NewBoard はBoardを生成する。ttlが0以下の場合はDefaultTTLを使用する。
func NewBoard(ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{
		ttl: ttl,
		slots: map[Kind]*slot{
			KindError:   {},
			KindSuccess: {},
		},
	}
}

// Post はメッセージを設定し、TTL後の自動消去を予約する。
// 同じ枠に予約済みの消去がある場合は取り消してから予約し直すため、
// 新しいメッセージが古いタイマーで消されることはない。
func (b *Board) Post(kind Kind, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[kind]
	if !ok || b.closed {
		return
	}

	gen := s.reset(text)
	s.timer = time.AfterFunc(b.ttl, func() {
		b.expire(kind, gen)
	})
}

// Pin は自動消去しないメッセージを設定する。
func (b *Board) Pin(kind Kind, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[kind]
	if !ok || b.closed {
		return
	}
	s.reset(text)
}

// Clear は枠のメッセージを即座に消去する。
func (b *Board) Clear(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.slots[kind]; ok {
		s.reset("")
	}
}

// Snapshot は現在のメッセージを返す。
func (b *Board) Snapshot() Messages {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Messages{
		Error:   b.slots[KindError].text,
		Success: b.slots[KindSuccess].text,
	}
}

// Close は予約済みのタイマーをすべて停止する。以降のPost/Pinは無視される。
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, s := range b.slots {
		s.stopTimer()
	}
}

// expire はgenが最新の場合のみメッセージを消去する。
func (b *Board) expire(kind Kind, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.slots[kind]
	if s.gen != gen {
		return
	}
	s.text = ""
	s.timer = nil
}

// reset は保留中のタイマーを止めてテキストを置き換え、新しい世代番号を返す。
func (s *slot) reset(text string) uint64 {
	s.stopTimer()
	s.gen++
	s.text = text
	return s.gen
}

func (s *slot) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
