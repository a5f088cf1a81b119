package auth

import (
	"context"
	"sync"
)

// EventType は認証状態の変化の種類を表す。
type EventType string

const (
	EventSignedIn    EventType = "signed_in"
	EventSignedOut   EventType = "signed_out"
	EventUserUpdated EventType = "user_updated"
)

// Event は認証状態の変化通知。
// SessionIDが空でなければそのセッションのみ、空ならUserIDの全セッションが対象となる。
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
}

// EventBus は認証イベントの配信インターフェース。
type EventBus interface {
	// Publish はイベントを全購読者に配信する。
	Publish(ctx context.Context, event Event) error
	// Subscribe はハンドラを登録し、購読解除関数を返す。
	// ハンドラは配信元のゴルーチンで呼ばれるため、ブロックしてはならない。
	Subscribe(handler func(Event)) (unsubscribe func())
}

// LocalBus はプロセス内で完結するEventBus実装。
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
}

// NewLocalBus はLocalBusを生成する。
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[int]func(Event))}
}

// Publish はイベントを登録済みの全ハンドラに同期的に配信する。
func (b *LocalBus) Publish(_ context.Context, event Event) error {
	b.dispatch(event)
	return nil
}

func (b *LocalBus) dispatch(event Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// Subscribe はハンドラを登録し、購読解除関数を返す。
// 購読解除関数は複数回呼んでも安全。
func (b *LocalBus) Subscribe(handler func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// compile-time interface check
var _ EventBus = (*LocalBus)(nil)
