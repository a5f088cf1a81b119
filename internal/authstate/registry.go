package authstate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/momentum/internal/auth"
)

// RegistryConfig はRegistryの設定を保持する。
type RegistryConfig struct {
	IdleTTL         time.Duration // 最終アクセスからストアを破棄するまでの時間
	CleanupInterval time.Duration // アイドルストアのクリーンアップ間隔
}

// DefaultRegistryConfig はデフォルトの設定を返す。
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		IdleTTL:         30 * time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

type registryEntry struct {
	store      *Store
	lastAccess time.Time

	ready chan struct{} // 初期化の完了で閉じられる
	err   error
}

// wait は初期化の完了を待ってストアを返す。
func (e *registryEntry) wait(ctx context.Context) (*Store, error) {
	select {
	case <-e.ready:
		if e.err != nil {
			return nil, e.err
		}
		return e.store, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Registry はセッションIDごとのストアを管理する。
// ストアは初回アクセス時に生成・初期化され、サインアウトまたは一定時間の
// 未使用で破棄される。
type Registry struct {
	deps   Deps
	config RegistryConfig

	mu     sync.Mutex
	stores map[string]*registryEntry

	unsubscribe func()
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewRegistry は新しいRegistryを生成する。
// バックグラウンドでアイドルストアのクリーンアップを開始する。
func NewRegistry(deps Deps, config RegistryConfig) *Registry {
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultRegistryConfig().IdleTTL
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultRegistryConfig().CleanupInterval
	}

	r := &Registry{
		deps:   deps,
		config: config,
		stores: make(map[string]*registryEntry),
		stopCh: make(chan struct{}),
	}
	r.unsubscribe = deps.Auth.Events().Subscribe(r.handleEvent)

	go r.cleanupLoop()

	return r
}

// Get はセッションIDに対応するストアを返す。未生成の場合は生成して初期化する。
// セッションIDが空の場合は未ログイン状態の一時的なストアを返す。
func (r *Registry) Get(ctx context.Context, sessionID string) (*Store, error) {
	if sessionID == "" {
		return NewStore("", r.deps), nil
	}

	r.mu.Lock()
	if e, ok := r.stores[sessionID]; ok {
		e.lastAccess = time.Now()
		r.mu.Unlock()
		return e.wait(ctx)
	}

	store := NewStore(sessionID, r.deps)
	e := &registryEntry{store: store, lastAccess: time.Now(), ready: make(chan struct{})}
	r.stores[sessionID] = e
	// 初期化をロック中にキューへ積み、同じセッションの後続の操作より先に実行させる
	initialized := store.enqueueInitialize(ctx)
	r.mu.Unlock()

	go func() {
		err := initialized()
		if err != nil {
			r.remove(sessionID, store)
		}
		e.err = err
		close(e.ready)
	}()

	return e.wait(ctx)
}

// Remove は指定セッションのストアを破棄する。
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	e, ok := r.stores[sessionID]
	if ok {
		delete(r.stores, sessionID)
	}
	r.mu.Unlock()

	if ok {
		e.store.Close()
	}
}

// Len は管理しているストアの数を返す。テストおよびメトリクス用。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Close はクリーンアップを停止し、全てのストアを破棄する。
func (r *Registry) Close() {
	r.stopOnce.Do(func() {
		r.unsubscribe()
		close(r.stopCh)

		r.mu.Lock()
		stores := r.stores
		r.stores = make(map[string]*registryEntry)
		r.mu.Unlock()

		for _, e := range stores {
			e.store.Close()
		}
	})
}

// remove はエントリが指定ストアのままである場合のみ破棄する。
func (r *Registry) remove(sessionID string, store *Store) {
	r.mu.Lock()
	if e, ok := r.stores[sessionID]; ok && e.store == store {
		delete(r.stores, sessionID)
	}
	r.mu.Unlock()

	store.Close()
}

// handleEvent はサインアウトしたセッションのストアを破棄する。
func (r *Registry) handleEvent(event auth.Event) {
	if event.Type == auth.EventSignedOut && event.SessionID != "" {
		r.Remove(event.SessionID)
	}
}

// cleanupLoop はバックグラウンドでアイドルストアを定期的に破棄する。
func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.cleanup(time.Now())
		case <-r.stopCh:
			return
		}
	}
}

// cleanup は最終アクセスからIdleTTLを超えたストアを破棄する。
func (r *Registry) cleanup(now time.Time) {
	var idle []*Store

	r.mu.Lock()
	for id, e := range r.stores {
		if now.Sub(e.lastAccess) > r.config.IdleTTL {
			delete(r.stores, id)
			idle = append(idle, e.store)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		s.Close()
	}

	if len(idle) > 0 {
		slog.Debug("idle auth state stores evicted", slog.Int("count", len(idle)))
	}
}
