package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
)

// EventChannel は認証イベントを配信するPostgreSQLのNOTIFYチャネル名。
const EventChannel = "momentum_auth_events"

// PostgresBus はPostgreSQLのLISTEN/NOTIFYで複数インスタンス間に認証イベントを配信する。
// 自インスタンスが発行したイベントもNOTIFY経由で受け取るため、ローカル配信は行わない。
type PostgresBus struct {
	db       *sql.DB
	listener *pq.Listener
	local    *LocalBus
	started  atomic.Bool
	done     chan struct{}
}

// NewPostgresBus はPostgresBusを生成し、チャネルのLISTENを開始する。
// 受信ループはStartで起動する。
func NewPostgresBus(db *sql.DB, databaseURL string) (*PostgresBus, error) {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("auth event listener state changed",
				slog.Int("event", int(ev)),
				slog.String("error", err.Error()),
			)
		}
	})
	if err := listener.Listen(EventChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", EventChannel, err)
	}

	return &PostgresBus{
		db:       db,
		listener: listener,
		local:    NewLocalBus(),
		done:     make(chan struct{}),
	}, nil
}

// Start は通知の受信ループを開始する。ctxがキャンセルされると停止する。
func (b *PostgresBus) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(b.done)
		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-b.listener.Notify:
				if !ok {
					return
				}
				// 再接続時はnilが届く
				if n == nil {
					continue
				}
				var event Event
				if err := json.Unmarshal([]byte(n.Extra), &event); err != nil {
					slog.Warn("failed to decode auth event",
						slog.String("payload", n.Extra),
						slog.String("error", err.Error()),
					)
					continue
				}
				b.local.dispatch(event)
			}
		}
	}()
}

// Publish はpg_notifyでイベントを全インスタンスに配信する。
func (b *PostgresBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode auth event: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, EventChannel, string(payload)); err != nil {
		return fmt.Errorf("failed to publish auth event: %w", err)
	}
	return nil
}

// Subscribe はハンドラを登録し、購読解除関数を返す。
func (b *PostgresBus) Subscribe(handler func(Event)) func() {
	return b.local.Subscribe(handler)
}

// Close はLISTEN接続を閉じ、受信ループの終了を待つ。
func (b *PostgresBus) Close() error {
	err := b.listener.Close()
	if b.started.Load() {
		select {
		case <-b.done:
		case <-time.After(5 * time.Second):
		}
	}
	return err
}

// compile-time interface check
var _ EventBus = (*PostgresBus)(nil)
