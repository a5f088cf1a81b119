// Package cleanup は期限切れの認証データを削除する定期ジョブを提供する。
// 有効期限を過ぎたセッションと、猶予期間を過ぎたマジックリンクを削除する。
// セッションに紐づく組織選択はsessions.data列にあるため同時に消える。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// 削除対象の名前。メトリクスのラベルにも使う。
const (
	TargetSessions   = "sessions"
	TargetMagicLinks = "magic_links"
)

// SessionPurger は期限切れセッションを削除する。
// repository.SessionRepositoryの部分集合として定義する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// MagicLinkPurger はbeforeより前に期限切れとなったマジックリンクを削除する。
// repository.MagicLinkRepositoryの部分集合として定義する。
type MagicLinkPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordCleanup(target string, count int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordCleanup(string, int64) {}

// CleanupJob は期限切れの認証データを削除するジョブ。
// 何度実行しても結果が変わらない冪等な削除のみを行う。
type CleanupJob struct {
	sessions   SessionPurger
	magicLinks MagicLinkPurger
	logger     *slog.Logger
	recorder   Recorder
	now        func() time.Time

	// MagicLinkGrace は期限切れ後もマジックリンクを残しておく期間。
	MagicLinkGrace time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
// マジックリンクの猶予期間のデフォルトは24時間。
func NewCleanupJob(sessions SessionPurger, magicLinks MagicLinkPurger, logger *slog.Logger) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:       sessions,
		magicLinks:     magicLinks,
		logger:         logger,
		recorder:       nopRecorder{},
		now:            time.Now,
		MagicLinkGrace: 24 * time.Hour,
	}
}

// SetRecorder は削除件数の記録先を設定する。
func (j *CleanupJob) SetRecorder(r Recorder) {
	if r != nil {
		j.recorder = r
	}
}

// Run は期限切れのセッションとマジックリンクを削除する。
// 一方の削除に失敗してももう一方は実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, errSessions := j.purge(TargetSessions, func() (int64, error) {
		return j.sessions.DeleteExpired(ctx)
	})

	before := j.now().Add(-j.MagicLinkGrace)
	links, errLinks := j.purge(TargetMagicLinks, func() (int64, error) {
		return j.magicLinks.DeleteExpired(ctx, before)
	})

	if err := errors.Join(errSessions, errLinks); err != nil {
		return err
	}

	j.logger.Info("認証データのクリーンアップが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_magic_links", links),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

func (j *CleanupJob) purge(target string, del func() (int64, error)) (int64, error) {
	deleted, err := del()
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}

	j.recorder.RecordCleanup(target, deleted)
	return deleted, nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
