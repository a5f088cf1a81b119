package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/momentum/internal/model"
)

// PostgresMagicLinkRepo はPostgreSQLを使用したマジックリンクリポジトリ。
type PostgresMagicLinkRepo struct {
	db *sql.DB
}

// NewPostgresMagicLinkRepo はPostgresMagicLinkRepoを生成する。
func NewPostgresMagicLinkRepo(db *sql.DB) *PostgresMagicLinkRepo {
	return &PostgresMagicLinkRepo{db: db}
}

// Create はマジックリンクを保存する。
func (r *PostgresMagicLinkRepo) Create(ctx context.Context, link *model.MagicLink) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO magic_links (token_id, email, redirect_to, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		link.TokenID, link.Email, link.RedirectTo, link.ExpiresAt, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create magic link: %w", err)
	}
	return nil
}

// FindByTokenID はjtiでマジックリンクを取得する。見つからない場合はnilを返す。
func (r *PostgresMagicLinkRepo) FindByTokenID(ctx context.Context, tokenID string) (*model.MagicLink, error) {
	link := &model.MagicLink{}
	var usedAt sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT token_id, email, redirect_to, expires_at, used_at, created_at
		 FROM magic_links WHERE token_id = $1`,
		tokenID,
	).Scan(&link.TokenID, &link.Email, &link.RedirectTo, &link.ExpiresAt, &usedAt, &link.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find magic link: %w", err)
	}
	if usedAt.Valid {
		link.UsedAt = &usedAt.Time
	}
	return link, nil
}

// MarkUsed は未使用のマジックリンクを使用済みにする。
// 既に使用済みの場合はfalseを返す。
func (r *PostgresMagicLinkRepo) MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE magic_links SET used_at = $2 WHERE token_id = $1 AND used_at IS NULL`,
		tokenID, usedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to mark magic link used: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteExpired は期限切れのマジックリンクを削除し、削除件数を返す。
func (r *PostgresMagicLinkRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM magic_links WHERE expires_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired magic links: %w", err)
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ MagicLinkRepository = (*PostgresMagicLinkRepo)(nil)
