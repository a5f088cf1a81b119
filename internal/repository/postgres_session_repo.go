package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/momentum/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
// セッション固有の値（選択中の組織など）はdata列のJSONBに保持する。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はセッションを作成する。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, data, expires_at, created_at)
		 VALUES ($1, $2, '{}'::jsonb, $3, $4)`,
		session.ID, session.UserID, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &session.UserID, &session.ExpiresAt, &session.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
func (r *PostgresSessionRepo) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// GetValue はセッションデータから文字列値を取得する。
// セッションが存在しない、またはキーが未設定の場合は空文字列を返す。
func (r *PostgresSessionRepo) GetValue(ctx context.Context, id, key string) (string, error) {
	var value sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT data ->> $2 FROM sessions WHERE id = $1`,
		id, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session value: %w", err)
	}
	return value.String, nil
}

// SetValue はセッションデータに文字列値を保存する。
func (r *PostgresSessionRepo) SetValue(ctx context.Context, id, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = jsonb_set(data, ARRAY[$2::text], to_jsonb($3::text), true)
		 WHERE id = $1`,
		id, key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set session value: %w", err)
	}
	return nil
}

// DeleteValue はセッションデータからキーを削除する。
func (r *PostgresSessionRepo) DeleteValue(ctx context.Context, id, key string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET data = data - $2::text WHERE id = $1`,
		id, key,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session value: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
