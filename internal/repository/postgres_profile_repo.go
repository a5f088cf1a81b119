package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/momentum/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, email, name, avatar_url, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*model.Profile, error) {
	p := &model.Profile{}
	var name, avatarURL sql.NullString
	if err := row.Scan(&p.ID, &p.Email, &name, &avatarURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Name = name.String
	if avatarURL.Valid {
		p.AvatarURL = &avatarURL.String
	}
	return p, nil
}

// FindByID は指定ユーザーIDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}
	return p, nil
}

// FindByEmail はメールアドレスでプロフィールを検索する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, email string) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE lower(email) = lower($1)
		 ORDER BY created_at LIMIT 1`,
		email,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by email: %w", err)
	}
	return p, nil
}

// Upsert はプロフィールを作成し、既に存在する場合は上書きする。保存後の行を返す。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, email, name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (id) DO UPDATE
		 SET email = EXCLUDED.email,
		     name = EXCLUDED.name,
		     avatar_url = EXCLUDED.avatar_url,
		     updated_at = now()
		 RETURNING `+profileColumns,
		profile.ID, profile.Email, profile.Name, profile.AvatarURL,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return p, nil
}

// Update はnilでないフィールドのみを部分更新し、更新後の行を返す。
// 対象が存在しない場合はnilを返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`UPDATE profiles
		 SET name = CASE WHEN $2::boolean THEN $3::varchar ELSE name END,
		     avatar_url = CASE WHEN $4::boolean THEN NULLIF($5::text, '') ELSE avatar_url END,
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		id,
		update.Name != nil, derefString(update.Name),
		update.AvatarURL != nil, derefString(update.AvatarURL),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
