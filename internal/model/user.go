// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証済みユーザーを表す。
// 認証バックエンドが所有し、アプリケーションからは再認証以外で変更しない。
type User struct {
	ID        string
	Email     string
	Name      string
	AvatarURL string // IdPから取得したメタデータ。未設定の場合は空文字列
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity は外部IdPとの紐付け情報を表す。
// Google OAuthのほか、マジックリンクによるメール認証も provider="email" として扱う。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// 認証プロバイダー名
const (
	ProviderGoogle = "google"
	ProviderEmail  = "email"
)

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// MagicLink はワンタイムのサインインリンクを表す。
// TokenIDはJWTのjtiと一致する。
type MagicLink struct {
	TokenID    string
	Email      string
	RedirectTo string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}
