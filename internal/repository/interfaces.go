// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/momentum/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、profiles、sessions、organization_membersはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)

	// Create は既存ユーザーに新しいidentityを紐付ける。
	Create(ctx context.Context, identity *model.Identity) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)

	// GetValue はセッションデータから文字列値を取得する。未設定の場合は空文字列を返す。
	GetValue(ctx context.Context, id, key string) (string, error)
	// SetValue はセッションデータに文字列値を保存する。
	SetValue(ctx context.Context, id, key, value string) error
	// DeleteValue はセッションデータからキーを削除する。
	DeleteValue(ctx context.Context, id, key string) error
}

// ProfileRepository はプロフィールの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定ユーザーIDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// FindByEmail はメールアドレスでプロフィールを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Profile, error)

	// Upsert はプロフィールを作成し、既に存在する場合は上書きする。保存後の行を返す。
	Upsert(ctx context.Context, profile *model.Profile) (*model.Profile, error)

	// Update はnilでないフィールドのみを部分更新し、更新後の行を返す。
	// 対象が存在しない場合はnilを返す。
	Update(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error)
}

// OrganizationRepository は組織の永続化インターフェース。
type OrganizationRepository interface {
	// FindByID は指定IDの組織を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Organization, error)

	// SlugExists は指定slugの組織が既に存在するかを返す。
	SlugExists(ctx context.Context, slug string) (bool, error)

	// CreateWithOwner は組織と作成者のownerメンバーシップを同一トランザクションで作成する。
	// slugが既に使われている場合は ErrSlugConflict を返す。
	CreateWithOwner(ctx context.Context, org *model.Organization, ownerUserID string) (*model.Membership, error)
}

// MembershipRepository は組織メンバーシップの永続化インターフェース。
type MembershipRepository interface {
	// ListByUserID はユーザーの所属一覧を組織情報と結合して作成日時の昇順で返す。
	ListByUserID(ctx context.Context, userID string) ([]model.Membership, error)

	// Find は組織IDとユーザーIDでメンバーシップを検索する。見つからない場合はnilを返す。
	Find(ctx context.Context, organizationID, userID string) (*model.Membership, error)

	// FindByID は指定IDのメンバーシップを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Membership, error)

	// ListMembers は組織のメンバー一覧をプロフィール情報と結合して返す。
	ListMembers(ctx context.Context, organizationID string) ([]model.Member, error)

	// Add はメンバーシップを作成する。
	Add(ctx context.Context, membership *model.Membership) error

	// Delete は指定IDのメンバーシップを削除する。
	Delete(ctx context.Context, id string) error

	// DeleteUnlessLastOwner は指定IDのメンバーシップを削除する。
	// 対象が組織の最後のownerの場合は削除せず ErrLastOwner を返す。
	DeleteUnlessLastOwner(ctx context.Context, id string) error

	// CountOwners は組織のowner数を返す。
	CountOwners(ctx context.Context, organizationID string) (int, error)
}

// MagicLinkRepository はマジックリンクの永続化インターフェース。
type MagicLinkRepository interface {
	// Create はマジックリンクを保存する。
	Create(ctx context.Context, link *model.MagicLink) error

	// FindByTokenID はjtiでマジックリンクを取得する。見つからない場合はnilを返す。
	FindByTokenID(ctx context.Context, tokenID string) (*model.MagicLink, error)

	// MarkUsed は未使用のマジックリンクを使用済みにする。
	// 既に使用済みの場合はfalseを返す。
	MarkUsed(ctx context.Context, tokenID string, usedAt time.Time) (bool, error)

	// DeleteExpired は期限切れのマジックリンクを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

