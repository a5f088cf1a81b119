package model

import "time"

// Role は組織内でのメンバーの役割を表す。
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Valid は定義済みのロールかどうかを返す。
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleViewer:
		return true
	}
	return false
}

// CanManageMembers はメンバーの招待・削除が可能なロールかどうかを返す。
func (r Role) CanManageMembers() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Organization は組織を表す。
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Membership はユーザーと組織の所属関係を表す。
// 一覧取得時はOrganizationが結合された状態で返される。
type Membership struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	OrganizationID string       `json:"organization_id"`
	Role           Role         `json:"role"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Organization   Organization `json:"organization"`
}

// MembershipInfo はカレント組織に付与する所属情報。
type MembershipInfo struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// CurrentOrganization はセッションで選択中の組織を表す。
// バックエンドの概念ではなく、所属一覧から導出される。
type CurrentOrganization struct {
	Organization
	Membership MembershipInfo `json:"membership"`
}

// NewCurrentOrganization は所属情報からカレント組織を組み立てる。
func NewCurrentOrganization(m Membership) *CurrentOrganization {
	return &CurrentOrganization{
		Organization: m.Organization,
		Membership: MembershipInfo{
			ID:        m.ID,
			Role:      m.Role,
			CreatedAt: m.CreatedAt,
		},
	}
}

// Member は組織詳細画面で表示するメンバー情報を表す。
type Member struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url"`
}
