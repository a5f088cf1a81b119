package model

import "time"

// Profile はユーザーと1対1で対応するプロフィールを表す。
// 初回ロード時に存在しなければデフォルト値で作成される。
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProfileUpdate はプロフィールの部分更新内容を表す。
// nilのフィールドは変更しない。
type ProfileUpdate struct {
	Name      *string `json:"name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}
