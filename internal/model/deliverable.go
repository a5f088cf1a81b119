package model

import "time"

// Deliverable は生成バックエンドが作成したクライアント向け成果物を表す。
// このアプリケーションは一覧表示と閲覧のみを行う。
type Deliverable struct {
	ID         string    `json:"id"`
	ClientName string    `json:"client_name"`
	HTML       string    `json:"html"`
	CreatedAt  time.Time `json:"created_at"`
}

// BrandSettings は成果物に適用するブランド設定を表す。
type BrandSettings struct {
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	LogoURL        string `json:"logo_url,omitempty"`
}

// デフォルトのブランドカラー
const (
	DefaultPrimaryColor   = "#2A3EB1"
	DefaultSecondaryColor = "#4C6FE7"
)

// WithDefaults は未設定のカラーをデフォルト値で補完したコピーを返す。
func (b BrandSettings) WithDefaults() BrandSettings {
	if b.PrimaryColor == "" {
		b.PrimaryColor = DefaultPrimaryColor
	}
	if b.SecondaryColor == "" {
		b.SecondaryColor = DefaultSecondaryColor
	}
	return b
}

// TemplateActionPlan は成果物テンプレート種別のデフォルト値。
const TemplateActionPlan = "action_plan"

// GenerationRequest はテキスト・音声どちらの生成にも共通する入力を表す。
type GenerationRequest struct {
	ClientName     string
	Transcript     string
	PrimaryColor   string
	SecondaryColor string
	LogoURL        string
	TemplateType   string
}

// GenerationResult は生成バックエンドの応答を表す。
type GenerationResult struct {
	ID string `json:"id"`
}
