// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, organization, deliverable, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, ErrNotAuthenticated) のような比較に使用する。
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeInvalidEmail         = "INVALID_EMAIL"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeMagicLinkInvalid     = "MAGIC_LINK_INVALID"
	ErrCodeMagicLinkExpired     = "MAGIC_LINK_EXPIRED"
	ErrCodeMagicLinkUsed        = "MAGIC_LINK_USED"
	ErrCodeCSRFInvalid          = "CSRF_INVALID"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeOrganizationNotFound = "ORGANIZATION_NOT_FOUND"
	ErrCodeNotMember            = "NOT_MEMBER"
	ErrCodeForbiddenRole        = "FORBIDDEN_ROLE"
	ErrCodeAlreadyMember        = "ALREADY_MEMBER"
	ErrCodeMemberNotFound       = "MEMBER_NOT_FOUND"
	ErrCodeOwnerCannotLeave     = "OWNER_CANNOT_LEAVE"
	ErrCodeLastOwner            = "LAST_OWNER"
	ErrCodeInvalidRole          = "INVALID_ROLE"
	ErrCodeInvalidOrganization  = "INVALID_ORGANIZATION"
	ErrCodeSlugUnavailable      = "SLUG_UNAVAILABLE"
	ErrCodeConfirmationMismatch = "CONFIRMATION_MISMATCH"
	ErrCodeValidation           = "VALIDATION_FAILED"
	ErrCodeDeliverableNotFound  = "DELIVERABLE_NOT_FOUND"
	ErrCodeBackendFailed        = "BACKEND_FAILED"
	ErrCodeMissingDeliverableID = "MISSING_DELIVERABLE_ID"
	ErrCodeUnsupportedAudioFile = "UNSUPPORTED_AUDIO_FILE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// ErrNotAuthenticated はログインしていない状態で認証必須の操作を行った場合のエラー。
var ErrNotAuthenticated = &APIError{
	Code:     ErrCodeNotAuthenticated,
	Message:  "ログインしていません。",
	Category: "auth",
	Action:   "ログインしてから再度お試しください。",
}

// NewUnauthorizedError は未認証リクエストのエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewValidationError は入力値の検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスのエラーを生成する。
func NewInvalidEmailError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  fmt.Sprintf("無効なメールアドレスです: %s", email),
		Category: "validation",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "https:// で始まる公開URLを入力してください。",
	}
}

// NewMagicLinkInvalidError は署名検証に失敗したマジックリンクのエラーを生成する。
func NewMagicLinkInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeMagicLinkInvalid,
		Message:  "サインインリンクが無効です。",
		Category: "auth",
		Action:   "サインイン画面から新しいリンクを発行してください。",
	}
}

// NewMagicLinkExpiredError は有効期限切れのマジックリンクのエラーを生成する。
func NewMagicLinkExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeMagicLinkExpired,
		Message:  "サインインリンクの有効期限が切れています。",
		Category: "auth",
		Action:   "サインイン画面から新しいリンクを発行してください。",
	}
}

// NewMagicLinkUsedError は使用済みのマジックリンクのエラーを生成する。
func NewMagicLinkUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeMagicLinkUsed,
		Message:  "サインインリンクは既に使用されています。",
		Category: "auth",
		Action:   "サインイン画面から新しいリンクを発行してください。",
	}
}

// NewCSRFInvalidError はCSRFトークンの検証に失敗した場合のエラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "リクエストの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewOrganizationNotFoundError は組織が見つからない場合のエラーを生成する。
func NewOrganizationNotFoundError(orgID string) *APIError {
	return &APIError{
		Code:     ErrCodeOrganizationNotFound,
		Message:  fmt.Sprintf("指定された組織が見つかりません: %s", orgID),
		Category: "organization",
		Action:   "組織IDを確認してください。",
	}
}

// NewNotMemberError は所属していない組織を操作しようとした場合のエラーを生成する。
func NewNotMemberError(orgID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotMember,
		Message:  fmt.Sprintf("この組織のメンバーではありません: %s", orgID),
		Category: "organization",
		Action:   "所属している組織を選択してください。",
	}
}

// NewForbiddenRoleError は権限不足のエラーを生成する。
func NewForbiddenRoleError() *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  "この操作を行う権限がありません。",
		Category: "organization",
		Action:   "組織のオーナーまたは管理者に依頼してください。",
	}
}

// NewAlreadyMemberError は既に所属しているユーザーを招待した場合のエラーを生成する。
func NewAlreadyMemberError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyMember,
		Message:  "このユーザーは既に組織のメンバーです。",
		Category: "organization",
		Action:   "メンバー一覧を確認してください。",
	}
}

// NewMemberNotFoundError はメンバーが見つからない場合のエラーを生成する。
func NewMemberNotFoundError(memberID string) *APIError {
	return &APIError{
		Code:     ErrCodeMemberNotFound,
		Message:  fmt.Sprintf("指定されたメンバーが見つかりません: %s", memberID),
		Category: "organization",
		Action:   "メンバー一覧を再読み込みしてください。",
	}
}

// NewOwnerCannotLeaveError はオーナーが組織から退出しようとした場合のエラーを生成する。
func NewOwnerCannotLeaveError() *APIError {
	return &APIError{
		Code:     ErrCodeOwnerCannotLeave,
		Message:  "組織のオーナーは退出できません。",
		Category: "organization",
		Action:   "退出する前にオーナー権限を他のメンバーに移譲してください。",
	}
}

// NewLastOwnerError は最後のオーナーを削除しようとした場合のエラーを生成する。
func NewLastOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeLastOwner,
		Message:  "組織には少なくとも1人のオーナーが必要です。",
		Category: "organization",
		Action:   "別のメンバーをオーナーにしてから再度お試しください。",
	}
}

// NewInvalidRoleError は未定義のロールが指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("無効なロールです: %s", role),
		Category: "validation",
		Action:   "ロールには owner、admin、member、viewer のいずれかを指定してください。",
	}
}

// NewInvalidOrganizationError は組織名・スラッグが不正な場合のエラーを生成する。
func NewInvalidOrganizationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOrganization,
		Message:  fmt.Sprintf("組織の入力内容が不正です: %s", reason),
		Category: "validation",
		Action:   "組織名を入力してください。スラッグは英小文字・数字・ハイフンのみ使用できます。",
	}
}

// NewSlugUnavailableError はスラッグの候補が全て使用済みの場合のエラーを生成する。
func NewSlugUnavailableError(slug string) *APIError {
	return &APIError{
		Code:     ErrCodeSlugUnavailable,
		Message:  fmt.Sprintf("スラッグが既に使用されています: %s", slug),
		Category: "organization",
		Action:   "別のスラッグを指定してください。",
	}
}

// NewConfirmationMismatchError はアカウント削除の確認文字列が一致しない場合のエラーを生成する。
func NewConfirmationMismatchError(expected string) *APIError {
	return &APIError{
		Code:     ErrCodeConfirmationMismatch,
		Message:  fmt.Sprintf("確認のため \"%s\" と入力してください。", expected),
		Category: "validation",
		Action:   "確認文字列を正確に入力してください。",
	}
}

// NewDeliverableNotFoundError は成果物が見つからない場合のエラーを生成する。
func NewDeliverableNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeDeliverableNotFound,
		Message:  fmt.Sprintf("指定された成果物が見つかりません: %s", id),
		Category: "deliverable",
		Action:   "ダッシュボードから成果物を選択してください。",
	}
}

// NewBackendFailedError は生成バックエンドの呼び出し失敗エラーを生成する。
// detailにはバックエンドが返したエラー詳細を渡す。空の場合は一般的なメッセージになる。
func NewBackendFailedError(detail string) *APIError {
	msg := "成果物の生成に失敗しました。"
	if detail != "" {
		msg = detail
	}
	return &APIError{
		Code:     ErrCodeBackendFailed,
		Message:  msg,
		Category: "deliverable",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMissingDeliverableIDError は生成結果に成果物IDが含まれない場合のエラーを生成する。
func NewMissingDeliverableIDError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingDeliverableID,
		Message:  "No deliverable ID returned.",
		Category: "deliverable",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewUnsupportedAudioFileError は未対応の音声ファイル形式のエラーを生成する。
func NewUnsupportedAudioFileError(filename string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedAudioFile,
		Message:  fmt.Sprintf("未対応の音声ファイルです: %s", filename),
		Category: "validation",
		Action:   "音声ファイル（MP3, M4A, MP4, WAV）を選択してください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
