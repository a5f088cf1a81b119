package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/momentum/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// statusByCode はAPIエラーコードとHTTPステータスの対応表。
// 未登録のコードは400として扱う。
var statusByCode = map[string]int{
	model.ErrCodeUnauthorized:         http.StatusUnauthorized,
	model.ErrCodeNotAuthenticated:     http.StatusUnauthorized,
	model.ErrCodeMagicLinkInvalid:     http.StatusUnauthorized,
	model.ErrCodeMagicLinkExpired:     http.StatusUnauthorized,
	model.ErrCodeMagicLinkUsed:        http.StatusUnauthorized,
	model.ErrCodeCSRFInvalid:          http.StatusForbidden,
	model.ErrCodeNotMember:            http.StatusForbidden,
	model.ErrCodeForbiddenRole:        http.StatusForbidden,
	model.ErrCodeUserNotFound:         http.StatusNotFound,
	model.ErrCodeOrganizationNotFound: http.StatusNotFound,
	model.ErrCodeMemberNotFound:       http.StatusNotFound,
	model.ErrCodeDeliverableNotFound:  http.StatusNotFound,
	model.ErrCodeAlreadyMember:        http.StatusConflict,
	model.ErrCodeSlugUnavailable:      http.StatusConflict,
	model.ErrCodeLastOwner:            http.StatusConflict,
	model.ErrCodeOwnerCannotLeave:     http.StatusConflict,
	model.ErrCodeBackendFailed:        http.StatusBadGateway,
	model.ErrCodeMissingDeliverableID: http.StatusBadGateway,
	model.ErrCodeInternal:             http.StatusInternalServerError,
}

// StatusForError はAPIエラーに対応するHTTPステータスコードを返す。
func StatusForError(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusBadRequest
}

// WriteError はエラーを統一フォーマットで書き込む。
// *model.APIError 以外のエラーは内部エラーとしてログに記録し、500を返す。
func WriteError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		WriteErrorResponse(w, StatusForError(apiErr), apiErr)
		return
	}
	slog.Error("unhandled error", slog.String("error", err.Error()))
	WriteInternalServerError(w)
}
