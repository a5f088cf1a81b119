package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/momentum/internal/authstate"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Export はプロフィールと所属組織をまとめたエクスポートを生成する。
	Export(ctx context.Context, userID string) (*user.Export, error)
	// Withdraw はユーザーの退会処理を実行する。
	// sessions、user（identities、profiles、organization_membersはCASCADE）を削除する。
	Withdraw(ctx context.Context, userID, confirmation string) error
}

// UserHandler はユーザー・プロフィール管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	states  SessionStates
	cookies cookieConfig
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, states SessionStates, cookies AuthHandlerConfig) *UserHandler {
	return &UserHandler{
		service: service,
		states:  states,
		cookies: cookieConfig{Domain: cookies.CookieDomain, Secure: cookies.CookieSecure},
	}
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// meResponse は現在の認証状態のAPIレスポンス。
type meResponse struct {
	User                *userResponse              `json:"user"`
	Profile             *model.Profile             `json:"profile"`
	Organizations       []model.Membership         `json:"organizations"`
	CurrentOrganization *model.CurrentOrganization `json:"current_organization"`
}

func toMeResponse(st authstate.State) meResponse {
	resp := meResponse{
		Profile:             st.Profile,
		Organizations:       st.Organizations,
		CurrentOrganization: st.CurrentOrganization,
	}
	if resp.Organizations == nil {
		resp.Organizations = []model.Membership{}
	}
	if st.User != nil {
		resp.User = &userResponse{
			ID:        st.User.ID,
			Email:     st.User.Email,
			Name:      st.User.Name,
			AvatarURL: st.User.AvatarURL,
		}
	}
	return resp
}

// Me はセッションの認証状態（ユーザー、プロフィール、所属組織、選択中の組織）を返す。
// GET /api/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	st, err := stateFor(r.Context(), h.states)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	snapshot, err := st.Settled(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !snapshot.Authenticated() {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, toMeResponse(snapshot))
}

// UpdateProfile はプロフィールを部分更新する。
// PATCH /api/me/profile
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var update model.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}
	if update.Name != nil && *update.Name == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Name is required."))
		return
	}

	st, err := stateFor(r.Context(), h.states)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	profile, err := st.UpdateProfile(r.Context(), update)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// Export はユーザーデータをJSONファイルとしてダウンロードさせる。
// GET /api/me/export
func (h *UserHandler) Export(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	export, err := h.service.Export(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+user.ExportFilename(export.ExportDate)+`"`)
	writeJSON(w, http.StatusOK, export)
}

// withdrawRequest は退会リクエストのボディ。
type withdrawRequest struct {
	Confirmation string `json:"confirmation"`
}

// Withdraw はユーザーの退会処理を実行する。
// DELETE /api/users/me
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID, req.Confirmation); err != nil {
		handleServiceError(w, err)
		return
	}

	h.states.Remove(middleware.SessionIDFromContext(r.Context()))
	h.cookies.clear(w, sessionCookieName)

	slog.Info("account deleted", slog.String("user_id", userID))
	w.WriteHeader(http.StatusNoContent)
}
