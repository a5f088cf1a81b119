package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/organization"
)

// OrganizationServiceInterface は組織ハンドラーが必要とするサービスインターフェース。
type OrganizationServiceInterface interface {
	Get(ctx context.Context, userID, orgID string) (*organization.Detail, error)
	Invite(ctx context.Context, userID, orgID, email string, role model.Role) (*organization.InviteResult, error)
	RemoveMember(ctx context.Context, userID, orgID, memberID string) error
	Leave(ctx context.Context, userID, orgID string) error
}

// OrganizationHandler は組織管理のHTTPハンドラー。
// 組織の作成と切り替えはセッションの認証状態を経由し、メンバー管理はサービス層に委譲する。
type OrganizationHandler struct {
	service OrganizationServiceInterface
	states  SessionStates
}

// NewOrganizationHandler はOrganizationHandlerを生成する。
func NewOrganizationHandler(service OrganizationServiceInterface, states SessionStates) *OrganizationHandler {
	return &OrganizationHandler{
		service: service,
		states:  states,
	}
}

type createOrganizationRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type switchOrganizationRequest struct {
	OrganizationID string `json:"organization_id"`
}

type inviteMemberRequest struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
}

// organizationListResponse は所属組織一覧のAPIレスポンス。
type organizationListResponse struct {
	Organizations       []model.Membership         `json:"organizations"`
	CurrentOrganization *model.CurrentOrganization `json:"current_organization"`
}

// List は所属組織と選択中の組織を返す。
// GET /api/organizations
func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
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

	resp := organizationListResponse{
		Organizations:       snapshot.Organizations,
		CurrentOrganization: snapshot.CurrentOrganization,
	}
	if resp.Organizations == nil {
		resp.Organizations = []model.Membership{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create は組織を作成し、呼び出し元をownerとして追加する。
// POST /api/organizations
func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := stateFor(r.Context(), h.states)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	org, err := st.CreateOrganization(r.Context(), req.Name, req.Slug)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

// Switch は選択中の組織を切り替える。
// PUT /api/organizations/current
func (h *OrganizationHandler) Switch(w http.ResponseWriter, r *http.Request) {
	var req switchOrganizationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := stateFor(r.Context(), h.states)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	current, err := st.SwitchOrganization(r.Context(), req.OrganizationID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

// Get は組織の詳細とメンバー一覧を返す。
// GET /api/organizations/{id}
func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	detail, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Invite はメールアドレスでメンバーを招待する。
// 登録済みユーザーは201、未登録のメールアドレスは招待待ちとして202を返す。
// POST /api/organizations/{id}/members
func (h *OrganizationHandler) Invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req inviteMemberRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Invite(r.Context(), userID, chi.URLParam(r, "id"), req.Email, req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Status == organization.InvitePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// RemoveMember は組織からメンバーを削除する。
// DELETE /api/organizations/{id}/members/{memberID}
func (h *OrganizationHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), userID, chi.URLParam(r, "id"), chi.URLParam(r, "memberID")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Leave は組織から退出し、セッションの所属組織を再読み込みする。
// POST /api/organizations/{id}/leave
func (h *OrganizationHandler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Leave(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, err)
		return
	}

	st, err := stateFor(r.Context(), h.states)
	if err == nil {
		err = st.RefreshUserData(r.Context())
	}
	if err != nil {
		slog.Warn("failed to refresh user data after leaving organization",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	w.WriteHeader(http.StatusNoContent)
}
