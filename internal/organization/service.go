// Package organization は組織詳細とメンバー管理のドメインロジックを提供する。
package organization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/repository"
)

// 招待結果のステータス
const (
	InviteAdded   = "added"
	InvitePending = "pending"
)

// Detail は組織詳細画面の表示内容。
type Detail struct {
	Organization     model.Organization `json:"organization"`
	Membership       model.Membership   `json:"membership"`
	Members          []model.Member     `json:"members"`
	CanManageMembers bool               `json:"can_manage_members"`
	IsOwner          bool               `json:"is_owner"`
}

// InviteResult はメンバー招待の結果。
// 未登録のメールアドレスの場合はStatusがpendingとなり、Membershipはnil。
type InviteResult struct {
	Status     string            `json:"status"`
	Email      string            `json:"email"`
	Membership *model.Membership `json:"membership,omitempty"`
}

// Service は組織管理のサービス層。
type Service struct {
	orgRepo     repository.OrganizationRepository
	memberRepo  repository.MembershipRepository
	profileRepo repository.ProfileRepository
	events      auth.EventBus
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	orgRepo repository.OrganizationRepository,
	memberRepo repository.MembershipRepository,
	profileRepo repository.ProfileRepository,
	events auth.EventBus,
) *Service {
	if events == nil {
		events = auth.NewLocalBus()
	}
	return &Service{
		orgRepo:     orgRepo,
		memberRepo:  memberRepo,
		profileRepo: profileRepo,
		events:      events,
	}
}

// Get は組織の詳細とメンバー一覧を返す。呼び出し元はメンバーである必要がある。
func (s *Service) Get(ctx context.Context, userID, orgID string) (*Detail, error) {
	membership, err := s.requireMembership(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}

	org, err := s.orgRepo.FindByID(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("組織の取得に失敗しました: %w", err)
	}
	if org == nil {
		return nil, model.NewOrganizationNotFoundError(orgID)
	}

	members, err := s.memberRepo.ListMembers(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("メンバー一覧の取得に失敗しました: %w", err)
	}
	if members == nil {
		members = []model.Member{}
	}

	membership.Organization = *org
	return &Detail{
		Organization:     *org,
		Membership:       *membership,
		Members:          members,
		CanManageMembers: membership.Role.CanManageMembers(),
		IsOwner:          membership.Role == model.RoleOwner,
	}, nil
}

// Invite はメールアドレスでメンバーを招待する。ownerとadminのみ実行できる。
// 登録済みユーザーは即座にメンバーとして追加し、未登録の場合は招待待ちとして扱う。
func (s *Service) Invite(ctx context.Context, userID, orgID, email string, role model.Role) (*InviteResult, error) {
	if role == "" {
		role = model.RoleMember
	}
	if !role.Valid() {
		return nil, model.NewInvalidRoleError(string(role))
	}

	normalized, err := auth.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	caller, err := s.requireMembership(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !caller.Role.CanManageMembers() {
		return nil, model.NewForbiddenRoleError()
	}
	if role == model.RoleOwner && caller.Role != model.RoleOwner {
		return nil, model.NewForbiddenRoleError()
	}

	invitee, err := s.profileRepo.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("招待先ユーザーの検索に失敗しました: %w", err)
	}
	if invitee == nil {
		slog.Info("invitation pending for unregistered email",
			slog.String("organization_id", orgID),
			slog.String("email", normalized),
			slog.String("invited_by", userID),
		)
		return &InviteResult{Status: InvitePending, Email: normalized}, nil
	}

	existing, err := s.memberRepo.Find(ctx, orgID, invitee.ID)
	if err != nil {
		return nil, fmt.Errorf("メンバーシップの確認に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewAlreadyMemberError()
	}

	now := time.Now()
	m := &model.Membership{
		ID:             uuid.New().String(),
		UserID:         invitee.ID,
		OrganizationID: orgID,
		Role:           role,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.memberRepo.Add(ctx, m); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewAlreadyMemberError()
		}
		return nil, fmt.Errorf("メンバーの追加に失敗しました: %w", err)
	}

	slog.Info("member added to organization",
		slog.String("organization_id", orgID),
		slog.String("user_id", invitee.ID),
		slog.String("role", string(role)),
	)
	s.notifyUser(ctx, invitee.ID)

	return &InviteResult{Status: InviteAdded, Email: normalized, Membership: m}, nil
}

// RemoveMember は組織からメンバーを削除する。ownerとadminのみ実行できる。
// 最後のownerは削除できない。
func (s *Service) RemoveMember(ctx context.Context, userID, orgID, memberID string) error {
	caller, err := s.requireMembership(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if !caller.Role.CanManageMembers() {
		return model.NewForbiddenRoleError()
	}

	target, err := s.memberRepo.FindByID(ctx, memberID)
	if err != nil {
		return fmt.Errorf("メンバーの取得に失敗しました: %w", err)
	}
	if target == nil || target.OrganizationID != orgID {
		return model.NewMemberNotFoundError(memberID)
	}

	if target.Role == model.RoleOwner && caller.Role != model.RoleOwner {
		return model.NewForbiddenRoleError()
	}

	// owner数の確認と削除はリポジトリ側で1つのトランザクションとして行う
	if err := s.memberRepo.DeleteUnlessLastOwner(ctx, target.ID); err != nil {
		if errors.Is(err, repository.ErrLastOwner) {
			return model.NewLastOwnerError()
		}
		return fmt.Errorf("メンバーの削除に失敗しました: %w", err)
	}

	slog.Info("member removed from organization",
		slog.String("organization_id", orgID),
		slog.String("user_id", target.UserID),
		slog.String("removed_by", userID),
	)
	s.notifyUser(ctx, target.UserID)

	return nil
}

// Leave は呼び出し元を組織から退出させる。ownerは権限を移譲するまで退出できない。
func (s *Service) Leave(ctx context.Context, userID, orgID string) error {
	membership, err := s.requireMembership(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if membership.Role == model.RoleOwner {
		return model.NewOwnerCannotLeaveError()
	}

	if err := s.memberRepo.Delete(ctx, membership.ID); err != nil {
		return fmt.Errorf("組織からの退出に失敗しました: %w", err)
	}

	slog.Info("member left organization",
		slog.String("organization_id", orgID),
		slog.String("user_id", userID),
	)
	s.notifyUser(ctx, userID)

	return nil
}

// requireMembership は呼び出し元のメンバーシップを返す。所属していない場合はエラー。
func (s *Service) requireMembership(ctx context.Context, userID, orgID string) (*model.Membership, error) {
	membership, err := s.memberRepo.Find(ctx, orgID, userID)
	if err != nil {
		return nil, fmt.Errorf("メンバーシップの取得に失敗しました: %w", err)
	}
	if membership == nil {
		return nil, model.NewNotMemberError(orgID)
	}
	return membership, nil
}

// notifyUser は所属の変化を対象ユーザーの全セッションに通知する。
func (s *Service) notifyUser(ctx context.Context, userID string) {
	event := auth.Event{Type: auth.EventUserUpdated, UserID: userID}
	if err := s.events.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish membership change",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}
