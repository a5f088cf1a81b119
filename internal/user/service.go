// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/repository"
)

// DeleteConfirmation はアカウント削除時に入力を求める確認文字列。
const DeleteConfirmation = "DELETE MY ACCOUNT"

// ExportTypeComplete はデータエクスポートの種別。
const ExportTypeComplete = "complete_account_data"

// Export はユーザーデータのエクスポート内容。
type Export struct {
	Profile       *model.Profile     `json:"profile"`
	Organizations []model.Membership `json:"organizations"`
	ExportDate    time.Time          `json:"export_date"`
	ExportType    string             `json:"export_type"`
}

// ExportFilename はエクスポートファイルのダウンロード名を返す。
func ExportFilename(at time.Time) string {
	return "momentum-data-export-" + at.UTC().Format("2006-01-02") + ".json"
}

// Service はユーザー管理のサービス層。
// データエクスポートと退会処理のビジネスロジックを提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	profileRepo repository.ProfileRepository
	memberRepo  repository.MembershipRepository
	events      auth.EventBus
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	profileRepo repository.ProfileRepository,
	memberRepo repository.MembershipRepository,
	events auth.EventBus,
) *Service {
	if events == nil {
		events = auth.NewLocalBus()
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		profileRepo: profileRepo,
		memberRepo:  memberRepo,
		events:      events,
		now:         time.Now,
	}
}

// Export はプロフィールと所属組織をまとめたエクスポートを生成する。
func (s *Service) Export(ctx context.Context, userID string) (*Export, error) {
	profile, err := s.profileRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}

	memberships, err := s.memberRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("所属組織の取得に失敗しました: %w", err)
	}
	if memberships == nil {
		memberships = []model.Membership{}
	}

	return &Export{
		Profile:       profile,
		Organizations: memberships,
		ExportDate:    s.now().UTC(),
		ExportType:    ExportTypeComplete,
	}, nil
}

// Withdraw はユーザーの退会処理を実行する。
// confirmationが DeleteConfirmation と一致しない場合は何も削除しない。
// 他のメンバーがいる組織の唯一のownerである場合は退会できない。
// 削除順序: sessions → user（+ CASCADE: identities, profiles, organization_members）
func (s *Service) Withdraw(ctx context.Context, userID, confirmation string) error {
	if confirmation != DeleteConfirmation {
		return model.NewConfirmationMismatchError(DeleteConfirmation)
	}

	// ユーザー存在確認
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if err := s.ensureNotSoleOwner(ctx, userID); err != nil {
		return err
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// 1. セッションを削除
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. ユーザーを削除（identities, profiles, organization_membersはCASCADE削除）
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	// 3. 全セッションの認証状態を破棄する
	if err := s.events.Publish(ctx, auth.Event{Type: auth.EventSignedOut, UserID: userID}); err != nil {
		slog.Warn("failed to publish sign-out for withdrawn user",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

// ensureNotSoleOwner は他のメンバーがいる組織の唯一のownerでないことを確認する。
func (s *Service) ensureNotSoleOwner(ctx context.Context, userID string) error {
	memberships, err := s.memberRepo.ListByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("所属組織の取得に失敗しました: %w", err)
	}

	for _, m := range memberships {
		if m.Role != model.RoleOwner {
			continue
		}
		owners, err := s.memberRepo.CountOwners(ctx, m.OrganizationID)
		if err != nil {
			return fmt.Errorf("ownerの集計に失敗しました: %w", err)
		}
		if owners > 1 {
			continue
		}
		members, err := s.memberRepo.ListMembers(ctx, m.OrganizationID)
		if err != nil {
			return fmt.Errorf("メンバー一覧の取得に失敗しました: %w", err)
		}
		if len(members) > 1 {
			return model.NewLastOwnerError()
		}
	}
	return nil
}
