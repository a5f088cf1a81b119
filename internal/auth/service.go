// Package auth はOAuth認証フロー、マジックリンク認証、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/repository"
)

// OAuthUserInfo はOAuthプロバイダーから取得したユーザー情報を表す。
type OAuthUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	AvatarURL      string
	Provider       string // "google" 等
}

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// GetLoginURL はOAuth認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードをトークンに交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int    // セッション有効期間（秒）
	BaseURL       string // マジックリンクURLの組み立てに使用する
}

// SignInStart はOAuthリダイレクトサインインの開始情報。
type SignInStart struct {
	URL        string
	RedirectTo string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth       OAuthProvider
	userRepo    repository.UserRepository
	identRepo   repository.IdentityRepository
	sessionRepo repository.SessionRepository
	magicRepo   repository.MagicLinkRepository
	issuer      *MagicLinkIssuer
	mailer      Mailer
	events      EventBus
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	oauth OAuthProvider,
	userRepo repository.UserRepository,
	identRepo repository.IdentityRepository,
	sessionRepo repository.SessionRepository,
	magicRepo repository.MagicLinkRepository,
	issuer *MagicLinkIssuer,
	mailer Mailer,
	events EventBus,
	config ServiceConfig,
) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	if events == nil {
		events = NewLocalBus()
	}
	return &Service{
		oauth:       oauth,
		userRepo:    userRepo,
		identRepo:   identRepo,
		sessionRepo: sessionRepo,
		magicRepo:   magicRepo,
		issuer:      issuer,
		mailer:      mailer,
		events:      events,
		config:      config,
		now:         time.Now,
	}
}

// Events は認証イベントのバスを返す。
func (s *Service) Events() EventBus {
	return s.events
}

// GetLoginURL はOAuth認証URLを生成する。
func (s *Service) GetLoginURL(state string) string {
	return s.oauth.GetLoginURL(state)
}

// BeginGoogleSignIn はGoogleサインインのリダイレクト先とサインイン後の遷移先を返す。
func (s *Service) BeginGoogleSignIn(state, redirectTo string) (*SignInStart, error) {
	if state == "" {
		return nil, fmt.Errorf("oauth state is required")
	}
	return &SignInStart{
		URL:        s.oauth.GetLoginURL(state),
		RedirectTo: SafeRedirectPath(redirectTo),
	}, nil
}

// HandleCallback はOAuthコールバックを処理し、セッションを発行する。
// 未登録ユーザーの場合はusersレコードとidentitiesレコードを同時に自動作成する。
// 同じメールアドレスのユーザーが既に存在する場合はidentityを紐付ける。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	userInfo, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange oauth code: %w", err)
	}

	userID, err := s.findOrCreateUser(ctx, userInfo)
	if err != nil {
		return nil, err
	}

	return s.signIn(ctx, userID)
}

// RequestMagicLink はサインイン用のワンタイムリンクを発行し、メールで送信する。
func (s *Service) RequestMagicLink(ctx context.Context, email, redirectTo string) error {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	redirectTo = SafeRedirectPath(redirectTo)

	token, claims, err := s.issuer.Issue(normalized, redirectTo)
	if err != nil {
		return err
	}

	link := &model.MagicLink{
		TokenID:    claims.TokenID,
		Email:      normalized,
		RedirectTo: redirectTo,
		ExpiresAt:  claims.ExpiresAt,
		CreatedAt:  s.now(),
	}
	if err := s.magicRepo.Create(ctx, link); err != nil {
		return fmt.Errorf("failed to save magic link: %w", err)
	}

	callback := strings.TrimRight(s.config.BaseURL, "/") + "/auth/callback?" + url.Values{"token": {token}}.Encode()
	if err := s.mailer.SendMagicLink(ctx, normalized, callback); err != nil {
		return fmt.Errorf("failed to send magic link: %w", err)
	}

	slog.Info("magic link requested",
		slog.String("token_id", claims.TokenID),
		slog.String("email", normalized),
	)
	return nil
}

// ConsumeMagicLink はマジックリンクトークンを検証して使用済みにし、セッションを発行する。
// 戻り値の文字列はサインイン後の遷移先。
func (s *Service) ConsumeMagicLink(ctx context.Context, token string) (*model.Session, string, error) {
	claims, err := s.issuer.Parse(token)
	if err != nil {
		return nil, "", err
	}

	link, err := s.magicRepo.FindByTokenID(ctx, claims.TokenID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find magic link: %w", err)
	}
	if link == nil || !strings.EqualFold(link.Email, claims.Email) {
		return nil, "", model.NewMagicLinkInvalidError()
	}
	if link.UsedAt != nil {
		return nil, "", model.NewMagicLinkUsedError()
	}
	if !link.ExpiresAt.After(s.now()) {
		return nil, "", model.NewMagicLinkExpiredError()
	}

	marked, err := s.magicRepo.MarkUsed(ctx, link.TokenID, s.now())
	if err != nil {
		return nil, "", fmt.Errorf("failed to mark magic link used: %w", err)
	}
	if !marked {
		return nil, "", model.NewMagicLinkUsedError()
	}

	userID, err := s.findOrCreateUser(ctx, &OAuthUserInfo{
		ProviderUserID: link.Email,
		Email:          link.Email,
		Provider:       model.ProviderEmail,
	})
	if err != nil {
		return nil, "", err
	}

	session, err := s.signIn(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return session, SafeRedirectPath(link.RedirectTo), nil
}

// Logout はセッションを破棄し、signed_outイベントを配信する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	event := Event{Type: EventSignedOut, SessionID: sessionID}
	if session != nil {
		event.UserID = session.UserID
	}
	s.publish(ctx, event)

	slog.Info("user logged out", slog.String("session_id", sessionID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	_, user, err := s.CurrentSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("session not found or expired")
	}
	return user, nil
}

// CurrentSession は有効なセッションとそのユーザーを返す。
// セッションが存在しない、または期限切れの場合は (nil, nil, nil) を返す。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error) {
	if sessionID == "" {
		return nil, nil, nil
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil, nil
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, nil
	}

	return session, user, nil
}

// findOrCreateUser はidentity、メールアドレスの順に既存ユーザーを探し、なければ作成する。
func (s *Service) findOrCreateUser(ctx context.Context, info *OAuthUserInfo) (string, error) {
	identity, err := s.identRepo.FindByProviderAndProviderUserID(ctx, info.Provider, info.ProviderUserID)
	if err != nil {
		return "", fmt.Errorf("failed to find identity: %w", err)
	}
	if identity != nil {
		slog.Info("existing user logged in",
			slog.String("user_id", identity.UserID),
			slog.String("provider", info.Provider),
		)
		return identity.UserID, nil
	}

	now := s.now()

	existing, err := s.userRepo.FindByEmail(ctx, info.Email)
	if err != nil {
		return "", fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		if err := s.identRepo.Create(ctx, &model.Identity{
			ID:             uuid.New().String(),
			UserID:         existing.ID,
			Provider:       info.Provider,
			ProviderUserID: info.ProviderUserID,
			CreatedAt:      now,
		}); err != nil {
			return "", fmt.Errorf("failed to link identity: %w", err)
		}
		slog.Info("identity linked to existing user",
			slog.String("user_id", existing.ID),
			slog.String("provider", info.Provider),
		)
		return existing.ID, nil
	}

	newUser := &model.User{
		ID:        uuid.New().String(),
		Email:     info.Email,
		Name:      info.Name,
		AvatarURL: info.AvatarURL,
		CreatedAt: now,
		UpdatedAt: now,
	}
	newIdentity := &model.Identity{
		ID:             uuid.New().String(),
		UserID:         newUser.ID,
		Provider:       info.Provider,
		ProviderUserID: info.ProviderUserID,
		CreatedAt:      now,
	}

	if err := s.userRepo.CreateWithIdentity(ctx, newUser, newIdentity); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// 同時サインインで先に作成された場合は既存ユーザーを使う
			if again, findErr := s.userRepo.FindByEmail(ctx, info.Email); findErr == nil && again != nil {
				return again.ID, nil
			}
		}
		return "", fmt.Errorf("failed to create user and identity: %w", err)
	}

	slog.Info("new user created",
		slog.String("user_id", newUser.ID),
		slog.String("email", info.Email),
		slog.String("provider", info.Provider),
	)
	return newUser.ID, nil
}

// signIn はセッションを発行し、signed_inイベントを配信する。
func (s *Service) signIn(ctx context.Context, userID string) (*model.Session, error) {
	session, err := s.createSession(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	s.publish(ctx, Event{Type: EventSignedIn, SessionID: session.ID, UserID: userID})
	return session, nil
}

// publish はイベントを配信する。配信失敗は認証処理自体を失敗させない。
func (s *Service) publish(ctx context.Context, event Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish auth event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, userID string) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    userID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}

	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return session, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
