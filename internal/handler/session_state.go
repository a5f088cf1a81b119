package handler

import (
	"context"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/authstate"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
)

// SessionState はハンドラーが利用するセッションごとの認証状態の操作。
// *authstate.Store が実装する。
type SessionState interface {
	Settled(ctx context.Context) (authstate.State, error)
	SignInWithMagicLink(ctx context.Context, email, redirectTo string) error
	SignInWithGoogle(state, redirectTo string) (*auth.SignInStart, error)
	SignOut(ctx context.Context) error
	UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.Profile, error)
	SwitchOrganization(ctx context.Context, organizationID string) (*model.CurrentOrganization, error)
	CreateOrganization(ctx context.Context, name, slug string) (*model.Organization, error)
	RefreshUserData(ctx context.Context) error
}

// SessionStates はセッションIDから認証状態を引き当てる。
type SessionStates interface {
	// Get はセッションIDに対応する認証状態を返す。空のセッションIDは未ログイン状態。
	Get(ctx context.Context, sessionID string) (SessionState, error)
	// Remove はセッションの認証状態を破棄する。
	Remove(sessionID string)
}

// stateFor はリクエストのセッションに対応する認証状態を返す。
func stateFor(ctx context.Context, states SessionStates) (SessionState, error) {
	return states.Get(ctx, middleware.SessionIDFromContext(ctx))
}
