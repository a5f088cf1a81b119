package handler

import (
	"context"

	"github.com/hitoshi/momentum/internal/authstate"
	"github.com/hitoshi/momentum/internal/deliverable"
	"github.com/hitoshi/momentum/internal/organization"
	"github.com/hitoshi/momentum/internal/user"
)

// RegistryAdapter は authstate.Registry を SessionStates に適合させるアダプタ。
type RegistryAdapter struct {
	registry *authstate.Registry
}

// NewRegistryAdapter はRegistryAdapterを生成する。
func NewRegistryAdapter(registry *authstate.Registry) *RegistryAdapter {
	return &RegistryAdapter{registry: registry}
}

// Get はセッションIDに対応する認証状態ストアを返す。
func (a *RegistryAdapter) Get(ctx context.Context, sessionID string) (SessionState, error) {
	store, err := a.registry.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Remove はセッションの認証状態ストアを破棄する。
func (a *RegistryAdapter) Remove(sessionID string) {
	a.registry.Remove(sessionID)
}

// --- compile-time interface checks ---

var _ SessionStates = (*RegistryAdapter)(nil)
var _ SessionState = (*authstate.Store)(nil)
var _ UserServiceInterface = (*user.Service)(nil)
var _ OrganizationServiceInterface = (*organization.Service)(nil)
var _ DeliverableServiceInterface = (*deliverable.Service)(nil)
