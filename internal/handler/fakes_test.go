package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/authstate"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
)

// mockSessionState はSessionStateのモック。
type mockSessionState struct {
	state authstate.State

	signInWithMagicLinkFn func(ctx context.Context, email, redirectTo string) error
	signInWithGoogleFn    func(state, redirectTo string) (*auth.SignInStart, error)
	signOutFn             func(ctx context.Context) error
	updateProfileFn       func(ctx context.Context, update model.ProfileUpdate) (*model.Profile, error)
	switchOrganizationFn  func(ctx context.Context, organizationID string) (*model.CurrentOrganization, error)
	createOrganizationFn  func(ctx context.Context, name, slug string) (*model.Organization, error)

	refreshed int
	signedOut int
}

func (m *mockSessionState) Settled(ctx context.Context) (authstate.State, error) {
	return m.state, nil
}

func (m *mockSessionState) SignInWithMagicLink(ctx context.Context, email, redirectTo string) error {
	if m.signInWithMagicLinkFn != nil {
		return m.signInWithMagicLinkFn(ctx, email, redirectTo)
	}
	return nil
}

func (m *mockSessionState) SignInWithGoogle(state, redirectTo string) (*auth.SignInStart, error) {
	if m.signInWithGoogleFn != nil {
		return m.signInWithGoogleFn(state, redirectTo)
	}
	return &auth.SignInStart{URL: "https://accounts.google.com/o/oauth2/auth?state=" + state, RedirectTo: auth.SafeRedirectPath(redirectTo)}, nil
}

func (m *mockSessionState) SignOut(ctx context.Context) error {
	m.signedOut++
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

func (m *mockSessionState) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.Profile, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, update)
	}
	return nil, model.ErrNotAuthenticated
}

func (m *mockSessionState) SwitchOrganization(ctx context.Context, organizationID string) (*model.CurrentOrganization, error) {
	if m.switchOrganizationFn != nil {
		return m.switchOrganizationFn(ctx, organizationID)
	}
	return nil, model.NewNotMemberError(organizationID)
}

func (m *mockSessionState) CreateOrganization(ctx context.Context, name, slug string) (*model.Organization, error) {
	if m.createOrganizationFn != nil {
		return m.createOrganizationFn(ctx, name, slug)
	}
	return nil, model.ErrNotAuthenticated
}

func (m *mockSessionState) RefreshUserData(ctx context.Context) error {
	m.refreshed++
	return nil
}

// mockSessionStates はセッションIDごとにmockSessionStateを返す。
// 未登録のセッションIDには anonymous を返す。
type mockSessionStates struct {
	mu        sync.Mutex
	states    map[string]*mockSessionState
	anonymous *mockSessionState
	removed   []string
	getErr    error
}

func newMockSessionStates() *mockSessionStates {
	return &mockSessionStates{
		states:    make(map[string]*mockSessionState),
		anonymous: &mockSessionState{},
	}
}

func (m *mockSessionStates) with(sessionID string, st *mockSessionState) *mockSessionStates {
	m.states[sessionID] = st
	return m
}

func (m *mockSessionStates) Get(ctx context.Context, sessionID string) (SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if st, ok := m.states[sessionID]; ok {
		return st, nil
	}
	return m.anonymous, nil
}

func (m *mockSessionStates) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, sessionID)
}

// signedInState はサインイン済みの状態を返す。
func signedInState() authstate.State {
	org := model.Organization{ID: "org-1", Name: "Acme", Slug: "acme"}
	membership := model.Membership{ID: "m-1", UserID: "user-1", OrganizationID: "org-1", Role: model.RoleOwner, Organization: org}
	return authstate.State{
		Session:             &model.Session{ID: "sess-1", UserID: "user-1"},
		User:                &model.User{ID: "user-1", Email: "jane@example.com", Name: "Jane"},
		Profile:             &model.Profile{ID: "user-1", Email: "jane@example.com", Name: "Jane"},
		Organizations:       []model.Membership{membership},
		CurrentOrganization: model.NewCurrentOrganization(membership),
	}
}

// withSession はテスト用にセッションIDとユーザーIDをコンテキストに注入するヘルパー。
func withSession(r *http.Request, sessionID, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), sessionID, userID))
}

// withUserID はテスト用にユーザーIDをコンテキストに注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(r.Context(), userID)
	return r.WithContext(ctx)
}

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
// key, value の組を順に指定する。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
