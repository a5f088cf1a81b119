package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/momentum/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	handleCallbackFn   func(ctx context.Context, code string) (*model.Session, error)
	consumeMagicLinkFn func(ctx context.Context, token string) (*model.Session, string, error)
	getCurrentUserFn   func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, nil
}

func (m *mockAuthService) ConsumeMagicLink(ctx context.Context, token string) (*model.Session, string, error) {
	if m.consumeMagicLinkFn != nil {
		return m.consumeMagicLinkFn(ctx, token)
	}
	return nil, "", model.NewMagicLinkInvalidError()
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

type recordingSignIns struct {
	methods []string
}

func (r *recordingSignIns) RecordSignIn(method string) {
	r.methods = append(r.methods, method)
}

var testAuthConfig = AuthHandlerConfig{
	BaseURL:       "http://localhost:8080",
	CookieDomain:  "",
	CookieSecure:  false,
	SessionMaxAge: 86400,
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- テスト ---

func TestAuthHandler_Login_RedirectsToOAuthURL(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/login?redirectTo=/new", nil)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}

	location := resp.Header.Get("Location")
	if !strings.Contains(location, "accounts.google.com") {
		t.Errorf("Location = %q, should contain google oauth URL", location)
	}

	state := findCookie(resp, oauthStateCookie)
	if state == nil || state.Value == "" {
		t.Fatal("expected oauth_state cookie")
	}
	if !strings.Contains(location, state.Value) {
		t.Errorf("Location %q should carry state %q", location, state.Value)
	}

	redirect := findCookie(resp, oauthRedirectCookie)
	if redirect == nil {
		t.Fatal("expected oauth_redirect cookie")
	}
	if v, _ := url.QueryUnescape(redirect.Value); v != "/new" {
		t.Errorf("oauth_redirect = %q, want /new", v)
	}
}

func TestAuthHandler_Callback_Success_SetsCookieAndRedirects(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{
				ID:        "session-id-abc",
				UserID:    "user-id-123",
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}, nil
		},
	}
	rec := &recordingSignIns{}
	h := NewAuthHandler(svc, newMockSessionStates(), testAuthConfig, rec)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	req.AddCookie(&http.Cookie{Name: "oauth_redirect", Value: url.QueryEscape("/organizations/org-1")})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTemporaryRedirect)
	}
	if location := resp.Header.Get("Location"); location != "/organizations/org-1" {
		t.Errorf("Location = %q, want %q", location, "/organizations/org-1")
	}

	sessionCookie := findCookie(resp, "session_id")
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be set")
	}
	if sessionCookie.Value != "session-id-abc" {
		t.Errorf("session cookie value = %q, want %q", sessionCookie.Value, "session-id-abc")
	}
	if !sessionCookie.HttpOnly {
		t.Error("session cookie should be HttpOnly")
	}
	if sessionCookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("session cookie SameSite = %v, want %v", sessionCookie.SameSite, http.SameSiteLaxMode)
	}
	if len(rec.methods) != 1 || rec.methods[0] != "google" {
		t.Errorf("recorded sign-ins = %v, want [google]", rec.methods)
	}
}

func TestAuthHandler_Callback_UnsafeRedirectFallsBackToDashboard(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return &model.Session{ID: "s"}, nil
		},
	}
	h := NewAuthHandler(svc, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=c&state=s", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "s"})
	req.AddCookie(&http.Cookie{Name: "oauth_redirect", Value: url.QueryEscape("//evil.example.com")})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if location := w.Result().Header.Get("Location"); location != "/dashboard" {
		t.Errorf("Location = %q, want /dashboard", location)
	}
}

func TestAuthHandler_Callback_MissingCode_ReturnsBadRequest(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_StateMismatch_ReturnsBadRequest(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=test-code&state=wrong-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "correct-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_Callback_AuthServiceError_ReturnsInternalError(t *testing.T) {
	svc := &mockAuthService{
		handleCallbackFn: func(ctx context.Context, code string) (*model.Session, error) {
			return nil, errors.New("auth failed")
		},
	}
	h := NewAuthHandler(svc, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?code=bad-code&state=test-state", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "test-state"})
	w := httptest.NewRecorder()

	h.Callback(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestAuthHandler_RequestMagicLink(t *testing.T) {
	states := newMockSessionStates()
	var gotEmail, gotRedirect string
	states.anonymous.signInWithMagicLinkFn = func(ctx context.Context, email, redirectTo string) error {
		gotEmail, gotRedirect = email, redirectTo
		return nil
	}
	h := NewAuthHandler(&mockAuthService{}, states, testAuthConfig, nil)

	body := `{"email":"jane@example.com","redirect_to":"/new"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(body))
	w := httptest.NewRecorder()

	h.RequestMagicLink(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if gotEmail != "jane@example.com" || gotRedirect != "/new" {
		t.Errorf("SignInWithMagicLink(%q, %q)", gotEmail, gotRedirect)
	}
}

func TestAuthHandler_RequestMagicLink_InvalidEmail(t *testing.T) {
	states := newMockSessionStates()
	states.anonymous.signInWithMagicLinkFn = func(ctx context.Context, email, redirectTo string) error {
		return model.NewInvalidEmailError(email)
	}
	h := NewAuthHandler(&mockAuthService{}, states, testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{"email":"nope"}`))
	w := httptest.NewRecorder()

	h.RequestMagicLink(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_RequestMagicLink_MalformedBody(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/magic-link", strings.NewReader(`{`))
	w := httptest.NewRecorder()

	h.RequestMagicLink(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAuthHandler_MagicLinkCallback_Success(t *testing.T) {
	svc := &mockAuthService{
		consumeMagicLinkFn: func(ctx context.Context, token string) (*model.Session, string, error) {
			if token != "tok" {
				t.Errorf("token = %q, want tok", token)
			}
			return &model.Session{ID: "sess-ml"}, "/settings", nil
		},
	}
	rec := &recordingSignIns{}
	h := NewAuthHandler(svc, newMockSessionStates(), testAuthConfig, rec)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?token=tok", nil)
	w := httptest.NewRecorder()

	h.MagicLinkCallback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}
	if location := resp.Header.Get("Location"); location != "/settings" {
		t.Errorf("Location = %q, want /settings", location)
	}
	if c := findCookie(resp, "session_id"); c == nil || c.Value != "sess-ml" {
		t.Errorf("session cookie = %+v, want sess-ml", c)
	}
	if len(rec.methods) != 1 || rec.methods[0] != "magic_link" {
		t.Errorf("recorded sign-ins = %v, want [magic_link]", rec.methods)
	}
}

func TestAuthHandler_MagicLinkCallback_Failures(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		err     error
		wantLoc string
	}{
		{"トークンなし", "", nil, "/signin?error=magic_link_invalid"},
		{"使用済み", "?token=t", model.NewMagicLinkUsedError(), "/signin?error=magic_link_used"},
		{"期限切れ", "?token=t", model.NewMagicLinkExpiredError(), "/signin?error=magic_link_expired"},
		{"内部エラー", "?token=t", errors.New("db down"), "/signin?error=internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				consumeMagicLinkFn: func(ctx context.Context, token string) (*model.Session, string, error) {
					return nil, "", tt.err
				},
			}
			h := NewAuthHandler(svc, newMockSessionStates(), testAuthConfig, nil)

			w := httptest.NewRecorder()
			h.MagicLinkCallback(w, httptest.NewRequest(http.MethodGet, "/auth/callback"+tt.query, nil))

			resp := w.Result()
			if location := resp.Header.Get("Location"); location != tt.wantLoc {
				t.Errorf("Location = %q, want %q", location, tt.wantLoc)
			}
			if findCookie(resp, "session_id") != nil {
				t.Error("session cookie should not be set")
			}
		})
	}
}

func TestAuthHandler_Logout_Success_ClearsCookieAndRedirects(t *testing.T) {
	st := &mockSessionState{state: signedInState()}
	states := newMockSessionStates().with("session-to-logout", st)
	h := NewAuthHandler(&mockAuthService{}, states, testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-to-logout"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusSeeOther)
	}

	sessionCookie := findCookie(resp, "session_id")
	if sessionCookie == nil {
		t.Fatal("expected session_id cookie to be cleared")
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("session cookie MaxAge = %d, want -1 (delete)", sessionCookie.MaxAge)
	}
	if st.signedOut != 1 {
		t.Errorf("SignOut called %d times, want 1", st.signedOut)
	}
	if len(states.removed) != 1 || states.removed[0] != "session-to-logout" {
		t.Errorf("removed = %v, want [session-to-logout]", states.removed)
	}
}

func TestAuthHandler_Logout_SignOutError_StillClearsCookie(t *testing.T) {
	st := &mockSessionState{signOutFn: func(ctx context.Context) error { return errors.New("db down") }}
	states := newMockSessionStates().with("s", st)
	h := NewAuthHandler(&mockAuthService{}, states, testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "s"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if c := findCookie(w.Result(), "session_id"); c == nil || c.MaxAge != -1 {
		t.Errorf("session cookie = %+v, want cleared", c)
	}
}

func TestAuthHandler_Logout_NoSession_StillRedirects(t *testing.T) {
	states := newMockSessionStates()
	h := NewAuthHandler(&mockAuthService{}, states, testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	w := httptest.NewRecorder()

	h.Logout(w, req)

	if w.Code != http.StatusSeeOther {
		t.Errorf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if len(states.removed) != 0 {
		t.Errorf("removed = %v, want none", states.removed)
	}
}

func TestAuthHandler_Me_Authenticated_ReturnsUserJSON(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, sessionID string) (*model.User, error) {
			return &model.User{
				ID:    "user-id-me",
				Email: "me@example.com",
				Name:  "Me User",
			}, nil
		},
	}
	h := NewAuthHandler(svc, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "valid-session"})
	w := httptest.NewRecorder()

	h.Me(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if contentType := resp.Header.Get("Content-Type"); contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}
}

func TestAuthHandler_Me_NoSession_ReturnsUnauthorized(t *testing.T) {
	h := NewAuthHandler(&mockAuthService{}, newMockSessionStates(), testAuthConfig, nil)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}
