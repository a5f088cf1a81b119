// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
)

const (
	sessionCookieName   = middleware.SessionCookieName
	oauthStateCookie    = "oauth_state"
	oauthRedirectCookie = "oauth_redirect"
	oauthCookieMaxAge   = 600 // 10分
)

// サインイン方式（メトリクスのラベル）
const (
	signInGoogle    = "google"
	signInMagicLink = "magic_link"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	ConsumeMagicLink(ctx context.Context, token string) (*model.Session, string, error)
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// SignInRecorder はサインイン成功を記録する。
type SignInRecorder interface {
	RecordSignIn(method string)
}

type nopSignInRecorder struct{}

func (nopSignInRecorder) RecordSignIn(string) {}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL       string
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインイン・サインアウト関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	states   SessionStates
	config   AuthHandlerConfig
	cookies  cookieConfig
	recorder SignInRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderがnilの場合は記録しない。
func NewAuthHandler(service AuthServiceInterface, states SessionStates, config AuthHandlerConfig, recorder SignInRecorder) *AuthHandler {
	if recorder == nil {
		recorder = nopSignInRecorder{}
	}
	return &AuthHandler{
		service:  service,
		states:   states,
		config:   config,
		cookies:  cookieConfig{Domain: config.CookieDomain, Secure: config.CookieSecure},
		recorder: recorder,
	}
}

// Login はGoogle OAuthフローを開始する。
// GET /auth/google/login?redirectTo=/path
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		slog.Error("failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	st, err := stateFor(r.Context(), h.states)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	start, err := st.SignInWithGoogle(state, r.URL.Query().Get("redirectTo"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateとサインイン後の遷移先をCookieに保存（CSRF対策）
	h.cookies.set(w, oauthStateCookie, state, oauthCookieMaxAge)
	h.cookies.set(w, oauthRedirectCookie, url.QueryEscape(start.RedirectTo), oauthCookieMaxAge)

	http.Redirect(w, r, start.URL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/google/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	// 1. stateの検証（CSRF対策）
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state mismatch",
			slog.String("query_state", state),
		)
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	h.cookies.clear(w, oauthStateCookie)

	redirectTo := auth.DefaultRedirectPath
	if c, err := r.Cookie(oauthRedirectCookie); err == nil {
		if v, err := url.QueryUnescape(c.Value); err == nil {
			redirectTo = auth.SafeRedirectPath(v)
		}
		h.cookies.clear(w, oauthRedirectCookie)
	}

	// 2. 認可コードの取得
	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. 認証処理
	session, err := h.service.HandleCallback(r.Context(), code)
	if err != nil {
		slog.Error("oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	// 4. セッションCookieを設定してサインイン後の画面へ
	h.cookies.set(w, sessionCookieName, session.ID, h.config.SessionMaxAge)
	h.recorder.RecordSignIn(signInGoogle)
	http.Redirect(w, r, redirectTo, http.StatusTemporaryRedirect)
}

// magicLinkRequest はサインインリンク送信リクエストのボディ。
type magicLinkRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to"`
}

// RequestMagicLink はサインインリンクをメールで送信する。
// POST /auth/magic-link
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	st, err := stateFor(r.Context(), h.states)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if err := st.SignInWithMagicLink(r.Context(), req.Email, req.RedirectTo); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "sent",
		"email":  strings.TrimSpace(req.Email),
	})
}

// MagicLinkCallback はメール内のサインインリンクを処理する。
// 失敗した場合はエラーコードを付けてサインイン画面に戻す。
// GET /auth/callback?token=xxx
func (h *AuthHandler) MagicLinkCallback(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		redirectToSignIn(w, r, model.ErrCodeMagicLinkInvalid)
		return
	}

	session, redirectTo, err := h.service.ConsumeMagicLink(r.Context(), token)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			slog.Warn("magic link rejected", slog.String("code", apiErr.Code))
			redirectToSignIn(w, r, apiErr.Code)
			return
		}
		slog.Error("magic link sign-in failed", slog.String("error", err.Error()))
		redirectToSignIn(w, r, model.ErrCodeInternal)
		return
	}

	h.cookies.set(w, sessionCookieName, session.ID, h.config.SessionMaxAge)
	h.recorder.RecordSignIn(signInMagicLink)
	http.Redirect(w, r, auth.SafeRedirectPath(redirectTo), http.StatusSeeOther)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		h.signOut(r.Context(), cookie.Value)
	}

	// サインアウトに失敗してもCookieはクリアする
	h.cookies.clear(w, sessionCookieName)

	http.Redirect(w, r, h.config.BaseURL, http.StatusSeeOther)
}

func (h *AuthHandler) signOut(ctx context.Context, sessionID string) {
	defer h.states.Remove(sessionID)

	st, err := h.states.Get(ctx, sessionID)
	if err != nil {
		slog.Error("failed to load session state", slog.String("error", err.Error()))
		return
	}
	if err := st.SignOut(ctx); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"avatar_url": user.AvatarURL,
	})
}

// redirectToSignIn はエラーコードを付けてサインイン画面にリダイレクトする。
func redirectToSignIn(w http.ResponseWriter, r *http.Request, code string) {
	target := middleware.SignInPath + "?" + url.Values{"error": {strings.ToLower(code)}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
