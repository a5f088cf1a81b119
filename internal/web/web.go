// Package web はサーバーサイドでレンダリングするHTMLページを提供する。
// 画面の状態変更はstatic/app.jsが /api と /auth にfetchで送信する。
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/authstate"
	"github.com/hitoshi/momentum/internal/deliverable"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/organization"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// ページ名（templates/<name>.html）
const (
	pageHome         = "home"
	pagePricing      = "pricing"
	pageSignIn       = "signin"
	pageDashboard    = "dashboard"
	pageNew          = "new"
	pageSettings     = "settings"
	pageProfile      = "profile"
	pageOrgs         = "organizations"
	pageOrgDetail    = "organization"
	pageDeliverable  = "deliverable"
	pageError        = "error"
	layoutTemplate   = "layout"
	layoutFile       = "templates/layout.html"
	templateFilePath = "templates/%s.html"
)

var pageNames = []string{
	pageHome, pagePricing, pageSignIn, pageDashboard, pageNew, pageSettings,
	pageProfile, pageOrgs, pageOrgDetail, pageDeliverable, pageError,
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02")
	},
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}

// States はセッションIDから確定済みの認証状態を返す。
type States interface {
	State(ctx context.Context, sessionID string) (authstate.State, error)
}

// Deliverables はページ表示に必要な成果物の読み取り操作。
type Deliverables interface {
	List(ctx context.Context) ([]deliverable.Summary, error)
	Get(ctx context.Context, id string) (*model.Deliverable, error)
	BrandSettings(ctx context.Context) (model.BrandSettings, error)
}

// Organizations は組織詳細の読み取り操作。
type Organizations interface {
	Get(ctx context.Context, userID, orgID string) (*organization.Detail, error)
}

// Pages はHTMLページのハンドラー群。
type Pages struct {
	states        States
	deliverables  Deliverables
	organizations Organizations
	templates     map[string]*template.Template
}

// New はテンプレートを読み込んでPagesを生成する。
func New(states States, deliverables Deliverables, organizations Organizations) (*Pages, error) {
	templates := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).Funcs(funcs).ParseFS(templatesFS, layoutFile, fmt.Sprintf(templateFilePath, name))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		templates[name] = t
	}
	return &Pages{
		states:        states,
		deliverables:  deliverables,
		organizations: organizations,
		templates:     templates,
	}, nil
}

// Register はページと静的ファイルのルートを登録する。
func (p *Pages) Register(r chi.Router) {
	static, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	r.Get("/", p.Home)
	r.Get("/pricing", p.Pricing)
	r.Get("/signin", p.SignIn)
	r.Get("/signup", p.SignIn)
	r.Get("/dashboard", p.Dashboard)
	r.Get("/new", p.New)
	r.Get("/settings", p.Settings)
	r.Get("/profile", p.Profile)
	r.Get("/organizations", p.Organizations)
	r.Get("/organizations/{id}", p.Organization)
	r.Get("/deliverables/{id}", p.Deliverable)
}

// pageData はレイアウトに渡す共通データ。
type pageData struct {
	Title   string
	Nav     string
	State   authstate.State
	Content any
}

// state はリクエストのセッションに対応する認証状態を返す。
func (p *Pages) state(r *http.Request) (authstate.State, error) {
	return p.states.State(r.Context(), middleware.SessionIDFromContext(r.Context()))
}

// render はページをバッファに描画してから書き込む。描画途中のエラーで壊れたHTMLを返さない。
func (p *Pages) render(w http.ResponseWriter, status int, name string, data pageData) {
	t, ok := p.templates[name]
	if !ok {
		slog.Error("unknown page template", slog.String("page", name))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, layoutTemplate, data); err != nil {
		slog.Error("failed to render page",
			slog.String("page", name),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// errorContent はエラーページの表示内容。
type errorContent struct {
	Status  int
	Message string
	Action  string
}

// renderError はエラーをエラーページとして描画する。
func (p *Pages) renderError(w http.ResponseWriter, st authstate.State, err error) {
	content := errorContent{
		Status:  http.StatusInternalServerError,
		Message: "ページを表示できませんでした。",
		Action:  "しばらく待ってから再度お試しください。",
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		content.Status = middleware.StatusForError(apiErr)
		content.Message = apiErr.Message
		content.Action = apiErr.Action
	} else {
		slog.Error("page error", slog.String("error", err.Error()))
	}

	p.render(w, content.Status, pageError, pageData{
		Title:   http.StatusText(content.Status),
		State:   st,
		Content: content,
	})
}

// RegistryStates は authstate.Registry を States に適合させる。
func RegistryStates(registry *authstate.Registry) States {
	return registryStates{registry: registry}
}

type registryStates struct {
	registry *authstate.Registry
}

func (s registryStates) State(ctx context.Context, sessionID string) (authstate.State, error) {
	store, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return authstate.State{}, err
	}
	return store.Settled(ctx)
}
