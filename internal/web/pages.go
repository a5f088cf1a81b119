package web

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/deliverable"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/organization"
	"github.com/hitoshi/momentum/internal/user"
)

// plan は料金ページに表示するプラン。
type plan struct {
	Name         string
	Description  string
	MonthlyPrice int
	AnnualPrice  int
	Features     []string
	Popular      bool
	CTA          string
	Href         string
}

var plans = []plan{
	{
		Name:         "Starter",
		Description:  "Perfect for individual coaches getting started",
		MonthlyPrice: 29,
		AnnualPrice:  24,
		Features: []string{
			"Up to 10 deliverables per month",
			"AI-powered content processing",
			"Basic brand customization",
			"PDF exports",
			"Email support",
			"14-day free trial",
		},
		CTA:  "Start Free Trial",
		Href: "/new",
	},
	{
		Name:         "Professional",
		Description:  "For growing coaching businesses",
		MonthlyPrice: 79,
		AnnualPrice:  65,
		Features: []string{
			"Up to 50 deliverables per month",
			"Advanced AI processing",
			"Full brand customization",
			"Priority support",
			"Team collaboration",
			"Custom templates",
		},
		Popular: true,
		CTA:     "Start Free Trial",
		Href:    "/new",
	},
	{
		Name:         "Enterprise",
		Description:  "For large consulting firms",
		MonthlyPrice: 199,
		AnnualPrice:  165,
		Features: []string{
			"Unlimited deliverables",
			"White-label solution",
			"API access",
			"Dedicated support",
			"SSO integration",
		},
		CTA:  "Contact Sales",
		Href: "mailto:sales@momentum.app",
	},
}

// signInErrors はサインイン画面の ?error= に対応するメッセージ。
var signInErrors = map[string]string{
	strings.ToLower(model.ErrCodeMagicLinkInvalid): "This sign-in link is invalid. Please request a new one.",
	strings.ToLower(model.ErrCodeMagicLinkExpired): "This sign-in link has expired. Please request a new one.",
	strings.ToLower(model.ErrCodeMagicLinkUsed):    "This sign-in link has already been used. Please request a new one.",
	strings.ToLower(model.ErrCodeUnauthorized):     "Google sign-in failed. Please try again.",
}

const defaultSignInError = "Sign-in failed. Please try again."

type signInContent struct {
	RedirectTo string
	Error      string
}

type dashboardContent struct {
	Deliverables []deliverable.Summary
	Error        string
}

type newContent struct {
	Brand        model.BrandSettings
	TemplateType string
}

type profileContent struct {
	DeleteConfirmation string
}

type organizationContent struct {
	Detail *organization.Detail
	Roles  []model.Role
}

type deliverableContent struct {
	Deliverable *model.Deliverable
	HTML        template.HTML
}

// Home はトップページ。
// GET /
func (p *Pages) Home(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}
	p.render(w, http.StatusOK, pageHome, pageData{
		Title: "Momentum – Turn sessions into polished deliverables",
		State: st,
	})
}

// Pricing は料金ページ。
// GET /pricing
func (p *Pages) Pricing(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}
	p.render(w, http.StatusOK, pagePricing, pageData{
		Title:   "Pricing – Momentum",
		Nav:     pagePricing,
		State:   st,
		Content: plans,
	})
}

// SignIn はサインインページ。マジックリンクとGoogleサインインを提供する。
// GET /signin?redirectTo=/path&error=code
func (p *Pages) SignIn(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	q := r.URL.Query()
	content := signInContent{RedirectTo: auth.SafeRedirectPath(q.Get("redirectTo"))}
	if code := q.Get("error"); code != "" {
		content.Error = defaultSignInError
		if msg, ok := signInErrors[code]; ok {
			content.Error = msg
		}
	}

	p.render(w, http.StatusOK, pageSignIn, pageData{
		Title:   "Sign in – Momentum",
		State:   st,
		Content: content,
	})
}

// Dashboard は成果物の一覧ページ。
// 一覧の取得に失敗してもページは表示し、エラーメッセージを添える。
// GET /dashboard
func (p *Pages) Dashboard(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	content := dashboardContent{}
	content.Deliverables, err = p.deliverables.List(r.Context())
	if err != nil {
		slog.Error("failed to list deliverables", slog.String("error", err.Error()))
		content.Error = "Unable to load deliverables. Please try again later."
	}

	p.render(w, http.StatusOK, pageDashboard, pageData{
		Title:   "Dashboard – Momentum",
		Nav:     pageDashboard,
		State:   st,
		Content: content,
	})
}

// New は成果物の作成ページ。ブランド設定を初期値として埋め込む。
// GET /new
func (p *Pages) New(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	p.render(w, http.StatusOK, pageNew, pageData{
		Title: "New Deliverable – Momentum",
		Nav:   pageNew,
		State: st,
		Content: newContent{
			Brand:        p.brand(r),
			TemplateType: model.TemplateActionPlan,
		},
	})
}

// Settings はブランド設定ページ。
// GET /settings
func (p *Pages) Settings(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	p.render(w, http.StatusOK, pageSettings, pageData{
		Title:   "Brand Settings – Momentum",
		Nav:     pageSettings,
		State:   st,
		Content: p.brand(r),
	})
}

// brand は保存済みのブランド設定を返す。取得できない場合はデフォルトカラーを使う。
func (p *Pages) brand(r *http.Request) model.BrandSettings {
	settings, err := p.deliverables.BrandSettings(r.Context())
	if err != nil {
		slog.Warn("failed to load brand settings; using defaults", slog.String("error", err.Error()))
		return model.BrandSettings{}.WithDefaults()
	}
	return settings.WithDefaults()
}

// Profile はプロフィールページ。データのエクスポートとアカウント削除を含む。
// GET /profile
func (p *Pages) Profile(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	p.render(w, http.StatusOK, pageProfile, pageData{
		Title:   "Profile – Momentum",
		Nav:     pageProfile,
		State:   st,
		Content: profileContent{DeleteConfirmation: user.DeleteConfirmation},
	})
}

// Organizations は所属組織の一覧ページ。
// GET /organizations
func (p *Pages) Organizations(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	p.render(w, http.StatusOK, pageOrgs, pageData{
		Title: "Organizations – Momentum",
		Nav:   pageOrgs,
		State: st,
	})
}

// Organization は組織の詳細とメンバー管理ページ。
// GET /organizations/{id}
func (p *Pages) Organization(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}
	if !st.Authenticated() {
		p.renderError(w, st, model.NewUnauthorizedError())
		return
	}

	detail, err := p.organizations.Get(r.Context(), st.User.ID, chi.URLParam(r, "id"))
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	p.render(w, http.StatusOK, pageOrgDetail, pageData{
		Title: detail.Organization.Name + " – Momentum",
		Nav:   pageOrgs,
		State: st,
		Content: organizationContent{
			Detail: detail,
			Roles:  []model.Role{model.RoleViewer, model.RoleMember, model.RoleAdmin, model.RoleOwner},
		},
	})
}

// Deliverable は成果物の表示ページ。HTMLはサービス層でサニタイズ済み。
// GET /deliverables/{id}
func (p *Pages) Deliverable(w http.ResponseWriter, r *http.Request) {
	st, err := p.state(r)
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	d, err := p.deliverables.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		p.renderError(w, st, err)
		return
	}

	p.render(w, http.StatusOK, pageDeliverable, pageData{
		Title: d.ClientName + " – Momentum",
		Nav:   pageDashboard,
		State: st,
		Content: deliverableContent{
			Deliverable: d,
			HTML:        template.HTML(d.HTML),
		},
	})
}
