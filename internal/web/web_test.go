package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/authstate"
	"github.com/hitoshi/momentum/internal/deliverable"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/organization"
)

// --- モック定義 ---

type fakeStates struct {
	states map[string]authstate.State
	err    error
}

func (f *fakeStates) State(ctx context.Context, sessionID string) (authstate.State, error) {
	if f.err != nil {
		return authstate.State{}, f.err
	}
	return f.states[sessionID], nil
}

type fakeDeliverables struct {
	list     []deliverable.Summary
	listErr  error
	items    map[string]*model.Deliverable
	brand    model.BrandSettings
	brandErr error
}

func (f *fakeDeliverables) List(ctx context.Context) ([]deliverable.Summary, error) {
	return f.list, f.listErr
}

func (f *fakeDeliverables) Get(ctx context.Context, id string) (*model.Deliverable, error) {
	if d, ok := f.items[id]; ok {
		return d, nil
	}
	return nil, model.NewDeliverableNotFoundError(id)
}

func (f *fakeDeliverables) BrandSettings(ctx context.Context) (model.BrandSettings, error) {
	return f.brand, f.brandErr
}

type fakeOrganizations struct {
	getFn func(ctx context.Context, userID, orgID string) (*organization.Detail, error)
}

func (f *fakeOrganizations) Get(ctx context.Context, userID, orgID string) (*organization.Detail, error) {
	if f.getFn != nil {
		return f.getFn(ctx, userID, orgID)
	}
	return nil, model.NewNotMemberError(orgID)
}

func signedIn() authstate.State {
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

type testPages struct {
	states        *fakeStates
	deliverables  *fakeDeliverables
	organizations *fakeOrganizations
	router        http.Handler
}

func newTestPages(t *testing.T) *testPages {
	t.Helper()
	tp := &testPages{
		states:        &fakeStates{states: map[string]authstate.State{"sess-1": signedIn()}},
		deliverables:  &fakeDeliverables{items: map[string]*model.Deliverable{}},
		organizations: &fakeOrganizations{},
	}
	pages, err := New(tp.states, tp.deliverables, tp.organizations)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r := chi.NewRouter()
	pages.Register(r)
	tp.router = r
	return tp
}

// get はページを取得する。sessionIDが空の場合は未ログインのリクエストになる。
func (tp *testPages) get(path, sessionID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if sessionID != "" {
		req = req.WithContext(middleware.ContextWithSession(req.Context(), sessionID, "user-1"))
	}
	w := httptest.NewRecorder()
	tp.router.ServeHTTP(w, req)
	return w
}

func assertContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, s := range want {
		if !strings.Contains(body, s) {
			t.Errorf("body does not contain %q", s)
		}
	}
}

// --- テスト ---

func TestNew_ParsesAllTemplates(t *testing.T) {
	pages, err := New(&fakeStates{}, &fakeDeliverables{}, &fakeOrganizations{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, name := range pageNames {
		if pages.templates[name] == nil {
			t.Errorf("template %q not loaded", name)
		}
	}
}

func TestHome(t *testing.T) {
	tp := newTestPages(t)

	t.Run("未ログイン", func(t *testing.T) {
		w := tp.get("/", "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
			t.Errorf("Content-Type = %q", ct)
		}
		assertContains(t, w.Body.String(), "Welcome to Momentum", `href="/signin"`, "Create Your First Deliverable")
	})

	t.Run("ログイン済み", func(t *testing.T) {
		w := tp.get("/", "sess-1")
		body := w.Body.String()
		assertContains(t, body, `href="/dashboard"`, "Acme", "Sign out", `data-api="/auth/logout"`)
		if strings.Contains(body, `href="/signin"`) {
			t.Error("signed-in navbar should not link to /signin")
		}
	})
}

func TestPricing(t *testing.T) {
	tp := newTestPages(t)

	w := tp.get("/pricing", "")

	assertContains(t, w.Body.String(), "Starter", "Professional", "Enterprise", "Most Popular", "$79")
}

func TestSignIn(t *testing.T) {
	tp := newTestPages(t)

	tests := []struct {
		name  string
		path  string
		wants []string
	}{
		{
			name:  "遷移先を引き継ぐ",
			path:  "/signin?redirectTo=%2Fsettings",
			wants: []string{`name="redirect_to" value="/settings"`, "/auth/google/login?redirectTo=%2fsettings"},
		},
		{
			name:  "外部URLは既定値に置き換える",
			path:  "/signin?redirectTo=%2F%2Fevil.example.com",
			wants: []string{`name="redirect_to" value="/dashboard"`},
		},
		{
			name:  "期限切れリンクのエラー",
			path:  "/signin?error=magic_link_expired",
			wants: []string{"This sign-in link has expired."},
		},
		{
			name:  "不明なエラーコード",
			path:  "/signin?error=something_else",
			wants: []string{defaultSignInError},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tp.get(tt.path, "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			assertContains(t, w.Body.String(), tt.wants...)
		})
	}
}

func TestDashboard(t *testing.T) {
	tp := newTestPages(t)
	tp.deliverables.list = []deliverable.Summary{
		{ID: "d-1", ClientName: "Globex", CreatedAt: "2026-10-01T10:00:00Z", Excerpt: "Quarterly plan"},
	}

	w := tp.get("/dashboard", "sess-1")

	assertContains(t, w.Body.String(), "Your Deliverables", "Globex", "Quarterly plan", `href="/deliverables/d-1"`, `href="/deliverables/d-1/download"`)
}

func TestDashboard_Empty(t *testing.T) {
	tp := newTestPages(t)

	w := tp.get("/dashboard", "sess-1")

	assertContains(t, w.Body.String(), "No deliverables yet.")
}

func TestDashboard_ListErrorStillRenders(t *testing.T) {
	tp := newTestPages(t)
	tp.deliverables.listErr = model.NewBackendFailedError("")

	w := tp.get("/dashboard", "sess-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	assertContains(t, body, "Unable to load deliverables.")
	if strings.Contains(body, "No deliverables yet.") {
		t.Error("empty-state message should not be shown on error")
	}
}

func TestNew_BrandPrefill(t *testing.T) {
	t.Run("保存済みの設定", func(t *testing.T) {
		tp := newTestPages(t)
		tp.deliverables.brand = model.BrandSettings{PrimaryColor: "#000000", SecondaryColor: "#FFFFFF"}

		w := tp.get("/new", "sess-1")

		assertContains(t, w.Body.String(),
			`name="primary_color" value="#000000"`,
			`name="template_type" value="action_plan"`,
			`data-api="/api/deliverables/generate"`,
			`data-api="/api/deliverables/upload"`,
		)
	})

	t.Run("取得失敗時はデフォルト", func(t *testing.T) {
		tp := newTestPages(t)
		tp.deliverables.brandErr = errors.New("backend down")

		w := tp.get("/new", "sess-1")

		assertContains(t, w.Body.String(), `name="primary_color" value="`+model.DefaultPrimaryColor+`"`)
	})
}

func TestSettings(t *testing.T) {
	tp := newTestPages(t)
	tp.deliverables.brand = model.BrandSettings{LogoURL: "https://cdn.example.com/logo.png"}

	w := tp.get("/settings", "sess-1")

	assertContains(t, w.Body.String(), "Brand Settings", `value="`+model.DefaultSecondaryColor+`"`, `src="https://cdn.example.com/logo.png"`)
}

func TestProfile(t *testing.T) {
	tp := newTestPages(t)

	w := tp.get("/profile", "sess-1")

	assertContains(t, w.Body.String(),
		`value="Jane"`,
		`href="/api/me/export"`,
		`data-api="/api/users/me"`,
		"DELETE MY ACCOUNT",
		`href="/organizations/org-1"`,
	)
}

func TestOrganizations(t *testing.T) {
	tp := newTestPages(t)
	st := signedIn()
	other := model.Membership{ID: "m-2", OrganizationID: "org-2", Role: model.RoleMember, Organization: model.Organization{ID: "org-2", Name: "Initech", Slug: "initech"}}
	st.Organizations = append(st.Organizations, other)
	tp.states.states["sess-1"] = st

	w := tp.get("/organizations", "sess-1")

	body := w.Body.String()
	assertContains(t, body, "Acme", "Initech", "Current", `name="organization_id" value="org-2"`, "Create New Organization")
	if strings.Contains(body, `name="organization_id" value="org-1"`) {
		t.Error("current organization should not offer a switch button")
	}
}

func TestOrganization(t *testing.T) {
	detail := &organization.Detail{
		Organization: model.Organization{ID: "org-1", Name: "Acme", Slug: "acme"},
		Membership:   model.Membership{ID: "m-1", Role: model.RoleAdmin},
		Members: []model.Member{
			{ID: "m-1", UserID: "user-1", Role: model.RoleAdmin, Email: "jane@example.com", Name: "Jane"},
			{ID: "m-2", UserID: "user-2", Role: model.RoleMember, Email: "bob@example.com"},
		},
		CanManageMembers: true,
	}

	t.Run("管理者", func(t *testing.T) {
		tp := newTestPages(t)
		var gotUser, gotOrg string
		tp.organizations.getFn = func(ctx context.Context, userID, orgID string) (*organization.Detail, error) {
			gotUser, gotOrg = userID, orgID
			return detail, nil
		}

		w := tp.get("/organizations/org-1", "sess-1")

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if gotUser != "user-1" || gotOrg != "org-1" {
			t.Errorf("Get(%q, %q), want (user-1, org-1)", gotUser, gotOrg)
		}
		body := w.Body.String()
		assertContains(t, body,
			"bob@example.com",
			"Invite Member",
			`data-api="/api/organizations/org-1/members/m-2"`,
			`data-api="/api/organizations/org-1/leave"`,
		)
		if strings.Contains(body, `data-api="/api/organizations/org-1/members/m-1"`) {
			t.Error("caller should not be offered to remove themselves")
		}
	})

	t.Run("非メンバーは403", func(t *testing.T) {
		tp := newTestPages(t)

		w := tp.get("/organizations/org-9", "sess-1")

		if w.Code != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
	})
}

func TestDeliverable(t *testing.T) {
	tp := newTestPages(t)
	tp.deliverables.items["d-1"] = &model.Deliverable{ID: "d-1", ClientName: "Globex", HTML: "<h1>Action Plan</h1><p>Next steps</p>"}

	w := tp.get("/deliverables/d-1", "sess-1")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	assertContains(t, w.Body.String(), "<h1>Action Plan</h1><p>Next steps</p>", `href="/deliverables/d-1/download"`)
}

func TestDeliverable_NotFound(t *testing.T) {
	tp := newTestPages(t)

	w := tp.get("/deliverables/missing", "sess-1")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	assertContains(t, w.Body.String(), "missing")
}

func TestPage_StateErrorRendersErrorPage(t *testing.T) {
	tp := newTestPages(t)
	tp.states.err = errors.New("database unavailable")

	w := tp.get("/dashboard", "sess-1")

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	assertContains(t, w.Body.String(), "ページを表示できませんでした。")
}

func TestStatic(t *testing.T) {
	tp := newTestPages(t)

	for _, path := range []string{"/static/app.js", "/static/app.css"} {
		w := tp.get(path, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
	w := tp.get("/static/app.js", "")
	assertContains(t, w.Body.String(), "X-CSRF-Token")
}
