package authstate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/repository"
)

// --- 認証バックエンドのフェイク ---

type fakeAuth struct {
	mu       sync.Mutex
	sessions map[string]*model.User
	bus      *auth.LocalBus

	sessionErr   error
	sessionGate  chan struct{} // nilでなければ閉じられるまでCurrentSessionを止める
	logoutCalls  []string
	magicEmails  []string
	googleStates []string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{
		sessions: make(map[string]*model.User),
		bus:      auth.NewLocalBus(),
	}
}

func (a *fakeAuth) signIn(sessionID string, user *model.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[sessionID] = user
}

func (a *fakeAuth) CurrentSession(_ context.Context, sessionID string) (*model.Session, *model.User, error) {
	a.mu.Lock()
	gate := a.sessionGate
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sessionErr != nil {
		return nil, nil, a.sessionErr
	}
	user, ok := a.sessions[sessionID]
	if !ok {
		return nil, nil, nil
	}
	return &model.Session{ID: sessionID, UserID: user.ID, ExpiresAt: time.Now().Add(time.Hour)}, user, nil
}

func (a *fakeAuth) RequestMagicLink(_ context.Context, email, _ string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.magicEmails = append(a.magicEmails, email)
	return nil
}

func (a *fakeAuth) BeginGoogleSignIn(state, redirectTo string) (*auth.SignInStart, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.googleStates = append(a.googleStates, state)
	return &auth.SignInStart{URL: "https://accounts.google.com/?state=" + state, RedirectTo: redirectTo}, nil
}

func (a *fakeAuth) Logout(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	user := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.logoutCalls = append(a.logoutCalls, sessionID)
	a.mu.Unlock()

	event := auth.Event{Type: auth.EventSignedOut, SessionID: sessionID}
	if user != nil {
		event.UserID = user.ID
	}
	return a.bus.Publish(ctx, event)
}

func (a *fakeAuth) Events() auth.EventBus {
	return a.bus
}

// --- リポジトリのフェイク ---

type fakeDB struct {
	mu          sync.Mutex
	profiles    map[string]*model.Profile
	orgs        map[string]*model.Organization
	memberships []model.Membership

	profileErr error
	upsertErr  error
	listErr    error
	upserts    int
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		profiles: make(map[string]*model.Profile),
		orgs:     make(map[string]*model.Organization),
	}
}

// addOrg は組織とメンバーシップを登録する。createdAtの昇順で一覧に並ぶ。
func (db *fakeDB) addOrg(userID, orgID, name string, role model.Role, createdAt time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()

	org := &model.Organization{ID: orgID, Name: name, Slug: Slugify(name), CreatedAt: createdAt, UpdatedAt: createdAt}
	db.orgs[orgID] = org
	db.memberships = append(db.memberships, model.Membership{
		ID:             "m-" + orgID + "-" + userID,
		UserID:         userID,
		OrganizationID: orgID,
		Role:           role,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
		Organization:   *org,
	})
}

type fakeProfiles struct{ db *fakeDB }

func (r fakeProfiles) FindByID(_ context.Context, id string) (*model.Profile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.profileErr != nil {
		return nil, r.db.profileErr
	}
	p, ok := r.db.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r fakeProfiles) FindByEmail(_ context.Context, email string) (*model.Profile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, p := range r.db.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r fakeProfiles) Upsert(_ context.Context, profile *model.Profile) (*model.Profile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.upserts++
	if r.db.upsertErr != nil {
		return nil, r.db.upsertErr
	}
	cp := *profile
	r.db.profiles[profile.ID] = &cp
	out := cp
	return &out, nil
}

func (r fakeProfiles) Update(_ context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.profiles[id]
	if !ok {
		return nil, nil
	}
	if update.Name != nil {
		p.Name = *update.Name
	}
	if update.AvatarURL != nil {
		if *update.AvatarURL == "" {
			p.AvatarURL = nil
		} else {
			avatar := *update.AvatarURL
			p.AvatarURL = &avatar
		}
	}
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

type fakeOrganizations struct{ db *fakeDB }

func (r fakeOrganizations) FindByID(_ context.Context, id string) (*model.Organization, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	org, ok := r.db.orgs[id]
	if !ok {
		return nil, nil
	}
	cp := *org
	return &cp, nil
}

func (r fakeOrganizations) SlugExists(_ context.Context, slug string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, org := range r.db.orgs {
		if org.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r fakeOrganizations) CreateWithOwner(_ context.Context, org *model.Organization, ownerUserID string) (*model.Membership, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.orgs {
		if existing.Slug == org.Slug {
			return nil, repository.ErrSlugConflict
		}
	}
	cp := *org
	r.db.orgs[org.ID] = &cp
	m := model.Membership{
		ID:             uuid.New().String(),
		UserID:         ownerUserID,
		OrganizationID: org.ID,
		Role:           model.RoleOwner,
		CreatedAt:      org.CreatedAt,
		UpdatedAt:      org.UpdatedAt,
		Organization:   cp,
	}
	r.db.memberships = append(r.db.memberships, m)
	return &m, nil
}

type fakeMemberships struct{ db *fakeDB }

func (r fakeMemberships) ListByUserID(_ context.Context, userID string) ([]model.Membership, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.listErr != nil {
		return nil, r.db.listErr
	}
	var out []model.Membership
	for _, m := range r.db.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r fakeMemberships) Find(_ context.Context, organizationID, userID string) (*model.Membership, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.memberships {
		if m.OrganizationID == organizationID && m.UserID == userID {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r fakeMemberships) FindByID(_ context.Context, id string) (*model.Membership, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.memberships {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, nil
}

func (r fakeMemberships) ListMembers(_ context.Context, organizationID string) ([]model.Member, error) {
	return nil, errors.New("not implemented")
}

func (r fakeMemberships) Add(_ context.Context, m *model.Membership) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.memberships = append(r.db.memberships, *m)
	return nil
}

func (r fakeMemberships) Delete(_ context.Context, id string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for i, m := range r.db.memberships {
		if m.ID == id {
			r.db.memberships = append(r.db.memberships[:i], r.db.memberships[i+1:]...)
			return nil
		}
	}
	return nil
}

func (r fakeMemberships) DeleteUnlessLastOwner(ctx context.Context, id string) error {
	r.db.mu.Lock()
	var target *model.Membership
	for i := range r.db.memberships {
		if r.db.memberships[i].ID == id {
			target = &r.db.memberships[i]
		}
	}
	if target != nil && target.Role == model.RoleOwner {
		owners := 0
		for _, m := range r.db.memberships {
			if m.OrganizationID == target.OrganizationID && m.Role == model.RoleOwner {
				owners++
			}
		}
		if owners <= 1 {
			r.db.mu.Unlock()
			return repository.ErrLastOwner
		}
	}
	r.db.mu.Unlock()
	return r.Delete(ctx, id)
}

func (r fakeMemberships) CountOwners(_ context.Context, organizationID string) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, m := range r.db.memberships {
		if m.OrganizationID == organizationID && m.Role == model.RoleOwner {
			n++
		}
	}
	return n, nil
}

// memorySelection はメモリ上に選択を保持するSelectionStore。
type memorySelection struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemorySelection() *memorySelection {
	return &memorySelection{values: make(map[string]string)}
}

func (m *memorySelection) Get(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[sessionID], nil
}

func (m *memorySelection) Set(_ context.Context, sessionID, organizationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[sessionID] = organizationID
	return nil
}

func (m *memorySelection) Remove(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, sessionID)
	return nil
}

func (m *memorySelection) value(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[sessionID]
	return v, ok
}

// --- compile-time interface checks ---
var _ Authenticator = (*fakeAuth)(nil)
var _ repository.ProfileRepository = fakeProfiles{}
var _ repository.OrganizationRepository = fakeOrganizations{}
var _ repository.MembershipRepository = fakeMemberships{}
var _ SelectionStore = (*memorySelection)(nil)

type testEnv struct {
	auth      *fakeAuth
	db        *fakeDB
	selection *memorySelection
}

func newTestEnv() *testEnv {
	return &testEnv{
		auth:      newFakeAuth(),
		db:        newFakeDB(),
		selection: newMemorySelection(),
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Auth:          e.auth,
		Profiles:      fakeProfiles{db: e.db},
		Organizations: fakeOrganizations{db: e.db},
		Memberships:   fakeMemberships{db: e.db},
		Selection:     e.selection,
	}
}
