// Package authstate はブラウザセッションごとの認証状態（ユーザー、プロフィール、
// 所属組織、選択中の組織）を保持し、認証イベントと同期させる。
//
// 状態の更新は全てストアが所有する単一のタスクキューで直列に実行される。
// 認証イベントと明示的な再読み込みが重なった場合も到着順（FIFO）に処理され、
// 読み取りはSnapshotによる一貫したコピーで行う。
package authstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/momentum/internal/auth"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/repository"
)

// ErrClosed は破棄済みのストアに操作を要求した場合のエラー。
var ErrClosed = errors.New("authstate: store closed")

// eventTimeout はイベント起因の再読み込み1回あたりの上限時間。
const eventTimeout = 30 * time.Second

// Authenticator はストアが利用する認証バックエンドの操作。
type Authenticator interface {
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, *model.User, error)
	RequestMagicLink(ctx context.Context, email, redirectTo string) error
	BeginGoogleSignIn(state, redirectTo string) (*auth.SignInStart, error)
	Logout(ctx context.Context, sessionID string) error
	Events() auth.EventBus
}

var _ Authenticator = (*auth.Service)(nil)

// Deps はストアの依存関係。
type Deps struct {
	Auth          Authenticator
	Profiles      repository.ProfileRepository
	Organizations repository.OrganizationRepository
	Memberships   repository.MembershipRepository
	Selection     SelectionStore
}

// State はストアが保持する認証状態。
type State struct {
	Loading             bool
	Session             *model.Session
	User                *model.User
	Profile             *model.Profile
	Organizations       []model.Membership
	CurrentOrganization *model.CurrentOrganization
}

// Authenticated はユーザーがサインイン済みかどうかを返す。
func (s State) Authenticated() bool {
	return s.User != nil
}

type task struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error // nilの場合は結果を待つ呼び出し元がいない
}

// Store は1つのブラウザセッションの認証状態を保持する。
type Store struct {
	sessionID string
	deps      Deps

	mu    sync.RWMutex
	state State

	queueMu sync.Mutex
	queue   []task
	notify  chan struct{}

	closing     chan struct{}
	done        chan struct{}
	closeOnce   sync.Once
	unsubscribe func()
}

// NewStore はセッションIDに対応するストアを生成し、キューの処理と
// 認証イベントの購読を開始する。sessionIDが空の場合は未ログイン状態の
// ストアを返し、状態を変更する操作は ErrNotAuthenticated で失敗する。
func NewStore(sessionID string, deps Deps) *Store {
	s := &Store{
		sessionID: sessionID,
		deps:      deps,
		notify:    make(chan struct{}, 1),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	if sessionID == "" {
		close(s.closing)
		close(s.done)
		return s
	}

	s.state.Loading = true
	s.unsubscribe = deps.Auth.Events().Subscribe(s.handleEvent)
	go s.run()

	return s
}

// SessionID はストアが対応するセッションIDを返す。
func (s *Store) SessionID() string {
	return s.sessionID
}

// Snapshot は現在の状態のコピーを返す。
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.state
	if s.state.Organizations != nil {
		st.Organizations = append(make([]model.Membership, 0, len(s.state.Organizations)), s.state.Organizations...)
	}
	if s.state.CurrentOrganization != nil {
		cur := *s.state.CurrentOrganization
		st.CurrentOrganization = &cur
	}
	if s.state.Profile != nil {
		p := *s.state.Profile
		st.Profile = &p
	}
	return st
}

// Settled はキューに積まれている処理が全て完了した時点の状態を返す。
func (s *Store) Settled(ctx context.Context) (State, error) {
	if s.sessionID == "" {
		return s.Snapshot(), nil
	}
	if err := s.do(ctx, func(context.Context) error { return nil }); err != nil {
		return State{}, err
	}
	return s.Snapshot(), nil
}

// Close は購読を解除し、キューの処理を停止する。
// 実行中のタスクは完了まで続き、未実行のタスクは ErrClosed で失敗する。
// キューの処理中に呼ばれても待ち合わせないため、ブロックしない。
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		if s.sessionID != "" {
			close(s.closing)
		}
	})
}

// Done はキューの処理が停止すると閉じられるチャネルを返す。
func (s *Store) Done() <-chan struct{} {
	return s.done
}

// Initialize は既存のセッションを取得し、存在すればプロフィールと所属組織を読み込む。
func (s *Store) Initialize(ctx context.Context) error {
	if s.sessionID == "" {
		s.update(func(st *State) { *st = State{} })
		return nil
	}
	return s.do(ctx, s.syncSession)
}

// enqueueInitialize は初期化タスクをキューに積み、結果を返す関数を返す。
// 呼び出し元のキャンセルで初期化は中断せず、eventTimeoutを上限とする。
func (s *Store) enqueueInitialize(ctx context.Context) func() error {
	t := task{
		ctx: context.WithoutCancel(ctx),
		fn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, eventTimeout)
			defer cancel()
			return s.syncSession(ctx)
		},
		result: make(chan error, 1),
	}
	if !s.enqueue(t) {
		return func() error { return ErrClosed }
	}
	return func() error { return s.wait(context.Background(), t) }
}

// LoadUserData はプロフィールと所属組織を再読み込みする。
// 読み込みの失敗はログに記録し、空またはデフォルトの状態に置き換える。
func (s *Store) LoadUserData(ctx context.Context) error {
	return s.do(ctx, func(ctx context.Context) error {
		user := s.current().User
		if user == nil {
			return model.ErrNotAuthenticated
		}
		s.loadUserData(ctx, user)
		return nil
	})
}

// RefreshUserData はユーザーがサインイン済みの場合のみ再読み込みする。
func (s *Store) RefreshUserData(ctx context.Context) error {
	if s.sessionID == "" {
		return nil
	}
	return s.do(ctx, func(ctx context.Context) error {
		if user := s.current().User; user != nil {
			s.loadUserData(ctx, user)
		}
		return nil
	})
}

// SignInWithMagicLink はサインインリンクの送信を認証バックエンドに依頼する。
func (s *Store) SignInWithMagicLink(ctx context.Context, email, redirectTo string) error {
	return s.deps.Auth.RequestMagicLink(ctx, email, redirectTo)
}

// SignInWithGoogle はGoogleサインインのリダイレクト先を返す。
func (s *Store) SignInWithGoogle(state, redirectTo string) (*auth.SignInStart, error) {
	return s.deps.Auth.BeginGoogleSignIn(state, redirectTo)
}

// SignOut はセッションを破棄し、全ての状態と選択中の組織を消去する。
func (s *Store) SignOut(ctx context.Context) error {
	if s.sessionID == "" {
		return nil
	}
	return s.do(ctx, func(ctx context.Context) error {
		if err := s.deps.Auth.Logout(ctx, s.sessionID); err != nil {
			return err
		}
		s.update(func(st *State) { *st = State{} })
		if err := s.deps.Selection.Remove(ctx, s.sessionID); err != nil {
			slog.Warn("failed to remove organization selection",
				slog.String("error", err.Error()),
			)
		}
		return nil
	})
}

// UpdateProfile はプロフィールを部分更新し、更新後の内容を状態に反映する。
func (s *Store) UpdateProfile(ctx context.Context, update model.ProfileUpdate) (*model.Profile, error) {
	var updated *model.Profile
	err := s.do(ctx, func(ctx context.Context) error {
		user := s.current().User
		if user == nil {
			return model.ErrNotAuthenticated
		}

		p, err := s.deps.Profiles.Update(ctx, user.ID, update)
		if err != nil {
			return fmt.Errorf("failed to update profile: %w", err)
		}
		if p == nil {
			return model.NewUserNotFoundError()
		}

		s.update(func(st *State) { st.Profile = p })
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *updated
	return &cp, nil
}

// SwitchOrganization は選択中の組織を切り替え、選択を永続化する。
// 所属していない組織は選択できない。
func (s *Store) SwitchOrganization(ctx context.Context, organizationID string) (*model.CurrentOrganization, error) {
	var selected *model.CurrentOrganization
	err := s.do(ctx, func(ctx context.Context) error {
		st := s.current()
		if st.User == nil {
			return model.ErrNotAuthenticated
		}

		var target *model.Membership
		for i := range st.Organizations {
			if st.Organizations[i].OrganizationID == organizationID {
				target = &st.Organizations[i]
				break
			}
		}
		if target == nil {
			return model.NewNotMemberError(organizationID)
		}

		if err := s.deps.Selection.Set(ctx, s.sessionID, organizationID); err != nil {
			return err
		}

		selected = model.NewCurrentOrganization(*target)
		s.update(func(st *State) { st.CurrentOrganization = selected })
		return nil
	})
	if err != nil {
		return nil, err
	}
	cp := *selected
	return &cp, nil
}

// CreateOrganization は組織を作成して呼び出し元をownerとして追加し、所属組織を再読み込みする。
// slugが空の場合は組織名から導出し、使用済みの場合は連番を付与する。
func (s *Store) CreateOrganization(ctx context.Context, name, slug string) (*model.Organization, error) {
	var created *model.Organization
	err := s.do(ctx, func(ctx context.Context) error {
		user := s.current().User
		if user == nil {
			return model.ErrNotAuthenticated
		}

		name := strings.TrimSpace(name)
		if name == "" {
			return model.NewInvalidOrganizationError("組織名は必須です")
		}
		base := Slugify(slug)
		if base == "" {
			base = Slugify(name)
		}

		org, err := s.insertOrganization(ctx, name, base, user.ID)
		if err != nil {
			return err
		}

		slog.Info("organization created",
			slog.String("organization_id", org.ID),
			slog.String("slug", org.Slug),
			slog.String("user_id", user.ID),
		)

		s.loadUserData(ctx, user)
		created = org
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// insertOrganization は空いているスラッグ候補で組織とownerメンバーシップを作成する。
func (s *Store) insertOrganization(ctx context.Context, name, base, ownerID string) (*model.Organization, error) {
	for n := 0; n <= maxSlugSuffix; n++ {
		candidate := slugCandidate(base, n)

		exists, err := s.deps.Organizations.SlugExists(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to check organization slug: %w", err)
		}
		if exists {
			continue
		}

		now := time.Now()
		org := &model.Organization{
			ID:        uuid.New().String(),
			Name:      name,
			Slug:      candidate,
			CreatedAt: now,
			UpdatedAt: now,
		}

		membership, err := s.deps.Organizations.CreateWithOwner(ctx, org, ownerID)
		if errors.Is(err, repository.ErrSlugConflict) {
			// 確認後に他のリクエストが同じスラッグを取得した
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create organization: %w", err)
		}

		result := membership.Organization
		return &result, nil
	}
	return nil, model.NewSlugUnavailableError(base)
}

// handleEvent は認証イベントをキューに積む。配信元をブロックしない。
func (s *Store) handleEvent(event auth.Event) {
	if event.SessionID != "" && event.SessionID != s.sessionID {
		return
	}
	s.enqueue(task{
		ctx: context.Background(),
		fn: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, eventTimeout)
			defer cancel()
			return s.applyEvent(ctx, event)
		},
	})
}

// applyEvent はキュー上でイベントを状態に反映する。
func (s *Store) applyEvent(ctx context.Context, event auth.Event) error {
	if event.SessionID == "" {
		// ユーザー単位のイベントは現在のユーザー宛てのもののみ反映する
		user := s.current().User
		if user == nil || user.ID != event.UserID {
			return nil
		}
	}

	slog.Debug("auth event received",
		slog.String("type", string(event.Type)),
		slog.String("session_id", s.sessionID),
	)

	if event.Type == auth.EventSignedOut {
		s.update(func(st *State) { *st = State{} })
		return nil
	}
	return s.syncSession(ctx)
}

// syncSession はセッションを取得し直し、存在すればユーザーデータを読み込む。
func (s *Store) syncSession(ctx context.Context) error {
	s.update(func(st *State) { st.Loading = true })

	session, user, err := s.deps.Auth.CurrentSession(ctx, s.sessionID)
	if err != nil {
		s.update(func(st *State) { st.Loading = false })
		return fmt.Errorf("failed to get session: %w", err)
	}

	if user == nil {
		s.update(func(st *State) { *st = State{} })
		return nil
	}

	s.update(func(st *State) {
		st.Session = session
		st.User = user
	})
	s.loadUserData(ctx, user)
	return nil
}

// loadUserData はプロフィールと所属組織を読み込み、選択中の組織を決定する。
// 失敗はログに記録するだけで呼び出し元には返さない。
func (s *Store) loadUserData(ctx context.Context, user *model.User) {
	s.update(func(st *State) { st.Loading = true })
	defer s.update(func(st *State) { st.Loading = false })

	profile := s.loadProfile(ctx, user)
	s.update(func(st *State) { st.Profile = profile })

	memberships, err := s.deps.Memberships.ListByUserID(ctx, user.ID)
	if err != nil {
		slog.Error("failed to fetch organizations",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		s.update(func(st *State) {
			st.Organizations = []model.Membership{}
			st.CurrentOrganization = nil
		})
		return
	}
	if memberships == nil {
		memberships = []model.Membership{}
	}

	saved, err := s.deps.Selection.Get(ctx, s.sessionID)
	if err != nil {
		slog.Warn("failed to read organization selection",
			slog.String("error", err.Error()),
		)
	}

	var current *model.CurrentOrganization
	for _, m := range memberships {
		if m.OrganizationID == saved {
			current = model.NewCurrentOrganization(m)
			break
		}
	}
	if current == nil && len(memberships) > 0 {
		current = model.NewCurrentOrganization(memberships[0])
	}

	s.update(func(st *State) {
		st.Organizations = memberships
		st.CurrentOrganization = current
	})
}

// loadProfile はプロフィールを取得し、存在しなければデフォルト値で作成する。
// 取得エラーの場合はnilを返す。
func (s *Store) loadProfile(ctx context.Context, user *model.User) *model.Profile {
	profile, err := s.deps.Profiles.FindByID(ctx, user.ID)
	if err != nil {
		slog.Error("failed to fetch profile",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if profile != nil {
		return profile
	}

	newProfile := defaultProfile(user, time.Now())
	created, err := s.deps.Profiles.Upsert(ctx, newProfile)
	if err != nil || created == nil {
		if err != nil {
			slog.Warn("failed to create default profile",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		return newProfile
	}
	return created
}

// defaultProfile はユーザー情報からプロフィールの初期値を組み立てる。
func defaultProfile(user *model.User, now time.Time) *model.Profile {
	name := user.Name
	if name == "" {
		name, _, _ = strings.Cut(user.Email, "@")
	}

	p := &model.Profile{
		ID:        user.ID,
		Email:     user.Email,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if user.AvatarURL != "" {
		avatar := user.AvatarURL
		p.AvatarURL = &avatar
	}
	return p
}

// current はキュー上のタスクから状態を参照する。書き込みはキューのみが行うため、
// ここで返す値はタスクの実行中に変化しない。
func (s *Store) current() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) update(fn func(st *State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
}

// do はfnをキューに積み、実行が完了するまで待つ。
func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.sessionID == "" {
		return model.ErrNotAuthenticated
	}

	t := task{ctx: ctx, fn: fn, result: make(chan error, 1)}
	if !s.enqueue(t) {
		return ErrClosed
	}
	return s.wait(ctx, t)
}

// wait はキューに積んだタスクの結果を待つ。
func (s *Store) wait(ctx context.Context, t task) error {
	select {
	case err := <-t.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		select {
		case err := <-t.result:
			return err
		default:
			return ErrClosed
		}
	}
}

// enqueue はタスクを末尾に追加する。停止済みの場合はfalseを返す。
func (s *Store) enqueue(t task) bool {
	select {
	case <-s.closing:
		return false
	default:
	}

	s.queueMu.Lock()
	s.queue = append(s.queue, t)
	s.queueMu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// dequeue は先頭のタスクを取り出す。
func (s *Store) dequeue() (task, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if len(s.queue) == 0 {
		return task{}, false
	}
	t := s.queue[0]
	s.queue[0] = task{}
	s.queue = s.queue[1:]
	return t, true
}

// run はキューのタスクを1つずつ順番に実行する。
func (s *Store) run() {
	defer close(s.done)
	defer s.drain()

	for {
		select {
		case <-s.closing:
			return
		case <-s.notify:
		}

		for {
			select {
			case <-s.closing:
				return
			default:
			}

			t, ok := s.dequeue()
			if !ok {
				break
			}
			s.execute(t)
		}
	}
}

func (s *Store) execute(t task) {
	var err error
	if err = t.ctx.Err(); err == nil {
		err = t.fn(t.ctx)
	}

	if t.result != nil {
		t.result <- err
	} else if err != nil {
		slog.Warn("auth state task failed",
			slog.String("session_id", s.sessionID),
			slog.String("error", err.Error()),
		)
	}
}

// drain は未実行のタスクを ErrClosed で終了させる。
func (s *Store) drain() {
	for {
		t, ok := s.dequeue()
		if !ok {
			return
		}
		if t.result != nil {
			t.result <- ErrClosed
		}
	}
}
