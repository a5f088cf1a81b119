package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/metrics"
	"github.com/hitoshi/momentum/internal/middleware"
)

// PageRoutes はHTMLページのルートを登録する。
// 登録先のルーターにはOptionalSessionとRouteGuardが適用済み。
type PageRoutes interface {
	Register(r chi.Router)
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// メトリクス（任意）
	Metrics        metrics.MetricsCollector
	MetricsHandler http.Handler

	// 認証
	AuthService   AuthServiceInterface
	AuthConfig    AuthHandlerConfig
	SessionStates SessionStates

	// ユーザー・組織
	UserService         UserServiceInterface
	OrganizationService OrganizationServiceInterface

	// 成果物
	DeliverableService DeliverableServiceInterface
	UploadMaxSize      int64

	// HTMLページ（任意）
	Pages PageRoutes
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → Metrics → CORS
//	  ページ:  OptionalSession → RouteGuard
//	  API:    Session → CSRF → RateLimit(General)
//
// 認証ルート（/auth/*）はセッション必須チェックの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Metrics != nil {
		r.Use(metrics.HTTPMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	var signIns SignInRecorder
	var generations GenerationRecorder
	if deps.Metrics != nil {
		signIns = deps.Metrics
		generations = deps.Metrics
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.SessionStates, deps.AuthConfig, signIns)
	userHandler := NewUserHandler(deps.UserService, deps.SessionStates, deps.AuthConfig)
	orgHandler := NewOrganizationHandler(deps.OrganizationService, deps.SessionStates)
	deliverableHandler := NewDeliverableHandler(deps.DeliverableService, deps.UploadMaxSize, generations)

	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)
	optionalSession := middleware.NewOptionalSessionMiddleware(deps.SessionFinder)

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// 認証ルート（OAuth・マジックリンク）
	r.Route("/auth", func(r chi.Router) {
		r.Use(optionalSession)
		r.Get("/google/login", authHandler.Login)
		r.Get("/google/callback", authHandler.Callback)
		r.Get("/callback", authHandler.MagicLinkCallback)
		r.Get("/me", authHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Post("/magic-link", authHandler.RequestMagicLink)
			r.Post("/logout", authHandler.Logout)
		})
	})

	// --- HTMLページ ---
	// 未ログインで保護ページへアクセスした場合は/signinへ、ログイン済みで/signinへアクセスした場合は/dashboardへ転送する。
	r.Group(func(r chi.Router) {
		r.Use(optionalSession)
		r.Use(middleware.NewRouteGuardMiddleware())
		r.Use(csrf)

		r.Get("/deliverables/{id}/download", deliverableHandler.DownloadPDF)

		if deps.Pages != nil {
			deps.Pages.Register(r)
		}
	})

	// --- 認証が必要なAPI ---
	// ミドルウェアスタック: Session → CSRF → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(csrf)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/me", func(r chi.Router) {
			r.Get("/", userHandler.Me)
			r.Patch("/profile", userHandler.UpdateProfile)
			r.Get("/export", userHandler.Export)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})

		r.Route("/api/organizations", func(r chi.Router) {
			r.Get("/", orgHandler.List)
			r.Post("/", orgHandler.Create)
			r.Put("/current", orgHandler.Switch)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", orgHandler.Get)
				r.Post("/members", orgHandler.Invite)
				r.Delete("/members/{memberID}", orgHandler.RemoveMember)
				r.Post("/leave", orgHandler.Leave)
			})
		})

		r.Route("/api/deliverables", func(r chi.Router) {
			r.Get("/", deliverableHandler.List)

			// 生成系は専用のレート制限を追加
			r.With(deps.RateLimiter.GenerationMiddleware()).Post("/generate", deliverableHandler.Generate)
			r.With(deps.RateLimiter.GenerationMiddleware()).Post("/upload", deliverableHandler.Upload)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", deliverableHandler.Get)
				r.Get("/pdf", deliverableHandler.DownloadPDF)
			})
		})

		r.Route("/api/brand", func(r chi.Router) {
			r.Get("/", deliverableHandler.GetBrand)
			r.Put("/", deliverableHandler.SaveBrand)
			r.Post("/logo", deliverableHandler.UploadLogo)
		})
	})

	return r
}
