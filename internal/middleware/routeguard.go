package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// RouteClass はページルートの分類。
type RouteClass int

const (
	// RoutePublic は認証の有無に関わらず表示するルート。
	RoutePublic RouteClass = iota
	// RouteProtected は認証が必要なルート。
	RouteProtected
	// RouteAuth はサインイン画面など、認証済みなら不要なルート。
	RouteAuth
)

// 認証後・未認証時のリダイレクト先
const (
	SignInPath    = "/signin"
	DashboardPath = "/dashboard"
	CallbackPath  = "/auth/callback"
)

var (
	protectedPrefixes = []string{"/app", "/dashboard", "/settings", "/profile", "/organizations", "/new", "/deliverables"}
	authPrefixes      = []string{"/signin", "/signup", "/auth"}
)

// RouteDecision はルートガードの判定結果。
// Redirectがfalseの場合はそのままリクエストを処理する。
type RouteDecision struct {
	Redirect bool
	Location string
}

// ClassifyRoute はパスをルート分類に振り分ける。
// プレフィックスはパスセグメント単位で一致させる（/newsletter は /new に一致しない）。
func ClassifyRoute(path string) RouteClass {
	for _, prefix := range protectedPrefixes {
		if hasPathPrefix(path, prefix) {
			return RouteProtected
		}
	}
	if path == CallbackPath {
		return RoutePublic
	}
	for _, prefix := range authPrefixes {
		if hasPathPrefix(path, prefix) {
			return RouteAuth
		}
	}
	return RoutePublic
}

// DecideRoute はセッションの有無とパスからリダイレクトの要否を判定する。
//   - 未認証で保護ルート → /signin?redirectTo=<path>
//   - 認証済みで認証ルート → /dashboard
//   - それ以外 → そのまま通過
func DecideRoute(authenticated bool, path string) RouteDecision {
	switch ClassifyRoute(path) {
	case RouteProtected:
		if !authenticated {
			return RouteDecision{
				Redirect: true,
				Location: SignInPath + "?" + url.Values{"redirectTo": {path}}.Encode(),
			}
		}
	case RouteAuth:
		if authenticated {
			return RouteDecision{Redirect: true, Location: DashboardPath}
		}
	}
	return RouteDecision{}
}

// NewRouteGuardMiddleware はDecideRouteの判定をページリクエストに適用するミドルウェアを返す。
// NewOptionalSessionMiddlewareの後に配置する。
func NewRouteGuardMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, err := UserIDFromContext(r.Context())
			decision := DecideRoute(err == nil, r.URL.Path)
			if decision.Redirect {
				http.Redirect(w, r, decision.Location, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
