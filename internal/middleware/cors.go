package middleware

import "net/http"

// corsAllowedHeaders はapp.jsが送るヘッダー。CSRFトークンのヘッダーを含む。
const corsAllowedHeaders = "Content-Type, " + csrfHeaderName

// NewCORSMiddleware は設定されたオリジン（CORS_ALLOWED_ORIGIN）からの
// Cookie付きリクエストを許可するミドルウェアを返す。
// credentialsと共存できないため、ワイルドカード(*)は使用しない。
// OPTIONSプリフライトには204で応答し、後続のハンドラーは呼ばない。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
