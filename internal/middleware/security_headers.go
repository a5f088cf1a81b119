package middleware

import "net/http"

// contentSecurityPolicy はサーバー描画ページ向けのCSP。
// スクリプトは /static/app.js のみ。ブランドカラーの見本でstyle属性を使うため
// インラインスタイルは許可し、ロゴ画像は外部のhttps URLも表示する。
const contentSecurityPolicy = "default-src 'self'; " +
	"script-src 'self'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' https: data:; " +
	"connect-src 'self'; " +
	"form-action 'self'; " +
	"base-uri 'self'; " +
	"frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はページ・API・PDFダウンロードの全レスポンスに
// セキュリティ関連ヘッダーを付与するミドルウェアを返す。
// HSTSはTLS終端のリバースプロキシ側で付与する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// 音声はファイルアップロードで受け取るため、マイクも含めて無効にする
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=()")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}
