package auth

import (
	"net/url"
	"strings"
)

// DefaultRedirectPath はリダイレクト先が未指定または不正な場合の遷移先。
const DefaultRedirectPath = "/dashboard"

// SafeRedirectPath はサインイン後の遷移先を同一サイト内の相対パスに制限する。
// 絶対URL、スキーム相対URL（//host）、バックスラッシュを含むパスは既定値に置き換える。
func SafeRedirectPath(target string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") {
		return DefaultRedirectPath
	}
	if strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return DefaultRedirectPath
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return DefaultRedirectPath
	}
	return target
}
