// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DeliverableSanitizer は生成バックエンドが返した成果物HTMLをサニタイズする。
// 成果物はブランドカラーを含むレイアウト付きの文書であるため、
// 見出し・表・レイアウト用のdiv/spanと限定されたインラインスタイルを許可する。
package security

import (
	"net/url"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// DeliverableSanitizer はHTMLサニタイズ機能のインターフェースを定義する。
// 成果物の表示直前に使用される。
type DeliverableSanitizer interface {
	// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// script, iframe, form, styleタグおよびon*イベント属性は常に除去される。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string
}

var (
	// colorValue は #RGB / #RRGGBB 形式のカラー値。
	colorValue = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
	// lengthValue は px / em / rem / % 単位の長さ。
	lengthValue = regexp.MustCompile(`^(?:0|\d{1,4}(?:\.\d{1,2})?(?:px|em|rem|%))$`)
	// classValue はテンプレートが付与するクラス名の並び。
	classValue = regexp.MustCompile(`^[a-zA-Z0-9_\- ]{1,200}$`)
)

// deliverableSanitizer はDeliverableSanitizerの実装。
// bluemondayのポリシーは構築後に変更しないため、並行に呼び出せる。
type deliverableSanitizer struct {
	policy *bluemonday.Policy
}

// NewDeliverableSanitizer はDeliverableSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 文書構造: 見出し、段落、リスト、表、section/article/header/footer、div/span
//   - インラインスタイル: color, background-color, border-color（16進カラーのみ）、
//     text-align、font-weight、padding/margin（長さのみ）
//   - imgのsrc属性: httpsスキームのみ許可
//   - aタグ: target="_blank" と rel="noopener noreferrer" を自動付与
func NewDeliverableSanitizer() *deliverableSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "u", "small",
		"section", "article", "header", "footer",
		"div", "span", "figure", "figcaption",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
	)

	p.AllowAttrs("colspan", "rowspan").Matching(bluemonday.Integer).OnElements("td", "th")
	p.AllowAttrs("class").Matching(classValue).Globally()

	p.AllowStyles("color", "background-color", "border-color").Matching(colorValue).Globally()
	p.AllowStyles("text-align").MatchingEnum("left", "right", "center", "justify").Globally()
	p.AllowStyles("font-weight").MatchingEnum("normal", "bold", "600", "700").Globally()
	p.AllowStyles("padding", "margin", "width").Matching(lengthValue).Globally()

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	// ロゴ画像はストレージの署名付きURLで配信される
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("width", "height").Matching(bluemonday.Integer).OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &deliverableSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *deliverableSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
