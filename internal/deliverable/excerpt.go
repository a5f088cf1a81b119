package deliverable

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// excerptLength はダッシュボードに表示する抜粋の最大文字数。
const excerptLength = 160

// Excerpt は成果物HTMLから表示用のテキスト抜粋を抽出する。
// script/style/head内のテキストは除外し、連続する空白は1つにまとめる。
// maxRunesを超える場合は末尾を "…" で切り詰める。
func Excerpt(rawHTML string, maxRunes int) string {
	if rawHTML == "" || maxRunes <= 0 {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(rawHTML))
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return truncate(b.String(), maxRunes)
		case html.StartTagToken:
			if name, _ := z.TagName(); skipped(string(name)) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); skipped(string(name)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			for _, word := range strings.Fields(string(z.Text())) {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(word)
			}
			if utf8.RuneCountInString(b.String()) > maxRunes {
				return truncate(b.String(), maxRunes)
			}
		}
	}
}

func skipped(tag string) bool {
	switch tag {
	case "script", "style", "head", "title":
		return true
	}
	return false
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
