package authstate

import (
	"fmt"
	"strings"
	"unicode"
)

// maxSlugSuffix は重複回避のために試す連番の上限。
const maxSlugSuffix = 20

// Slugify は組織名からスラッグを導出する。
// 小文字化し、連続する空白を1つのハイフンに置き換える。
func Slugify(name string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(strings.TrimSpace(name)), unicode.IsSpace), "-")
}

// slugCandidate はn番目のスラッグ候補を返す。0番目は元のスラッグそのもの。
func slugCandidate(base string, n int) string {
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}
