package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizer は予約メモをプレーンテキストに正規化する。
// bluemondayのStrictPolicyで全てのタグを除去し、制御文字を取り除く。
// 同一入力に対して常に同一出力を返す。
type NoteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerを生成する。
func NewNoteSanitizer() *NoteSanitizer {
	return &NoteSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeNote はメモからマークアップと制御文字を除去し、前後の空白を削る。
func (s *NoteSanitizer) SanitizeNote(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは & などをエスケープして返すため、保存用に元に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}
