package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// CaptionSanitizer は作品キャプションのHTMLをチャット向けの
// プレーンテキストへ変換する。
//
// pixivのキャプションはHTML断片として返されるため、
// bluemondayの全タグ除去ポリシーでサニタイズした上で
// 改行タグのみを通常の改行に置き換える。
// 同一入力に対して常に同一出力を返す（冪等）。
type CaptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewCaptionSanitizer はCaptionSanitizerの新しいインスタンスを生成する。
func NewCaptionSanitizer() *CaptionSanitizer {
	return &CaptionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLキャプションをプレーンテキストへ変換する。
// maxRunesを超える場合は省略記号付きで切り詰める。
// 空入力には空文字列を返す。
func (s *CaptionSanitizer) Sanitize(rawHTML string, maxRunes int) string {
	if rawHTML == "" {
		return ""
	}

	// <br>系タグはタグ除去前に改行へ置き換える
	normalized := strings.NewReplacer(
		"<br>", "\n",
		"<br/>", "\n",
		"<br />", "\n",
	).Replace(rawHTML)

	text := s.policy.Sanitize(normalized)
	// bluemondayはエンティティをエスケープしたまま残すため復元する
	text = html.UnescapeString(text)
	text = strings.TrimSpace(text)

	if maxRunes > 0 {
		runes := []rune(text)
		if len(runes) > maxRunes {
			text = string(runes[:maxRunes]) + "…"
		}
	}
	return text
}
