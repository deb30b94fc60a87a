package embedding

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Normalize 做 NFKC 规范化，把控制字符替换为空格并折叠连续空白。
func Normalize(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, normed)
	return strings.Join(strings.Fields(normed), " ")
}

// Truncate 按空白切分 token，只保留前 maxTokens 个。
// 第二个返回值表示是否发生了截断。
func Truncate(normalized string, maxTokens int) (string, bool) {
	if maxTokens <= 0 {
		return normalized, false
	}
	tokens := strings.Fields(normalized)
	if len(tokens) <= maxTokens {
		return normalized, false
	}
	return strings.Join(tokens[:maxTokens], " "), true
}
