package bot

import (
	"strings"
	"unicode/utf8"
)

// markdownReserved is every character Telegram's MarkdownV2 treats as markup.
const markdownReserved = "\\*_`[]()~>#+-=|{}.!<"

// EscapeMarkdown prefixes every MarkdownV2 reserved character in s with a
// backslash so the text renders literally.
func EscapeMarkdown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(markdownReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Bold escapes s and wraps it in MarkdownV2 bold markers.
func Bold(s string) string {
	return "*" + EscapeMarkdown(s) + "*"
}

// Truncate returns the first n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
