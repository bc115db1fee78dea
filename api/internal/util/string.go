package util

import (
	"strings"
	"unicode/utf8"
)

// StripCodeFences removes a surrounding ```json fence that LLMs sometimes add
// even when asked for raw JSON.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most n bytes for logs and error messages,
// never splitting a rune.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
