package strutil

import (
	"strings"
	"unicode/utf8"
)

// TruncateUTF8 returns the longest prefix of s that is at most maxBytes
// bytes and does not split a multi-byte UTF-8 character.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// Ellipsize trims s and cuts it to maxBytes, marking the cut with "...".
// The marker counts toward the limit.
func Ellipsize(s string, maxBytes int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxBytes {
		return s
	}
	const marker = "..."
	if maxBytes <= len(marker) {
		return TruncateUTF8(s, maxBytes)
	}
	return TruncateUTF8(s, maxBytes-len(marker)) + marker
}
