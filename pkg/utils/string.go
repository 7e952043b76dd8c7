package utils

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeLine drops control characters from operator input, turning tabs
// into spaces, and trims the result.
func SanitizeLine(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case unicode.IsControl(r), r == utf8.RuneError:
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateBytes shortens s to at most maxBytes bytes without splitting a
// UTF-8 sequence.
func TruncateBytes(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
