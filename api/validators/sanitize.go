package validators

import (
	"strings"
	"unicode/utf8"
)

// SanitizeString trims surrounding space and caps the result at maxLen bytes
// without splitting a multi-byte character. maxLen <= 0 means no cap.
func SanitizeString(input string, maxLen int) string {
	s := strings.TrimSpace(input)
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}
