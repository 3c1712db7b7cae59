package conversation

import (
	"regexp"
	"strings"
)

var controlCharsRegexp = regexp.MustCompile(`[\x{00}-\x{08}\x{0b}\x{0c}\x{0e}-\x{1f}\x{7f}-\x{9f}]`)

// SanitizeInput strips control characters (keeping tab, newline and carriage
// return) and trims surrounding whitespace.
func SanitizeInput(s string) string {
	return strings.TrimSpace(controlCharsRegexp.ReplaceAllString(s, ""))
}

// TruncateText cuts s to at most maxRunes runes.
func TruncateText(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
