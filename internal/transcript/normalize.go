package transcript

import (
	"strings"
	"unicode"
)

// Normalize prepares raw speech-to-text output for display. Format control
// characters (zero-width spaces and joiners, byte-order marks, bidi marks) are
// removed, whitespace runs collapse to a single space, and the result is
// trimmed. Normalize is idempotent.
func Normalize(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(stripped), " ")
}
