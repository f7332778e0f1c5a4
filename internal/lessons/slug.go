package lessons

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify derives the URL slug for a title. NFKD decomposition first, so
// accented characters reduce to their base letter instead of vanishing;
// anything outside [a-z0-9] after folding becomes a single hyphen.
func Slugify(title string) string {
	var b strings.Builder
	hyphen := false
	for _, r := range norm.NFKD.String(title) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining marks left over from decomposition
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			hyphen = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			hyphen = false
		default:
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
