// Package names produces the canonical identity keys used to compare user
// and room names for uniqueness and prefix matching.
package names

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Collapse reduces a display name to its identity key: surrounding
// whitespace is trimmed, letters are lower-cased, the text is canonically
// decomposed (NFD) with combining marks and remaining non-ASCII letters
// dropped, and all interior whitespace is deleted.
//
// Digits, symbols, and non-alphabetic non-ASCII characters survive, so
// "Héllo World" and "hello world" collapse to the same key, while
// "héllo①" keeps its circled digit.
func Collapse(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	decomposed := norm.NFD.String(lowered)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r < unicode.MaxASCII {
			b.WriteRune(r)
			continue
		}
		if unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	return strings.Join(strings.Fields(b.String()), "")
}
