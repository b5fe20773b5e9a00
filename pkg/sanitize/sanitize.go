// Package sanitize reduces free text to printable ASCII.
package sanitize

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Text decomposes s (NFD), strips combining marks and drops every rune
// outside 0x20-0x7E, so "café" becomes "cafe". Text is idempotent.
func Text(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		runes.Remove(runes.Predicate(notPrintableASCII)),
	)

	out, _, _ := transform.String(t, s)
	return out
}

func notPrintableASCII(r rune) bool {
	return r < 0x20 || r > 0x7e
}
