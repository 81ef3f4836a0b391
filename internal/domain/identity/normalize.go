package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// honorifics are title tokens stripped before similarity comparison.  The set
// covers the Spanish-language honorifics seen in institutional records plus
// the common English ones.
var honorifics = map[string]bool{
	"dr":   true,
	"dra":  true,
	"lic":  true,
	"ing":  true,
	"sr":   true,
	"sra":  true,
	"srta": true,
	"prof": true,
	"mtro": true,
	"mtra": true,
	"mr":   true,
	"mrs":  true,
	"ms":   true,
}

var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// stripDiacritics removes combining marks so that "García" and "Garcia"
// compare equal.  On transform failure the input is returned unchanged; a
// partially normalized name still scores better than a dropped one.
func stripDiacritics(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName canonicalises a person name for similarity comparison:
// lowercase, diacritics stripped, honorific tokens removed, whitespace
// collapsed.  The matcher applies it symmetrically to the parsed name and to
// every registry name, so both sides always meet in the same space.
func NormalizeName(name string) string {
	lowered := strings.ToLower(stripDiacritics(name))
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == ','
	})

	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if honorifics[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
