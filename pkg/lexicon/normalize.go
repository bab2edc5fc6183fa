package lexicon

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold returns the case-insensitive key of a surface form: NFC composed,
// Unicode case folded, with whitespace runs collapsed to a single space.
func Fold(s string) string {
	s = norm.NFC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

// connectorReplacer maps typographic apostrophes and hyphens to ASCII.
var connectorReplacer = strings.NewReplacer("’", "'", "ʼ", "'", "‐", "-", "‑", "-")

// Strip returns the diacritic-insensitive key of a surface form. Combining
// marks are removed after canonical decomposition, so "wélà" and "wela" share
// a key. Typographic apostrophes and hyphens compare equal to ASCII ones.
func Strip(s string) string {
	s = connectorReplacer.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return Fold(out)
}

// Language returns the canonical form of a language tag: trimmed and lower
// case. Texts, words and cache keys all store tags in this form.
func Language(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}
