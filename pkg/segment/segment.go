package segment

import (
	"iter"
	"slices"
	"unicode"
	"unicode/utf8"
)

// Kind distinguishes word tokens from the gaps between them.
type Kind int

const (
	Gap Kind = iota
	Word
)

func (k Kind) String() string {
	if k == Word {
		return "word"
	}
	return "gap"
}

// Token is a run of the content. Start and End are codepoint offsets.
type Token struct {
	Kind  Kind
	Start int
	End   int
	Text  string
}

// Blank reports whether the token consists of whitespace only.
func (t Token) Blank() bool {
	if t.Text == "" {
		return false
	}
	for _, r := range t.Text {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Tokens yields the word and gap tokens of content from left to right. The
// tokens partition the content: each starts where the previous one ended, the
// first starts at 0 and the last ends at the content's codepoint length.
// Content is decoded as the sequence advances, so a token is yielded as soon
// as the rune after it is seen. The sequence can be ranged over any number of
// times.
func Tokens(content string) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		var (
			kind  Kind
			start int // codepoint offset of the open token
			from  int // byte offset of the open token
			pos   int
			prev  rune = -1
		)
		for b := 0; b < len(content); {
			r, size := utf8.DecodeRuneInString(content[b:])
			next := rune(-1)
			if b+size < len(content) {
				next, _ = utf8.DecodeRuneInString(content[b+size:])
			}
			k := Gap
			if wordAt(prev, r, next) {
				k = Word
			}
			if pos > 0 && k != kind {
				if !yield(Token{Kind: kind, Start: start, End: pos, Text: content[from:b]}) {
					return
				}
				start, from = pos, b
			}
			kind, prev = k, r
			pos++
			b += size
		}
		if pos > 0 {
			yield(Token{Kind: kind, Start: start, End: pos, Text: content[from:]})
		}
	}
}

// Split returns all tokens of content.
func Split(content string) []Token {
	return slices.Collect(Tokens(content))
}

// Length returns the content length in codepoints.
func Length(content string) int { return utf8.RuneCountInString(content) }

// IsWordAt reports whether runes[i] belongs to a word. Letters, digits and
// combining marks always do; an apostrophe or hyphen does only between two
// of those, so "don't" and "x-ray" stay single words while a leading quote or
// a dash between spaces is a gap.
func IsWordAt(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return false
	}
	prev, next := rune(-1), rune(-1)
	if i > 0 {
		prev = runes[i-1]
	}
	if i+1 < len(runes) {
		next = runes[i+1]
	}
	return wordAt(prev, runes[i], next)
}

// wordAt classifies r given its neighbours; -1 stands for no neighbour.
func wordAt(prev, r, next rune) bool {
	if isWordRune(r) {
		return true
	}
	return isConnector(r) && isWordRune(prev) && isWordRune(next)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsNumber(r) || unicode.In(r, unicode.Mn, unicode.Mc)
}

func isConnector(r rune) bool {
	switch r {
	case '\'', '’', '-', '‐', '‑':
		return true
	}
	return false
}
