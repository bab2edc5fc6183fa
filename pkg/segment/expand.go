package segment

import "github.com/japaniel/lexlink/pkg/span"

// Expand snaps a raw selection to whole-word boundaries.
//
// Reversed input is swapped and out-of-range offsets are clamped. Non-word
// codepoints at both ends are trimmed, then the range grows outward until it
// meets a gap on each side. A caret (rawStart == rawEnd) expands to the word
// touching it on either side. ok is false when the selection holds no word.
// Expanding an already expanded range returns it unchanged.
func Expand(content string, rawStart, rawEnd int) (r span.Range, ok bool) {
	return ExpandRunes([]rune(content), rawStart, rawEnd)
}

// ExpandRunes is Expand over decoded content.
func ExpandRunes(runes []rune, rawStart, rawEnd int) (span.Range, bool) {
	n := len(runes)
	start, end := rawStart, rawEnd
	if start > end {
		start, end = end, start
	}
	start = clamp(start, 0, n)
	end = clamp(end, 0, n)

	if start == end {
		switch {
		case IsWordAt(runes, start):
			end = start + 1
		case IsWordAt(runes, start-1):
			start--
		default:
			return span.Range{}, false
		}
	} else {
		for start < end && !IsWordAt(runes, start) {
			start++
		}
		for end > start && !IsWordAt(runes, end-1) {
			end--
		}
		if start == end {
			return span.Range{}, false
		}
	}

	for start > 0 && IsWordAt(runes, start-1) {
		start--
	}
	for end < n && IsWordAt(runes, end) {
		end++
	}
	return span.Range{Start: start, End: end}, true
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
