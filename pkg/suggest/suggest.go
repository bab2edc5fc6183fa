// Package suggest scans text for lexicon surface forms and proposes spans.
//
// The scan is a single greedy left-to-right pass over word tokens. At each
// word it tries the longest run of words the lexicon could match (words may be
// separated by whitespace only), falls back to shorter runs, and on a match
// continues after the matched range, so candidates never overlap each other.
package suggest

import (
	"strings"

	"github.com/japaniel/lexlink/pkg/lexicon"
	"github.com/japaniel/lexlink/pkg/segment"
	"github.com/japaniel/lexlink/pkg/span"
)

// Candidate is a proposed link produced by Generate.
type Candidate struct {
	Range      span.Range
	WordID     string
	Text       string
	Confidence float64
	Normalized bool
}

// Span converts c into a suggested span for textID.
func (c Candidate) Span(textID string) span.Span {
	return span.Span{
		TextID:     textID,
		WordID:     c.WordID,
		Start:      c.Range.Start,
		End:        c.Range.End,
		Status:     span.Suggested,
		Confidence: span.Float(c.Confidence),
	}
}

// Generate returns the candidates for content, ordered by start offset. The
// result depends only on content and idx.
func Generate(content string, idx *lexicon.Index) []Candidate {
	if idx == nil || idx.MaxWords() == 0 || content == "" {
		return nil
	}
	return GenerateTokens(segment.Split(content), idx)
}

// GenerateTokens is Generate over an already tokenized content.
func GenerateTokens(toks []segment.Token, idx *lexicon.Index) []Candidate {
	if idx == nil || idx.MaxWords() == 0 {
		return nil
	}
	var words []int
	for i, t := range toks {
		if t.Kind == segment.Word {
			words = append(words, i)
		}
	}

	var out []Candidate
	for wi := 0; wi < len(words); {
		run := 1
		for run < idx.MaxWords() && wi+run < len(words) {
			gap := toks[words[wi+run-1]+1]
			if !gap.Blank() {
				break
			}
			run++
		}

		matched := 0
		for k := run; k >= 1; k-- {
			phrase := joinWords(toks, words[wi:wi+k])
			m, ok := idx.Lookup(phrase)
			if !ok {
				continue
			}
			first, last := toks[words[wi]], toks[words[wi+k-1]]
			out = append(out, Candidate{
				Range:      span.Range{Start: first.Start, End: last.End},
				WordID:     m.Entry.WordID,
				Text:       phrase,
				Confidence: m.Confidence,
				Normalized: m.Normalized,
			})
			matched = k
			break
		}
		if matched == 0 {
			wi++
			continue
		}
		wi += matched
	}
	return out
}

func joinWords(toks []segment.Token, idxs []int) string {
	if len(idxs) == 1 {
		return toks[idxs[0]].Text
	}
	parts := make([]string, len(idxs))
	for i, ti := range idxs {
		parts[i] = toks[ti].Text
	}
	return strings.Join(parts, " ")
}
