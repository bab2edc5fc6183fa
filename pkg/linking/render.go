package linking

import (
	"context"

	"github.com/japaniel/lexlink/pkg/segment"
	"github.com/japaniel/lexlink/pkg/span"
)

// Unlinked is the state of tokens covered by no span.
const Unlinked = "unlinked"

// AnnotatedToken is a token of a text with the status of the span covering it.
type AnnotatedToken struct {
	Kind   string `json:"kind"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
	State  string `json:"state"`
	SpanID string `json:"span_id,omitempty"`
	WordID string `json:"word_id,omitempty"`
}

// rank orders the statuses shown when several spans cover the same token.
func rank(s span.Status) int {
	switch s {
	case span.Confirmed:
		return 3
	case span.Suggested:
		return 2
	case span.Rejected:
		return 1
	}
	return 0
}

// Render merges spans into the token stream of content. A word token takes the
// status of a span that fully contains it, preferring confirmed over suggested
// over rejected. Gap tokens are always unlinked.
func Render(content string, spans []span.Span) []AnnotatedToken {
	sorted := append([]span.Span(nil), spans...)
	span.Sort(sorted)

	var out []AnnotatedToken
	for tok := range segment.Tokens(content) {
		at := AnnotatedToken{
			Kind:  tok.Kind.String(),
			Start: tok.Start,
			End:   tok.End,
			Text:  tok.Text,
			State: Unlinked,
		}
		if tok.Kind == segment.Word {
			r := span.Range{Start: tok.Start, End: tok.End}
			var best *span.Span
			for i := range sorted {
				s := &sorted[i]
				if s.Start > tok.Start {
					break
				}
				if !s.Range().Contains(r) {
					continue
				}
				if best == nil || rank(s.Status) > rank(best.Status) {
					best = s
				}
			}
			if best != nil {
				at.State = string(best.Status)
				at.SpanID = best.ID
				at.WordID = best.WordID
			}
		}
		out = append(out, at)
	}
	return out
}

// RenderText loads a text and its spans and renders them.
func (m *Manager) RenderText(ctx context.Context, textID string) ([]AnnotatedToken, error) {
	text, err := m.text(ctx, textID)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.rlock(textID)
	defer unlock()

	spans, err := m.querySpans(ctx, textID)
	if err != nil {
		return nil, err
	}
	return Render(text.Content, spans), nil
}
